package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type SubjectKind string

const (
	SubjectTechnician    SubjectKind = "technician"
	SubjectAdministrator SubjectKind = "administrator"
)

// Session maps an opaque token to a subject. Legacy rows carry SessionID
// instead of Token; role-bearing rows set Role instead of SubjectKind.
type Session struct {
	ID          string      `json:"id"`
	Token       string      `json:"token,omitempty"`
	SessionID   string      `json:"session_id,omitempty"`
	SubjectID   string      `json:"subject_id"`
	SubjectKind SubjectKind `json:"subject_kind,omitempty"`
	Role        string      `json:"role,omitempty"`
	IssuedAt    time.Time   `json:"issued_at"`
	ExpiresAt   time.Time   `json:"expires_at"`
	LastSeenAt  time.Time   `json:"last_seen_at"`
}

// Identity is the authenticated caller.
type Identity struct {
	SubjectID   string      `json:"subject_id"`
	SubjectKind SubjectKind `json:"subject_kind"`
	Resolver    string      `json:"-"`
}

func (i Identity) IsAdmin() bool { return i.SubjectKind == SubjectAdministrator }

type Technician struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Home  *Coord `json:"home,omitempty"`

	// ServiceRadius is in miles; nil means "use the configured default".
	ServiceRadius *float64 `json:"service_radius,omitempty"`
	MaxJobsPerDay int      `json:"max_jobs_per_day"`
	Status        string   `json:"status"`
	PasswordHash  string   `json:"password_hash,omitempty"`
	PayoutAccount string   `json:"payout_account,omitempty"`
}

// TechnicianActive is the only status that may take work. An empty status
// predates the field and counts as active.
const TechnicianActive = "active"

func (t Technician) Active() bool {
	return t.Status == "" || t.Status == TechnicianActive
}

type JobStatus string

const (
	JobPendingAssign JobStatus = "pending_assign"
	JobAccepted      JobStatus = "accepted"
	JobCompleted     JobStatus = "completed"
	JobOrdered       JobStatus = "ordered"
	JobRejected      JobStatus = "rejected"
	JobCancelled     JobStatus = "cancelled"
)

// Terminal statuses admit no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobCancelled || s == JobRejected
}

type LineItem struct {
	ServiceID string  `json:"service_id"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// Metadata keys read by the core.
const (
	MetaEstimatedPayout  = "estimated_payout"
	MetaOrderID          = "order_id"
	MetaPricingTier      = "pricing_tier"
	MetaPayoutMultiplier = "payout_multiplier"
	MetaTeammates        = "teammates"
	MetaTeammateShares   = "teammate_shares"
	MetaSplitPolicy      = "split_policy"
	MetaAcceptedAt       = "accepted_at"
	MetaCompletedAt      = "completed_at"
)

type Job struct {
	ID                   string         `json:"id"`
	Status               JobStatus      `json:"status"`
	Destination          *Coord         `json:"destination,omitempty"`
	AssignedTechnicianID string         `json:"assigned_technician_id,omitempty"`
	LineItems            []LineItem     `json:"line_items"`
	Metadata             map[string]any `json:"metadata,omitempty"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

type LedgerState string

const (
	LedgerPending  LedgerState = "pending"
	LedgerApproved LedgerState = "approved"
	LedgerRejected LedgerState = "rejected"
)

type Share struct {
	TechnicianID string  `json:"technician_id"`
	AmountCents  int64   `json:"amount_cents"`
	Amount       float64 `json:"amount"`
}

type Transition struct {
	From     LedgerState `json:"from"`
	To       LedgerState `json:"to"`
	Actor    string      `json:"actor"`
	At       time.Time   `json:"at"`
	Override bool        `json:"override,omitempty"`
	Reason   string      `json:"reason,omitempty"`
}

// Mismatch records a disagreement between a stored estimate and the
// recomputed payout.
type Mismatch struct {
	EstimatedCents  int64 `json:"estimated_cents"`
	RecomputedCents int64 `json:"recomputed_cents"`
}

type LedgerEntry struct {
	ID           string       `json:"id"`
	JobID        string       `json:"job_id"`
	TechnicianID string       `json:"technician_id"`
	AmountCents  int64        `json:"amount_cents"`
	Amount       float64      `json:"amount"`
	TotalCents   int64        `json:"total_cents"`
	Splits       []Share      `json:"splits,omitempty"`
	State        LedgerState  `json:"state"`
	Mismatch     *Mismatch    `json:"mismatch,omitempty"`
	Transitions  []Transition `json:"transitions,omitempty"`
	TransferID   string       `json:"transfer_id,omitempty"`
	DisbursedAt  *time.Time   `json:"disbursed_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}
