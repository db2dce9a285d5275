package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaPublisherKeysByJob(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaPublisher{writer: w, timeout: time.Second}

	e := New(LedgerCreated, time.Now())
	e.JobID, e.LedgerID = "job-1", "led-1"
	require.NoError(t, p.Publish(context.Background(), e))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "job-1", string(w.msgs[0].Key))
	assert.Equal(t, "type", w.msgs[0].Headers[0].Key)
	var got Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &got))
	assert.Equal(t, e.ID, got.ID)

	w.err = errors.New("broker unreachable")
	err := p.Publish(context.Background(), e)
	require.ErrorContains(t, err, "broker unreachable")
}

type recordingPublisher struct {
	got []Event
	err error
}

func (r *recordingPublisher) Publish(_ context.Context, e Event) error {
	r.got = append(r.got, e)
	return r.err
}

func TestMultiPublishesToAll(t *testing.T) {
	a := &recordingPublisher{err: errors.New("a failed")}
	b := &recordingPublisher{}
	err := Multi{a, b}.Publish(context.Background(), New(JobCompleted, time.Now()))

	require.ErrorContains(t, err, "a failed")
	assert.Len(t, a.got, 1)
	assert.Len(t, b.got, 1)
}

func TestHubRoutesEvents(t *testing.T) {
	hub := NewHub(nil)
	ids := map[string]models.Identity{
		"/tech":  {SubjectID: "tech-1", SubjectKind: models.SubjectTechnician},
		"/other": {SubjectID: "tech-2", SubjectKind: models.SubjectTechnician},
		"/admin": {SubjectID: "admin-1", SubjectKind: models.SubjectAdministrator},
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.Serve(w, r, ids[r.URL.Path])
	}))
	defer srv.Close()

	tech := dialPath(t, srv, "/tech")
	other := dialPath(t, srv, "/other")
	admin := dialPath(t, srv, "/admin")
	require.Eventually(t, func() bool {
		return hub.Connections("tech-1") == 1 && hub.Connections("tech-2") == 1 && hub.Connections("admin-1") == 1
	}, 2*time.Second, 10*time.Millisecond)

	e := New(LedgerTransition, time.Now())
	e.TechnicianID = "tech-1"
	require.NoError(t, hub.Publish(context.Background(), e))

	for _, c := range []*websocket.Conn{tech, admin} {
		var got Event
		require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
		require.NoError(t, c.ReadJSON(&got))
		assert.Equal(t, e.ID, got.ID)
	}

	require.NoError(t, other.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	var none Event
	assert.Error(t, other.ReadJSON(&none), "unrelated technician gets nothing")

	for _, c := range []*websocket.Conn{tech, other, admin} {
		_ = c.Close()
	}
	require.Eventually(t, func() bool {
		return hub.Connections("tech-1") == 0 && hub.Connections("tech-2") == 0 && hub.Connections("admin-1") == 0
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Close())
}

func dialPath(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}
