package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/apperr"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/models"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/observability"
	"github.com/gkstrmtm/Home2smart-backend-sub002/internal/ratelimit"
)

type contextKey string

const (
	requestIDKey contextKey = "request-id"
	tokenKey     contextKey = "token"
	identityKey  contextKey = "identity"
)

// maxTokenBody bounds how much of a request body is buffered while looking
// for a token field.
const maxTokenBody = 1 << 20

func (s *Server) registerMiddleware() {
	s.mux.Use(s.recoverMiddleware)
	s.mux.Use(s.requestIDMiddleware)
	s.mux.Use(s.observabilityMiddleware)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)
		ctx := context.WithValue(r.Context(), requestIDKey, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) observabilityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := routeTemplate(r)
		status := strconv.Itoa(ww.status)

		observability.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
		observability.HTTPRequestDuration.WithLabelValues(r.Method, route, status).Observe(time.Since(start).Seconds())

		args := []any{
			"method", r.Method,
			"route", route,
			"status", ww.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", s.clientIP(r),
		}
		if rid := requestIDFromContext(r.Context()); rid != "" {
			args = append(args, "request_id", rid)
		}
		s.logger.Info("http_request", args...)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", "error", rec, "request_id", requestIDFromContext(r.Context()))
				writeJSON(w, http.StatusInternalServerError, errorBody(apperr.KindInternal, "internal error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware counts the request against the caller's token when
// one is present and against the caller's address otherwise. The token it
// finds is kept on the context for authentication.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractToken(r)
		if err != nil {
			s.writeError(w, r, apperr.Validation("request body too large"))
			return
		}
		var d ratelimit.Decision
		if token != "" {
			d = s.limiter.CheckToken(token)
		} else {
			d = s.limiter.CheckAddr(s.clientIP(r))
		}
		if !d.Allowed {
			s.writeError(w, r, apperr.RateLimited(d.RetryAfter))
			return
		}
		ctx := context.WithValue(r.Context(), tokenKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type authedHandler func(w http.ResponseWriter, r *http.Request, id models.Identity)

// authed resolves the request token before calling h. Any failure ends the
// request with invalid_session; h never runs for an unauthenticated caller.
func (s *Server) authed(h authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, _ := r.Context().Value(tokenKey).(string)
		id, err := s.auth.Authenticate(r.Context(), token)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), identityKey, id)
		h(w, r.WithContext(ctx), id)
	}
}

// extractToken looks for the bearer token in the Authorization header,
// then a "token" field of a JSON body, then the "token" query parameter.
// The body is restored for the handler.
func extractToken(r *http.Request) (string, error) {
	if h := r.Header.Get("Authorization"); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			return strings.TrimSpace(h[7:]), nil
		}
	}
	if r.Body != nil && r.Body != http.NoBody && strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		b, err := io.ReadAll(io.LimitReader(r.Body, maxTokenBody+1))
		_ = r.Body.Close()
		if err != nil {
			return "", err
		}
		if len(b) > maxTokenBody {
			return "", errors.New("body too large")
		}
		r.Body = io.NopCloser(bytes.NewReader(b))
		var body struct {
			Token string `json:"token"`
		}
		if json.Unmarshal(b, &body) == nil && body.Token != "" {
			return body.Token, nil
		}
	}
	return r.URL.Query().Get("token"), nil
}

func retryAfterSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (r *responseWriter) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrade reach the underlying connection.
func (r *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func requestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

func routeTemplate(r *http.Request) string {
	if current := mux.CurrentRoute(r); current != nil {
		if tmpl, err := current.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

// clientIP is the address the request is attributed to. X-Forwarded-For is
// read only when the direct peer is a trusted proxy; it is walked from the
// right and the first hop that is not itself a trusted proxy wins.
func (s *Server) clientIP(r *http.Request) string {
	peer := peerHost(r.RemoteAddr)
	if len(s.trustedProxies) == 0 || !s.trusted(peer) {
		return peer
	}
	xff := r.Header.Get("X-Forwarded-For")
	if xff == "" {
		return peer
	}
	hops := strings.Split(xff, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !s.trusted(hop) {
			return hop
		}
		peer = hop
	}
	return peer
}

func (s *Server) trusted(host string) bool {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range s.trustedProxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func peerHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
