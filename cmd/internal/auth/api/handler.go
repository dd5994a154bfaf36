package authapi

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"relay/cmd/internal/auth/session"
)

// Handler adapts the session subsystem to HTTP for the surrounding router.
//
// Endpoints take the authenticated principal's user_id from the request body:
// verifying the caller's identity claim is the router/middleware collaborator's
// job and stays out of scope here.
type Handler struct {
	log *slog.Logger
	cfg Config

	sessions  *session.Service
	directory *session.Directory
	blocklist *session.Blocklist
	limiter   *session.RateLimiter
	metrics   *session.Metrics
}

// NewHandler constructs an auth Handler. Metrics may be nil.
func NewHandler(
	log *slog.Logger,
	cfg Config,
	sessions *session.Service,
	directory *session.Directory,
	blocklist *session.Blocklist,
	limiter *session.RateLimiter,
	metrics *session.Metrics,
) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if sessions == nil || directory == nil || blocklist == nil || limiter == nil {
		return nil, errors.New("authapi: missing session dependencies")
	}
	return &Handler{
		log:       log,
		cfg:       cfg,
		sessions:  sessions,
		directory: directory,
		blocklist: blocklist,
		limiter:   limiter,
		metrics:   metrics,
	}, nil
}

// Register wires auth routes onto the provided mux.
//
// Session-management routes are wrapped with Guard so a revoked access token
// cannot keep driving the "manage your devices" surface.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/issue", h.handleIssue)
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/auth/logout_all", h.handleLogoutAll)
	mux.Handle("/auth/sessions", h.Guard(http.HandlerFunc(h.handleSessions)))
	mux.Handle("/auth/sessions/revoke", h.Guard(http.HandlerFunc(h.handleRevokeSession)))
}

// Guard rejects requests whose bearer access-token identifier has been
// explicitly revoked. It is the subsystem's isAccessTokenRevoked hook for the
// router: a pure in-memory check, no store round trip.
func (h *Handler) Guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenID := bearerToken(r)
		if tokenID == "" {
			writeError(w, http.StatusUnauthorized, "invalid_session", "please log in again")
			return
		}
		if h.blocklist.IsRevoked(time.Now().UTC(), tokenID) {
			writeError(w, http.StatusUnauthorized, "invalid_session", "please log in again")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ---- handlers ----

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req issueRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.RefreshTokenID) == "" || req.ExpiresAt.IsZero() {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing fields")
		return
	}

	now := time.Now().UTC()
	dev := session.DeviceContext{DeviceInfo: req.DeviceInfo, IP: net.ParseIP(req.IP)}

	familyID, err := h.sessions.IssueSession(r.Context(), now, req.UserID, req.RefreshTokenID, req.ExpiresAt, dev)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issueResponse{FamilyID: familyID})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req refreshRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing user_id")
		return
	}

	now := time.Now().UTC()

	// Rate limit first: an attacker probing stolen tokens should burn through
	// the budget before reaching the store.
	if ok, retryAfter := h.limiter.Allow(req.UserID, now); !ok {
		h.metrics.RateLimited()
		h.log.Warn("auth.refresh.rate_limited", "user_id", req.UserID, "retry_after", retryAfter)
		writeRateLimited(w, retryAfter)
		return
	}

	res, err := h.sessions.Rotate(r.Context(), now, req.RefreshTokenID, req.NewRefreshTokenID, req.NewExpiresAt, req.UserID)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{FamilyID: res.FamilyID, GrantID: res.GrantID})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req logoutRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing user_id")
		return
	}

	now := time.Now().UTC()

	// Access side: block the still-valid access token until it would have
	// expired anyway. The durable write must succeed before we report success.
	if strings.TrimSpace(req.AccessTokenID) != "" {
		if err := h.blocklist.Add(r.Context(), now, req.AccessTokenID, req.UserID, req.AccessExpiresAt); err != nil {
			h.writeSessionError(w, err)
			return
		}
	}

	// Refresh side: idempotent revocation of the session's grant.
	if err := h.sessions.Revoke(r.Context(), now, req.RefreshTokenID, req.UserID, session.ReasonLogout); err != nil {
		h.writeSessionError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req logoutAllRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing user_id")
		return
	}

	n, err := h.sessions.RevokeAllForUser(r.Context(), time.Now().UTC(), req.UserID)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logoutAllResponse{Revoked: n})
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing user_id")
		return
	}

	views, err := h.directory.ListActive(r.Context(), time.Now().UTC(), userID)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	if views == nil {
		views = []session.SessionView{}
	}
	writeJSON(w, http.StatusOK, sessionsResponse{Sessions: views})
}

func (h *Handler) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req revokeSessionRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.SessionID) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing fields")
		return
	}

	changed, err := h.directory.RevokeByID(r.Context(), time.Now().UTC(), req.SessionID, req.UserID)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, revokeSessionResponse{Revoked: changed})
}

// ---- error mapping ----

// writeSessionError collapses every credential rejection to the same client
// response. The taxonomy exists for operator logs and alerting; leaking which
// security condition fired would help an attacker calibrate.
func (h *Handler) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrGrantNotFound),
		errors.Is(err, session.ErrGrantExpired),
		errors.Is(err, session.ErrGrantRevoked),
		errors.Is(err, session.ErrPrincipalMismatch),
		errors.Is(err, session.ErrReuseDetected):
		writeError(w, http.StatusUnauthorized, "invalid_session", "please log in again")
	case errors.Is(err, session.ErrRateLimited):
		var rl session.RateLimitError
		if errors.As(err, &rl) {
			writeRateLimited(w, rl.RetryAfter)
			return
		}
		writeRateLimited(w, 0)
	default:
		// Infrastructure failure: the only retryable class.
		h.log.Error("auth.store_unavailable", "err", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "temporary failure, retry")
	}
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64(retryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}

func bearerToken(r *http.Request) string {
	v := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if len(v) <= len(prefix) || !strings.EqualFold(v[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(v[len(prefix):])
}
