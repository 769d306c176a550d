package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	auditdomain "org-security-engine/internal/audit/domain"
	"org-security-engine/internal/device"
	identityservice "org-security-engine/internal/identity/service"
	membershipdomain "org-security-engine/internal/membership/domain"
	"org-security-engine/internal/security"
	sessiondomain "org-security-engine/internal/session/domain"
	sessionservice "org-security-engine/internal/session/service"
)

type handlers struct {
	deps Deps
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	OrgID    string `json:"org_id,omitempty"`
}

type sessionResponse struct {
	Token         string    `json:"token"`
	UserID        string    `json:"user_id"`
	OrgID         string    `json:"org_id,omitempty"`
	ExpiresAt     time.Time `json:"expires_at"`
	SecurityLevel string    `json:"security_level"`
	RiskScore     int       `json:"risk_score"`
	DeviceName    string    `json:"device_name,omitempty"`
	RiskFactors   []string  `json:"risk_factors,omitempty"`
}

func sessionToResponse(s *sessiondomain.Session) sessionResponse {
	return sessionResponse{
		Token:         s.Token,
		UserID:        s.UserID,
		OrgID:         s.OrgID,
		ExpiresAt:     s.ExpiresAt,
		SecurityLevel: string(s.SecurityLevel),
		RiskScore:     s.RiskScore,
		DeviceName:    s.Device.Name,
		RiskFactors:   s.RiskFactors,
	}
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "request body must be valid JSON")
		return
	}
	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "email and password are required")
		return
	}

	res, err := h.deps.Auth.Login(r.Context(), identityservice.LoginParams{
		Email:     req.Email,
		Password:  req.Password,
		OrgID:     req.OrgID,
		UserAgent: r.UserAgent(),
		IP:        device.ExtractIP(r.Header, r.RemoteAddr),
	})
	if err != nil {
		h.countLogin(err)
		if errors.Is(err, identityservice.ErrRateLimited) {
			h.rateLimitHeaders(w, r)
		}
		h.logServiceError(r, err)
		respondServiceError(w, err)
		return
	}
	h.countLogin(nil)
	if m := h.deps.Metrics; m != nil {
		m.SessionsCreated.WithLabelValues(string(res.Session.SecurityLevel)).Inc()
		m.RiskScore.Observe(float64(res.Session.RiskScore))
	}
	respondOK(w, http.StatusCreated, sessionToResponse(res.Session))
}

func (h *handlers) validate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s, err := h.authenticate(r)
	if h.deps.Metrics != nil {
		h.deps.Metrics.ValidateDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		h.logServiceError(r, err)
		respondServiceError(w, err)
		return
	}
	respondOK(w, http.StatusOK, sessionToResponse(s))
}

func (h *handlers) revoke(w http.ResponseWriter, r *http.Request) {
	caller, err := h.authenticate(r)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	token := chi.URLParam(r, "token")

	// Revoking the caller's own bearer token needs no further checks.
	if !security.TokenEqual(token, caller.Token) {
		target, err := h.deps.Sessions.Peek(r.Context(), token)
		if err != nil {
			h.logServiceError(r, err)
			respondServiceError(w, err)
			return
		}
		if target != nil && target.UserID != caller.UserID {
			// Revoking someone else's session needs admin standing in its org.
			if target.OrgID == "" {
				respondError(w, http.StatusForbidden, "FORBIDDEN", "you do not have permission to perform this action")
				return
			}
			if err := h.deps.Guard.RequireMinimumRole(r.Context(), caller.UserID, target.OrgID, membershipdomain.RoleAdmin); err != nil {
				h.logServiceError(r, err)
				respondServiceError(w, err)
				return
			}
		}
	}

	if err := h.deps.Sessions.Revoke(r.Context(), token, caller.UserID, r.URL.Query().Get("reason")); err != nil {
		h.logServiceError(r, err)
		respondServiceError(w, err)
		return
	}
	if h.deps.Metrics != nil {
		h.deps.Metrics.SessionsRevoked.Inc()
	}
	respondOK(w, http.StatusOK, map[string]bool{"revoked": true})
}

func (h *handlers) revokeAll(w http.ResponseWriter, r *http.Request) {
	caller, err := h.authenticate(r)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	userID := chi.URLParam(r, "id")
	if userID != caller.UserID {
		respondError(w, http.StatusForbidden, "FORBIDDEN", "you do not have permission to perform this action")
		return
	}

	exceptToken := ""
	if r.URL.Query().Get("keep_current") == "true" {
		exceptToken = caller.Token
	}
	n, err := h.deps.Sessions.RevokeAllForUser(r.Context(), userID, exceptToken, caller.UserID, r.URL.Query().Get("reason"))
	if err != nil {
		h.logServiceError(r, err)
		respondServiceError(w, err)
		return
	}
	respondOK(w, http.StatusOK, map[string]int64{"revoked": n})
}

func (h *handlers) listSessions(w http.ResponseWriter, r *http.Request) {
	caller, err := h.authenticate(r)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	userID := chi.URLParam(r, "id")
	if userID != caller.UserID {
		respondError(w, http.StatusForbidden, "FORBIDDEN", "you do not have permission to perform this action")
		return
	}

	sessions, err := h.deps.Sessions.ListForUser(r.Context(), userID)
	if err != nil {
		h.logServiceError(r, err)
		respondServiceError(w, err)
		return
	}
	out := make([]sessionResponse, len(sessions))
	for i, s := range sessions {
		out[i] = sessionToResponse(s)
	}
	respondOK(w, http.StatusOK, out)
}

func (h *handlers) userAudit(w http.ResponseWriter, r *http.Request) {
	caller, err := h.authenticate(r)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	userID := chi.URLParam(r, "id")
	if userID != caller.UserID {
		respondError(w, http.StatusForbidden, "FORBIDDEN", "you do not have permission to perform this action")
		return
	}

	events, err := h.deps.Audit.UserTrail(r.Context(), userID, queryLimit(r), queryTypes(r)...)
	if err != nil {
		h.logServiceError(r, err)
		respondServiceError(w, err)
		return
	}
	respondOK(w, http.StatusOK, eventsToResponse(events))
}

func (h *handlers) orgAudit(w http.ResponseWriter, r *http.Request) {
	caller, err := h.authenticate(r)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	orgID := chi.URLParam(r, "id")
	if h.deps.Orgs != nil {
		org, err := h.deps.Orgs.GetByID(r.Context(), orgID)
		if err != nil {
			h.logServiceError(r, err)
			respondServiceError(w, err)
			return
		}
		if org == nil {
			respondError(w, http.StatusNotFound, "NOT_FOUND", "organization not found")
			return
		}
	}
	if err := h.deps.Guard.RequireMinimumRole(r.Context(), caller.UserID, orgID, membershipdomain.RoleAdmin); err != nil {
		h.logServiceError(r, err)
		respondServiceError(w, err)
		return
	}

	events, err := h.deps.Audit.OrgTrail(r.Context(), orgID, queryLimit(r))
	if err != nil {
		h.logServiceError(r, err)
		respondServiceError(w, err)
		return
	}
	respondOK(w, http.StatusOK, eventsToResponse(events))
}

type passwordResetRequest struct {
	Email string `json:"email"`
}

func (h *handlers) requestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "email is required")
		return
	}

	err := h.deps.Auth.RequestPasswordReset(r.Context(), req.Email, r.UserAgent(), device.ExtractIP(r.Header, r.RemoteAddr))
	if err != nil {
		h.logServiceError(r, err)
		respondServiceError(w, err)
		return
	}
	// Identical response whether or not the account exists.
	respondOK(w, http.StatusAccepted, map[string]string{
		"message": "if the account exists, a reset link has been sent",
	})
}

type passwordResetConfirm struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (h *handlers) confirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req passwordResetConfirm
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" || req.NewPassword == "" {
		respondError(w, http.StatusBadRequest, "BAD_REQUEST", "token and new_password are required")
		return
	}

	if err := h.deps.Auth.ConfirmPasswordReset(r.Context(), req.Token, req.NewPassword); err != nil {
		h.logServiceError(r, err)
		respondServiceError(w, err)
		return
	}
	respondOK(w, http.StatusOK, map[string]string{"message": "password updated"})
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{}
	status := http.StatusOK
	if h.deps.DB != nil {
		if err := h.deps.DB.PingContext(r.Context()); err != nil {
			checks["database"] = "down"
			status = http.StatusServiceUnavailable
		} else {
			checks["database"] = "up"
		}
	}
	writeJSON(w, status, map[string]any{
		"status": map[bool]string{true: "ok", false: "degraded"}[status == http.StatusOK],
		"checks": checks,
	})
}

// authenticate resolves the Bearer token to a live session.
func (h *handlers) authenticate(r *http.Request) (*sessiondomain.Session, error) {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		return nil, sessionservice.ErrInvalidToken
	}
	return h.deps.Sessions.Validate(r.Context(), token)
}

func (h *handlers) countLogin(err error) {
	if h.deps.Metrics == nil {
		return
	}
	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, identityservice.ErrInvalidCredentials):
		outcome = "invalid_credentials"
	case errors.Is(err, identityservice.ErrAccountLocked):
		outcome = "locked"
	case errors.Is(err, identityservice.ErrAccountInactive):
		outcome = "inactive"
	case errors.Is(err, identityservice.ErrRateLimited):
		outcome = "rate_limited"
	default:
		outcome = "error"
	}
	h.deps.Metrics.LoginAttempts.WithLabelValues(outcome).Inc()
}

// rateLimitHeaders reports the caller's remaining attempt budget on throttled
// responses.
func (h *handlers) rateLimitHeaders(w http.ResponseWriter, r *http.Request) {
	if h.deps.Limiter == nil {
		return
	}
	n, err := h.deps.Limiter.Remaining(r.Context(), device.ExtractIP(r.Header, r.RemoteAddr))
	if err != nil {
		return
	}
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(n, 10))
}

// logServiceError records unexpected failures; expected sentinels stay quiet.
func (h *handlers) logServiceError(r *http.Request, err error) {
	switch {
	case errors.Is(err, identityservice.ErrInvalidCredentials),
		errors.Is(err, identityservice.ErrAccountInactive),
		errors.Is(err, identityservice.ErrAccountLocked),
		errors.Is(err, identityservice.ErrRateLimited),
		errors.Is(err, sessionservice.ErrInvalidToken),
		errors.Is(err, sessionservice.ErrTokenAlreadyUsed):
		return
	}
	h.deps.Log.Error("request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err))
}

type eventResponse struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Action      string          `json:"action"`
	Status      string          `json:"status"`
	Category    string          `json:"category"`
	IP          string          `json:"ip,omitempty"`
	RiskScore   int             `json:"risk_score,omitempty"`
	RiskFactors []string        `json:"risk_factors,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	ErrorCode   string          `json:"error_code,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

func eventsToResponse(events []*auditdomain.Event) []eventResponse {
	out := make([]eventResponse, len(events))
	for i, e := range events {
		out[i] = eventResponse{
			ID:          e.ID,
			Type:        string(e.Type),
			Action:      e.Action,
			Status:      string(e.Status),
			Category:    string(e.Category),
			IP:          e.Context.IP,
			RiskScore:   e.RiskScore,
			RiskFactors: e.RiskFactors,
			Data:        e.Data,
			ErrorCode:   e.ErrorCode,
			CreatedAt:   e.CreatedAt,
		}
	}
	return out
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 || n > 500 {
		return 0
	}
	return n
}

func queryTypes(r *http.Request) []auditdomain.EventType {
	raw := r.URL.Query().Get("types")
	if raw == "" {
		return nil
	}
	var out []auditdomain.EventType
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, auditdomain.EventType(t))
		}
	}
	return out
}
