package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"timecard/attendance/internal/auth"
	"timecard/attendance/internal/config"
	"timecard/attendance/internal/crypto"
	"timecard/attendance/internal/directory"
	"timecard/attendance/internal/model"
	"timecard/attendance/internal/timelog"
	"timecard/attendance/internal/track"
)

type Server struct {
	cfg      config.Config
	sessions *track.Manager
	machine  *track.Machine
	syncer   *track.Syncer
	dir      *directory.Service
	logs     *timelog.Service
	log      *slog.Logger
	metrics  http.Handler
	logins   *loginLimiter
}

func NewServer(cfg config.Config, sessions *track.Manager, machine *track.Machine, syncer *track.Syncer, dir *directory.Service, logs *timelog.Service, metricsHandler http.Handler, log *slog.Logger) *Server {
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		machine:  machine,
		syncer:   syncer,
		dir:      dir,
		logs:     logs,
		log:      log,
		metrics:  metricsHandler,
		logins:   newLoginLimiter(10, 5),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", s.metrics)

	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/register", s.handleRegister)

	r.With(s.authMiddleware).Post("/auth/logout", s.handleLogout)
	r.With(s.authMiddleware).Get("/session", s.handleGetSession)
	r.With(s.authMiddleware).Post("/session/password", s.handleChangePassword)
	r.With(s.authMiddleware).Post("/time/action", s.handleTimeAction)
	r.With(s.authMiddleware).Get("/time/logs", s.handleOwnLogs)

	r.With(s.authMiddleware, s.adminMiddleware).Post("/admin/impersonate/{userId}", s.handleImpersonate)
	r.With(s.authMiddleware).Post("/admin/return", s.handleReturnToAdmin)
	r.With(s.authMiddleware, s.adminMiddleware).Get("/admin/users", s.handleListUsers)
	r.With(s.authMiddleware, s.adminMiddleware).Patch("/admin/users/{userId}", s.handleUpdateUser)
	r.With(s.authMiddleware, s.adminMiddleware).Delete("/admin/users/{userId}", s.handleDeleteUser)
	r.With(s.authMiddleware, s.adminMiddleware).Get("/admin/logs", s.handleAdminLogs)

	return r
}

// Auth

type claimsKey struct{}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		claims, err := auth.ParseToken(s.cfg.JWTSecret, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}
		if token != s.sessions.Token() {
			writeError(w, http.StatusUnauthorized, "stale_session")
			return
		}
		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// adminMiddleware gates on the role of the active identity, so an admin
// impersonating a user loses admin routes until they return.
func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		active, ok := s.sessions.Active()
		if !ok || active.Role != model.RoleAdmin {
			writeError(w, http.StatusForbidden, "admin_required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

// Handlers

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	User                 model.Identity `json:"user"`
	Token                string         `json:"token,omitempty"`
	ImpersonationActive  bool           `json:"impersonation_active"`
	BreakDurationSeconds int64          `json:"break_duration_seconds"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.logins.allow(clientAddr(r)) {
		writeError(w, http.StatusTooManyRequests, "rate_limited")
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_credentials")
		return
	}
	identity, hash, err := s.dir.FetchCredentials(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		s.log.Error("login lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if err := crypto.CheckPassword(hash, req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	token, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AccessTokenTTL, auth.Claims{
		UserID: identity.ID,
		Email:  identity.Email,
		Role:   string(identity.Role),
	})
	if err != nil {
		s.log.Error("token mint failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if err := s.sessions.Login(r.Context(), identity, token); err != nil && !track.IsWarning(err) {
		if errors.Is(err, track.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		s.log.Error("session open failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		User:                 identity,
		Token:                token,
		BreakDurationSeconds: int64(s.syncer.BreakDuration(r.Context()) / time.Second),
	})
}

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Name == "" || req.Email == "" || len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "invalid_registration")
		return
	}
	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		s.log.Error("password hash failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	identity, err := s.dir.CreateUser(r.Context(), req.Name, req.Email, model.RoleUser, hash)
	if err != nil {
		if errors.Is(err, directory.ErrEmailTaken) {
			writeError(w, http.StatusConflict, "email_taken")
			return
		}
		s.log.Error("user create failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"user": identity})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Logout(r.Context()); err != nil && !track.IsWarning(err) {
		s.log.Error("logout failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	active, ok := s.sessions.Active()
	if !ok {
		writeError(w, http.StatusUnauthorized, "no_session")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		User:                 active,
		ImpersonationActive:  s.sessions.IsImpersonating(),
		BreakDurationSeconds: int64(s.syncer.BreakDuration(r.Context()) / time.Second),
	})
}

type passwordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if len(req.NewPassword) < 8 {
		writeError(w, http.StatusBadRequest, "password_too_short")
		return
	}
	active, ok := s.sessions.Active()
	if !ok {
		writeError(w, http.StatusUnauthorized, "no_session")
		return
	}
	_, hash, err := s.dir.FetchCredentials(r.Context(), active.Email)
	if err != nil {
		s.log.Error("credential lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if err := crypto.CheckPassword(hash, req.CurrentPassword); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	newHash, err := crypto.HashPassword(req.NewPassword)
	if err != nil {
		s.log.Error("password hash failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if err := s.dir.UpdatePassword(r.Context(), active.ID, newHash); err != nil {
		s.log.Error("password update failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type timeActionRequest struct {
	Action model.Action `json:"action"`
}

func (s *Server) handleTimeAction(w http.ResponseWriter, r *http.Request) {
	var req timeActionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	identity, err := s.syncer.Perform(r.Context(), req.Action)
	if err != nil && !track.IsWarning(err) {
		s.writeTrackError(w, err)
		return
	}
	if track.IsWarning(err) {
		actor := ""
		if claims := claimsFromContext(r.Context()); claims != nil {
			actor = claims.UserID
		}
		s.log.Warn("time action applied with persistence warning", "action", req.Action, "token_user", actor, "error", err)
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		User:                 identity,
		ImpersonationActive:  s.sessions.IsImpersonating(),
		BreakDurationSeconds: int64(s.syncer.BreakDuration(r.Context()) / time.Second),
	})
}

func (s *Server) handleImpersonate(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "userId")
	identity, err := s.sessions.Impersonate(r.Context(), targetID)
	if err != nil && !track.IsWarning(err) {
		s.writeTrackError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		User:                 identity,
		ImpersonationActive:  true,
		BreakDurationSeconds: int64(s.syncer.BreakDuration(r.Context()) / time.Second),
	})
}

func (s *Server) handleReturnToAdmin(w http.ResponseWriter, r *http.Request) {
	identity, err := s.sessions.ReturnToAdmin(r.Context())
	if err != nil && !track.IsWarning(err) {
		s.writeTrackError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		User:                identity,
		ImpersonationActive: false,
	})
}

type userWithBreak struct {
	model.Identity
	BreakDurationSeconds int64 `json:"break_duration_seconds"`
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.dir.ListUsers(r.Context())
	if err != nil {
		s.log.Error("user list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	out := make([]userWithBreak, 0, len(users))
	for i := range users {
		out = append(out, userWithBreak{
			Identity:             users[i],
			BreakDurationSeconds: s.machine.CumulativeBreakSeconds(r.Context(), &users[i]),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": out})
}

type updateUserRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
	Role  *string `json:"role"`
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req updateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	patch := directory.UpdatePatch{Name: req.Name, Email: req.Email}
	if req.Role != nil {
		role := model.Role(*req.Role)
		if !role.Valid() {
			writeError(w, http.StatusBadRequest, "invalid_role")
			return
		}
		patch.Role = &role
	}
	identity, err := s.dir.UpdateUser(r.Context(), chi.URLParam(r, "userId"), patch)
	if err != nil {
		switch {
		case errors.Is(err, directory.ErrNotFound):
			writeError(w, http.StatusNotFound, "user_not_found")
		case errors.Is(err, directory.ErrEmailTaken):
			writeError(w, http.StatusConflict, "email_taken")
		default:
			s.log.Error("user update failed", "error", err)
			writeError(w, http.StatusInternalServerError, "server_error")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user": identity})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "userId")
	if active, ok := s.sessions.Active(); ok && active.ID == targetID {
		writeError(w, http.StatusConflict, "cannot_delete_self")
		return
	}
	if err := s.dir.DeleteUser(r.Context(), targetID); err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user_not_found")
			return
		}
		s.log.Error("user delete failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminLogs(w http.ResponseWriter, r *http.Request) {
	from, to, limit, err := logQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query")
		return
	}
	if userID := r.URL.Query().Get("userId"); userID != "" {
		entries, err := s.logs.QueryByUser(r.Context(), userID, from, to, limit)
		if err != nil {
			s.log.Error("log query failed", "error", err)
			writeError(w, http.StatusInternalServerError, "server_error")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
		return
	}
	entries, err := s.logs.QueryAll(r.Context(), from, to, limit)
	if err != nil {
		s.log.Error("log query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (s *Server) handleOwnLogs(w http.ResponseWriter, r *http.Request) {
	active, ok := s.sessions.Active()
	if !ok {
		writeError(w, http.StatusUnauthorized, "no_session")
		return
	}
	from, to, limit, err := logQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_query")
		return
	}
	entries, err := s.logs.QueryByUser(r.Context(), active.ID, from, to, limit)
	if err != nil {
		s.log.Error("log query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (s *Server) writeTrackError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, track.ErrIllegalTransition):
		writeError(w, http.StatusConflict, "illegal_transition")
	case errors.Is(err, track.ErrRemoteAppend):
		writeError(w, http.StatusBadGateway, "log_append_failed")
	case errors.Is(err, track.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "permission_denied")
	case errors.Is(err, track.ErrTargetNotFound):
		writeError(w, http.StatusNotFound, "target_not_found")
	case errors.Is(err, track.ErrInvalidCredentials):
		writeError(w, http.StatusBadRequest, "invalid_action")
	default:
		s.log.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "server_error")
	}
}

// Helpers

func logQuery(r *http.Request) (from, to *time.Time, limit int32, err error) {
	q := r.URL.Query()
	limit = 100
	if raw := q.Get("limit"); raw != "" {
		parsed, perr := strconv.ParseInt(raw, 10, 32)
		if perr != nil || parsed <= 0 || parsed > 1000 {
			return nil, nil, 0, errors.New("invalid limit")
		}
		limit = int32(parsed)
	}
	if raw := q.Get("from"); raw != "" {
		parsed, perr := time.Parse(time.RFC3339, raw)
		if perr != nil {
			return nil, nil, 0, perr
		}
		from = &parsed
	}
	if raw := q.Get("to"); raw != "" {
		parsed, perr := time.Parse(time.RFC3339, raw)
		if perr != nil {
			return nil, nil, 0, perr
		}
		to = &parsed
	}
	return from, to, limit, nil
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
