package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/MrEthical07/tokengate"
	"github.com/MrEthical07/tokengate/metrics/export/prometheus"
	"github.com/MrEthical07/tokengate/middleware"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const channelWeb = "WEB"

type server struct {
	engine *tokengate.Engine
	users  *userDirectory
	log    logrus.FieldLogger
	guard  []middleware.Option
}

func newServer(engine *tokengate.Engine, users *userDirectory, log logrus.FieldLogger, guard ...middleware.Option) *server {
	return &server{engine: engine, users: users, log: log, guard: guard}
}

func (s *server) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.Authenticate(s.engine, s.guard...))
	r.Use(middleware.RateLimit(s.engine, middleware.DefaultClassifier))

	r.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", s.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/auth/logout", s.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", prometheus.NewPrometheusExporter(s.engine).Handler()).Methods(http.MethodGet)

	protected := r.NewRoute().Subrouter()
	protected.Use(middleware.RequireIdentity)
	protected.HandleFunc("/auth/logout-all", s.handleLogoutAll).Methods(http.MethodPost)
	protected.HandleFunc("/me", s.handleMe).Methods(http.MethodGet)
	protected.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	protected.HandleFunc("/sessions/{id}", s.handleRevokeSession).Methods(http.MethodDelete)

	return r
}

type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Identifier == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	ctx := r.Context()

	if err := s.engine.CheckLoginAllowed(ctx, req.Identifier); err != nil {
		writeLoginError(w, err)
		return
	}

	acct, err := s.users.Verify(req.Identifier, req.Password)
	if err != nil {
		if err := s.engine.RecordLoginFailure(ctx, req.Identifier, acct.id); err != nil {
			writeLoginError(w, err)
			return
		}
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	pair, err := s.engine.Login(ctx, tokengate.User{
		ID:         acct.id,
		UUID:       acct.uuid,
		Channel:    channelWeb,
		Role:       acct.role,
		Identifier: req.Identifier,
	})
	if err != nil {
		writeLoginError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func writeLoginError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tokengate.ErrLoginRateLimited):
		writeError(w, http.StatusTooManyRequests, "too many attempts")
	case errors.Is(err, tokengate.ErrAccountLocked):
		writeError(w, http.StatusForbidden, "account locked")
	case errors.Is(err, tokengate.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
	default:
		writeError(w, http.StatusUnauthorized, "unauthorized")
	}
}

func (s *server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(w, r, &req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	pair, err := s.engine.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, pair)
}

func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	_ = decodeJSON(w, r, &req)
	s.engine.Logout(r.Context(), bearer(r), req.RefreshToken)
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	id, _ := tokengate.IdentityFromContext(r.Context())
	if err := s.engine.LogoutAllWithCurrent(r.Context(), id.UserID, bearer(r)); err != nil {
		s.log.WithError(err).WithField("user_id", id.UserID).Error("logout-all failed")
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type meResponse struct {
	UserID    string `json:"userId"`
	UserUUID  string `json:"userUuid"`
	Channel   string `json:"channel"`
	Role      string `json:"role,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

func (s *server) handleMe(w http.ResponseWriter, r *http.Request) {
	id, _ := tokengate.IdentityFromContext(r.Context())
	if id.SessionID != "" {
		err := s.engine.TouchSession(r.Context(), id.UserID, id.SessionID)
		if err != nil && !errors.Is(err, tokengate.ErrSessionNotFound) {
			s.log.WithError(err).WithField("user_id", id.UserID).Warn("session activity not recorded")
		}
	}
	writeJSON(w, http.StatusOK, meResponse{
		UserID:    id.UserID,
		UserUUID:  id.UserUUID,
		Channel:   id.Channel,
		Role:      id.Role,
		SessionID: id.SessionID,
	})
}

func (s *server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	id, _ := tokengate.IdentityFromContext(r.Context())
	sessions, err := s.engine.ListSessions(r.Context(), id.UserID, id.SessionID)
	if err != nil {
		s.log.WithError(err).WithField("user_id", id.UserID).Error("list sessions failed")
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *server) handleRevokeSession(w http.ResponseWriter, r *http.Request) {
	id, _ := tokengate.IdentityFromContext(r.Context())
	err := s.engine.RevokeSession(r.Context(), id.UserID, mux.Vars(r)["id"])
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, tokengate.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
	}
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	rtt, err := s.engine.Ping(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "redis unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "redis": rtt.String()})
}

func bearer(r *http.Request) string {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return token
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
