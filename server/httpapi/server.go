// Package httpapi exposes the control API used by test harnesses that
// drive the server over HTTP instead of the Go API: readiness, user
// management, received-message listing and purge, plus Prometheus metrics
// under /metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stubmail/stubmail/consts"
	"github.com/stubmail/stubmail/logger"
	"github.com/stubmail/stubmail/server/delivery"
	"github.com/stubmail/stubmail/store"
)

// Server is the HTTP control API server.
type Server struct {
	hostname string
	store    *store.Store
	pipeline *delivery.Pipeline
	server   *http.Server
}

// New creates the API server. Call Serve with a bound listener to run it.
func New(hostname string, st *store.Store, pipeline *delivery.Pipeline) *Server {
	s := &Server{
		hostname: hostname,
		store:    st,
		pipeline: pipeline,
	}
	s.server = &http.Server{
		Handler:      s.setupRoutes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Serve accepts connections on l until Close.
func (s *Server) Serve(l net.Listener) error {
	logger.Info("Server listening", "protocol", "API", "addr", l.Addr().String())
	err := s.server.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close shuts the API server down gracefully.
func (s *Server) Close() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.Use(s.loggingMiddleware)

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	v1 := router.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/readiness", s.handleReadiness).Methods("GET")
	v1.HandleFunc("/configuration", s.handleConfiguration).Methods("GET")

	v1.HandleFunc("/users", s.handleCreateUser).Methods("POST")
	v1.HandleFunc("/users", s.handleListUsers).Methods("GET")
	v1.HandleFunc("/users/{login}", s.handleGetUser).Methods("GET")
	v1.HandleFunc("/users/{login}", s.handleDeleteUser).Methods("DELETE")

	v1.HandleFunc("/messages", s.handleListMessages).Methods("GET")
	v1.HandleFunc("/messages", s.handlePurgeMessages).Methods("DELETE")
	v1.HandleFunc("/users/{login}/messages", s.handleListUserMessages).Methods("GET")

	return router
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("API request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr, "duration", time.Since(start))
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("Failed to encode API response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// Request/Response types

type CreateUserRequest struct {
	Email    string `json:"email"`
	Login    string `json:"login"`
	Password string `json:"password"`
}

type UserResponse struct {
	Email string `json:"email"`
	Login string `json:"login"`
}

type MessageResponse struct {
	ID           string    `json:"id"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	Subject      string    `json:"subject"`
	UID          uint32    `json:"uid"`
	Size         int64     `json:"size"`
	ReceivedAt   time.Time `json:"received_at"`
	ContentHash  string    `json:"content_hash"`
	MimeMessage  string    `json:"mime_message,omitempty"`
	RecipientBox string    `json:"mailbox"`
}

// Handlers

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready", "hostname": s.hostname})
}

func (s *Server) handleConfiguration(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"hostname":      s.hostname,
		"auth_disabled": s.store.AuthDisabled(),
		"users":         len(s.store.Users()),
		"messages":      s.store.TotalMessageCount(),
	})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Email == "" && req.Login == "" {
		s.writeError(w, http.StatusBadRequest, "Email or login is required")
		return
	}

	user := s.store.SetUser(req.Email, req.Login, req.Password)
	s.writeJSON(w, http.StatusCreated, UserResponse{Email: user.Email(), Login: user.Login()})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users := s.store.Users()
	out := make([]UserResponse, 0, len(users))
	for _, u := range users {
		out = append(out, UserResponse{Email: u.Email(), Login: u.Login()})
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"users": out, "total": len(out)})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	login := mux.Vars(r)["login"]

	user, err := s.store.User(login)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "User not found")
		return
	}
	s.writeJSON(w, http.StatusOK, UserResponse{Email: user.Email(), Login: user.Login()})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	login := mux.Vars(r)["login"]

	if err := s.store.DeleteUser(login); err != nil {
		if errors.Is(err, consts.ErrUserNotFound) {
			s.writeError(w, http.StatusNotFound, "User not found")
			return
		}
		logger.Warn("Failed to delete user", "login", login, "error", err)
		s.writeError(w, http.StatusInternalServerError, "Failed to delete user")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"message": "User deleted"})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	includeBody := r.URL.Query().Get("full") == "true"

	entries := s.pipeline.ReceivedMessages()
	out := make([]MessageResponse, 0, len(entries))
	for _, rm := range entries {
		out = append(out, messageResponse(rm, includeBody))
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"messages": out, "total": len(out)})
}

func (s *Server) handleListUserMessages(w http.ResponseWriter, r *http.Request) {
	login := mux.Vars(r)["login"]
	includeBody := r.URL.Query().Get("full") == "true"

	user, err := s.store.User(login)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "User not found")
		return
	}

	var out []MessageResponse
	for _, rm := range s.pipeline.ReceivedMessages() {
		if rm.User == user {
			out = append(out, messageResponse(rm, includeBody))
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"messages": out, "total": len(out)})
}

func (s *Server) handlePurgeMessages(w http.ResponseWriter, r *http.Request) {
	purged := s.pipeline.Purge()
	logger.Info("Purged all mail via API", "messages", purged)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"purged": purged})
}

func messageResponse(rm *delivery.ReceivedMessage, includeBody bool) MessageResponse {
	subject := ""
	if env := rm.Message.Envelope(); env != nil {
		subject = env.Subject
	}

	resp := MessageResponse{
		ID:           rm.Message.ContentHash,
		From:         rm.From,
		To:           rm.To,
		Subject:      subject,
		UID:          uint32(rm.Message.UID),
		Size:         rm.Message.Size(),
		ReceivedAt:   rm.ReceivedAt,
		ContentHash:  rm.Message.ContentHash,
		RecipientBox: rm.User.Login(),
	}
	if includeBody {
		resp.MimeMessage = string(rm.Message.Raw)
	}
	return resp
}
