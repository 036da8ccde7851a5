package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/workdesk/termbridge/internal/errors"
	"github.com/workdesk/termbridge/internal/registry"
)

// createSessionRequest is the POST /api/sessions body. All fields are
// optional; the server defaults fill the gaps.
type createSessionRequest struct {
	WorkDir string   `json:"work_dir,omitempty"`
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Rows    int      `json:"rows,omitempty"`
	Cols    int      `json:"cols,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
	Endpoint  string `json:"endpoint"`
}

// sessionInfo describes one live session in API responses.
type sessionInfo struct {
	SessionID string `json:"session_id"`
	WorkDir   string `json:"work_dir,omitempty"`
	Command   string `json:"command,omitempty"`
	Status    string `json:"status"`
	PID       int    `json:"pid,omitempty"`
	Bound     bool   `json:"bound"`
	CreatedAt string `json:"created_at,omitempty"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("server: write response failed: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code, message := errors.ToCodeAndMessage(err)
	writeJSON(w, httpStatusForCode(code), errorResponse{Code: code, Message: message})
}

func httpStatusForCode(code string) int {
	switch code {
	case errors.CodeSessionNotFound:
		return http.StatusNotFound
	case errors.CodeSessionBadWorkdir, errors.CodeServerBadRequest:
		return http.StatusBadRequest
	case errors.CodeSessionLimitReached:
		return http.StatusServiceUnavailable
	case errors.CodeSessionBusy:
		return http.StatusConflict
	case errors.CodeAuthRequired, errors.CodeAuthInvalid:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// handleSessions serves POST (create) and GET (list) on /api/sessions.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(w, r) {
		return
	}

	switch r.Method {
	case http.MethodPost:
		s.handleCreateSession(w, r)
	case http.MethodGet:
		s.handleListSessions(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, errors.New(errors.CodeServerBadRequest, "invalid request body"))
			return
		}
	}

	rows, cols := req.Rows, req.Cols
	if rows <= 0 {
		rows = s.defaultRows
	}
	if cols <= 0 {
		cols = s.defaultCols
	}

	sess, err := s.registry.Create(req.WorkDir, req.Command, req.Args, rows, cols)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createSessionResponse{
		SessionID: sess.ID,
		Endpoint:  "/terminal/" + sess.ID,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	ids := s.registry.List()
	infos := make([]sessionInfo, 0, len(ids))
	for _, id := range ids {
		sess, err := s.registry.Attach(id)
		if err != nil {
			continue
		}
		infos = append(infos, describeSession(sess))
	}
	writeJSON(w, http.StatusOK, infos)
}

// handleSessionByID serves GET (info) and DELETE (terminate) on
// /api/sessions/{id}.
func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	if !s.authenticate(w, r) {
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		sess, err := s.registry.Attach(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, describeSession(sess))

	case http.MethodDelete:
		if err := s.registry.Terminate(id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func describeSession(sess *registry.Session) sessionInfo {
	return sessionInfo{
		SessionID: sess.ID,
		WorkDir:   sess.WorkDir,
		Command:   sess.Command,
		Status:    string(sess.Status()),
		PID:       sess.PTY.PID(),
		Bound:     sess.Bound(),
		CreatedAt: sess.CreatedAt.Format(time.RFC3339),
	}
}

// handleHealth reports liveness and basic load.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"sessions":    s.registry.Count(),
		"connections": s.ConnCount(),
	})
}
