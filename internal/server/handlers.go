package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/raphaelgruber/memu-go/internal/apperr"
	"github.com/raphaelgruber/memu-go/internal/models"
	"github.com/raphaelgruber/memu-go/internal/store"
)

type successBody struct {
	Status string `json:"status"`
	Result any    `json:"result"`
}

type errorBody struct {
	Detail string `json:"detail"`
}

// retrieveRequest is the POST /retrieve body. Query is a string or a list
// of strings.
type retrieveRequest struct {
	Query json.RawMessage `json:"query"`
	Where *models.Scope   `json:"where"`
	Limit int             `json:"limit"`
}

func (req retrieveRequest) queries() ([]string, error) {
	if len(req.Query) == 0 || string(req.Query) == "null" {
		return nil, apperr.Validation("query is required")
	}
	var one string
	if err := json.Unmarshal(req.Query, &one); err == nil {
		return []string{one}, nil
	}
	var many []string
	if err := json.Unmarshal(req.Query, &many); err != nil {
		return nil, apperr.Validation("query must be a string or a list of strings")
	}
	return many, nil
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Hello MemU user!"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		writeJSON(w, http.StatusOK, map[string]any{"operations": map[string]any{}})
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handleMemorize(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.memory.Memorize(r.Context(), body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successBody{Status: "success", Result: result})
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req retrieveRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, r, apperr.Validation("malformed request body: %v", err))
		return
	}
	queries, err := req.queries()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	q := models.RetrievalQuery{Queries: queries, Limit: req.Limit}
	if req.Where != nil && req.Where.UserID != "" {
		q.Scope = req.Where
	}
	result, err := s.memory.Retrieve(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successBody{Status: "success", Result: result})
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	rec, err := s.memory.Conversation(r.Context(), r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody{Detail: "conversation not found"})
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, successBody{Status: "success", Result: rec})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperr.Validation("request body exceeds %d bytes", tooLarge.Limit)
		}
		return nil, apperr.Validation("read request body: %v", err)
	}
	return body, nil
}

// writeError maps err to a status and a {"detail"} body. Server errors are
// logged with the full cause and reported to Sentry.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	detail := apperr.Detail(err)
	if status >= http.StatusInternalServerError {
		attrs := []any{"method", r.Method, "path", r.URL.Path, "status", status, "error", truncate(err.Error(), maxDetailLogLen)}
		var se *apperr.StorageError
		if errors.As(err, &se) && se.Err != nil {
			attrs = append(attrs, "cause", se.Err)
		}
		s.logger.Error("request error", attrs...)
		captureError(r, status, err)
	}
	writeJSON(w, status, errorBody{Detail: detail})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
