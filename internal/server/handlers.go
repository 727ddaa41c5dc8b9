package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/copyleftdev/autotune/internal/errors"
	"github.com/copyleftdev/autotune/internal/optimization"
)

// RegisterRoutes mounts the REST API under /api/v1 and the JSON-RPC 2.0
// endpoint at /rpc.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.handleCreateSession)
			r.Get("/", s.handleListSessions)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Delete("/", s.handleDeleteSession)
				r.Post("/suggest", s.handleSuggest)
				r.Post("/register", s.handleRegister)
				r.Post("/pending", s.handlePending)
				r.Get("/observations", s.handleObservations)
				r.Get("/best", s.handleBest)
				r.Post("/predict", s.handlePredict)
			})
		})
	})

	r.Post("/rpc", s.handleJSONRPC)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if !s.decode(w, r, &req) {
		return
	}
	info, err := s.createSession(req)
	s.respond(w, http.StatusCreated, info, err)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	s.respond(w, http.StatusOK, map[string]interface{}{"sessions": s.listSessions()}, nil)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.getSession(chi.URLParam(r, "id"))
	s.respond(w, http.StatusOK, info, err)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	err := s.deleteSession(chi.URLParam(r, "id"))
	s.respond(w, http.StatusOK, map[string]string{"status": "deleted"}, err)
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	var req SuggestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, apperrors.Errorf(apperrors.ErrBadRequest, "invalid request body: %v", err))
		return
	}
	resp, err := s.suggest(chi.URLParam(r, "id"), req)
	s.respond(w, http.StatusOK, resp, err)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.register(chi.URLParam(r, "id"), req)
	s.respond(w, http.StatusOK, resp, err)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	var req PendingRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.registerPending(chi.URLParam(r, "id"), req)
	s.respond(w, http.StatusOK, resp, err)
}

func (s *Server) handleObservations(w http.ResponseWriter, r *http.Request) {
	records, err := s.observations(chi.URLParam(r, "id"))
	if errors.Is(err, optimization.ErrEmptyHistory) {
		records, err = []ObservationRecord{}, nil
	}
	s.respond(w, http.StatusOK, map[string]interface{}{"observations": records}, err)
}

func (s *Server) handleBest(w http.ResponseWriter, r *http.Request) {
	n := 1
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 {
			s.respondError(w, apperrors.Errorf(apperrors.ErrBadRequest, "invalid n %q", raw))
			return
		}
		n = v
	}
	records, err := s.best(chi.URLParam(r, "id"), n)
	s.respond(w, http.StatusOK, map[string]interface{}{"observations": records}, err)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req PredictRequest
	if !s.decode(w, r, &req) {
		return
	}
	resp, err := s.predict(chi.URLParam(r, "id"), req)
	s.respond(w, http.StatusOK, resp, err)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.respondError(w, apperrors.Errorf(apperrors.ErrBadRequest, "invalid request body: %v", err))
		return false
	}
	return true
}

func (s *Server) respond(w http.ResponseWriter, status int, body interface{}, err error) {
	if err != nil {
		s.respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

// respondError writes err as {"error": {"code", "message"}} with the status
// its kind maps to.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apperrors.StatusCode(err))
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"code":    apperrors.Code(err),
			"message": err.Error(),
		},
	})
}
