package server

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/copyleftdev/autotune/internal/errors"
	"github.com/copyleftdev/autotune/internal/optimization"
)

// JSON-RPC 2.0 error codes. Codes above -32099 are reserved by the protocol;
// the server-defined ones follow.
const (
	rpcParseError     = -32700
	rpcInvalidRequest = -32600
	rpcMethodNotFound = -32601
	rpcInvalidParams  = -32602
	rpcServerError    = -32000
	rpcNotFound       = -32001
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// sessionParams is embedded by every per-session method.
type sessionParams struct {
	SessionID string `json:"session_id"`
}

// handleJSONRPC handles JSON-RPC 2.0 requests. Params are a single object;
// per-session methods carry "session_id" next to the method's own fields.
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.respondWithError(w, rpcParseError, "Parse error", nil, nil)
		return
	}

	// Validate JSON-RPC 2.0 request
	if request.JSONRPC != "2.0" || request.Method == "" {
		s.respondWithError(w, rpcInvalidRequest, "Invalid Request", request.ID, nil)
		return
	}

	call, ok := s.rpcMethods()[request.Method]
	if !ok {
		s.respondWithError(w, rpcMethodNotFound, "Method not found", request.ID, nil)
		return
	}

	params := request.Params
	if len(params) == 0 || string(params) == "null" {
		params = json.RawMessage("{}")
	}
	result, err := call(params)
	if err != nil {
		s.respondWithError(w, rpcCode(err), err.Error(), request.ID, map[string]interface{}{
			"code": apperrors.Code(err),
		})
		return
	}

	// Send successful response
	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

type rpcMethod func(params json.RawMessage) (interface{}, error)

func (s *Server) rpcMethods() map[string]rpcMethod {
	return map[string]rpcMethod{
		"session.create": func(p json.RawMessage) (interface{}, error) {
			var req CreateSessionRequest
			if err := unmarshalParams(p, &req); err != nil {
				return nil, err
			}
			return s.createSession(req)
		},
		"session.list": func(json.RawMessage) (interface{}, error) {
			return map[string]interface{}{"sessions": s.listSessions()}, nil
		},
		"session.get": func(p json.RawMessage) (interface{}, error) {
			id, err := sessionID(p)
			if err != nil {
				return nil, err
			}
			return s.getSession(id)
		},
		"session.delete": func(p json.RawMessage) (interface{}, error) {
			id, err := sessionID(p)
			if err != nil {
				return nil, err
			}
			if err := s.deleteSession(id); err != nil {
				return nil, err
			}
			return map[string]string{"status": "deleted"}, nil
		},
		"session.suggest": func(p json.RawMessage) (interface{}, error) {
			var req SuggestRequest
			id, err := sessionRequest(p, &req)
			if err != nil {
				return nil, err
			}
			return s.suggest(id, req)
		},
		"session.register": func(p json.RawMessage) (interface{}, error) {
			var req RegisterRequest
			id, err := sessionRequest(p, &req)
			if err != nil {
				return nil, err
			}
			return s.register(id, req)
		},
		"session.pending": func(p json.RawMessage) (interface{}, error) {
			var req PendingRequest
			id, err := sessionRequest(p, &req)
			if err != nil {
				return nil, err
			}
			return s.registerPending(id, req)
		},
		"session.observations": func(p json.RawMessage) (interface{}, error) {
			id, err := sessionID(p)
			if err != nil {
				return nil, err
			}
			records, err := s.observations(id)
			if errors.Is(err, optimization.ErrEmptyHistory) {
				records, err = []ObservationRecord{}, nil
			}
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"observations": records}, nil
		},
		"session.best": func(p json.RawMessage) (interface{}, error) {
			var req struct {
				N int `json:"n"`
			}
			id, err := sessionRequest(p, &req)
			if err != nil {
				return nil, err
			}
			records, err := s.best(id, req.N)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"observations": records}, nil
		},
		"session.predict": func(p json.RawMessage) (interface{}, error) {
			var req PredictRequest
			id, err := sessionRequest(p, &req)
			if err != nil {
				return nil, err
			}
			return s.predict(id, req)
		},
	}
}

func unmarshalParams(p json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(p, v); err != nil {
		return apperrors.Errorf(apperrors.ErrBadRequest, "invalid params: %v", err)
	}
	return nil
}

func sessionID(p json.RawMessage) (string, error) {
	var sp sessionParams
	if err := unmarshalParams(p, &sp); err != nil {
		return "", err
	}
	if sp.SessionID == "" {
		return "", apperrors.New(apperrors.ErrBadRequest, "session_id is required")
	}
	return sp.SessionID, nil
}

func sessionRequest(p json.RawMessage, v interface{}) (string, error) {
	id, err := sessionID(p)
	if err != nil {
		return "", err
	}
	return id, unmarshalParams(p, v)
}

func rpcCode(err error) int {
	status := apperrors.StatusCode(err)
	switch {
	case status == http.StatusNotFound:
		return rpcNotFound
	case status >= 400 && status < 500:
		return rpcInvalidParams
	default:
		return rpcServerError
	}
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}, data interface{}) {
	s.logger.Debug("RPC error", map[string]interface{}{
		"code":    code,
		"message": message,
	})

	rpcErr := map[string]interface{}{
		"code":    code,
		"message": message,
	}
	if data != nil {
		rpcErr["data"] = data
	}
	response := map[string]interface{}{
		"jsonrpc": "2.0",
		"error":   rpcErr,
		"id":      id,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}
