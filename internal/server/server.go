package server

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/copyleftdev/autotune/internal/config"
	apperrors "github.com/copyleftdev/autotune/internal/errors"
	"github.com/copyleftdev/autotune/internal/frame"
	"github.com/copyleftdev/autotune/internal/logging"
	"github.com/copyleftdev/autotune/internal/metrics"
	"github.com/copyleftdev/autotune/internal/optimization"
	"github.com/copyleftdev/autotune/internal/optimization/factory"
	"github.com/copyleftdev/autotune/internal/space"
)

// Logger defines the logging interface used by the server
// This allows us to be flexible with our logging implementation
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, fields ...map[string]interface{})
	Fatal(msg string, fields ...map[string]interface{})
	WithFields(fields map[string]interface{}) *logging.Logger
}

// session is one optimizer owned by the service. The optimizer is not safe
// for concurrent use, so every call holds mu.
type session struct {
	id            string
	name          string
	optimizerType factory.OptimizerType
	createdAt     time.Time

	mu       sync.Mutex
	opt      *optimization.Optimizer
	warnings []string
}

// Server implements the REST and JSON-RPC ask/tell API over a set of
// optimizer sessions.
type Server struct {
	cfg     *config.Config
	logger  Logger
	zlog    *zap.Logger
	metrics *metrics.Metrics

	sessions   map[string]*session
	sessionsMu sync.RWMutex // Protects the sessions map
}

// NewServer creates a new server instance with the given config and logger.
// A nil m creates metrics on a private registry.
func NewServer(cfg *config.Config, logger Logger, m *metrics.Metrics) *Server {
	if m == nil {
		m = metrics.New(nil)
	}
	return &Server{
		cfg:      cfg,
		logger:   logger,
		zlog:     logging.NewZapLogger(logger.WithFields(map[string]interface{}{"component": "optimizer"})),
		metrics:  m,
		sessions: make(map[string]*session),
	}
}

// Metrics returns the server's metrics.
func (s *Server) Metrics() *metrics.Metrics { return s.metrics }

// CreateSessionRequest declares a new optimizer session.
type CreateSessionRequest struct {
	Name string `json:"name"`
	config.Study
}

// SessionInfo describes a session.
type SessionInfo struct {
	ID           string       `json:"id"`
	Name         string       `json:"name,omitempty"`
	Optimizer    string       `json:"optimizer"`
	Parameters   []space.Spec `json:"parameters"`
	Targets      []string     `json:"targets"`
	Observations int          `json:"observations"`
	Pending      int          `json:"pending"`
	CreatedAt    time.Time    `json:"created_at"`
}

// SuggestRequest asks for the next configuration.
type SuggestRequest struct {
	Context map[string]any `json:"context,omitempty"`
	// Defaults returns the space defaults instead of consulting the strategy.
	Defaults bool `json:"defaults,omitempty"`
}

// SuggestionResponse is one proposed configuration.
type SuggestionResponse struct {
	Config   map[string]any `json:"config"`
	Context  map[string]any `json:"context,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Warnings []string       `json:"warnings,omitempty"`
}

// RegisterRequest reports scored configurations, row aligned.
type RegisterRequest struct {
	Configs  []map[string]any `json:"configs"`
	Scores   []map[string]any `json:"scores"`
	Contexts []map[string]any `json:"contexts,omitempty"`
	Metadata []map[string]any `json:"metadata,omitempty"`
}

// PendingRequest reports configurations under evaluation.
type PendingRequest struct {
	Configs  []map[string]any `json:"configs"`
	Contexts []map[string]any `json:"contexts,omitempty"`
	Metadata []map[string]any `json:"metadata,omitempty"`
}

// PredictRequest asks the surrogate model for predictions.
type PredictRequest struct {
	Configs []map[string]any `json:"configs"`
}

// StatusResponse reports history sizes after a write.
type StatusResponse struct {
	Observations int      `json:"observations"`
	Pending      int      `json:"pending"`
	Warnings     []string `json:"warnings,omitempty"`
}

// ObservationRecord is one row of a session's history.
type ObservationRecord struct {
	Config   map[string]any `json:"config"`
	Score    map[string]any `json:"score"`
	Context  map[string]any `json:"context,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// PredictResponse holds one prediction per requested configuration.
type PredictResponse struct {
	Predictions []float64 `json:"predictions"`
	Warnings    []string  `json:"warnings,omitempty"`
}

func (s *Server) createSession(req CreateSessionRequest) (*SessionInfo, error) {
	s.sessionsMu.RLock()
	n := len(s.sessions)
	s.sessionsMu.RUnlock()
	if n >= s.cfg.Optimization.MaxSessions {
		return nil, apperrors.Errorf(apperrors.ErrSessionLimit, "%d sessions open", n).WithOperation("CreateSession")
	}

	id := uuid.NewString()
	sess := &session{id: id, name: req.Name, createdAt: time.Now().UTC()}

	params, err := req.Params(config.Defaults{
		OptimizerType: s.cfg.Optimization.DefaultType,
		Seed:          s.cfg.Optimization.RandomSeed,
	}, s.zlog.With(zap.String("session_id", id)), func(err error) {
		sess.warnings = append(sess.warnings, err.Error())
	})
	if err != nil {
		return nil, err
	}
	opt, err := factory.Create(params)
	if err != nil {
		return nil, err
	}
	sess.opt = opt
	sess.optimizerType = params.OptimizerType

	s.sessionsMu.Lock()
	if len(s.sessions) >= s.cfg.Optimization.MaxSessions {
		s.sessionsMu.Unlock()
		_ = opt.Cleanup()
		return nil, apperrors.Errorf(apperrors.ErrSessionLimit, "%d sessions open", len(s.sessions)).
			WithOperation("CreateSession")
	}
	s.sessions[id] = sess
	n = len(s.sessions)
	s.sessionsMu.Unlock()
	s.metrics.SetSessions(n)

	s.logger.Info("Session created", map[string]interface{}{
		"session_id": id,
		"optimizer":  opt.String(),
		"parameters": opt.ParameterSpace().Len(),
	})
	return sess.info(), nil
}

func (sess *session) info() *SessionInfo {
	observations := 0
	if h, err := sess.opt.GetObservations(); err == nil {
		observations = h.Table().Configs.Len()
	}
	return &SessionInfo{
		ID:           sess.id,
		Name:         sess.name,
		Optimizer:    sess.opt.String(),
		Parameters:   sess.opt.ParameterSpace().Specs(),
		Targets:      sess.opt.Targets(),
		Observations: observations,
		Pending:      len(sess.opt.Pending()),
		CreatedAt:    sess.createdAt,
	}
}

func (s *Server) session(id string) (*session, error) {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, apperrors.Errorf(apperrors.ErrNotFound, "session %q", id).WithOperation("GetSession")
	}
	return sess, nil
}

// withSession runs f holding the session lock and returns the warnings
// raised during the call.
func (s *Server) withSession(id, op string, f func(sess *session) error) ([]string, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.warnings = nil
	if err := f(sess); err != nil {
		s.metrics.RecordOptimizerError(op, apperrors.Code(err))
		s.logger.Debug("Optimizer call failed", map[string]interface{}{
			"session_id": id,
			"operation":  op,
			"error":      err.Error(),
		})
		return nil, err
	}
	return sess.warnings, nil
}

func (s *Server) getSession(id string) (*SessionInfo, error) {
	var info *SessionInfo
	_, err := s.withSession(id, "GetSession", func(sess *session) error {
		info = sess.info()
		return nil
	})
	return info, err
}

func (s *Server) listSessions() []*SessionInfo {
	s.sessionsMu.RLock()
	all := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.sessionsMu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].createdAt.Equal(all[j].createdAt) {
			return all[i].id < all[j].id
		}
		return all[i].createdAt.Before(all[j].createdAt)
	})
	out := make([]*SessionInfo, len(all))
	for i, sess := range all {
		sess.mu.Lock()
		out[i] = sess.info()
		sess.mu.Unlock()
	}
	return out
}

func (s *Server) suggest(id string, req SuggestRequest) (*SuggestionResponse, error) {
	var resp *SuggestionResponse
	warnings, err := s.withSession(id, "Suggest", func(sess *session) error {
		var trialContext *frame.Frame
		if len(req.Context) > 0 {
			trialContext = recordsFrame([]map[string]any{req.Context})
		}

		start := time.Now()
		var (
			sg  *optimization.Suggestion
			err error
		)
		if req.Defaults {
			sg, err = sess.opt.SuggestDefaults(trialContext)
		} else {
			sg, err = sess.opt.Suggest(trialContext)
		}
		if err != nil {
			return err
		}
		s.metrics.RecordSuggestion(string(sess.optimizerType), time.Since(start))

		resp = &SuggestionResponse{Config: sg.Config.Record(0)}
		if sg.Context != nil {
			resp.Context = sg.Context.Record(0)
		}
		if sg.Metadata != nil && sg.Metadata.Len() > 0 {
			resp.Metadata = sg.Metadata.Record(0)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	resp.Warnings = warnings
	return resp, nil
}

func (s *Server) register(id string, req RegisterRequest) (*StatusResponse, error) {
	if len(req.Configs) == 0 {
		return nil, apperrors.New(apperrors.ErrBadRequest, "configs must not be empty").WithOperation("Register")
	}
	var resp StatusResponse
	warnings, err := s.withSession(id, "Register", func(sess *session) error {
		obs := &optimization.Observation{
			Config:      configsFrame(sess.opt.ParameterSpace(), req.Configs),
			Performance: recordsFrame(req.Scores),
			Context:     recordsFrame(req.Contexts),
			Metadata:    recordsFrame(req.Metadata),
		}
		if err := sess.opt.Register(obs); err != nil {
			return err
		}
		s.metrics.RecordObservations(string(sess.optimizerType), len(req.Configs))
		resp.Observations, resp.Pending = sess.counts()
		return nil
	})
	if err != nil {
		return nil, err
	}
	resp.Warnings = warnings
	return &resp, nil
}

func (s *Server) registerPending(id string, req PendingRequest) (*StatusResponse, error) {
	if len(req.Configs) == 0 {
		return nil, apperrors.New(apperrors.ErrBadRequest, "configs must not be empty").WithOperation("RegisterPending")
	}
	var resp StatusResponse
	warnings, err := s.withSession(id, "RegisterPending", func(sess *session) error {
		pending := &optimization.Suggestion{
			Config:   configsFrame(sess.opt.ParameterSpace(), req.Configs),
			Context:  recordsFrame(req.Contexts),
			Metadata: recordsFrame(req.Metadata),
		}
		if err := sess.opt.RegisterPending(pending); err != nil {
			return err
		}
		resp.Observations, resp.Pending = sess.counts()
		return nil
	})
	if err != nil {
		return nil, err
	}
	resp.Warnings = warnings
	return &resp, nil
}

func (sess *session) counts() (observations, pending int) {
	if h, err := sess.opt.GetObservations(); err == nil {
		observations = h.Table().Configs.Len()
	}
	return observations, len(sess.opt.Pending())
}

func (s *Server) observations(id string) ([]ObservationRecord, error) {
	var out []ObservationRecord
	_, err := s.withSession(id, "GetObservations", func(sess *session) error {
		h, err := sess.opt.GetObservations()
		if err != nil {
			return err
		}
		out = tableRecords(h.Table())
		return nil
	})
	return out, err
}

func (s *Server) best(id string, n int) ([]ObservationRecord, error) {
	if n < 1 {
		n = 1
	}
	var out []ObservationRecord
	_, err := s.withSession(id, "GetBestObservations", func(sess *session) error {
		h, err := sess.opt.GetBestObservations(n)
		if err != nil {
			return err
		}
		out = tableRecords(h.Table())
		return nil
	})
	return out, err
}

func (s *Server) predict(id string, req PredictRequest) (*PredictResponse, error) {
	if len(req.Configs) == 0 {
		return nil, apperrors.New(apperrors.ErrBadRequest, "configs must not be empty").WithOperation("SurrogatePredict")
	}
	var resp PredictResponse
	warnings, err := s.withSession(id, "SurrogatePredict", func(sess *session) error {
		p, err := sess.opt.SurrogatePredict(configsFrame(sess.opt.ParameterSpace(), req.Configs), nil)
		if err != nil {
			return err
		}
		resp.Predictions = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	resp.Warnings = warnings
	return &resp, nil
}

func (s *Server) deleteSession(id string) error {
	s.sessionsMu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	n := len(s.sessions)
	s.sessionsMu.Unlock()
	if !ok {
		return apperrors.Errorf(apperrors.ErrNotFound, "session %q", id).WithOperation("DeleteSession")
	}
	s.metrics.SetSessions(n)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if err := sess.opt.Cleanup(); err != nil {
		return err
	}
	s.logger.Info("Session deleted", map[string]interface{}{"session_id": id})
	return nil
}

// Close cleans up every session.
func (s *Server) Close() error {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()

	var firstErr error
	for id, sess := range s.sessions {
		sess.mu.Lock()
		if err := sess.opt.Cleanup(); err != nil && firstErr == nil {
			firstErr = err
		}
		sess.mu.Unlock()
		delete(s.sessions, id)
	}
	s.metrics.SetSessions(0)
	return firstErr
}

// configsFrame coerces JSON values into the space's native types.
func configsFrame(sp *space.Space, records []map[string]any) *frame.Frame {
	rows := make([]*frame.Frame, len(records))
	for i, r := range records {
		rows[i] = sp.Coerce(r)
	}
	return frame.Concat(rows...)
}

// recordsFrame builds a frame over the sorted union of the records' keys.
// It returns nil for no records.
func recordsFrame(records []map[string]any) *frame.Frame {
	if len(records) == 0 {
		return nil
	}
	seen := make(map[string]bool)
	var cols []string
	for _, r := range records {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)
	return frame.FromRecords(cols, records...)
}

func tableRecords(t optimization.Table) []ObservationRecord {
	out := make([]ObservationRecord, t.Configs.Len())
	for i := range out {
		out[i] = ObservationRecord{
			Config: t.Configs.Record(i),
			Score:  t.Performance.Record(i),
		}
		if t.Contexts != nil {
			out[i].Context = t.Contexts.Record(i)
		}
		if t.Metadata != nil {
			out[i].Metadata = t.Metadata.Record(i)
		}
	}
	return out
}
