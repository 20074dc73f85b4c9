package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/datasentinel/internal/domain"
	logpkg "github.com/kailas-cloud/datasentinel/internal/logger"
	healthuc "github.com/kailas-cloud/datasentinel/internal/usecase/health"
)

// Evaluator scores one request vector.
type Evaluator interface {
	Evaluate(input []float32) (domain.DetectionResult, error)
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error) bool

// Server serves the JSON evaluation API.
type Server struct {
	detector      Evaluator
	inputSize     int
	health        *healthuc.Service
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server. inputSize is the backend's expected input size.
func NewServer(detector Evaluator, inputSize int, health *healthuc.Service, logger *zap.Logger) *Server {
	s := &Server{
		detector:  detector,
		inputSize: inputSize,
		health:    health,
		logger:    logger,
	}
	s.errorHandlers = []errorHandler{
		inputSizeHandler,
		sentinelHandler(domain.ErrInferenceExecution, http.StatusInternalServerError,
			ErrorCodeInferenceFailed, "Inference failed"),
	}
	return s
}

// Evaluate handles POST /v1/evaluate.
func (s *Server) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorCodeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if len(req.Values) != s.inputSize {
		s.handleDomainError(w, r, domain.NewInputSizeError(s.inputSize, len(req.Values)))
		return
	}

	result, err := s.detector.Evaluate(req.Values)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	logpkg.FromContext(r.Context()).Debug("Evaluated",
		zap.Float64("mse", result.MSE),
		zap.String("status", result.Status.String()),
	)
	writeJSON(w, http.StatusOK, EvaluateResponse{
		Status:  result.Status.String(),
		Message: result.Status.String(),
		MSE:     result.MSE,
	})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, HealthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, EvaluateResponse{
		Status:  StatusError,
		Message: message,
		Code:    code,
	})
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode, msg string) errorHandler {
	return func(w http.ResponseWriter, err error) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

// inputSizeHandler reports the expected and received sizes.
func inputSizeHandler(w http.ResponseWriter, err error) bool {
	if !errors.Is(err, domain.ErrInputSizeMismatch) {
		return false
	}
	msg := "Invalid input size"
	var ise *domain.InputSizeError
	if errors.As(err, &ise) {
		msg = fmt.Sprintf("Invalid input size. Expected %d, got %d", ise.Expected, ise.Got)
	}
	writeError(w, http.StatusBadRequest, ErrorCodeInvalidInputSize, msg)
	return true
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logpkg.FromContext(r.Context())
	log.Warn("domain error", zap.Error(err))
	for _, h := range s.errorHandlers {
		if h(w, err) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, ErrorCodeInternalError, "internal error")
}
