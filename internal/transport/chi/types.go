package chi

// Response statuses of POST /v1/evaluate.
const (
	StatusOK      = "OK"
	StatusAnomaly = "ANOMALY"
	StatusError   = "ERROR"
)

// ErrorCode classifies an error response.
type ErrorCode string

// Error codes.
const (
	ErrorCodeBadRequest       ErrorCode = "bad_request"
	ErrorCodeInvalidInputSize ErrorCode = "invalid_input_size"
	ErrorCodeUnauthorized     ErrorCode = "unauthorized"
	ErrorCodeInferenceFailed  ErrorCode = "inference_failed"
	ErrorCodeInternalError    ErrorCode = "internal_error"
)

// EvaluateRequest is the body of POST /v1/evaluate.
type EvaluateRequest struct {
	Values []float32 `json:"values"`
}

// EvaluateResponse is returned by POST /v1/evaluate, including its errors.
type EvaluateResponse struct {
	Status  string    `json:"status"`
	Message string    `json:"message"`
	MSE     float64   `json:"mse"`
	Code    ErrorCode `json:"code,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}
