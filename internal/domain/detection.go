package domain

// Status is the classification of a single evaluated vector.
type Status int

const (
	// StatusOK means the reconstruction error is within the threshold.
	StatusOK Status = iota
	// StatusAnomaly means the reconstruction error exceeds the threshold.
	StatusAnomaly
)

// String returns the wire form used by line-oriented and RPC transports.
func (s Status) String() string {
	if s == StatusAnomaly {
		return "ANOMALY"
	}
	return "OK"
}

// DetectionResult is the per-request outcome of anomaly scoring.
type DetectionResult struct {
	MSE    float64
	Status Status
}

// IsAnomaly reports whether the result was classified as anomalous.
func (r DetectionResult) IsAnomaly() bool {
	return r.Status == StatusAnomaly
}

// ResponseLine returns the newline-terminated reply for line-oriented transports.
func (r DetectionResult) ResponseLine() string {
	return r.Status.String() + "\n"
}
