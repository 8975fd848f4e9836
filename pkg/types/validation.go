package types

// Outcome is the classification of a stage-1 validation attempt.
type Outcome string

const (
	OutcomeValid        Outcome = "valid"
	OutcomeInvalidShape Outcome = "invalid_shape"
	OutcomeHTTPError    Outcome = "http_error"
	OutcomeNetworkError Outcome = "network_error"
	OutcomeMalformedURL Outcome = "malformed_url"
)

// ValidationResult carries the outcome plus the data relevant to it: Server
// for valid, Status for http_error and Message for network_error.
type ValidationResult struct {
	Outcome Outcome         `json:"outcome"`
	Server  *ServerIdentity `json:"server,omitempty"`
	Status  int             `json:"status,omitempty"`
	Message string          `json:"message,omitempty"`
}

func (r ValidationResult) Valid() bool {
	return r.Outcome == OutcomeValid && r.Server != nil
}
