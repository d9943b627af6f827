package types

// SuccessEnvelope wraps every successful JSON body.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// ErrorEnvelope wraps every error body.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
