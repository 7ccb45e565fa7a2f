package model

// ListResponse is the standard envelope for list endpoints.
type ListResponse struct {
	Resource any           `json:"resource"`
	Meta     *ResponseMeta `json:"meta,omitempty"`
}

// ResponseMeta carries list metadata.
type ResponseMeta struct {
	Count int `json:"count"`
}

// ErrorResponse is the standard envelope for error responses.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains the structured error information returned by the API.
// Reason is a stable machine-readable code; Remediation is human guidance.
type ErrorDetail struct {
	Code        int    `json:"code"`
	Reason      string `json:"reason,omitempty"`
	Message     string `json:"message"`
	Remediation string `json:"remediation,omitempty"`
}
