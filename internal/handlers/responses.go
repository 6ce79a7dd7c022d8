package handlers

// ErrorResponse is the uniform error envelope
type ErrorResponse struct {
	Error string `json:"error"`
}
