package transport

import "fmt"

// RequestError reports a network or timeout failure before any response
// was received.
type RequestError struct {
	Endpoint string
	Err      error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request to %s failed: %v", e.Endpoint, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned HTTP %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// DecodeError reports a 2xx response whose body could not be parsed. The
// raw body is preserved for diagnostics.
type DecodeError struct {
	Endpoint string
	Err      error
	Body     string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s returned an undecodable body: %v", e.Endpoint, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// RejectionError reports a structured error code returned by the remote
// service inside an otherwise well-formed response.
type RejectionError struct {
	Endpoint string
	Code     string
	Message  string
}

func (e *RejectionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s rejected the request with code %s", e.Endpoint, e.Code)
	}
	return fmt.Sprintf("%s rejected the request with code %s: %s", e.Endpoint, e.Code, e.Message)
}
