package service

import "fmt"

// ForwardError reports a failed forward to the bridge: connection refused,
// DNS failure, timeout or a malformed response. It is the only error kind the
// proxy surfaces to callers.
type ForwardError struct {
	Path string
	Err  error
}

func (e *ForwardError) Error() string {
	return fmt.Sprintf("Error trying to proxy: %s Error: %v", e.Path, e.Err)
}

func (e *ForwardError) Unwrap() error {
	return e.Err
}
