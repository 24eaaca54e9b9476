package rql

import "fmt"

// ParseError reports a malformed RQL clause. It is unrecoverable for the
// request and maps to a 400 response.
type ParseError struct {
	Msg string
}

func (e *ParseError) Error() string { return e.Msg }

// StatusCode implements the framework's status-carrying error contract.
func (e *ParseError) StatusCode() int { return 400 }

func parseErrorf(format string, args ...interface{}) *ParseError {
	return &ParseError{Msg: fmt.Sprintf(format, args...)}
}
