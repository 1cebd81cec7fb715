package services

import "fmt"

// ServiceError carries an HTTP status alongside a user-actionable message.
type ServiceError struct {
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	return e.Message
}

func newError(status int, format string, args ...interface{}) *ServiceError {
	return &ServiceError{
		StatusCode: status,
		Message:    fmt.Sprintf(format, args...),
	}
}
