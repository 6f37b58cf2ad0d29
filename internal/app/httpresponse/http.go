package httpresponse

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

// APIError is the JSON body of every error answered by the stub and admin
// servers.
type APIError struct {
	ErrorMessage string `json:"error_message"`
}

func (e *APIError) Error() string {
	return e.ErrorMessage
}

func Error(error string) *APIError {
	log.Error(error)
	e := &APIError{
		ErrorMessage: error,
	}
	return e
}

func Errorf(error string, a ...interface{}) *APIError {
	return Error(fmt.Sprintf(error, a...))
}
