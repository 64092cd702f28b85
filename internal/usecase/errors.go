package usecase

import "fmt"

type ErrorCode string

const (
	ErrorInvalidInput ErrorCode = "INVALID_INPUT"
	// ErrorCredentials covers decryption and key-material failures. Fatal
	// for the request and never retried: a bad key will not become good.
	ErrorCredentials ErrorCode = "CREDENTIALS_ERROR"
	// ErrorPersistence is a transient store failure; the webhook caller
	// retries with bounded backoff.
	ErrorPersistence  ErrorCode = "PERSISTENCE_ERROR"
	ErrorIntentEngine ErrorCode = "INTENT_ENGINE_ERROR"
	// ErrorDelivery means the bot reply could not be sent. The inbound
	// message is already durably recorded when this surfaces.
	ErrorDelivery ErrorCode = "DELIVERY_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}
