package utils

import "net/http"

// AppError is an error that carries the HTTP status it should be reported
// with. Handlers map any other error to a generic 500.
type AppError struct {
	StatusCode int
	Message    string
}

func (e *AppError) Error() string {
	return e.Message
}

func NewBadRequestError(message string) *AppError {
	return &AppError{StatusCode: http.StatusBadRequest, Message: message}
}

func NewNotFoundError(message string) *AppError {
	return &AppError{StatusCode: http.StatusNotFound, Message: message}
}

func NewPayloadTooLargeError(message string) *AppError {
	return &AppError{StatusCode: http.StatusRequestEntityTooLarge, Message: message}
}

func NewUnsupportedFormatError(message string) *AppError {
	return &AppError{StatusCode: http.StatusUnsupportedMediaType, Message: message}
}

func NewInternalError(message string) *AppError {
	return &AppError{StatusCode: http.StatusInternalServerError, Message: message}
}
