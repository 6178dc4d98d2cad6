// Package errors maps service failures onto categories the HTTP layer can
// turn into status codes.
package errors

import (
	"errors"
	"net/http"
)

// Category defines error category
type Category int

// Categories ordered so that everything from CategoryDependencyFailure on
// counts as internal.
const (
	// CategoryDataError: the request carried invalid data.
	CategoryDataError Category = iota + 1
	// CategoryUnauthorized: the caller is not the identity the operation requires.
	CategoryUnauthorized
	// CategoryForbidden: the caller is known but not allowed to do this yet.
	CategoryForbidden
	// CategoryResourceNotFound: the addressed position, badge or account does not exist.
	CategoryResourceNotFound
	// CategoryDataConflict: the request conflicts with the current state.
	CategoryDataConflict
	// CategoryPaymentRequired: not enough value was attached.
	CategoryPaymentRequired
	// CategoryDependencyFailure: the payout rail or the gateway failed.
	CategoryDependencyFailure
	// CategoryGeneralError: anything unexpected.
	CategoryGeneralError
)

var categories = map[Category]struct {
	name   string
	status int
}{
	CategoryDataError:         {"CategoryDataError", http.StatusBadRequest},
	CategoryUnauthorized:      {"CategoryUnauthorized", http.StatusUnauthorized},
	CategoryForbidden:         {"CategoryForbidden", http.StatusForbidden},
	CategoryResourceNotFound:  {"CategoryResourceNotFound", http.StatusNotFound},
	CategoryDataConflict:      {"CategoryDataConflict", http.StatusConflict},
	CategoryPaymentRequired:   {"CategoryPaymentRequired", http.StatusPaymentRequired},
	CategoryDependencyFailure: {"CategoryDependencyFailure", http.StatusBadGateway},
	CategoryGeneralError:      {"CategoryGeneralError", http.StatusInternalServerError},
}

func (c Category) String() string {
	if v, ok := categories[c]; ok {
		return v.name
	}
	return categories[CategoryGeneralError].name
}

// ServiceError carries a user-facing Message and the underlying Err that
// only goes to the logs.
type ServiceError struct {
	Category Category
	Message  string
	Err      error
}

// Error method to comply with error interface
func (err ServiceError) Error() string {
	if err.Err != nil {
		return err.Err.Error()
	}
	return err.Message
}

// Unwrap returns the underlying error
func (err ServiceError) Unwrap() error {
	return err.Err
}

// Is matches a target whose text equals the user-facing message.
func (err ServiceError) Is(target error) bool {
	return err.Message == target.Error()
}

// StatusCode returns the HTTP status code for the error category
func (err ServiceError) StatusCode() int {
	if v, ok := categories[err.Category]; ok {
		return v.status
	}
	return http.StatusInternalServerError
}

// Is checks that provided error is a ServiceError with desired Category
func Is(err error, cat Category) bool {
	var svcErr *ServiceError
	return errors.As(err, &svcErr) && svcErr.Category == cat
}

// IsInternalError reports whether err is not a client error: either not a
// ServiceError at all, or a dependency/general failure.
func IsInternalError(err error) bool {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) && svcErr.Category < CategoryDependencyFailure {
		return false
	}
	return true
}

func newError(cat Category, err error, fallback, message string) error {
	if err == nil {
		err = errors.New(fallback)
	}
	return &ServiceError{Category: cat, Message: message, Err: err}
}

// GeneralError hides err behind "Internal Server Error".
func GeneralError(err error) error {
	return newError(CategoryGeneralError, err, "internal server error", "Internal Server Error")
}

// ResourceNotFoundError returns a 404 with message shown to the caller.
func ResourceNotFoundError(err error, message string) error {
	return newError(CategoryResourceNotFound, err, "resource not found: "+message, message)
}

// BadRequestError returns a 400 with message shown to the caller.
func BadRequestError(err error, message string) error {
	return newError(CategoryDataError, err, "bad request: "+message, message)
}

// ForbiddenError returns a 403.
func ForbiddenError(err error, message string) error {
	return newError(CategoryForbidden, err, "request forbidden", message)
}

// UnAuthorizedError returns a 401.
func UnAuthorizedError(err error, message string) error {
	return newError(CategoryUnauthorized, err, "unauthorized", message)
}

// ConflictError returns a 409.
func ConflictError(err error, message string) error {
	return newError(CategoryDataConflict, err, "conflict", message)
}

// PaymentRequiredError returns a 402.
func PaymentRequiredError(err error, message string) error {
	return newError(CategoryPaymentRequired, err, "payment required", message)
}

// DependencyError returns a 502 for a failing payout rail or gateway.
func DependencyError(err error, message string) error {
	return newError(CategoryDependencyFailure, err, "dependency failure", message)
}
