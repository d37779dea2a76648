package utils

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AppError carries an HTTP status and a stable numeric code alongside the client-facing message.
type AppError struct {
	Status  int
	Code    int
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// Unauthenticated is returned when no usable credential was presented.
func Unauthenticated(code int, message string) *AppError {
	return &AppError{Status: http.StatusUnauthorized, Code: code, Message: message}
}

// Forbidden is returned when a credential was presented but does not grant access.
func Forbidden(code int, message string) *AppError {
	return &AppError{Status: http.StatusForbidden, Code: code, Message: message}
}

// Validation is returned for malformed input or store constraint violations.
func Validation(code int, message string) *AppError {
	return &AppError{Status: http.StatusBadRequest, Code: code, Message: message}
}

// NotFound is returned when the addressed resource does not exist.
func NotFound(code int, message string) *AppError {
	return &AppError{Status: http.StatusNotFound, Code: code, Message: message}
}

// Internal hides err behind a generic message.
func Internal(err error) *AppError {
	return &AppError{Status: http.StatusInternalServerError, Code: 50000, Message: "internal server error", Err: err}
}

// ToAppError maps store and binding errors onto the HTTP taxonomy.
func ToAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return NotFound(40400, "resource not found")
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return Validation(40010, "unique constraint violated")
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		return Validation(40011, "referenced resource does not exist")
	case errors.Is(err, gorm.ErrInvalidData), errors.Is(err, gorm.ErrInvalidField):
		return Validation(40012, err.Error())
	case errors.As(err, &verrs):
		return Validation(40013, verrs.Error())
	}
	return Internal(err)
}

// HandleError writes err as a JSON error response and aborts the handler chain.
// Server-side failures are logged; their details never reach the client.
func HandleError(ctx *gin.Context, logger *zap.Logger, err error) {
	appErr := ToAppError(err)
	if appErr.Status >= http.StatusInternalServerError && logger != nil {
		logger.Error("request failed",
			zap.String("method", ctx.Request.Method),
			zap.String("path", ctx.Request.URL.Path),
			zap.Error(err),
		)
	}
	Error(ctx, appErr.Status, appErr.Code, appErr.Message)
	ctx.Abort()
}
