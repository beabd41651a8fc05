package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/ahrav/go-arbiter/internal/domain"
	"github.com/ahrav/go-arbiter/internal/ingest"
	"github.com/ahrav/go-arbiter/internal/ports"
)

// Machine-readable error codes.
const (
	CodeInvalidRequest = "invalid_request"
	CodeInvalidInput   = "invalid_input"
	CodeNoRows         = "no_rows_assembled"
	CodeNotFound       = "not_found"
	CodeNotDecided     = "not_decided"
	CodeTooLarge       = "body_too_large"
	CodeUnavailable    = "store_unavailable"
	CodeInternal       = "internal_error"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	// Fields lists validation failures by field name.
	Fields map[string]string `json:"fields,omitempty"`
	// Report accompanies no_rows_assembled so callers can see why every
	// row was skipped.
	Report *ingest.Report `json:"report,omitempty"`
}

// statusFor maps an error to its HTTP status and code.
func statusFor(err error) (int, string) {
	var (
		headerErr *domain.HeaderError
		batchErr  *domain.BatchError
		maxBytes  *http.MaxBytesError
		verrs     validator.ValidationErrors
	)
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, CodeTooLarge
	case errors.As(err, &batchErr):
		return http.StatusUnprocessableEntity, CodeNoRows
	case errors.As(err, &headerErr), errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, CodeInvalidInput
	case errors.As(err, &verrs),
		errors.Is(err, domain.ErrInvalidConfidence),
		errors.Is(err, domain.ErrUnknownSlot):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, domain.ErrRowNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, domain.ErrNotDecided):
		return http.StatusConflict, CodeNotDecided
	case errors.Is(err, ports.ErrStoreClosed):
		return http.StatusServiceUnavailable, CodeUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// abortWithError writes the mapped error reply and records err on the
// context for the request logger.
func abortWithError(c *gin.Context, err error) {
	status, code := statusFor(err)
	resp := ErrorResponse{Error: err.Error(), Code: code}
	if status == http.StatusInternalServerError {
		resp.Error = "internal error"
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		resp.Error = "request failed validation"
		resp.Fields = make(map[string]string, len(verrs))
		for _, fe := range verrs {
			resp.Fields[fe.Field()] = fe.Tag()
		}
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, resp)
}
