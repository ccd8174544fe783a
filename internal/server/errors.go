package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/kitchenbill/internal/audit/domain"
	invoicedomain "github.com/smallbiznis/kitchenbill/internal/invoice/domain"
	"github.com/smallbiznis/kitchenbill/internal/money"
	"github.com/smallbiznis/kitchenbill/internal/paymentschedule"
	projectdomain "github.com/smallbiznis/kitchenbill/internal/project/domain"
	"github.com/smallbiznis/kitchenbill/internal/providers/email"
	taxdomain "github.com/smallbiznis/kitchenbill/internal/tax/domain"
	"github.com/smallbiznis/kitchenbill/pkg/db"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

// classifyErrorForLog feeds the request logger with the same type and code
// the client sees.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	if status == http.StatusInternalServerError {
		return payload.Type, "internal_error"
	}
	code := payload.Code
	if code == "" && len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Code:    rootCode(err),
			Message: "not found",
		}
	case isIllegalTransitionError(err):
		return http.StatusConflict, errorPayload{
			Type:    "illegal_transition",
			Code:    rootCode(err),
			Message: "operation not allowed in the current state",
		}
	case errors.Is(err, email.ErrNoRecipient):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "unprocessable",
			Code:    email.ErrNoRecipient.Error(),
			Message: "no recipient address for reminder",
		}
	case isTransmissionError(err):
		return http.StatusBadGateway, errorPayload{
			Type:    "transmission_error",
			Message: "reminder could not be delivered",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, db.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

var validationErrors = []error{
	ErrInvalidRequest,
	money.ErrInvalidTaxRate,
	paymentschedule.ErrInvalidSchedule,
	invoicedomain.ErrInvalidAmount,
	invoicedomain.ErrInvalidInvoiceType,
	invoicedomain.ErrInvalidScheduleType,
	invoicedomain.ErrInvalidPaidDate,
	invoicedomain.ErrInvalidReminderType,
	invoicedomain.ErrInvalidLegacyRow,
	invoicedomain.ErrInvalidPageToken,
	projectdomain.ErrInvalidOrderNumber,
	projectdomain.ErrInvalidCustomerName,
	projectdomain.ErrInvalidGrossTotal,
	projectdomain.ErrInvalidItem,
	auditdomain.ErrInvalidPageToken,
	auditdomain.ErrInvalidTimeRange,
	auditdomain.ErrInvalidAction,
	taxdomain.ErrNotFinalInvoice,
}

func isValidationError(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, invoicedomain.ErrInvoiceNotFound),
		errors.Is(err, projectdomain.ErrProjectNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isIllegalTransitionError(err error) bool {
	switch {
	case errors.Is(err, invoicedomain.ErrAlreadyCredited),
		errors.Is(err, invoicedomain.ErrCreditOfCredit),
		errors.Is(err, invoicedomain.ErrCreditNotPayable),
		errors.Is(err, invoicedomain.ErrScheduledPaymentExists),
		errors.Is(err, invoicedomain.ErrNothingToInvoice),
		errors.Is(err, invoicedomain.ErrIllegalTransition),
		errors.Is(err, projectdomain.ErrDuplicateOrder):
		return true
	default:
		return false
	}
}

func isTransmissionError(err error) bool {
	var marked interface{ Transmission() bool }
	return errors.As(err, &marked) && marked.Transmission()
}

// rootCode unwraps to the innermost sentinel so wrapped errors report the
// same code as bare ones.
func rootCode(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

func validationErrorCode(err error) string {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return err.Error()
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case taxdomain.ErrNotFinalInvoice.Error():
		return "invoice is not a final invoice"
	default:
		return "invalid value"
	}
}
