package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FieldError describes one failed field constraint
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Param   string `json:"param,omitempty"`
	Message string `json:"message"`
}

// NewValidator returns a validator that reports JSON field names and knows
// the marketplace's custom rules.
func NewValidator() *validator.Validate {
	validate := validator.New(validator.WithRequiredStructEnabled())

	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name := strings.SplitN(field.Tag.Get(tag), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return field.Name
	})

	// ISO 4217 style currency code
	validate.RegisterValidation("currency", func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		if len(value) != 3 {
			return false
		}
		for _, char := range value {
			if char < 'A' || char > 'Z' {
				return false
			}
		}
		return true
	})

	return validate
}

// Validation converts a validator or JSON decoding error into ValidationFailed
func Validation(err error) *Error {
	if appErr := fromValidation(err); appErr != nil {
		return appErr
	}
	return Invalid("Invalid request body").WithCause(err)
}

func fromValidation(err error) *Error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		details := make([]FieldError, 0, len(validationErrs))
		for _, fe := range validationErrs {
			details = append(details, FieldError{
				Field:   fe.Field(),
				Rule:    fe.Tag(),
				Param:   fe.Param(),
				Message: fieldMessage(fe),
			})
		}
		return Invalid("").WithDetails(details).WithCause(err)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxErr):
		return Invalid("Malformed JSON body").WithCause(err)
	case errors.As(err, &typeErr):
		return Invalid("Invalid request body").WithDetails([]FieldError{{
			Field:   typeErr.Field,
			Rule:    "type",
			Param:   typeErr.Type.String(),
			Message: fmt.Sprintf("must be of type %s", typeErr.Type.String()),
		}}).WithCause(err)
	}

	return nil
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "url":
		return "must be a valid URL"
	case "currency":
		return "must be a three-letter uppercase currency code"
	default:
		return fmt.Sprintf("failed the %s rule", fe.Tag())
	}
}
