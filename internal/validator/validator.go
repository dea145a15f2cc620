package validator

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var dniRgx = regexp.MustCompile(`^[0-9]{7,9}$`)

func NewValidator() *validator.Validate {
	validator := validator.New(validator.WithRequiredStructEnabled())

	validator.RegisterValidation("dni", validateDNI)

	return validator
}

// validateDNI accepts national identity numbers of 7 to 9 digits.
func validateDNI(fl validator.FieldLevel) bool {
	return dniRgx.MatchString(fl.Field().String())
}

// ValidationMessage converts validator errors into readable messages
func ValidationMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must have at least %s items", err.Param())
	case "max":
		return fmt.Sprintf("must have at most %s items", err.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", err.Param())
	case "dni":
		return "must be a valid identity document number of 7 to 9 digits"
	case "dive":
		return "contains an invalid item"
	default:
		return "is invalid"
	}
}
