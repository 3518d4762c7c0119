package validator

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()

	// Use JSON tag names in error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	registerCustomValidations()
}

func registerCustomValidations() {
	// Numeric PIN of reasonable length
	validate.RegisterValidation("pin", func(fl validator.FieldLevel) bool {
		pin := fl.Field().String()
		if len(pin) < 4 || len(pin) > 8 {
			return false
		}
		for _, c := range pin {
			if c < '0' || c > '9' {
				return false
			}
		}
		return true
	})

	// Device hash: hex fingerprint reported by the client app
	validate.RegisterValidation("devicehash", func(fl validator.FieldLevel) bool {
		h := fl.Field().String()
		if len(h) < 8 || len(h) > 128 {
			return false
		}
		for _, c := range h {
			if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
				return false
			}
		}
		return true
	})
}

// Validate validates a struct and returns a map of field errors
func Validate(s interface{}) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	errors := make(map[string]string)
	for _, err := range err.(validator.ValidationErrors) {
		field := err.Field()
		switch err.Tag() {
		case "required":
			errors[field] = "This field is required"
		case "min":
			errors[field] = "Value is too short (min: " + err.Param() + ")"
		case "max":
			errors[field] = "Value is too long (max: " + err.Param() + ")"
		case "gte":
			errors[field] = "Value must be at least " + err.Param()
		case "lte":
			errors[field] = "Value must be at most " + err.Param()
		case "uuid":
			errors[field] = "Invalid identifier format"
		case "pin":
			errors[field] = "PIN must be 4-8 digits"
		case "devicehash":
			errors[field] = "Invalid device fingerprint"
		default:
			errors[field] = "Invalid value"
		}
	}

	return errors
}

// ValidateVar validates a single variable
func ValidateVar(field interface{}, tag string) error {
	return validate.Var(field, tag)
}
