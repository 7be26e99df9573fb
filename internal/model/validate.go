package model

import (
	"errors"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// phonePattern accepts 10 to 15 digits with an optional leading plus sign.
var phonePattern = regexp.MustCompile(`^[+]?[0-9]{10,15}$`)

// validate is safe for concurrent use and caches struct metadata.
var validate = validator.New(validator.WithRequiredStructEnabled())

// fieldNames maps struct field names to the names used on the wire.
var fieldNames = map[string]string{
	"FirstName": "firstName",
	"LastName":  "lastName",
	"Email":     "email",
	"Phone":     "phone",
}

// Validate checks all fields and collects all errors. Blank names count as missing.
func (in ContactInput) Validate() error {
	var errs []FieldError

	err := validate.Struct(in)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			errs = append(errs, FieldError{Field: wireName(fe.Field()), Message: message(fe)})
		}
	} else if err != nil {
		return err
	}

	if in.FirstName != "" && strings.TrimSpace(in.FirstName) == "" {
		errs = append(errs, FieldError{Field: "firstName", Message: "required"})
	}
	if in.LastName != "" && strings.TrimSpace(in.LastName) == "" {
		errs = append(errs, FieldError{Field: "lastName", Message: "required"})
	}
	if in.Phone != "" && !phonePattern.MatchString(in.Phone) {
		errs = append(errs, FieldError{Field: "phone", Message: "must be 10 to 15 digits, optionally starting with +"})
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

func wireName(field string) string {
	if name, ok := fieldNames[field]; ok {
		return name
	}
	return field
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "email":
		return "must be a valid email address"
	default:
		return "invalid value"
	}
}
