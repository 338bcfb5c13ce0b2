package tracker

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError reports per-field problems keyed by JSON field name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+" "+e.Fields[name])
	}
	return fmt.Sprintf("%s: %s", ErrValidation.Error(), strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func newFieldError(field, message string) error {
	return &ValidationError{Fields: map[string]string{field: message}}
}

type inputValidator struct {
	validate *validator.Validate
}

func newInputValidator() *inputValidator {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return &inputValidator{validate: validate}
}

func (v *inputValidator) check(input any) error {
	err := v.validate.Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	fields := make(map[string]string, len(fieldErrors))
	for _, fieldError := range fieldErrors {
		fields[fieldError.Field()] = describe(fieldError)
	}
	return &ValidationError{Fields: fields}
}

func describe(fieldError validator.FieldError) string {
	switch fieldError.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + fieldError.Param()
	case "max":
		return "must not exceed " + fieldError.Param()
	case "gte":
		return "must be greater than or equal to " + fieldError.Param()
	case "lte":
		return "must be less than or equal to " + fieldError.Param()
	case "ltefield":
		return "must not exceed total_pages"
	case "url":
		return "must be a valid URL"
	default:
		return "is invalid"
	}
}
