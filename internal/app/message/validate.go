package message

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

type Validator struct {
	validate  *validator.Validate
	maxLength int
}

func NewValidator(maxLength int) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return &Validator{validate: v, maxLength: maxLength}
}

// Validate checks a request payload. It returns *ValidationError for bad input.
func (v *Validator) Validate(payload interface{}) error {
	var fields []FieldError

	if err := v.validate.Struct(payload); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("failed to validate payload: %w", err)
		}
		for _, fe := range verrs {
			fields = append(fields, FieldError{
				Field:   fe.Field(),
				Rule:    fe.Tag(),
				Message: describe(fe),
			})
		}
	}

	if text, ok := textOf(payload); ok && v.maxLength > 0 {
		if n := utf8.RuneCountInString(text); n > v.maxLength {
			fields = append(fields, FieldError{
				Field:   "text",
				Rule:    "max",
				Message: fmt.Sprintf("text must be at most %d characters, got %d", v.maxLength, n),
			})
		}
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func textOf(payload interface{}) (string, bool) {
	switch p := payload.(type) {
	case CreateMessageRequest:
		return p.Text, true
	case *CreateMessageRequest:
		return p.Text, true
	case UpdateMessageRequest:
		return p.Text, true
	case *UpdateMessageRequest:
		return p.Text, true
	}
	return "", false
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag())
	}
}
