// Package validation runs struct-tag validation for inbound requests and
// reports failures in the domain error taxonomy.
package validation

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/srgjo27/batch_invite/internal/core/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// Report fields by their wire name.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		switch name {
		case "-":
			return ""
		case "":
			return f.Name
		}
		return name
	})

	v.RegisterValidation("decision", func(fl validator.FieldLevel) bool {
		_, err := domain.ParseDecision(fl.Field().String())
		return err == nil
	})
	v.RegisterValidation("event_status", func(fl validator.FieldLevel) bool {
		_, err := domain.ParseEventStatus(fl.Field().String())
		return err == nil
	})

	return v
}

// Struct validates s against its validate tags. The first failing field comes
// back as a *domain.ValidationError.
func Struct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var fields validator.ValidationErrors
	if errors.As(err, &fields) && len(fields) > 0 {
		fe := fields[0]
		return &domain.ValidationError{Field: fe.Field(), Reason: reason(fe)}
	}
	return &domain.ValidationError{Field: "request", Reason: err.Error()}
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "uuid":
		return "not a uuid"
	case "email":
		return "not a valid address"
	case "decision":
		return "unknown decision"
	case "event_status":
		return "unknown event status"
	case "max":
		return "longer than " + fe.Param()
	default:
		return "fails " + fe.Tag()
	}
}
