package validate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/synaptica-ai/recruit/pkg/common/models"
)

var std = New()

// ValidationError marks input that was rejected before reaching storage.
// Handlers map it to 400.
type ValidationError struct {
	reason error
}

func (e ValidationError) Error() string {
	return e.reason.Error()
}

func (e ValidationError) Unwrap() error {
	return e.reason
}

func Errorf(format string, args ...interface{}) error {
	return ValidationError{reason: fmt.Errorf(format, args...)}
}

func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

type Validator struct {
	validate *validator.Validate
}

func New() *Validator {
	v := validator.New()
	v.RegisterValidation("patient_tag", func(fl validator.FieldLevel) bool {
		return models.Tag(fl.Field().String()).Valid()
	})
	v.RegisterValidation("patient_status", func(fl validator.FieldLevel) bool {
		return models.Status(fl.Field().String()).Valid()
	})
	v.RegisterValidation("criterion_type", func(fl validator.FieldLevel) bool {
		switch models.CriterionType(fl.Field().String()) {
		case models.CriterionInclusion, models.CriterionExclusion:
			return true
		}
		return false
	})
	return &Validator{validate: v}
}

func (v *Validator) Struct(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		return describe(err)
	}
	return nil
}

// Struct validates i with the shared validator.
func Struct(i interface{}) error {
	return std.Struct(i)
}

// describe flattens validator errors into one readable message.
func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return ValidationError{reason: err}
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return ValidationError{reason: errors.New(strings.Join(parts, "; "))}
}
