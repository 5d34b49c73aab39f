package service

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"ealtrack/internal/apperr"
	"ealtrack/internal/ledger"
)

var (
	prefixPattern = regexp.MustCompile(`^[A-Z]{3}$`)
	serialPattern = regexp.MustCompile(`^\d{10}$`)
)

var fieldLabels = map[string]string{
	"prefix":     "Prefix",
	"serialFrom": "Serial From",
	"serialTo":   "Serial To",
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("ealprefix", func(fl validator.FieldLevel) bool {
		return prefixPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("serial10", func(fl validator.FieldLevel) bool {
		return serialPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("isodate", func(fl validator.FieldLevel) bool {
		_, err := ledger.ParseDate(fl.FieldName(), fl.Field().String())
		return err == nil
	})
	return v
}

// validateStruct reports the first failing field as an apperr.ValidationError.
func (s *Service) validateStruct(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}
	fe := fieldErrs[0]
	return apperr.Invalid(fe.Field(), "%s", describe(fe))
}

func describe(fe validator.FieldError) string {
	label, ok := fieldLabels[fe.Field()]
	if !ok {
		label = fe.Field()
	}
	switch fe.Tag() {
	case "required":
		return label + " is required"
	case "ealprefix":
		return "Prefix must be 3 uppercase letters (A-Z)"
	case "serial10":
		return label + " must be a 10-digit number"
	case "isodate":
		return label + " must be formatted as YYYY-MM-DD"
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", label, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", label, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "eq":
		return fmt.Sprintf("%s must be %q", label, fe.Param())
	case "min":
		return fmt.Sprintf("%s needs at least %s entries", label, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", label, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", label, fe.Tag())
	}
}
