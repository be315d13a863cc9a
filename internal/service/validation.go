package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
	"github.com/shopspring/decimal"
)

func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		RegisterValidations(v)
	}
}

// RegisterValidations teaches v the rules used in request binding tags:
// notblank, decimal comparisons and json field names in messages.
func RegisterValidations(v *validator.Validate) {
	if err := v.RegisterValidation("notblank", validators.NotBlank); err != nil {
		panic(err)
	}
	v.RegisterCustomTypeFunc(decimalValue, decimal.Decimal{})
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			name = fld.Tag.Get("form")
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
}

func decimalValue(field reflect.Value) interface{} {
	if d, ok := field.Interface().(decimal.Decimal); ok {
		return d.InexactFloat64()
	}
	return nil
}

// validateRequest checks req against its binding tags
func validateRequest(req interface{}) error {
	if err := binding.Validator.ValidateStruct(req); err != nil {
		return BindingError(err)
	}
	return nil
}

// BindingError turns a failed bind or tag check into an ErrValidation naming the fields
func BindingError(err error) error {
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) {
		return validationError("invalid request body: %v", err)
	}
	msgs := make([]string, 0, len(fields))
	for _, fe := range fields {
		msgs = append(msgs, fieldMessage(fe))
	}
	return validationError("%s", strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	name := fe.Field()
	if ns := fe.Namespace(); strings.Count(ns, ".") > 1 {
		name = ns[strings.Index(ns, ".")+1:]
	}
	switch fe.Tag() {
	case "required", "notblank", "required_if":
		return name + " is required"
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", name, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", name, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", name, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", name, fe.Param())
	case "uuid":
		return name + " must be a UUID"
	case "numeric":
		return name + " must be a number"
	default:
		return fmt.Sprintf("%s failed %s", name, fe.Tag())
	}
}
