package domain

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// NewValidator returns a validator that knows the custom tags used on request
// structs (ye_phone, governorate, regno, taxid, guarantee_type, currency) and
// reports fields by their JSON names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})

	mustRegister(v, "ye_phone", func(fl validator.FieldLevel) bool {
		return ValidPhone(fl.Field().String())
	})
	mustRegister(v, "governorate", func(fl validator.FieldLevel) bool {
		return Governorate(strings.ToLower(strings.TrimSpace(fl.Field().String()))).IsValid()
	})
	mustRegister(v, "regno", func(fl validator.FieldLevel) bool {
		return ValidRegistrationNumber(fl.Field().String())
	})
	mustRegister(v, "taxid", func(fl validator.FieldLevel) bool {
		return ValidTaxID(fl.Field().String())
	})
	mustRegister(v, "guarantee_type", func(fl validator.FieldLevel) bool {
		return GuaranteeType(fl.Field().String()).IsValid()
	})
	mustRegister(v, "currency", func(fl validator.FieldLevel) bool {
		return Currency(fl.Field().String()).IsValid()
	})

	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register validation %q: %v", tag, err))
	}
}

// ValidateStruct runs the tag rules of s and appends every violation to ve in
// field order. Errors other than rule violations are returned as is.
func ValidateStruct(v *validator.Validate, s any, ve *ValidationError) error {
	err := v.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	for _, fe := range fieldErrs {
		ve.Add(fieldPath(fe.Namespace()), message(fe))
	}
	return nil
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if", "required_with":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "ye_phone":
		return "must be a valid Yemeni phone number"
	case "governorate":
		return "must be one of the supported governorates"
	case "regno":
		return "must be an 8-digit registration number"
	case "taxid":
		return "must be a 9-digit tax identification number"
	case "guarantee_type":
		return "must be a supported guarantee type"
	case "currency":
		return "must be one of YER, SAR, USD, EUR"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "min":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("must contain at least %s items", fe.Param())
		}
		return "must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return "must be at most " + fe.Param()
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "lte":
		return "must be less than or equal to " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	default:
		return fmt.Sprintf("failed the %s rule", fe.Tag())
	}
}
