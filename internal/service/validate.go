package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"catalog-api/internal/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		switch name {
		case "-":
			return ""
		case "":
			return lowerFirst(f.Name)
		}
		return name
	})
	return v
}

// validateStruct 校验全部字段，一次性返回所有问题
func validateStruct(s any, extra ...string) error {
	msgs, err := fieldErrors(s)
	if err != nil {
		return err
	}
	msgs = append(msgs, extra...)
	if len(msgs) == 0 {
		return nil
	}
	return domain.Validation(msgs...)
}

func fieldErrors(s any) ([]string, error) {
	err := validate.Struct(s)
	if err == nil {
		return nil, nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return nil, domain.Internal("validate input", err)
	}
	msgs := make([]string, 0, len(ves))
	for _, fe := range ves {
		msgs = append(msgs, fieldMessage(fe))
	}
	return msgs, nil
}

func fieldMessage(fe validator.FieldError) string {
	f := fe.Field()
	isString := fe.Kind() == reflect.String
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%q is required", f)
	case "email":
		return fmt.Sprintf("%q must be a valid email", f)
	case "url":
		return fmt.Sprintf("%q must be a valid URL", f)
	case "min":
		if isString {
			return fmt.Sprintf("%q must be at least %s characters", f, fe.Param())
		}
		return fmt.Sprintf("%q must contain at least %s items", f, fe.Param())
	case "max":
		if isString {
			return fmt.Sprintf("%q must be at most %s characters", f, fe.Param())
		}
		return fmt.Sprintf("%q must contain at most %s items", f, fe.Param())
	case "gte":
		return fmt.Sprintf("%q must be greater than or equal to %s", f, fe.Param())
	case "eqfield":
		return fmt.Sprintf("%q must match %q", f, lowerFirst(fe.Param()))
	case "oneof":
		return fmt.Sprintf("%q must be one of [%s]", f, strings.ReplaceAll(fe.Param(), " ", ", "))
	}
	return fmt.Sprintf("%q is invalid", f)
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}
