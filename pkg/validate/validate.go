// Package validate plugs go-playground/validator into echo so handlers can
// call c.Validate on bound request bodies.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator implements echo.Validator.
type Validator struct {
	v *validator.Validate
}

// New returns a Validator that reports field names using their json tag.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{v: v}
}

func (cv *Validator) Validate(i interface{}) error {
	return cv.v.Struct(i)
}

// FirstField returns the json name of the first failing field and its tag,
// or empty strings when err is not a validation error.
func FirstField(err error) (field, tag string) {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		return ve[0].Field(), ve[0].Tag()
	}
	return "", ""
}

// Message renders a short human readable message for err.
func Message(err error) string {
	field, tag := FirstField(err)
	if field == "" {
		return err.Error()
	}
	if tag == "required" {
		return fmt.Sprintf("%s is required", field)
	}
	return fmt.Sprintf("%s failed %s validation", field, tag)
}

// MessageWith renders err like Message but prefers an override keyed by
// "field.tag" or "field".
func MessageWith(err error, overrides map[string]string) string {
	field, tag := FirstField(err)
	if m, ok := overrides[field+"."+tag]; ok {
		return m
	}
	if m, ok := overrides[field]; ok && field != "" {
		return m
	}
	return Message(err)
}
