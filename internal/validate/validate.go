// Package validate wraps ozzo-validation rules with user-facing messages and
// flattens validation results into the field map returned by the API.
package validate

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// Fields maps a request field to its error messages.
type Fields map[string][]string

// Add appends msg to field.
func (f Fields) Add(field, msg string) {
	f[field] = append(f[field], msg)
}

// Keys returns the field names in sorted order.
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func label(field string) string {
	return strings.ReplaceAll(field, "_", " ")
}

// Required rejects empty values.
func Required(field string) validation.Rule {
	return validation.Required.Error(fmt.Sprintf("The %s field is required.", label(field)))
}

// Email requires a syntactically valid address. No MX lookup is made.
func Email(field string) validation.Rule {
	return is.Email.Error(fmt.Sprintf("The %s field must be a valid email address.", label(field)))
}

// Min requires at least n characters.
func Min(field string, n int) validation.Rule {
	return validation.RuneLength(n, 0).Error(fmt.Sprintf("The %s field must be at least %d characters.", label(field), n))
}

// Max allows at most n characters.
func Max(field string, n int) validation.Rule {
	return validation.RuneLength(0, n).Error(fmt.Sprintf("The %s field must not be greater than %d characters.", label(field), n))
}

// Confirmed requires the value to equal its confirmation field.
func Confirmed(field, confirmation string) validation.Rule {
	return validation.By(func(value interface{}) error {
		s, _ := value.(string)
		if s != confirmation {
			return fmt.Errorf("The %s field confirmation does not match.", label(field))
		}
		return nil
	})
}

// Struct runs ozzo's ValidateStruct and converts the result. A non-nil error
// means a rule failed internally rather than the input being invalid.
func Struct(structPtr interface{}, fields ...*validation.FieldRules) (Fields, error) {
	err := validation.ValidateStruct(structPtr, fields...)
	if err == nil {
		return nil, nil
	}
	out, ok := flatten(err)
	if !ok {
		return nil, err
	}
	return out, nil
}

func flatten(err error) (Fields, bool) {
	var errs validation.Errors
	if !errors.As(err, &errs) {
		return nil, false
	}
	out := Fields{}
	if !collect(out, "", errs) {
		return nil, false
	}
	return out, true
}

func collect(out Fields, prefix string, errs validation.Errors) bool {
	for field, e := range errs {
		if e == nil {
			continue
		}
		key := field
		if prefix != "" {
			key = prefix + "." + field
		}
		if _, internal := e.(validation.InternalError); internal {
			return false
		}
		if nested, ok := e.(validation.Errors); ok {
			if !collect(out, key, nested) {
				return false
			}
			continue
		}
		out.Add(key, e.Error())
	}
	return true
}
