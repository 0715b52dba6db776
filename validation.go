package authkit

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/panyam/authkit/storage"
)

var validate = validator.New()

func validateEmail(email string) error {
	if err := validate.Var(email, "required,email,max=320"); err != nil {
		return ErrInvalidEmail
	}
	return nil
}

// validateFields checks caller-supplied values against the declared
// additional fields and returns them ready to merge into a user record.
// Undeclared names are rejected.
func validateFields(defs []AdditionalField, input map[string]any) (storage.Record, error) {
	out := storage.Record{}
	declared := make(map[string]AdditionalField, len(defs))
	for _, d := range defs {
		declared[d.Name] = d
	}
	for name := range input {
		if _, ok := declared[name]; !ok {
			return nil, fieldError(name, "is not a recognized field")
		}
	}
	for _, d := range defs {
		v, present := input[d.Name]
		if !present || v == nil {
			if d.Required {
				return nil, fieldError(d.Name, "is required")
			}
			continue
		}
		converted, ok := coerce(d.Type, v)
		if !ok {
			return nil, fieldError(d.Name, fmt.Sprintf("must be a %s", d.Type))
		}
		if d.Validate != "" {
			if err := validate.Var(converted, d.Validate); err != nil {
				return nil, fieldError(d.Name, "failed validation")
			}
		}
		out[d.Name] = converted
	}
	return out, nil
}

func coerce(t storage.FieldType, v any) (any, bool) {
	switch t {
	case storage.FieldString, "":
		s, ok := v.(string)
		return s, ok
	case storage.FieldBool:
		b, ok := v.(bool)
		return b, ok
	case storage.FieldNumber:
		switch n := v.(type) {
		case int:
			return int64(n), true
		case int32:
			return int64(n), true
		case int64:
			return n, true
		case float32:
			return float64(n), true
		case float64:
			return n, true
		}
	case storage.FieldTime:
		switch x := v.(type) {
		case time.Time:
			return x, true
		case string:
			parsed, err := time.Parse(time.RFC3339, x)
			return parsed, err == nil
		}
	}
	return nil, false
}

func fieldError(name, problem string) *AuthError {
	return NewAuthError(ErrCodeInvalidField, fmt.Sprintf("%s %s", name, problem), name)
}
