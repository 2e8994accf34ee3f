// Package validator wraps go-playground struct validation behind a
// small injectable type shared by all modules.
package validator

import "github.com/go-playground/validator/v10"

// Validator wraps the go-playground validator for tag-based validation.
type Validator struct {
	v *validator.Validate
}

// New creates a shared Validator. Custom rules can be added with
// RegisterValidation.
func New() *Validator {
	return &Validator{
		v: validator.New(),
	}
}

// Struct validates a struct based on validation tags.
func (val *Validator) Struct(s interface{}) error {
	return val.v.Struct(s)
}

// Var validates a single variable against a tag.
func (val *Validator) Var(field interface{}, tag string) error {
	return val.v.Var(field, tag)
}

// RegisterValidation registers a custom validation function.
func (val *Validator) RegisterValidation(tag string, fn validator.Func) error {
	return val.v.RegisterValidation(tag, fn)
}
