package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validator validates configuration values using go-playground/validator.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a validator with scribe's custom tags registered.
func NewValidator() *Validator {
	v := validator.New()
	v.RegisterValidation("provider", validateProvider)
	v.RegisterValidation("log_level", validateLogLevel)
	v.RegisterValidation("log_format", validateLogFormat)
	return &Validator{validate: v}
}

// Validate checks the whole configuration and returns the first violation.
func (v *Validator) Validate(config *Config) error {
	if err := v.validate.Struct(config); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			for _, e := range validationErrors {
				return ValidationError{
					Field:   e.Namespace(),
					Message: fmt.Sprintf("failed on tag %q with value %q", e.Tag(), fmt.Sprint(e.Value())),
				}
			}
		}
		return err
	}
	return nil
}

func validateProvider(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "", "openrouter", "openai", "test":
		return true
	}
	return false
}

func validateLogLevel(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "", "debug", "info", "warn", "error":
		return true
	}
	return false
}

func validateLogFormat(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "", "auto", "text", "json":
		return true
	}
	return false
}
