package validation

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

var (
	// validate is a singleton validator instance
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Validation limits for data written through a batch inserter
	MaxLabels      = 32
	MaxLabelLength = 64
	MaxPropertyKey = 128

	labelPattern   = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	propKeyPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
)

// ValidateStruct checks the `validate` struct tags of s
func ValidateStruct(s any) error {
	if s == nil {
		return errors.New("value cannot be nil")
	}
	return formatValidationError(validate.Struct(s))
}

// ValidateLabel validates a single node label or edge type
func ValidateLabel(label string) error {
	if label == "" {
		return errors.New("label cannot be empty")
	}
	if len(label) > MaxLabelLength {
		return fmt.Errorf("label '%s' exceeds maximum length of %d characters", label, MaxLabelLength)
	}
	if !labelPattern.MatchString(label) {
		return fmt.Errorf("label '%s' contains invalid characters (only alphanumeric and underscore allowed)", label)
	}
	return nil
}

// ValidateLabels validates a full label set
func ValidateLabels(labels []string) error {
	if len(labels) > MaxLabels {
		return fmt.Errorf("maximum %d labels allowed, got %d", MaxLabels, len(labels))
	}
	for i, label := range labels {
		if err := ValidateLabel(label); err != nil {
			return fmt.Errorf("label at index %d: %w", i, err)
		}
	}
	return nil
}

// ValidatePropertyKey validates a property key
func ValidatePropertyKey(key string) error {
	if key == "" {
		return errors.New("property key cannot be empty")
	}
	if len(key) > MaxPropertyKey {
		return fmt.Errorf("property key '%s' exceeds maximum length of %d characters", key, MaxPropertyKey)
	}
	if !propKeyPattern.MatchString(key) {
		return fmt.Errorf("property key '%s' is invalid (must start with letter or underscore, followed by alphanumeric or underscore)", key)
	}
	return nil
}

// formatValidationError converts validator errors to a more user-friendly format
func formatValidationError(err error) error {
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	msgs := make([]error, 0, len(validationErrs))
	for _, e := range validationErrs {
		field, param := e.Field(), e.Param()
		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Errorf("%s: field is required", field))
		case "gt":
			msgs = append(msgs, fmt.Errorf("%s: must be greater than %s", field, param))
		case "min":
			msgs = append(msgs, fmt.Errorf("%s: must be at least %s", field, param))
		case "max":
			msgs = append(msgs, fmt.Errorf("%s: must not exceed %s", field, param))
		case "oneof":
			msgs = append(msgs, fmt.Errorf("%s: must be one of [%s]", field, param))
		default:
			msgs = append(msgs, fmt.Errorf("%s: validation failed (%s)", field, e.Tag()))
		}
	}
	return errors.Join(msgs...)
}
