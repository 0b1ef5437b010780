package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var serviceNameRE = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// RegisterCustomValidators registers mcp-warden validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	// service_name: letters, digits, underscore, hyphen. The name becomes
	// a URL path segment, so nothing else is allowed.
	if err := v.RegisterValidation("service_name", validateServiceName); err != nil {
		return fmt.Errorf("failed to register service_name validator: %w", err)
	}
	return nil
}

func validateServiceName(fl validator.FieldLevel) bool {
	return serviceNameRE.MatchString(fl.Field().String())
}

// Validate validates the Config using struct tags and custom cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateSeedFrequencies(); err != nil {
		return err
	}

	return c.validateUniqueSeedNames()
}

// validateSeedFrequencies enforces the check frequency floor on seed
// services. 0 (never check) is always allowed.
func (c *Config) validateSeedFrequencies() error {
	floor := c.Polling.MinCheckFrequency
	for i, svc := range c.Services {
		if svc.CheckFrequencyMinutes == nil {
			continue
		}
		freq := *svc.CheckFrequencyMinutes
		if freq != 0 && freq < floor {
			return fmt.Errorf("services[%d] (%s): check_frequency_minutes %d is below the minimum of %d (use 0 to disable checks)",
				i, svc.Name, freq, floor)
		}
	}
	return nil
}

// validateUniqueSeedNames rejects duplicate names in the seed list.
func (c *Config) validateUniqueSeedNames() error {
	seen := make(map[string]struct{}, len(c.Services))
	for i, svc := range c.Services {
		if _, dup := seen[svc.Name]; dup {
			return fmt.Errorf("services[%d]: duplicate service name: %s", i, svc.Name)
		}
		seen[svc.Name] = struct{}{}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "service_name":
		return fmt.Sprintf("%s may contain only letters, digits, underscores and hyphens", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
