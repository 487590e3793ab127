package config

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/marmos91/framekit/pkg/handlers"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// This function uses go-playground/validator for declarative validation
// via struct tags, with additional custom validation for complex rules
// that cannot be expressed in tags.
//
// Note: Log level normalization is handled in ApplyDefaults, not here.
// Validation accepts both uppercase and lowercase log levels.
//
// Returns an error describing validation failures.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	if err := validateCustomRules(cfg); err != nil {
		return err
	}

	return nil
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if err := cfg.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	if err := cfg.Client.Validate(); err != nil {
		return fmt.Errorf("client: %w", err)
	}

	if !slices.Contains(handlers.Types, cfg.Handler.Type) {
		return fmt.Errorf("handler: unknown type %q", cfg.Handler.Type)
	}

	// The metrics server and the packet server cannot share a port
	if cfg.Metrics.Enabled && cfg.Metrics.Port != 0 {
		if port, err := strconv.Atoi(cfg.Server.Port); err == nil && port == cfg.Metrics.Port {
			return fmt.Errorf("metrics: port %d is already used by the packet server", port)
		}
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		// Return the first validation error with context
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
