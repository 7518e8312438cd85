package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mattjoyce/runway/internal/auth"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their YAML names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("scope", func(fl validator.FieldLevel) bool {
		return auth.KnownScope(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// Validate checks struct constraints and rejects unresolved ${VAR}
// placeholders in secret-bearing fields.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, describe(fe))
		}
		return errors.New(strings.Join(msgs, "; "))
	}

	if cfg.API.Enabled && cfg.API.Listen == "" {
		return fmt.Errorf("api.listen is required when the API is enabled")
	}
	if cfg.Dispatch.Enabled && len(cfg.Dispatch.Labels) == 0 {
		return fmt.Errorf("dispatch.labels is required when dispatch is enabled")
	}

	if err := checkUnresolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
		return err
	}
	for i, tok := range cfg.API.Auth.Tokens {
		if err := checkUnresolved(fmt.Sprintf("api.auth.tokens[%d].token", i), tok.Token); err != nil {
			return err
		}
	}
	if err := checkUnresolved("server.github_token", cfg.Server.GitHubToken); err != nil {
		return err
	}
	for name, value := range cfg.Secrets {
		if err := checkUnresolved("secrets."+name, value); err != nil {
			return err
		}
	}
	if cfg.Webhooks != nil {
		for i, ep := range cfg.Webhooks.Endpoints {
			if err := checkUnresolved(fmt.Sprintf("webhooks.endpoints[%d].secret", i), ep.Secret); err != nil {
				return err
			}
		}
	}
	return nil
}

// describe renders a field error as "<yaml path>: <problem>".
func describe(fe validator.FieldError) string {
	path := fe.Namespace()
	if _, rest, ok := strings.Cut(path, "."); ok {
		path = rest
	}
	switch fe.Tag() {
	case "required", "required_with":
		return path + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s (got %q)", path, strings.ReplaceAll(fe.Param(), " ", ", "), fe.Value())
	case "scope":
		return fmt.Sprintf("%s: unknown scope %q", path, fe.Value())
	case "min":
		return fmt.Sprintf("%s must have at least %s entries", path, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must not be negative", path)
	case "hostname_port":
		return fmt.Sprintf("%s must be host:port (got %q)", path, fe.Value())
	case "url":
		return fmt.Sprintf("%s must be a URL (got %q)", path, fe.Value())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", path, fe.Param())
	}
	return fmt.Sprintf("%s failed %q validation", path, fe.Tag())
}

func checkUnresolved(field, value string) error {
	if m := envVarPattern.FindStringSubmatch(value); m != nil {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1])
	}
	return nil
}
