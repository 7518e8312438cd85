package webhook

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mattjoyce/runway/internal/config"
)

// FromGlobalConfig converts config.WebhooksConfig to webhook.Config, filling
// header defaults and parsing body size limits.
func FromGlobalConfig(wc *config.WebhooksConfig) (Config, error) {
	if wc == nil {
		return Config{}, fmt.Errorf("webhooks config is nil")
	}

	cfg := Config{
		Listen:    wc.Listen,
		Endpoints: make([]EndpointConfig, len(wc.Endpoints)),
	}
	seen := make(map[string]struct{}, len(wc.Endpoints))
	for i, ep := range wc.Endpoints {
		if _, dup := seen[ep.Path]; dup {
			return Config{}, fmt.Errorf("webhook endpoint %q: path configured twice", ep.Path)
		}
		seen[ep.Path] = struct{}{}

		if ep.Secret == "" {
			return Config{}, fmt.Errorf("webhook endpoint %q: no secret configured", ep.Path)
		}
		maxBodySize, err := parseMaxBodySize(ep.MaxBodySize)
		if err != nil {
			return Config{}, fmt.Errorf("webhook endpoint %q: invalid max_body_size %q: %w", ep.Path, ep.MaxBodySize, err)
		}

		cfg.Endpoints[i] = EndpointConfig{
			Path:            ep.Path,
			Secret:          ep.Secret,
			SignatureHeader: firstNonEmpty(ep.SignatureHeader, DefaultSignatureHeader),
			EventHeader:     firstNonEmpty(ep.EventHeader, DefaultEventHeader),
			MaxBodySize:     maxBodySize,
			Workflows:       append([]string(nil), ep.Workflows...),
		}
	}
	return cfg, nil
}

// parseMaxBodySize parses sizes like "512KB", "1MB" or "2048576" to bytes.
// Empty means DefaultMaxBodySize.
func parseMaxBodySize(size string) (int64, error) {
	if size == "" {
		return DefaultMaxBodySize, nil
	}

	upper := strings.ToUpper(strings.TrimSpace(size))
	multiplier := int64(1)
	for _, unit := range []struct {
		suffix string
		mult   int64
	}{
		{"KB", 1 << 10},
		{"MB", 1 << 20},
		{"GB", 1 << 30},
	} {
		if strings.HasSuffix(upper, unit.suffix) {
			multiplier = unit.mult
			upper = strings.TrimSuffix(upper, unit.suffix)
			break
		}
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}
	if value > (1<<62)/multiplier {
		return 0, fmt.Errorf("size too large")
	}
	return value * multiplier, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
