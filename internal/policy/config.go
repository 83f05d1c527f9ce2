package policy

import (
	"fmt"
	"strings"
)

// Mode defines the policy engine operating mode
type Mode string

const (
	// ModeOff disables policy evaluation entirely
	ModeOff Mode = "off"
	// ModeDryRun evaluates policies but doesn't enforce them (log only)
	ModeDryRun Mode = "dry-run"
	// ModeEnforce evaluates and enforces policies
	ModeEnforce Mode = "enforce"
)

// ParseMode accepts off, dry-run (or dryrun) and enforce.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "":
		return ModeOff, nil
	case "dry-run", "dryrun", "dry_run":
		return ModeDryRun, nil
	case "enforce":
		return ModeEnforce, nil
	}
	return "", fmt.Errorf("unknown policy mode %q", s)
}

// Config holds policy engine configuration
type Config struct {
	Mode Mode

	// Path to a directory of .rego files replacing the built-in admission policy.
	Path string

	// FailClosed denies requests when policies cannot be loaded or evaluated.
	FailClosed bool

	BlockedTerms   []string
	MaxTopicLength int
}
