// Package store persists rules and the email directory. Every backend applies
// a mutation atomically; nothing in this package touches the corpus index.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"doran/internal/domain"
)

// Store is the full persistence surface used by the engine and the admin API.
type Store interface {
	domain.RuleStore
	domain.EmailDirectory
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Driver is one of memory, sqlite, postgres.
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	// Seed is an optional YAML file loaded into an empty store at startup.
	Seed string `yaml:"seed"`
}

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open creates the configured backend and ensures its schema exists.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverSQLite:
		return OpenSQLite(ctx, cfg.DSN)
	case DriverPostgres:
		return OpenPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// prepare canonicalises and validates rules before a write, assigning ids where missing.
func prepare(rules []domain.Rule) ([]domain.Rule, error) {
	out := make([]domain.Rule, len(rules))
	for i, r := range rules {
		r = r.Normalize()
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		out[i] = r
	}
	return out, nil
}

func validEmail(school, email string) error {
	if strings.TrimSpace(school) == "" || strings.TrimSpace(email) == "" {
		return fmt.Errorf("%w: school and email are required", domain.ErrInvalidRule)
	}
	return nil
}
