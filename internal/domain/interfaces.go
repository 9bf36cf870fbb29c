package domain

import (
	"context"
	"errors"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidRule   = errors.New("invalid rule")
	ErrUnknownBucket = errors.New("unknown bucket")
)

// RuleSource lists the rules of one bucket.
type RuleSource interface {
	ListRules(ctx context.Context, bucket Bucket) ([]Rule, error)
}

// RuleStore is a RuleSource that the admin surface can mutate.
// Implementations apply each call atomically: on error nothing is written.
type RuleStore interface {
	RuleSource
	AddRules(ctx context.Context, rules ...Rule) error
	UpdateRule(ctx context.Context, rule Rule) error
	DeleteRule(ctx context.Context, bucket Bucket, id string) (bool, error)
}

// EmailDirectory is the school/email lookup used by the email short-circuit.
type EmailDirectory interface {
	ListEmails(ctx context.Context) ([]EmailEntry, error)
	AddEmail(ctx context.Context, school, email string) (int64, error)
	UpdateEmail(ctx context.Context, id int64, school, email string) (bool, error)
	DeleteEmail(ctx context.Context, id int64) (bool, error)
}

// HistoryStore keeps the bounded per-session conversation history.
type HistoryStore interface {
	Append(ctx context.Context, sessionID string, ex Exchange) error
	Recent(ctx context.Context, sessionID string, n int) ([]Exchange, error)
	Clear(ctx context.Context, sessionID string) error
}
