package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"doran/internal/domain"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS rules (
	seq         BIGSERIAL PRIMARY KEY,
	id          TEXT NOT NULL,
	bucket      TEXT NOT NULL,
	category    TEXT NOT NULL DEFAULT '',
	questions   TEXT[] NOT NULL DEFAULT '{}',
	response    TEXT NOT NULL DEFAULT '',
	answer      TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	user_type   TEXT NOT NULL DEFAULT 'both',
	keywords    TEXT[] NOT NULL DEFAULT '{}',
	urls        TEXT[] NOT NULL DEFAULT '{}',
	UNIQUE (bucket, id)
);
CREATE TABLE IF NOT EXISTS emails (
	id     BIGSERIAL PRIMARY KEY,
	school TEXT NOT NULL,
	email  TEXT NOT NULL
);`

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	Pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// OpenPostgres connects, pings and creates the schema.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &Postgres{Pool: pool}, nil
}

func (p *Postgres) ListRules(ctx context.Context, bucket domain.Bucket) ([]domain.Rule, error) {
	if !bucket.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownBucket, bucket)
	}
	rows, err := p.Pool.Query(ctx, `
		SELECT id, bucket, category, questions, response, answer, description, user_type, keywords, urls
		FROM rules WHERE bucket = $1 ORDER BY seq`, string(bucket))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", bucket, err)
	}
	defer rows.Close()

	var out []domain.Rule
	for rows.Next() {
		var (
			r                    domain.Rule
			bucketName, userType string
			questions            []string
		)
		if err := rows.Scan(&r.ID, &bucketName, &r.Category, &questions, &r.Response, &r.Answer,
			&r.Description, &userType, &r.Keywords, &r.MediaURLs); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		r.Bucket = domain.Bucket(bucketName)
		r.UserType = domain.UserType(userType)
		r.Questions = domain.NewQuestionSet(questions...)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) AddRules(ctx context.Context, rules ...domain.Rule) error {
	prepared, err := prepare(rules)
	if err != nil {
		return err
	}
	return pgx.BeginFunc(ctx, p.Pool, func(tx pgx.Tx) error {
		for _, r := range prepared {
			if _, err := tx.Exec(ctx, `
				INSERT INTO rules (id, bucket, category, questions, response, answer, description, user_type, keywords, urls)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				r.ID, string(r.Bucket), r.Category, []string(r.Questions), r.Response, r.Answer, r.Description,
				string(r.UserType), nonNil(r.Keywords), nonNil(r.MediaURLs)); err != nil {
				return fmt.Errorf("failed to insert rule %s into %s: %w", r.ID, r.Bucket, err)
			}
		}
		return nil
	})
}

func (p *Postgres) UpdateRule(ctx context.Context, rule domain.Rule) error {
	if rule.ID == "" {
		return fmt.Errorf("%w: rule without id", domain.ErrNotFound)
	}
	prepared, err := prepare([]domain.Rule{rule})
	if err != nil {
		return err
	}
	r := prepared[0]
	tag, err := p.Pool.Exec(ctx, `
		UPDATE rules SET category = $1, questions = $2, response = $3, answer = $4, description = $5,
			user_type = $6, keywords = $7, urls = $8
		WHERE bucket = $9 AND id = $10`,
		r.Category, []string(r.Questions), r.Response, r.Answer, r.Description, string(r.UserType),
		nonNil(r.Keywords), nonNil(r.MediaURLs), string(r.Bucket), r.ID)
	if err != nil {
		return fmt.Errorf("failed to update rule %s: %w", r.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: rule %s in %s", domain.ErrNotFound, r.ID, r.Bucket)
	}
	return nil
}

func (p *Postgres) DeleteRule(ctx context.Context, bucket domain.Bucket, id string) (bool, error) {
	if !bucket.Valid() {
		return false, fmt.Errorf("%w: %q", domain.ErrUnknownBucket, bucket)
	}
	tag, err := p.Pool.Exec(ctx, `DELETE FROM rules WHERE bucket = $1 AND id = $2`, string(bucket), id)
	if err != nil {
		return false, fmt.Errorf("failed to delete rule %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) ListEmails(ctx context.Context) ([]domain.EmailEntry, error) {
	rows, err := p.Pool.Query(ctx, `SELECT id, school, email FROM emails ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list emails: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.EmailEntry, error) {
		var e domain.EmailEntry
		err := row.Scan(&e.ID, &e.School, &e.Email)
		return e, err
	})
}

func (p *Postgres) AddEmail(ctx context.Context, school, email string) (int64, error) {
	if err := validEmail(school, email); err != nil {
		return 0, err
	}
	var id int64
	err := p.Pool.QueryRow(ctx, `INSERT INTO emails (school, email) VALUES ($1, $2) RETURNING id`, school, email).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to add email: %w", err)
	}
	return id, nil
}

func (p *Postgres) UpdateEmail(ctx context.Context, id int64, school, email string) (bool, error) {
	if err := validEmail(school, email); err != nil {
		return false, err
	}
	tag, err := p.Pool.Exec(ctx, `UPDATE emails SET school = $1, email = $2 WHERE id = $3`, school, email, id)
	if err != nil {
		return false, fmt.Errorf("failed to update email %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) DeleteEmail(ctx context.Context, id int64) (bool, error) {
	tag, err := p.Pool.Exec(ctx, `DELETE FROM emails WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete email %d: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) Close() error {
	p.Pool.Close()
	return nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
