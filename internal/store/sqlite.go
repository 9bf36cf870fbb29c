package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"doran/internal/domain"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS rules (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL,
	bucket      TEXT NOT NULL,
	category    TEXT NOT NULL DEFAULT '',
	questions   TEXT NOT NULL DEFAULT '[]',
	response    TEXT NOT NULL DEFAULT '',
	answer      TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	user_type   TEXT NOT NULL DEFAULT 'both',
	keywords    TEXT NOT NULL DEFAULT '[]',
	urls        TEXT NOT NULL DEFAULT '[]',
	UNIQUE (bucket, id)
);
CREATE TABLE IF NOT EXISTS emails (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	school TEXT NOT NULL,
	email  TEXT NOT NULL
);`

// SQLite is a Store backed by a SQLite file through database/sql.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens dsn (a path, or ":memory:") and creates the schema.
func OpenSQLite(ctx context.Context, dsn string) (*SQLite, error) {
	if dsn == "" {
		dsn = "doran.db"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// one connection: writes serialise and :memory: stays a single database
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create sqlite schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) ListRules(ctx context.Context, bucket domain.Bucket) ([]domain.Rule, error) {
	if !bucket.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownBucket, bucket)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bucket, category, questions, response, answer, description, user_type, keywords, urls
		FROM rules WHERE bucket = ? ORDER BY seq`, string(bucket))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", bucket, err)
	}
	defer rows.Close()

	var out []domain.Rule
	for rows.Next() {
		var (
			r                     domain.Rule
			bucketName, userType  string
			questions, kws, links string
		)
		if err := rows.Scan(&r.ID, &bucketName, &r.Category, &questions, &r.Response, &r.Answer,
			&r.Description, &userType, &kws, &links); err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		r.Bucket = domain.Bucket(bucketName)
		r.UserType = domain.UserType(userType)
		if err := decodeLists(questions, kws, links, &r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLite) AddRules(ctx context.Context, rules ...domain.Rule) error {
	prepared, err := prepare(rules)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, r := range prepared {
			q, k, u, err := encodeLists(r)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO rules (id, bucket, category, questions, response, answer, description, user_type, keywords, urls)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				r.ID, string(r.Bucket), r.Category, q, r.Response, r.Answer, r.Description, string(r.UserType), k, u); err != nil {
				return fmt.Errorf("failed to insert rule %s into %s: %w", r.ID, r.Bucket, err)
			}
		}
		return nil
	})
}

func (s *SQLite) UpdateRule(ctx context.Context, rule domain.Rule) error {
	if rule.ID == "" {
		return fmt.Errorf("%w: rule without id", domain.ErrNotFound)
	}
	prepared, err := prepare([]domain.Rule{rule})
	if err != nil {
		return err
	}
	r := prepared[0]
	q, k, u, err := encodeLists(r)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE rules SET category = ?, questions = ?, response = ?, answer = ?, description = ?,
			user_type = ?, keywords = ?, urls = ?
		WHERE bucket = ? AND id = ?`,
		r.Category, q, r.Response, r.Answer, r.Description, string(r.UserType), k, u, string(r.Bucket), r.ID)
	if err != nil {
		return fmt.Errorf("failed to update rule %s: %w", r.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: rule %s in %s", domain.ErrNotFound, r.ID, r.Bucket)
	}
	return nil
}

func (s *SQLite) DeleteRule(ctx context.Context, bucket domain.Bucket, id string) (bool, error) {
	if !bucket.Valid() {
		return false, fmt.Errorf("%w: %q", domain.ErrUnknownBucket, bucket)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE bucket = ? AND id = ?`, string(bucket), id)
	if err != nil {
		return false, fmt.Errorf("failed to delete rule %s: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLite) ListEmails(ctx context.Context) ([]domain.EmailEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, school, email FROM emails ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list emails: %w", err)
	}
	defer rows.Close()
	var out []domain.EmailEntry
	for rows.Next() {
		var e domain.EmailEntry
		if err := rows.Scan(&e.ID, &e.School, &e.Email); err != nil {
			return nil, fmt.Errorf("failed to scan email: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) AddEmail(ctx context.Context, school, email string) (int64, error) {
	if err := validEmail(school, email); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO emails (school, email) VALUES (?, ?)`, school, email)
	if err != nil {
		return 0, fmt.Errorf("failed to add email: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLite) UpdateEmail(ctx context.Context, id int64, school, email string) (bool, error) {
	if err := validEmail(school, email); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE emails SET school = ?, email = ? WHERE id = ?`, school, email, id)
	if err != nil {
		return false, fmt.Errorf("failed to update email %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLite) DeleteEmail(ctx context.Context, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM emails WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete email %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func encodeLists(r domain.Rule) (questions, keywords, urls string, err error) {
	enc := func(v []string) (string, error) {
		if v == nil {
			v = []string{}
		}
		b, err := json.Marshal(v)
		return string(b), err
	}
	if questions, err = enc(r.Questions); err != nil {
		return
	}
	if keywords, err = enc(r.Keywords); err != nil {
		return
	}
	urls, err = enc(r.MediaURLs)
	return
}

func decodeLists(questions, keywords, urls string, r *domain.Rule) error {
	if err := json.Unmarshal([]byte(questions), &r.Questions); err != nil {
		return fmt.Errorf("failed to decode questions of %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(keywords), &r.Keywords); err != nil {
		return fmt.Errorf("failed to decode keywords of %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(urls), &r.MediaURLs); err != nil {
		return fmt.Errorf("failed to decode urls of %s: %w", r.ID, err)
	}
	return nil
}
