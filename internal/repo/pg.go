package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// PGRepository backs the link repository with Postgres.
//
// Expected schema:
//
//	CREATE TABLE survey_links (
//	    id         UUID PRIMARY KEY,
//	    uid        TEXT UNIQUE NOT NULL,
//	    project_id TEXT NOT NULL,
//	    survey_url TEXT NOT NULL,
//	    link_type  TEXT NOT NULL DEFAULT 'LIVE',
//	    status     TEXT NOT NULL DEFAULT 'ACTIVE',
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//	CREATE TABLE project_policies (
//	    project_id        TEXT PRIMARY KEY,
//	    allowed_countries JSONB NOT NULL DEFAULT '[]'
//	);
//	CREATE TABLE link_flags (
//	    id         UUID PRIMARY KEY,
//	    link_id    UUID NOT NULL,
//	    reason     TEXT NOT NULL,
//	    metadata   JSONB,
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type PGRepository struct {
	db *sql.DB
}

// OpenPG connects to Postgres and verifies the connection.
func OpenPG(ctx context.Context, dsn string) (*PGRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PGRepository{db: db}, nil
}

// NewPGRepository wraps an existing handle. Used by tests with sqlmock.
func NewPGRepository(db *sql.DB) *PGRepository { return &PGRepository{db: db} }

func (r *PGRepository) Close() error { return r.db.Close() }

// Ping reports whether the database connection is usable. Readiness checks
// call this.
func (r *PGRepository) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func (r *PGRepository) GetLinkByUID(ctx context.Context, uid string) (*Link, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, uid, project_id, survey_url, link_type, status, created_at
		FROM survey_links WHERE uid = $1`, uid)

	var l Link
	var linkType, status string
	if err := row.Scan(&l.ID, &l.UID, &l.ProjectID, &l.SurveyURL, &linkType, &status, &l.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query link %s: %w", uid, err)
	}
	l.Type = LinkType(linkType)
	l.Status = LinkStatus(status)
	return &l, nil
}

func (r *PGRepository) GetProjectPolicy(ctx context.Context, projectID string) (Policy, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT allowed_countries FROM project_policies WHERE project_id = $1`, projectID)

	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			// No policy row means no restriction.
			return Policy{}, nil
		}
		return Policy{}, fmt.Errorf("query policy %s: %w", projectID, err)
	}

	var countries []string
	if err := json.Unmarshal(raw, &countries); err != nil {
		return Policy{}, fmt.Errorf("%w: project %s: %v", ErrMalformedPolicy, projectID, err)
	}
	return Policy{AllowedCountries: countries}, nil
}

func (r *PGRepository) RecordFlag(ctx context.Context, rec FlagRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal flag metadata: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO link_flags (id, link_id, reason, metadata, created_at)
		VALUES ($1, $2, $3, $4, now())`,
		rec.ID, rec.LinkID, rec.Reason, meta)
	if err != nil {
		return fmt.Errorf("insert flag: %w", err)
	}
	return nil
}

func (r *PGRepository) UpdateLinkStatus(ctx context.Context, linkID string, status LinkStatus) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE survey_links SET status = $1 WHERE id = $2`, string(status), linkID)
	if err != nil {
		return fmt.Errorf("update link %s: %w", linkID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
