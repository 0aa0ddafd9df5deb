// Package querylog persists campaign ownership checks and the durable query
// log in Postgres.
package querylog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lorekeep/lorekeep/internal/domain"
	dom "github.com/lorekeep/lorekeep/internal/domain/querylog"
)

// Repo implements ownership verification and query log persistence over a
// pgx connection pool. Every write is a single independent statement; the
// surrounding CRUD layer owns the campaigns table, this service only reads it.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a query log repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// NewPool opens a pgx connection pool for the durable store.
func NewPool(ctx context.Context, url string, maxConns int, connTimeout time.Duration) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	cfg.MaxConns = int32(maxConns)
	cfg.ConnConfig.ConnectTimeout = connTimeout

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the query_logs table if missing. The campaigns table
// belongs to the CRUD layer and must already exist.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	const schema = `
    CREATE TABLE IF NOT EXISTS query_logs (
        id               TEXT PRIMARY KEY,
        campaign_id      TEXT NOT NULL,
        user_id          TEXT NOT NULL,
        question         TEXT NOT NULL,
        chunks           JSONB NOT NULL DEFAULT '[]',
        answer           TEXT NOT NULL,
        model            TEXT NOT NULL,
        prompt_tokens    INTEGER NOT NULL DEFAULT 0,
        completion_tokens INTEGER NOT NULL DEFAULT 0,
        latency_ms       BIGINT NOT NULL DEFAULT 0,
        conversation_id  TEXT,
        rating           INTEGER,
        comment          TEXT,
        created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE INDEX IF NOT EXISTS idx_query_logs_campaign ON query_logs(campaign_id);
    CREATE INDEX IF NOT EXISTS idx_query_logs_user ON query_logs(user_id);
    `

	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("%w: ensure query_logs schema: %w", domain.ErrBackendFailure, err)
	}
	return nil
}

// VerifyOwnership checks that the campaign exists and belongs to the user.
// Returns ErrNotFound for a missing campaign and ErrForbidden for one owned
// by someone else, so callers can surface the two distinctly.
func (r *Repo) VerifyOwnership(ctx context.Context, userID, campaignID string) error {
	var ownerID string
	err := r.pool.QueryRow(ctx,
		`SELECT owner_id FROM campaigns WHERE id = $1`, campaignID,
	).Scan(&ownerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: campaign %s", domain.ErrNotFound, campaignID)
		}
		return fmt.Errorf("%w: verify ownership: %w", domain.ErrBackendFailure, err)
	}

	if ownerID != userID {
		return fmt.Errorf("%w: campaign %s", domain.ErrForbidden, campaignID)
	}
	return nil
}

// Insert writes a query log record. Called exactly once per completed query.
func (r *Repo) Insert(ctx context.Context, rec dom.Record) error {
	chunks, err := json.Marshal(rec.Chunks)
	if err != nil {
		return fmt.Errorf("marshal chunk refs: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
        INSERT INTO query_logs (
            id, campaign_id, user_id, question, chunks, answer, model,
            prompt_tokens, completion_tokens, latency_ms, conversation_id
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.CampaignID, rec.UserID, rec.Question, chunks, rec.Answer,
		rec.Model, rec.PromptTokens, rec.CompletionTokens, rec.LatencyMs,
		nullable(rec.ConversationID),
	)
	if err != nil {
		return fmt.Errorf("%w: insert query log: %w", domain.ErrBackendFailure, err)
	}
	return nil
}

// Get fetches a query log record by id.
func (r *Repo) Get(ctx context.Context, id string) (dom.Record, error) {
	var (
		rec            dom.Record
		chunks         []byte
		conversationID *string
	)

	err := r.pool.QueryRow(ctx, `
        SELECT id, campaign_id, user_id, question, chunks, answer, model,
               prompt_tokens, completion_tokens, latency_ms, conversation_id,
               rating, comment, created_at
        FROM query_logs WHERE id = $1`, id,
	).Scan(
		&rec.ID, &rec.CampaignID, &rec.UserID, &rec.Question, &chunks,
		&rec.Answer, &rec.Model, &rec.PromptTokens, &rec.CompletionTokens,
		&rec.LatencyMs, &conversationID, &rec.Rating, &rec.Comment, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return dom.Record{}, fmt.Errorf("%w: query %s", domain.ErrNotFound, id)
		}
		return dom.Record{}, fmt.Errorf("%w: get query log: %w", domain.ErrBackendFailure, err)
	}

	if err := json.Unmarshal(chunks, &rec.Chunks); err != nil {
		return dom.Record{}, fmt.Errorf("unmarshal chunk refs: %w", err)
	}
	if conversationID != nil {
		rec.ConversationID = *conversationID
	}
	return rec, nil
}

// SetFeedback mutates the rating/comment of an existing record in place.
func (r *Repo) SetFeedback(ctx context.Context, id string, rating int, comment *string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE query_logs SET rating = $2, comment = $3 WHERE id = $1`,
		id, rating, comment,
	)
	if err != nil {
		return fmt.Errorf("%w: set feedback: %w", domain.ErrBackendFailure, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: query %s", domain.ErrNotFound, id)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
