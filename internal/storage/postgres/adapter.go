// Package postgres stores personalization records in PostgreSQL through a
// pgx connection pool.
package postgres

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"personalization-sync/internal/common/errors"
	"personalization-sync/internal/personalization"
)

const columns = `trainer_id, course_id, coach_name, oauth_state, access_token, refresh_token,
	token_expires_at, extraction_status, extraction_error, linkedin_profile_id,
	linkedin_profile_url, trainer_info, linkedin_data_extracted_at, auto_refresh_enabled,
	last_refreshed_at, created_at, updated_at`

type Adapter struct {
	pool   *pgxpool.Pool
	config *Config
	now    func() time.Time
}

func NewAdapter(ctx context.Context, config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return NewAdapterFromURL(ctx, config.GetConnectionString(), config.MaxConns)
}

// NewAdapterFromURL connects with a ready-made connection string
func NewAdapterFromURL(ctx context.Context, connString string, maxConns int32) (*Adapter, error) {
	poolConfig, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, errors.ConfigurationError(fmt.Sprintf("invalid PostgreSQL connection string: %v", err))
	}
	if maxConns > 0 {
		poolConfig.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.ConnectionError("failed to open database", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.ConnectionError("failed to ping database", err)
	}

	adapter := &Adapter{pool: pool, now: time.Now}
	if err := adapter.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return adapter, nil
}

func (a *Adapter) Close() error {
	if a.pool != nil {
		a.pool.Close()
	}
	return nil
}

func (a *Adapter) Health(ctx context.Context) error {
	return a.pool.Ping(ctx)
}

func (a *Adapter) migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS course_personalization (
			trainer_id TEXT NOT NULL,
			course_id TEXT NOT NULL,
			coach_name TEXT NOT NULL DEFAULT 'AI Coach',
			oauth_state TEXT,
			access_token TEXT,
			refresh_token TEXT,
			token_expires_at TIMESTAMPTZ,
			extraction_status TEXT NOT NULL DEFAULT 'pending',
			extraction_error TEXT,
			linkedin_profile_id TEXT,
			linkedin_profile_url TEXT,
			trainer_info JSONB NOT NULL DEFAULT '{}'::jsonb,
			linkedin_data_extracted_at TIMESTAMPTZ,
			auto_refresh_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			last_refreshed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (trainer_id, course_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_personalization_auto_refresh ON course_personalization(auto_refresh_enabled, extraction_status)`,
		`CREATE INDEX IF NOT EXISTS idx_personalization_oauth_state ON course_personalization(oauth_state) WHERE oauth_state IS NOT NULL`,
	}

	for _, query := range queries {
		if _, err := a.pool.Exec(ctx, query); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) Get(ctx context.Context, key personalization.Key) (*personalization.Record, error) {
	record, err := scanRecord(a.pool.QueryRow(ctx,
		`SELECT `+columns+` FROM course_personalization WHERE trainer_id = $1 AND course_id = $2`,
		key.TrainerID, key.CourseID))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.InternalError("failed to get personalization record", err)
	}
	return record, nil
}

func (a *Adapter) Upsert(ctx context.Context, key personalization.Key, p personalization.Patch) (*personalization.Record, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return a.modify(ctx, key, p, true)
}

func (a *Adapter) Update(ctx context.Context, key personalization.Key, p personalization.Patch) (*personalization.Record, error) {
	return a.modify(ctx, key, p, false)
}

// modify locks the row, applies the patch and writes the full row back inside
// one transaction.
func (a *Adapter) modify(ctx context.Context, key personalization.Key, p personalization.Patch, create bool) (*personalization.Record, error) {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return nil, errors.ConnectionError("failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	now := a.now().UTC()
	record, err := scanRecord(tx.QueryRow(ctx,
		`SELECT `+columns+` FROM course_personalization WHERE trainer_id = $1 AND course_id = $2 FOR UPDATE`,
		key.TrainerID, key.CourseID))
	switch {
	case stderrors.Is(err, pgx.ErrNoRows):
		if !create {
			return nil, errors.NotFoundError("personalization record").WithContext("key", key.String())
		}
		record = personalization.NewRecord(key, now)
	case err != nil:
		return nil, errors.InternalError("failed to read personalization record", err)
	}

	record.Apply(p, now)

	info, err := personalization.EncodeTrainerInfo(record.TrainerInfo)
	if err != nil {
		return nil, errors.InternalError("failed to encode trainer info", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO course_personalization (`+columns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb, $13, $14, $15, $16, $17)
		ON CONFLICT (trainer_id, course_id) DO UPDATE SET
			coach_name = EXCLUDED.coach_name,
			oauth_state = EXCLUDED.oauth_state,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_expires_at = EXCLUDED.token_expires_at,
			extraction_status = EXCLUDED.extraction_status,
			extraction_error = EXCLUDED.extraction_error,
			linkedin_profile_id = EXCLUDED.linkedin_profile_id,
			linkedin_profile_url = EXCLUDED.linkedin_profile_url,
			trainer_info = EXCLUDED.trainer_info,
			linkedin_data_extracted_at = EXCLUDED.linkedin_data_extracted_at,
			auto_refresh_enabled = EXCLUDED.auto_refresh_enabled,
			last_refreshed_at = EXCLUDED.last_refreshed_at,
			updated_at = EXCLUDED.updated_at`,
		record.TrainerID, record.CourseID, record.CoachName, record.OAuthState,
		record.AccessToken, record.RefreshToken, record.TokenExpiresAt,
		string(record.ExtractionStatus), record.ExtractionError, record.LinkedInProfileID,
		record.ProfileURL, info, record.DataExtractedAt, record.AutoRefreshEnabled,
		record.LastRefreshedAt, record.CreatedAt, record.UpdatedAt)
	if err != nil {
		return nil, errors.InternalError("failed to write personalization record", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.InternalError("failed to commit personalization record", err)
	}
	return record, nil
}

func (a *Adapter) FindByState(ctx context.Context, state string) (*personalization.Record, error) {
	if state == "" {
		return nil, nil
	}
	record, err := scanRecord(a.pool.QueryRow(ctx,
		`SELECT `+columns+` FROM course_personalization WHERE oauth_state = $1 LIMIT 1`, state))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.InternalError("failed to find personalization record by state", err)
	}
	return record, nil
}

// ConsumeState is a single conditional UPDATE. A concurrent caller blocks on
// the row lock and then re-checks the WHERE clause against the cleared state.
func (a *Adapter) ConsumeState(ctx context.Context, key personalization.Key, state string) (bool, error) {
	if state == "" {
		return false, nil
	}
	tag, err := a.pool.Exec(ctx, `
		UPDATE course_personalization SET oauth_state = NULL, updated_at = $1
		WHERE trainer_id = $2 AND course_id = $3 AND oauth_state = $4`,
		a.now().UTC(), key.TrainerID, key.CourseID, state)
	if err != nil {
		return false, errors.InternalError("failed to consume OAuth state", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (a *Adapter) ListConnected(ctx context.Context) ([]*personalization.Record, error) {
	return a.list(ctx, `SELECT `+columns+` FROM course_personalization
		WHERE COALESCE(access_token, '') <> '' AND COALESCE(refresh_token, '') <> ''
		ORDER BY trainer_id, course_id`)
}

func (a *Adapter) ListAutoRefresh(ctx context.Context) ([]*personalization.Record, error) {
	return a.list(ctx, `SELECT `+columns+` FROM course_personalization
		WHERE auto_refresh_enabled
		AND COALESCE(access_token, '') <> ''
		AND extraction_status <> 'token_expired'
		ORDER BY trainer_id, course_id`)
}

func (a *Adapter) list(ctx context.Context, query string) ([]*personalization.Record, error) {
	rows, err := a.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.InternalError("failed to list personalization records", err)
	}
	defer rows.Close()

	var records []*personalization.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, errors.InternalError("failed to scan personalization record", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.InternalError("failed to list personalization records", err)
	}
	return records, nil
}

func scanRecord(row pgx.Row) (*personalization.Record, error) {
	var r personalization.Record
	var status string
	var info []byte

	err := row.Scan(
		&r.TrainerID, &r.CourseID, &r.CoachName, &r.OAuthState, &r.AccessToken, &r.RefreshToken,
		&r.TokenExpiresAt, &status, &r.ExtractionError, &r.LinkedInProfileID,
		&r.ProfileURL, &info, &r.DataExtractedAt, &r.AutoRefreshEnabled,
		&r.LastRefreshedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.ExtractionStatus = personalization.Status(status)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()
	for _, t := range []*time.Time{r.TokenExpiresAt, r.DataExtractedAt, r.LastRefreshedAt} {
		if t != nil {
			*t = t.UTC()
		}
	}

	r.TrainerInfo, err = personalization.DecodeTrainerInfo(info)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
