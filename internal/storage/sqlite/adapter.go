// Package sqlite stores personalization records in a SQLite database through
// mattn/go-sqlite3. The schema is created on open.
package sqlite

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"personalization-sync/internal/common/errors"
	"personalization-sync/internal/personalization"
)

const columns = `trainer_id, course_id, coach_name, oauth_state, access_token, refresh_token,
	token_expires_at, extraction_status, extraction_error, linkedin_profile_id,
	linkedin_profile_url, trainer_info, linkedin_data_extracted_at, auto_refresh_enabled,
	last_refreshed_at, created_at, updated_at`

type Adapter struct {
	db     *sql.DB
	config *Config
	now    func() time.Time
}

func NewAdapter(config *Config) (*Adapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", config.DatabasePath+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, errors.ConnectionError("failed to open database", err)
	}
	// SQLite allows a single writer; one connection also keeps :memory: databases shared
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.ConnectionError("failed to ping database", err)
	}

	adapter := &Adapter{
		db:     db,
		config: config,
		now:    time.Now,
	}

	if err := adapter.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return adapter, nil
}

func (a *Adapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

func (a *Adapter) Health(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

func (a *Adapter) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS course_personalization (
			trainer_id TEXT NOT NULL,
			course_id TEXT NOT NULL,
			coach_name TEXT NOT NULL DEFAULT 'AI Coach',
			oauth_state TEXT,
			access_token TEXT,
			refresh_token TEXT,
			token_expires_at DATETIME,
			extraction_status TEXT NOT NULL DEFAULT 'pending',
			extraction_error TEXT,
			linkedin_profile_id TEXT,
			linkedin_profile_url TEXT,
			trainer_info TEXT NOT NULL DEFAULT '{}',
			linkedin_data_extracted_at DATETIME,
			auto_refresh_enabled BOOLEAN NOT NULL DEFAULT 1,
			last_refreshed_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (trainer_id, course_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_personalization_tokens ON course_personalization(access_token, refresh_token)`,
		`CREATE INDEX IF NOT EXISTS idx_personalization_auto_refresh ON course_personalization(auto_refresh_enabled, extraction_status)`,
		`CREATE INDEX IF NOT EXISTS idx_personalization_oauth_state ON course_personalization(oauth_state)`,
	}

	for _, query := range queries {
		if _, err := a.db.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

func (a *Adapter) Get(ctx context.Context, key personalization.Key) (*personalization.Record, error) {
	record, err := scanRecord(a.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM course_personalization WHERE trainer_id = ? AND course_id = ?`,
		key.TrainerID, key.CourseID))
	if stderrors.Is(err, sql.ErrNoRows) {
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

// modify reads the row, applies the patch and writes the full row back inside
// one transaction.
func (a *Adapter) modify(ctx context.Context, key personalization.Key, p personalization.Patch, create bool) (*personalization.Record, error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.ConnectionError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	now := a.now().UTC()
	record, err := scanRecord(tx.QueryRowContext(ctx,
		`SELECT `+columns+` FROM course_personalization WHERE trainer_id = ? AND course_id = ?`,
		key.TrainerID, key.CourseID))
	switch {
	case stderrors.Is(err, sql.ErrNoRows):
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

	_, err = tx.ExecContext(ctx, `
		INSERT INTO course_personalization (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(trainer_id, course_id) DO UPDATE SET
			coach_name = excluded.coach_name,
			oauth_state = excluded.oauth_state,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_expires_at = excluded.token_expires_at,
			extraction_status = excluded.extraction_status,
			extraction_error = excluded.extraction_error,
			linkedin_profile_id = excluded.linkedin_profile_id,
			linkedin_profile_url = excluded.linkedin_profile_url,
			trainer_info = excluded.trainer_info,
			linkedin_data_extracted_at = excluded.linkedin_data_extracted_at,
			auto_refresh_enabled = excluded.auto_refresh_enabled,
			last_refreshed_at = excluded.last_refreshed_at,
			updated_at = excluded.updated_at`,
		record.TrainerID, record.CourseID, record.CoachName, record.OAuthState,
		record.AccessToken, record.RefreshToken, record.TokenExpiresAt,
		string(record.ExtractionStatus), record.ExtractionError, record.LinkedInProfileID,
		record.ProfileURL, info, record.DataExtractedAt, record.AutoRefreshEnabled,
		record.LastRefreshedAt, record.CreatedAt, record.UpdatedAt)
	if err != nil {
		return nil, errors.InternalError("failed to write personalization record", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.InternalError("failed to commit personalization record", err)
	}
	return record, nil
}

func (a *Adapter) FindByState(ctx context.Context, state string) (*personalization.Record, error) {
	if state == "" {
		return nil, nil
	}
	record, err := scanRecord(a.db.QueryRowContext(ctx,
		`SELECT `+columns+` FROM course_personalization WHERE oauth_state = ? LIMIT 1`, state))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.InternalError("failed to find personalization record by state", err)
	}
	return record, nil
}

// ConsumeState is a single conditional UPDATE, so only one caller can match
// the stored state.
func (a *Adapter) ConsumeState(ctx context.Context, key personalization.Key, state string) (bool, error) {
	if state == "" {
		return false, nil
	}
	result, err := a.db.ExecContext(ctx, `
		UPDATE course_personalization SET oauth_state = NULL, updated_at = ?
		WHERE trainer_id = ? AND course_id = ? AND oauth_state = ?`,
		a.now().UTC(), key.TrainerID, key.CourseID, state)
	if err != nil {
		return false, errors.InternalError("failed to consume OAuth state", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, errors.InternalError("failed to consume OAuth state", err)
	}
	return n == 1, nil
}

func (a *Adapter) ListConnected(ctx context.Context) ([]*personalization.Record, error) {
	return a.list(ctx, `SELECT `+columns+` FROM course_personalization
		WHERE access_token IS NOT NULL AND access_token != ''
		AND refresh_token IS NOT NULL AND refresh_token != ''
		ORDER BY trainer_id, course_id`)
}

func (a *Adapter) ListAutoRefresh(ctx context.Context) ([]*personalization.Record, error) {
	return a.list(ctx, `SELECT `+columns+` FROM course_personalization
		WHERE auto_refresh_enabled = 1
		AND access_token IS NOT NULL AND access_token != ''
		AND extraction_status != 'token_expired'
		ORDER BY trainer_id, course_id`)
}

func (a *Adapter) list(ctx context.Context, query string) ([]*personalization.Record, error) {
	rows, err := a.db.QueryContext(ctx, query)
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

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (*personalization.Record, error) {
	var r personalization.Record
	var status, info string
	var oauthState, accessToken, refreshToken sql.NullString
	var extractionError, profileID, profileURL sql.NullString
	var tokenExpiresAt, dataExtractedAt, lastRefreshedAt sql.NullTime

	err := row.Scan(
		&r.TrainerID, &r.CourseID, &r.CoachName, &oauthState, &accessToken, &refreshToken,
		&tokenExpiresAt, &status, &extractionError, &profileID,
		&profileURL, &info, &dataExtractedAt, &r.AutoRefreshEnabled,
		&lastRefreshedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.ExtractionStatus = personalization.Status(status)
	r.OAuthState = nullString(oauthState)
	r.AccessToken = nullString(accessToken)
	r.RefreshToken = nullString(refreshToken)
	r.ExtractionError = nullString(extractionError)
	r.LinkedInProfileID = nullString(profileID)
	r.ProfileURL = nullString(profileURL)
	r.TokenExpiresAt = nullTime(tokenExpiresAt)
	r.DataExtractedAt = nullTime(dataExtractedAt)
	r.LastRefreshedAt = nullTime(lastRefreshedAt)
	r.CreatedAt = r.CreatedAt.UTC()
	r.UpdatedAt = r.UpdatedAt.UTC()

	r.TrainerInfo, err = personalization.DecodeTrainerInfo([]byte(info))
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}
