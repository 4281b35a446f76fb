package oauth2

import (
	"context"
	"time"

	"personalization-sync/internal/common/errors"
	"personalization-sync/internal/common/logging"
	"personalization-sync/internal/personalization"
)

// RefreshExpiredMessage is stored on a record whose refresh token was rejected
const RefreshExpiredMessage = "Refresh token expired. Please reconnect."

// RefreshResult is a freshly issued access token
type RefreshResult struct {
	AccessToken string
	ExpiresIn   int
	ExpiresAt   time.Time
}

// Manager hands out valid access tokens and disconnects accounts
type Manager struct {
	store    personalization.Store
	provider TokenProvider
	cipher   Cipher
	buffer   time.Duration
	now      func() time.Time
	logger   logging.Logger
}

// NewManager creates a Manager
func NewManager(store personalization.Store, provider TokenProvider, cipher Cipher, config Config, opts ...Option) *Manager {
	o := buildOptions("token_manager", opts)
	return &Manager{
		store:    store,
		provider: provider,
		cipher:   cipher,
		buffer:   config.refreshBuffer(),
		now:      o.now,
		logger:   o.logger,
	}
}

// RefreshBuffer returns the proactive refresh threshold
func (m *Manager) RefreshBuffer() time.Duration {
	return m.buffer
}

// NeedsRefresh reports whether a token expiring at expiresAt must be
// refreshed before use. An unknown expiry always needs a refresh.
func (m *Manager) NeedsRefresh(expiresAt *time.Time) bool {
	return expiresAt == nil || !expiresAt.After(m.now().Add(m.buffer))
}

// GetAccessToken returns a plaintext access token, refreshing it first when it
// expires within the refresh buffer.
func (m *Manager) GetAccessToken(ctx context.Context, trainerID, courseID string) (string, error) {
	key := personalization.Key{TrainerID: trainerID, CourseID: courseID}
	record, err := m.store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if record == nil || record.AccessToken == nil || *record.AccessToken == "" {
		return "", errors.NotFoundError("LinkedIn access token").
			WithContext("hint", "connect LinkedIn first")
	}

	if m.NeedsRefresh(record.TokenExpiresAt) {
		m.logger.Debug("Access token expired or expiring soon, refreshing",
			logging.Field{Key: "trainer_id", Value: trainerID},
			logging.Field{Key: "course_id", Value: courseID},
		)
		refreshed, err := m.RefreshAccessToken(ctx, trainerID, courseID)
		if err != nil {
			return "", err
		}
		return refreshed.AccessToken, nil
	}

	return m.cipher.Decrypt(*record.AccessToken)
}

// RefreshAccessToken trades the stored refresh token for a new access token.
// The refresh token itself is left as is. A provider rejection marks the
// record token_expired.
func (m *Manager) RefreshAccessToken(ctx context.Context, trainerID, courseID string) (*RefreshResult, error) {
	key := personalization.Key{TrainerID: trainerID, CourseID: courseID}
	record, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if record == nil || record.RefreshToken == nil || *record.RefreshToken == "" {
		return nil, errors.TokenExpiredError("refresh token not found, please reconnect LinkedIn")
	}

	refreshToken, err := m.cipher.Decrypt(*record.RefreshToken)
	if err != nil {
		return nil, err
	}

	token, err := m.provider.RefreshToken(ctx, refreshToken)
	if err != nil {
		if errors.HTTPStatus(err) >= 300 {
			return nil, m.markRefreshExpired(ctx, key, err)
		}
		return nil, err
	}

	encrypted, err := m.cipher.Encrypt(token.AccessToken)
	if err != nil {
		return nil, err
	}

	expiresAt := m.now().UTC().Add(time.Duration(token.ExpiresIn) * time.Second)
	_, err = m.store.Update(ctx, key, personalization.Patch{
		AccessToken:    personalization.Set(encrypted),
		TokenExpiresAt: personalization.Set(expiresAt),
	})
	if err != nil {
		return nil, errors.InternalError("failed to store new access token", err)
	}

	m.logger.Info("Refreshed LinkedIn access token",
		logging.Field{Key: "trainer_id", Value: trainerID},
		logging.Field{Key: "course_id", Value: courseID},
	)

	return &RefreshResult{
		AccessToken: token.AccessToken,
		ExpiresIn:   token.ExpiresIn,
		ExpiresAt:   expiresAt,
	}, nil
}

func (m *Manager) markRefreshExpired(ctx context.Context, key personalization.Key, cause error) error {
	m.logger.Warn("Refresh token rejected by LinkedIn",
		logging.Field{Key: "trainer_id", Value: key.TrainerID},
		logging.Field{Key: "course_id", Value: key.CourseID},
		logging.Field{Key: "error", Value: cause.Error()},
	)
	patch := personalization.FailedPatch(personalization.StatusTokenExpired, RefreshExpiredMessage)
	if _, err := m.store.Update(ctx, key, patch); err != nil {
		m.logger.Error("Failed to mark token expired", err,
			logging.Field{Key: "trainer_id", Value: key.TrainerID},
			logging.Field{Key: "course_id", Value: key.CourseID},
		)
	}
	return &errors.AppError{
		Type:    errors.ErrTypeTokenExpired,
		Message: RefreshExpiredMessage,
		Cause:   cause,
	}
}

// RevokeAccess disconnects the account. The provider-side revoke is best
// effort; the stored tokens are cleared regardless and the record goes back
// to pending.
func (m *Manager) RevokeAccess(ctx context.Context, trainerID, courseID string) error {
	key := personalization.Key{TrainerID: trainerID, CourseID: courseID}
	if err := key.Validate(); err != nil {
		return err
	}

	if token, err := m.GetAccessToken(ctx, trainerID, courseID); err != nil {
		m.logger.Warn("Could not obtain token to revoke, clearing anyway",
			logging.Field{Key: "trainer_id", Value: trainerID},
			logging.Field{Key: "course_id", Value: courseID},
			logging.Field{Key: "error", Value: err.Error()},
		)
	} else if err := m.provider.Revoke(ctx, token); err != nil {
		m.logger.Warn("Error revoking token, it may already be revoked",
			logging.Field{Key: "trainer_id", Value: trainerID},
			logging.Field{Key: "course_id", Value: courseID},
			logging.Field{Key: "error", Value: err.Error()},
		)
	}

	_, err := m.store.Update(ctx, key, personalization.Patch{
		AccessToken:      personalization.Null[string](),
		RefreshToken:     personalization.Null[string](),
		TokenExpiresAt:   personalization.Null[time.Time](),
		OAuthState:       personalization.Null[string](),
		ExtractionStatus: personalization.StatusPtr(personalization.StatusPending),
		ExtractionError:  personalization.Null[string](),
	})
	if err != nil {
		return err
	}

	m.logger.Info("Revoked LinkedIn access",
		logging.Field{Key: "trainer_id", Value: trainerID},
		logging.Field{Key: "course_id", Value: courseID},
	)
	return nil
}
