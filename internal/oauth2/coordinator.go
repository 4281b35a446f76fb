package oauth2

import (
	"context"
	"crypto/subtle"
	"time"

	"personalization-sync/internal/common/errors"
	"personalization-sync/internal/common/logging"
	"personalization-sync/internal/common/utils"
	"personalization-sync/internal/personalization"
)

// AuthorizationRequest is where to send the trainer to grant access
type AuthorizationRequest struct {
	AuthorizationURL string `json:"authorization_url"`
	State            string `json:"state"`
}

// TokenResult is the outcome of a successful callback. The tokens are
// plaintext and must not be logged or returned over the API.
type TokenResult struct {
	TrainerID    string
	CourseID     string
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
}

// Coordinator runs the authorization code flow
type Coordinator struct {
	store    personalization.Store
	provider AuthProvider
	cipher   Cipher
	config   Config
	now      func() time.Time
	logger   logging.Logger
}

// NewCoordinator creates a Coordinator
func NewCoordinator(store personalization.Store, provider AuthProvider, cipher Cipher, config Config, opts ...Option) *Coordinator {
	o := buildOptions("oauth_coordinator", opts)
	return &Coordinator{
		store:    store,
		provider: provider,
		cipher:   cipher,
		config:   config,
		now:      o.now,
		logger:   o.logger,
	}
}

// InitiateOAuth stores a fresh state token on the record, creating the record
// if needed, and returns the consent URL. An existing coach name is kept.
func (c *Coordinator) InitiateOAuth(ctx context.Context, trainerID, courseID string) (*AuthorizationRequest, error) {
	key := personalization.Key{TrainerID: trainerID, CourseID: courseID}
	if err := key.Validate(); err != nil {
		return nil, err
	}

	state, err := utils.GenerateState()
	if err != nil {
		return nil, errors.InternalError("failed to generate OAuth state", err)
	}

	_, err = c.store.Upsert(ctx, key, personalization.Patch{
		OAuthState:       personalization.Set(state),
		ExtractionStatus: personalization.StatusPtr(personalization.StatusOAuthPending),
	})
	if err != nil {
		return nil, errors.InternalError("failed to store OAuth state", err)
	}

	c.logger.Info("OAuth flow initiated",
		logging.Field{Key: "trainer_id", Value: trainerID},
		logging.Field{Key: "course_id", Value: courseID},
	)

	return &AuthorizationRequest{
		AuthorizationURL: c.provider.AuthorizationURL(state),
		State:            state,
	}, nil
}

// ValidateState checks state against the one stored on the record
func (c *Coordinator) ValidateState(ctx context.Context, key personalization.Key, state string) error {
	record, err := c.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if record == nil {
		return errors.CSRFError("OAuth state validation failed: personalization record not found, please initiate OAuth again")
	}
	return checkState(record, state)
}

func checkState(record *personalization.Record, state string) error {
	if state == "" || record.OAuthState == nil ||
		subtle.ConstantTimeCompare([]byte(*record.OAuthState), []byte(state)) != 1 {
		return errors.CSRFError("OAuth state validation failed: state token mismatch")
	}
	return nil
}

// HandleOAuthCallback validates state, exchanges code for tokens and stores
// them encrypted. When trainerID and courseID are both empty the record is
// found by its pending state, which is how LinkedIn redirects back. The state
// is consumed before the exchange, so a replayed or concurrent callback fails
// validation without touching the record.
func (c *Coordinator) HandleOAuthCallback(ctx context.Context, code, state, trainerID, courseID string) (*TokenResult, error) {
	if code == "" {
		return nil, errors.ValidationError("authorization code is required")
	}
	if state == "" {
		return nil, errors.CSRFError("OAuth state validation failed: state is missing")
	}

	key, err := c.resolveCallbackKey(ctx, state, trainerID, courseID)
	if err != nil {
		return nil, err
	}

	if err := c.validateCallbackState(ctx, key, state); err != nil {
		c.rejectCallback(key, err)
		return nil, err
	}

	consumed, err := c.store.ConsumeState(ctx, key, state)
	if err != nil {
		return nil, err
	}
	if !consumed {
		err := errors.CSRFError("OAuth state validation failed: state already used")
		c.rejectCallback(key, err)
		return nil, err
	}

	result, err := c.completeExchange(ctx, key, code)
	if err != nil {
		c.markFailed(ctx, key, err)
		return nil, err
	}

	c.logger.Info("LinkedIn account connected",
		logging.Field{Key: "trainer_id", Value: key.TrainerID},
		logging.Field{Key: "course_id", Value: key.CourseID},
	)
	return result, nil
}

func (c *Coordinator) resolveCallbackKey(ctx context.Context, state, trainerID, courseID string) (personalization.Key, error) {
	if trainerID == "" && courseID == "" {
		record, err := c.store.FindByState(ctx, state)
		if err != nil {
			return personalization.Key{}, err
		}
		if record == nil {
			err := errors.CSRFError("OAuth state validation failed: no pending authorization matches this state, please initiate OAuth again")
			c.logger.Warn("Rejected OAuth callback", logging.Field{Key: "error", Value: err.Error()})
			return personalization.Key{}, err
		}
		return record.Key(), nil
	}

	key := personalization.Key{TrainerID: trainerID, CourseID: courseID}
	if err := key.Validate(); err != nil {
		return personalization.Key{}, err
	}
	return key, nil
}

func (c *Coordinator) rejectCallback(key personalization.Key, err error) {
	c.logger.Warn("Rejected OAuth callback",
		logging.Field{Key: "trainer_id", Value: key.TrainerID},
		logging.Field{Key: "course_id", Value: key.CourseID},
		logging.Field{Key: "error", Value: err.Error()},
	)
}

func (c *Coordinator) validateCallbackState(ctx context.Context, key personalization.Key, state string) error {
	record, err := c.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if record != nil {
		return checkState(record, state)
	}
	if !c.config.LenientStateFallback {
		return errors.CSRFError("OAuth state validation failed: personalization record not found, please initiate OAuth again")
	}

	c.logger.Warn("Creating personalization record from OAuth callback",
		logging.Field{Key: "trainer_id", Value: key.TrainerID},
		logging.Field{Key: "course_id", Value: key.CourseID},
	)
	_, err = c.store.Upsert(ctx, key, personalization.Patch{
		OAuthState:       personalization.Set(state),
		ExtractionStatus: personalization.StatusPtr(personalization.StatusOAuthPending),
	})
	return err
}

func (c *Coordinator) completeExchange(ctx context.Context, key personalization.Key, code string) (*TokenResult, error) {
	token, err := c.provider.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}

	encryptedAccess, err := c.cipher.Encrypt(token.AccessToken)
	if err != nil {
		return nil, err
	}

	// LinkedIn only issues refresh tokens to approved apps
	refresh := personalization.Null[string]()
	if token.RefreshToken != "" {
		encryptedRefresh, err := c.cipher.Encrypt(token.RefreshToken)
		if err != nil {
			return nil, err
		}
		refresh = personalization.Set(encryptedRefresh)
	}

	_, err = c.store.Update(ctx, key, personalization.Patch{
		AccessToken:      personalization.Set(encryptedAccess),
		RefreshToken:     refresh,
		TokenExpiresAt:   personalization.Set(c.now().UTC().Add(time.Duration(token.ExpiresIn) * time.Second)),
		ExtractionStatus: personalization.StatusPtr(personalization.StatusSuccess),
		ExtractionError:  personalization.Null[string](),
	})
	if err != nil {
		return nil, err
	}

	return &TokenResult{
		TrainerID:    key.TrainerID,
		CourseID:     key.CourseID,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    token.ExpiresIn,
	}, nil
}

func (c *Coordinator) markFailed(ctx context.Context, key personalization.Key, cause error) {
	c.logger.Error("OAuth callback failed", cause,
		logging.Field{Key: "trainer_id", Value: key.TrainerID},
		logging.Field{Key: "course_id", Value: key.CourseID},
	)
	patch := personalization.FailedPatch(personalization.StatusFailed, errors.Message(cause))
	if _, err := c.store.Update(ctx, key, patch); err != nil {
		c.logger.Error("Failed to record OAuth failure", err,
			logging.Field{Key: "trainer_id", Value: key.TrainerID},
			logging.Field{Key: "course_id", Value: key.CourseID},
		)
	}
}
