package oauth2

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"personalization-sync/internal/common/errors"
	"personalization-sync/internal/crypto"
	"personalization-sync/internal/linkedin"
	"personalization-sync/internal/personalization"
	"personalization-sync/internal/storage/memory"
)

var (
	testNow = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	testKey = personalization.Key{TrainerID: "trainer-1", CourseID: "course-1"}
)

type fakeProvider struct {
	mu sync.Mutex

	exchangeCalls int
	refreshCalls  int
	revokeCalls   int
	revoked       []string

	exchangeResp *linkedin.TokenResponse
	exchangeErr  error
	// exchangeStarted and exchangeGate, when set, hold ExchangeCode until
	// the test releases it
	exchangeStarted chan struct{}
	exchangeGate    chan struct{}
	refreshResp  *linkedin.TokenResponse
	refreshErr   error
	revokeErr    error
}

func (f *fakeProvider) AuthorizationURL(state string) string {
	return "https://www.linkedin.com/oauth/v2/authorization?state=" + url.QueryEscape(state)
}

func (f *fakeProvider) ExchangeCode(ctx context.Context, code string) (*linkedin.TokenResponse, error) {
	f.mu.Lock()
	f.exchangeCalls++
	resp, err := f.exchangeResp, f.exchangeErr
	started, gate := f.exchangeStarted, f.exchangeGate
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	return resp, err
}

func (f *fakeProvider) RefreshToken(ctx context.Context, refreshToken string) (*linkedin.TokenResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	return f.refreshResp, f.refreshErr
}

func (f *fakeProvider) Revoke(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokeCalls++
	f.revoked = append(f.revoked, token)
	return f.revokeErr
}

type fixture struct {
	store       *memory.Store
	provider    *fakeProvider
	vault       *crypto.Vault
	coordinator *Coordinator
	manager     *Manager
}

func newFixture(t *testing.T, config Config) *fixture {
	t.Helper()
	vault, err := crypto.NewVault("oauth-test-key")
	require.NoError(t, err)

	clock := func() time.Time { return testNow }
	store := memory.NewStore(memory.WithClock(clock))
	provider := &fakeProvider{}

	return &fixture{
		store:       store,
		provider:    provider,
		vault:       vault,
		coordinator: NewCoordinator(store, provider, vault, config, WithClock(clock)),
		manager:     NewManager(store, provider, vault, config, WithClock(clock)),
	}
}

// connect stores encrypted tokens expiring at expiresAt
func (f *fixture) connect(t *testing.T, access, refresh string, expiresAt *time.Time) {
	t.Helper()
	encAccess, err := f.vault.Encrypt(access)
	require.NoError(t, err)
	encRefresh, err := f.vault.Encrypt(refresh)
	require.NoError(t, err)

	patch := personalization.Patch{
		AccessToken:      personalization.Set(encAccess),
		RefreshToken:     personalization.Set(encRefresh),
		ExtractionStatus: personalization.StatusPtr(personalization.StatusSuccess),
	}
	if expiresAt != nil {
		patch.TokenExpiresAt = personalization.Set(*expiresAt)
	}
	_, err = f.store.Upsert(context.Background(), testKey, patch)
	require.NoError(t, err)
}

func (f *fixture) record(t *testing.T) *personalization.Record {
	t.Helper()
	record, err := f.store.Get(context.Background(), testKey)
	require.NoError(t, err)
	require.NotNil(t, record)
	return record
}

func TestInitiateOAuth(t *testing.T) {
	f := newFixture(t, Config{})

	req, err := f.coordinator.InitiateOAuth(context.Background(), testKey.TrainerID, testKey.CourseID)
	require.NoError(t, err)
	assert.Len(t, req.State, 64)
	assert.Contains(t, req.AuthorizationURL, "state="+req.State)

	record := f.record(t)
	require.NotNil(t, record.OAuthState)
	assert.Equal(t, req.State, *record.OAuthState)
	assert.Equal(t, personalization.StatusOAuthPending, record.ExtractionStatus)
	assert.Equal(t, personalization.DefaultCoachName, record.CoachName)
}

func TestInitiateOAuth_PreservesCoachName(t *testing.T) {
	f := newFixture(t, Config{})
	coach := "Coach Jane"
	_, err := f.store.Upsert(context.Background(), testKey, personalization.Patch{CoachName: &coach})
	require.NoError(t, err)

	first, err := f.coordinator.InitiateOAuth(context.Background(), testKey.TrainerID, testKey.CourseID)
	require.NoError(t, err)
	second, err := f.coordinator.InitiateOAuth(context.Background(), testKey.TrainerID, testKey.CourseID)
	require.NoError(t, err)

	assert.NotEqual(t, first.State, second.State)
	record := f.record(t)
	assert.Equal(t, "Coach Jane", record.CoachName)
	assert.Equal(t, second.State, *record.OAuthState)
}

func TestInitiateOAuth_RequiresKey(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.coordinator.InitiateOAuth(context.Background(), "", "course-1")
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestHandleOAuthCallback_Success(t *testing.T) {
	f := newFixture(t, Config{})
	f.provider.exchangeResp = &linkedin.TokenResponse{AccessToken: "access-1", RefreshToken: "refresh-1", ExpiresIn: 3600}

	req, err := f.coordinator.InitiateOAuth(context.Background(), testKey.TrainerID, testKey.CourseID)
	require.NoError(t, err)

	result, err := f.coordinator.HandleOAuthCallback(context.Background(), "code", req.State, testKey.TrainerID, testKey.CourseID)
	require.NoError(t, err)
	assert.Equal(t, "access-1", result.AccessToken)
	assert.Equal(t, 3600, result.ExpiresIn)

	record := f.record(t)
	assert.Nil(t, record.OAuthState, "state is single use")
	assert.Equal(t, personalization.StatusSuccess, record.ExtractionStatus)
	assert.Nil(t, record.ExtractionError)
	require.NotNil(t, record.TokenExpiresAt)
	assert.Equal(t, testNow.Add(time.Hour), *record.TokenExpiresAt)

	require.NotNil(t, record.AccessToken)
	assert.NotEqual(t, "access-1", *record.AccessToken, "tokens are stored encrypted")
	access, err := f.vault.Decrypt(*record.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "access-1", access)
	refresh, err := f.vault.Decrypt(*record.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "refresh-1", refresh)

	// Replaying the same callback fails: the state was consumed
	_, err = f.coordinator.HandleOAuthCallback(context.Background(), "code", req.State, testKey.TrainerID, testKey.CourseID)
	assert.True(t, errors.IsType(err, errors.ErrTypeCSRF))
	assert.Equal(t, 1, f.provider.exchangeCalls)
}

func TestHandleOAuthCallback_ResolvesKeyFromState(t *testing.T) {
	f := newFixture(t, Config{})
	f.provider.exchangeResp = &linkedin.TokenResponse{AccessToken: "access-1", ExpiresIn: 3600}

	other := personalization.Key{TrainerID: "trainer-2", CourseID: "course-9"}
	_, err := f.coordinator.InitiateOAuth(context.Background(), other.TrainerID, other.CourseID)
	require.NoError(t, err)
	req, err := f.coordinator.InitiateOAuth(context.Background(), testKey.TrainerID, testKey.CourseID)
	require.NoError(t, err)

	result, err := f.coordinator.HandleOAuthCallback(context.Background(), "code", req.State, "", "")
	require.NoError(t, err)
	assert.Equal(t, testKey.TrainerID, result.TrainerID)
	assert.Equal(t, testKey.CourseID, result.CourseID)
	assert.Equal(t, personalization.StatusSuccess, f.record(t).ExtractionStatus)

	untouched, err := f.store.Get(context.Background(), other)
	require.NoError(t, err)
	assert.Equal(t, personalization.StatusOAuthPending, untouched.ExtractionStatus)
}

func TestHandleOAuthCallback_UnknownStateWithoutKey(t *testing.T) {
	f := newFixture(t, Config{LenientStateFallback: true})

	_, err := f.coordinator.HandleOAuthCallback(context.Background(), "code", "never-issued", "", "")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeCSRF))
	assert.Equal(t, 0, f.provider.exchangeCalls)
}

func TestHandleOAuthCallback_PartialKeyRejected(t *testing.T) {
	f := newFixture(t, Config{})

	_, err := f.coordinator.HandleOAuthCallback(context.Background(), "code", "state", testKey.TrainerID, "")
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestHandleOAuthCallback_ConcurrentCallbacksExchangeOnce(t *testing.T) {
	f := newFixture(t, Config{})
	f.provider.exchangeResp = &linkedin.TokenResponse{AccessToken: "access-1", RefreshToken: "refresh-1", ExpiresIn: 3600}
	f.provider.exchangeStarted = make(chan struct{}, 1)
	f.provider.exchangeGate = make(chan struct{})

	req, err := f.coordinator.InitiateOAuth(context.Background(), testKey.TrainerID, testKey.CourseID)
	require.NoError(t, err)

	firstErr := make(chan error, 1)
	go func() {
		_, err := f.coordinator.HandleOAuthCallback(context.Background(), "code", req.State, testKey.TrainerID, testKey.CourseID)
		firstErr <- err
	}()

	select {
	case <-f.provider.exchangeStarted:
	case <-time.After(5 * time.Second):
		t.Fatal("first callback never reached the token exchange")
	}

	// The first callback is mid-exchange; the duplicate must lose
	_, err = f.coordinator.HandleOAuthCallback(context.Background(), "code", req.State, testKey.TrainerID, testKey.CourseID)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeCSRF))
	assert.NotEqual(t, personalization.StatusFailed, f.record(t).ExtractionStatus, "loser does not mark the record")

	close(f.provider.exchangeGate)
	require.NoError(t, <-firstErr)

	record := f.record(t)
	assert.Equal(t, personalization.StatusSuccess, record.ExtractionStatus)
	assert.Nil(t, record.ExtractionError)
	assert.Equal(t, 1, f.provider.exchangeCalls)
}

func TestHandleOAuthCallback_ParallelCallbacksOneWinner(t *testing.T) {
	f := newFixture(t, Config{})
	f.provider.exchangeResp = &linkedin.TokenResponse{AccessToken: "access-1", ExpiresIn: 3600}

	req, err := f.coordinator.InitiateOAuth(context.Background(), testKey.TrainerID, testKey.CourseID)
	require.NoError(t, err)

	const callers = 8
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.coordinator.HandleOAuthCallback(context.Background(), "code", req.State, "", "")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, errors.IsType(err, errors.ErrTypeCSRF), err.Error())
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, f.provider.exchangeCalls)
	assert.Equal(t, personalization.StatusSuccess, f.record(t).ExtractionStatus)
}

func TestHandleOAuthCallback_StateMismatchRejectedBeforeExchange(t *testing.T) {
	f := newFixture(t, Config{LenientStateFallback: true})
	f.provider.exchangeResp = &linkedin.TokenResponse{AccessToken: "access-1", ExpiresIn: 3600}

	_, err := f.coordinator.InitiateOAuth(context.Background(), testKey.TrainerID, testKey.CourseID)
	require.NoError(t, err)

	_, err = f.coordinator.HandleOAuthCallback(context.Background(), "code", "forged-state", testKey.TrainerID, testKey.CourseID)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeCSRF))
	assert.Equal(t, 0, f.provider.exchangeCalls)

	record := f.record(t)
	assert.Equal(t, personalization.StatusOAuthPending, record.ExtractionStatus)
	assert.Nil(t, record.AccessToken)
}

func TestHandleOAuthCallback_MissingRecord(t *testing.T) {
	t.Run("strict", func(t *testing.T) {
		f := newFixture(t, Config{})
		_, err := f.coordinator.HandleOAuthCallback(context.Background(), "code", "some-state", testKey.TrainerID, testKey.CourseID)
		assert.True(t, errors.IsType(err, errors.ErrTypeCSRF))
		assert.Equal(t, 0, f.provider.exchangeCalls)

		record, err := f.store.Get(context.Background(), testKey)
		require.NoError(t, err)
		assert.Nil(t, record)
	})

	t.Run("lenient", func(t *testing.T) {
		f := newFixture(t, Config{LenientStateFallback: true})
		f.provider.exchangeResp = &linkedin.TokenResponse{AccessToken: "access-1", ExpiresIn: 60}

		_, err := f.coordinator.HandleOAuthCallback(context.Background(), "code", "some-state", testKey.TrainerID, testKey.CourseID)
		require.NoError(t, err)
		assert.Equal(t, 1, f.provider.exchangeCalls)

		record := f.record(t)
		assert.Equal(t, personalization.StatusSuccess, record.ExtractionStatus)
		assert.Nil(t, record.RefreshToken, "no refresh token was issued")
	})
}

func TestHandleOAuthCallback_ExchangeFailureMarksFailed(t *testing.T) {
	f := newFixture(t, Config{})
	f.provider.exchangeErr = errors.ProviderHTTPError(400, "LinkedIn token exchange failed: 400 authorization code expired")

	req, err := f.coordinator.InitiateOAuth(context.Background(), testKey.TrainerID, testKey.CourseID)
	require.NoError(t, err)

	_, err = f.coordinator.HandleOAuthCallback(context.Background(), "code", req.State, testKey.TrainerID, testKey.CourseID)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeProviderHTTP))

	record := f.record(t)
	assert.Equal(t, personalization.StatusFailed, record.ExtractionStatus)
	require.NotNil(t, record.ExtractionError)
	assert.Contains(t, *record.ExtractionError, "LinkedIn token exchange failed: 400")
}

func TestValidateState(t *testing.T) {
	f := newFixture(t, Config{})
	req, err := f.coordinator.InitiateOAuth(context.Background(), testKey.TrainerID, testKey.CourseID)
	require.NoError(t, err)

	assert.NoError(t, f.coordinator.ValidateState(context.Background(), testKey, req.State))
	assert.True(t, errors.IsType(f.coordinator.ValidateState(context.Background(), testKey, req.State[:10]), errors.ErrTypeCSRF))
	assert.True(t, errors.IsType(f.coordinator.ValidateState(context.Background(), testKey, ""), errors.ErrTypeCSRF))

	other := personalization.Key{TrainerID: "trainer-2", CourseID: "course-1"}
	assert.True(t, errors.IsType(f.coordinator.ValidateState(context.Background(), other, req.State), errors.ErrTypeCSRF))
}

func TestGetAccessToken_RefreshThreshold(t *testing.T) {
	tests := []struct {
		name        string
		expiresAt   *time.Time
		wantRefresh bool
	}{
		{"expires in 10 minutes", timePtr(testNow.Add(10 * time.Minute)), false},
		{"expires in exactly 5 minutes", timePtr(testNow.Add(5 * time.Minute)), true},
		{"expires in 4 minutes", timePtr(testNow.Add(4 * time.Minute)), true},
		{"already expired", timePtr(testNow.Add(-time.Hour)), true},
		{"unknown expiry", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			f.provider.refreshResp = &linkedin.TokenResponse{AccessToken: "access-new", ExpiresIn: 5184000}
			f.connect(t, "access-old", "refresh-1", tt.expiresAt)

			token, err := f.manager.GetAccessToken(context.Background(), testKey.TrainerID, testKey.CourseID)
			require.NoError(t, err)

			if tt.wantRefresh {
				assert.Equal(t, 1, f.provider.refreshCalls)
				assert.Equal(t, "access-new", token)
			} else {
				assert.Equal(t, 0, f.provider.refreshCalls)
				assert.Equal(t, "access-old", token)
			}
		})
	}
}

func TestGetAccessToken_NotConnected(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.manager.GetAccessToken(context.Background(), testKey.TrainerID, testKey.CourseID)
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestRefreshAccessToken(t *testing.T) {
	f := newFixture(t, Config{})
	f.provider.refreshResp = &linkedin.TokenResponse{AccessToken: "access-new", ExpiresIn: 7200}
	f.connect(t, "access-old", "refresh-1", timePtr(testNow))
	before := f.record(t)

	result, err := f.manager.RefreshAccessToken(context.Background(), testKey.TrainerID, testKey.CourseID)
	require.NoError(t, err)
	assert.Equal(t, "access-new", result.AccessToken)
	assert.Equal(t, testNow.Add(2*time.Hour), result.ExpiresAt)

	after := f.record(t)
	assert.Equal(t, *before.RefreshToken, *after.RefreshToken, "refresh token is not rotated")
	assert.Equal(t, testNow.Add(2*time.Hour), *after.TokenExpiresAt)
	access, err := f.vault.Decrypt(*after.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "access-new", access)
}

func TestRefreshAccessToken_Rejected(t *testing.T) {
	f := newFixture(t, Config{})
	f.provider.refreshErr = errors.ProviderHTTPError(400, "LinkedIn token refresh failed: 400 The provided authorization grant is invalid")
	f.connect(t, "access-old", "refresh-1", timePtr(testNow))

	_, err := f.manager.RefreshAccessToken(context.Background(), testKey.TrainerID, testKey.CourseID)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeTokenExpired))

	record := f.record(t)
	assert.Equal(t, personalization.StatusTokenExpired, record.ExtractionStatus)
	require.NotNil(t, record.ExtractionError)
	assert.Equal(t, RefreshExpiredMessage, *record.ExtractionError)
}

func TestRefreshAccessToken_TransportErrorDoesNotExpire(t *testing.T) {
	f := newFixture(t, Config{})
	f.provider.refreshErr = errors.ConnectionError("LinkedIn token refresh request failed", nil)
	f.connect(t, "access-old", "refresh-1", timePtr(testNow))

	_, err := f.manager.RefreshAccessToken(context.Background(), testKey.TrainerID, testKey.CourseID)
	assert.True(t, errors.IsType(err, errors.ErrTypeConnection))
	assert.Equal(t, personalization.StatusSuccess, f.record(t).ExtractionStatus)
}

func TestRefreshAccessToken_NoRefreshToken(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.store.Upsert(context.Background(), testKey, personalization.Patch{AccessToken: personalization.Set("x")})
	require.NoError(t, err)

	_, err = f.manager.RefreshAccessToken(context.Background(), testKey.TrainerID, testKey.CourseID)
	assert.True(t, errors.IsType(err, errors.ErrTypeTokenExpired))
	assert.Contains(t, err.Error(), "reconnect")
	assert.Equal(t, 0, f.provider.refreshCalls)
}

func TestRefreshAccessToken_UndecryptableToken(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.store.Upsert(context.Background(), testKey, personalization.Patch{
		AccessToken:  personalization.Set("x"),
		RefreshToken: personalization.Set("deadbeef"),
	})
	require.NoError(t, err)

	_, err = f.manager.RefreshAccessToken(context.Background(), testKey.TrainerID, testKey.CourseID)
	assert.True(t, errors.IsType(err, errors.ErrTypeEncryption))
}

func TestRevokeAccess(t *testing.T) {
	tests := []struct {
		name      string
		revokeErr error
	}{
		{"provider accepts", nil},
		{"provider fails", errors.ConnectionError("LinkedIn revoke request failed", nil)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, Config{})
			f.provider.revokeErr = tt.revokeErr
			f.connect(t, "access-1", "refresh-1", timePtr(testNow.Add(time.Hour)))
			_, err := f.store.Update(context.Background(), testKey, personalization.Patch{
				OAuthState:      personalization.Set("stale"),
				ExtractionError: personalization.Set("old"),
			})
			require.NoError(t, err)

			require.NoError(t, f.manager.RevokeAccess(context.Background(), testKey.TrainerID, testKey.CourseID))
			assert.Equal(t, []string{"access-1"}, f.provider.revoked)

			record := f.record(t)
			assert.Nil(t, record.AccessToken)
			assert.Nil(t, record.RefreshToken)
			assert.Nil(t, record.TokenExpiresAt)
			assert.Nil(t, record.OAuthState)
			assert.Nil(t, record.ExtractionError)
			assert.Equal(t, personalization.StatusPending, record.ExtractionStatus)
		})
	}
}

func TestRevokeAccess_RefreshFailureStillClears(t *testing.T) {
	f := newFixture(t, Config{})
	f.provider.refreshErr = errors.ProviderHTTPError(401, "LinkedIn token refresh failed: 401 invalid_client")
	f.connect(t, "access-1", "refresh-1", timePtr(testNow.Add(-time.Hour)))

	require.NoError(t, f.manager.RevokeAccess(context.Background(), testKey.TrainerID, testKey.CourseID))
	assert.Equal(t, 0, f.provider.revokeCalls)

	record := f.record(t)
	assert.Nil(t, record.AccessToken)
	assert.Equal(t, personalization.StatusPending, record.ExtractionStatus)
}

func TestRevokeAccess_MissingRecord(t *testing.T) {
	f := newFixture(t, Config{})
	err := f.manager.RevokeAccess(context.Background(), testKey.TrainerID, testKey.CourseID)
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func TestConfig_RefreshBuffer(t *testing.T) {
	assert.Equal(t, DefaultRefreshBuffer, Config{}.refreshBuffer())
	assert.Equal(t, time.Minute, Config{RefreshBuffer: time.Minute}.refreshBuffer())
}

func timePtr(t time.Time) *time.Time {
	return &t
}
