// Package storagetest holds the behaviour every personalization.Store backend
// must share. Backends call RunStoreTests from their own tests.
package storagetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"personalization-sync/internal/common/errors"
	"personalization-sync/internal/personalization"
)

// Factory returns a fresh, empty store
type Factory func(t *testing.T) personalization.Store

// RunStoreTests runs the shared store contract against newStore
func RunStoreTests(t *testing.T, newStore Factory) {
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("UpsertCreatesWithDefaults", func(t *testing.T) { testUpsertCreates(t, newStore(t)) })
	t.Run("UpsertPreservesUnsetFields", func(t *testing.T) { testUpsertPreserves(t, newStore(t)) })
	t.Run("UpsertRejectsEmptyKey", func(t *testing.T) { testUpsertRejectsEmptyKey(t, newStore(t)) })
	t.Run("UpdateMissing", func(t *testing.T) { testUpdateMissing(t, newStore(t)) })
	t.Run("NullClearsColumns", func(t *testing.T) { testNullClears(t, newStore(t)) })
	t.Run("TrainerInfoRoundTrip", func(t *testing.T) { testTrainerInfo(t, newStore(t)) })
	t.Run("FindByState", func(t *testing.T) { testFindByState(t, newStore(t)) })
	t.Run("ConsumeState", func(t *testing.T) { testConsumeState(t, newStore(t)) })
	t.Run("ConcurrentConsumeState", func(t *testing.T) { testConcurrentConsumeState(t, newStore(t)) })
	t.Run("ListConnected", func(t *testing.T) { testListConnected(t, newStore(t)) })
	t.Run("ListAutoRefresh", func(t *testing.T) { testListAutoRefresh(t, newStore(t)) })
	t.Run("ConcurrentUpserts", func(t *testing.T) { testConcurrentUpserts(t, newStore(t)) })
	t.Run("Health", func(t *testing.T) { require.NoError(t, newStore(t).Health(context.Background())) })
}

var key = personalization.Key{TrainerID: "trainer-1", CourseID: "course-1"}

func testGetMissing(t *testing.T, store personalization.Store) {
	record, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Nil(t, record)
}

func testUpsertCreates(t *testing.T, store personalization.Store) {
	ctx := context.Background()

	created, err := store.Upsert(ctx, key, personalization.Patch{
		OAuthState:       personalization.Set("state-abc"),
		ExtractionStatus: personalization.StatusPtr(personalization.StatusOAuthPending),
	})
	require.NoError(t, err)
	assert.Equal(t, personalization.DefaultCoachName, created.CoachName)
	assert.True(t, created.AutoRefreshEnabled)

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, key, got.Key())
	assert.Equal(t, personalization.DefaultCoachName, got.CoachName)
	assert.Equal(t, personalization.StatusOAuthPending, got.ExtractionStatus)
	require.NotNil(t, got.OAuthState)
	assert.Equal(t, "state-abc", *got.OAuthState)
	assert.Nil(t, got.AccessToken)
	assert.False(t, got.CreatedAt.IsZero())
}

func testUpsertPreserves(t *testing.T, store personalization.Store) {
	ctx := context.Background()
	coach := "Coach Jane"

	_, err := store.Upsert(ctx, key, personalization.Patch{CoachName: &coach, OAuthState: personalization.Set("s1")})
	require.NoError(t, err)

	expires := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	_, err = store.Upsert(ctx, key, personalization.Patch{
		AccessToken:    personalization.Set("enc-access"),
		RefreshToken:   personalization.Set("enc-refresh"),
		TokenExpiresAt: personalization.Set(expires),
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "Coach Jane", got.CoachName)
	require.NotNil(t, got.OAuthState)
	assert.Equal(t, "s1", *got.OAuthState)
	require.NotNil(t, got.TokenExpiresAt)
	assert.True(t, expires.Equal(*got.TokenExpiresAt), "got %v", got.TokenExpiresAt)
	assert.True(t, got.HasTokens())
}

func testUpsertRejectsEmptyKey(t *testing.T, store personalization.Store) {
	_, err := store.Upsert(context.Background(), personalization.Key{TrainerID: "t"}, personalization.Patch{})
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func testUpdateMissing(t *testing.T, store personalization.Store) {
	_, err := store.Update(context.Background(), key, personalization.Patch{OAuthState: personalization.Null[string]()})
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))

	got, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	assert.Nil(t, got, "update must not create")
}

func testNullClears(t *testing.T, store personalization.Store) {
	ctx := context.Background()
	_, err := store.Upsert(ctx, key, personalization.Patch{
		OAuthState:      personalization.Set("s"),
		AccessToken:     personalization.Set("a"),
		RefreshToken:    personalization.Set("r"),
		TokenExpiresAt:  personalization.Set(time.Now().UTC()),
		ExtractionError: personalization.Set("boom"),
	})
	require.NoError(t, err)

	updated, err := store.Update(ctx, key, personalization.Patch{
		OAuthState:       personalization.Null[string](),
		AccessToken:      personalization.Null[string](),
		RefreshToken:     personalization.Null[string](),
		TokenExpiresAt:   personalization.Null[time.Time](),
		ExtractionError:  personalization.Null[string](),
		ExtractionStatus: personalization.StatusPtr(personalization.StatusPending),
	})
	require.NoError(t, err)
	assert.Nil(t, updated.AccessToken)

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got.OAuthState)
	assert.Nil(t, got.AccessToken)
	assert.Nil(t, got.RefreshToken)
	assert.Nil(t, got.TokenExpiresAt)
	assert.Nil(t, got.ExtractionError)
	assert.Equal(t, personalization.StatusPending, got.ExtractionStatus)
}

func testTrainerInfo(t *testing.T, store personalization.Store) {
	ctx := context.Background()
	_, err := store.Upsert(ctx, key, personalization.Patch{
		TrainerInfo: map[string]interface{}{"bio": "Teaches Go", "name": "Jane Doe"},
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "Teaches Go", got.TrainerInfo["bio"])
	assert.Equal(t, "Jane Doe", got.TrainerInfo["name"])
}

func testFindByState(t *testing.T, store personalization.Store) {
	ctx := context.Background()
	other := personalization.Key{TrainerID: "trainer-2", CourseID: "course-1"}

	_, err := store.Upsert(ctx, key, personalization.Patch{OAuthState: personalization.Set("state-1")})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, other, personalization.Patch{OAuthState: personalization.Set("state-2")})
	require.NoError(t, err)

	found, err := store.FindByState(ctx, "state-2")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, other, found.Key())

	missing, err := store.FindByState(ctx, "unknown")
	require.NoError(t, err)
	assert.Nil(t, missing)

	empty, err := store.FindByState(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, empty)
}

func testConsumeState(t *testing.T, store personalization.Store) {
	ctx := context.Background()

	ok, err := store.ConsumeState(ctx, key, "state-1")
	require.NoError(t, err)
	assert.False(t, ok, "missing record")

	_, err = store.Upsert(ctx, key, personalization.Patch{
		OAuthState:       personalization.Set("state-1"),
		ExtractionStatus: personalization.StatusPtr(personalization.StatusOAuthPending),
	})
	require.NoError(t, err)

	ok, err = store.ConsumeState(ctx, key, "wrong")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.ConsumeState(ctx, key, "state-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ConsumeState(ctx, key, "state-1")
	require.NoError(t, err)
	assert.False(t, ok, "state is single use")

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got.OAuthState)
	assert.Equal(t, personalization.StatusOAuthPending, got.ExtractionStatus, "only the state changes")
}

func testConcurrentConsumeState(t *testing.T, store personalization.Store) {
	ctx := context.Background()
	_, err := store.Upsert(ctx, key, personalization.Patch{OAuthState: personalization.Set("state-1")})
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.ConsumeState(ctx, key, "state-1")
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func testListConnected(t *testing.T, store personalization.Store) {
	ctx := context.Background()
	connected := personalization.Key{TrainerID: "t1", CourseID: "c1"}
	accessOnly := personalization.Key{TrainerID: "t2", CourseID: "c1"}
	empty := personalization.Key{TrainerID: "t3", CourseID: "c1"}

	_, err := store.Upsert(ctx, connected, personalization.Patch{
		AccessToken: personalization.Set("a"), RefreshToken: personalization.Set("r"),
	})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, accessOnly, personalization.Patch{AccessToken: personalization.Set("a")})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, empty, personalization.Patch{})
	require.NoError(t, err)

	records, err := store.ListConnected(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, connected, records[0].Key())
}

func testListAutoRefresh(t *testing.T, store personalization.Store) {
	ctx := context.Background()
	disabled := false

	eligible := personalization.Key{TrainerID: "t1", CourseID: "c1"}
	optedOut := personalization.Key{TrainerID: "t2", CourseID: "c1"}
	expired := personalization.Key{TrainerID: "t3", CourseID: "c1"}
	noToken := personalization.Key{TrainerID: "t4", CourseID: "c1"}

	_, err := store.Upsert(ctx, eligible, personalization.Patch{
		AccessToken: personalization.Set("a"), ExtractionStatus: personalization.StatusPtr(personalization.StatusSuccess),
	})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, optedOut, personalization.Patch{
		AccessToken: personalization.Set("a"), AutoRefreshEnabled: &disabled,
	})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, expired, personalization.Patch{
		AccessToken: personalization.Set("a"), ExtractionStatus: personalization.StatusPtr(personalization.StatusTokenExpired),
	})
	require.NoError(t, err)
	_, err = store.Upsert(ctx, noToken, personalization.Patch{})
	require.NoError(t, err)

	records, err := store.ListAutoRefresh(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, eligible, records[0].Key())
}

func testConcurrentUpserts(t *testing.T, store personalization.Store) {
	ctx := context.Background()
	_, err := store.Upsert(ctx, key, personalization.Patch{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, err := store.Upsert(ctx, key, personalization.Patch{AccessToken: personalization.Set("a")})
				assert.NoError(t, err)
			} else {
				_, err := store.Upsert(ctx, key, personalization.Patch{RefreshToken: personalization.Set("r")})
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	got, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, got.HasTokens(), "no patch may be lost")
}
