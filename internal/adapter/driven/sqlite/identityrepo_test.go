package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openforum/skyrelay/internal/domain/model"
	"github.com/openforum/skyrelay/internal/domain/port/driven"
)

func testIdentity(accountID string) *model.LinkedIdentity {
	return &model.LinkedIdentity{
		AccountID:       accountID,
		Handle:          "alice.example.social",
		DID:             "did:plc:abcdefghij234567abcdefgh",
		Verified:        true,
		State:           model.LinkStateValid,
		AccessTokenEnc:  "6976:6374:746167",
		RenewalTokenEnc: "6976:6374:746168",
		AccessExpiresAt: time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC),
		ConnectedAt:     time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC),
	}
}

func TestIdentityRepo_UpsertAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewIdentityRepo(db)
	ctx := context.Background()

	want := testIdentity("acct-1")
	require.NoError(t, repo.Upsert(ctx, want))

	got, err := repo.Get(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, want.Handle, got.Handle)
	assert.Equal(t, want.DID, got.DID)
	assert.True(t, got.Verified)
	assert.Equal(t, model.LinkStateValid, got.State)
	assert.Equal(t, want.AccessTokenEnc, got.AccessTokenEnc)
	assert.Equal(t, want.RenewalTokenEnc, got.RenewalTokenEnc)
	assert.True(t, want.AccessExpiresAt.Equal(got.AccessExpiresAt))
	assert.True(t, want.ConnectedAt.Equal(got.ConnectedAt))
}

func TestIdentityRepo_GetMissing(t *testing.T) {
	db := setupTestDB(t)
	repo := NewIdentityRepo(db)

	_, err := repo.Get(context.Background(), "nobody")

	assert.ErrorIs(t, err, driven.ErrIdentityNotFound)
}

func TestIdentityRepo_UpsertOverwrites(t *testing.T) {
	db := setupTestDB(t)
	repo := NewIdentityRepo(db)
	ctx := context.Background()

	identity := testIdentity("acct-1")
	require.NoError(t, repo.Upsert(ctx, identity))

	identity.Handle = "renamed.example.social"
	identity.State = model.LinkStateNeedsRenewal
	require.NoError(t, repo.Upsert(ctx, identity))

	got, err := repo.Get(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "renamed.example.social", got.Handle)
	assert.Equal(t, model.LinkStateNeedsRenewal, got.State)
}

func TestIdentityRepo_ZeroTimesRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	repo := NewIdentityRepo(db)
	ctx := context.Background()

	identity := testIdentity("acct-1")
	identity.AccessExpiresAt = time.Time{}
	identity.ConnectedAt = time.Time{}
	require.NoError(t, repo.Upsert(ctx, identity))

	got, err := repo.Get(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, got.AccessExpiresAt.IsZero())
	assert.True(t, got.ConnectedAt.IsZero())
}

func TestIdentityRepo_UpdateCredentials(t *testing.T) {
	db := setupTestDB(t)
	repo := NewIdentityRepo(db)
	ctx := context.Background()

	identity := testIdentity("acct-1")
	require.NoError(t, repo.Upsert(ctx, identity))

	newExpiry := identity.AccessExpiresAt.Add(time.Hour)
	applied, err := repo.UpdateCredentials(ctx, "acct-1", "aaaa:bbbb:cccc", "dddd:eeee:ffff",
		newExpiry, model.LinkStateValid, identity.AccessExpiresAt)

	require.NoError(t, err)
	assert.True(t, applied)

	got, err := repo.Get(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, "aaaa:bbbb:cccc", got.AccessTokenEnc)
	assert.True(t, newExpiry.Equal(got.AccessExpiresAt))
}

func TestIdentityRepo_UpdateCredentialsGuardFails(t *testing.T) {
	db := setupTestDB(t)
	repo := NewIdentityRepo(db)
	ctx := context.Background()

	identity := testIdentity("acct-1")
	require.NoError(t, repo.Upsert(ctx, identity))

	// The observed expiry is stale: someone else refreshed in between.
	staleExpiry := identity.AccessExpiresAt.Add(-time.Hour)
	applied, err := repo.UpdateCredentials(ctx, "acct-1", "aaaa:bbbb:cccc", "dddd:eeee:ffff",
		identity.AccessExpiresAt.Add(time.Hour), model.LinkStateValid, staleExpiry)

	require.NoError(t, err)
	assert.False(t, applied)

	got, err := repo.Get(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, identity.AccessTokenEnc, got.AccessTokenEnc)
}

func TestIdentityRepo_UpdateCredentialsZeroExpectedExpiry(t *testing.T) {
	db := setupTestDB(t)
	repo := NewIdentityRepo(db)
	ctx := context.Background()

	identity := testIdentity("acct-1")
	identity.AccessExpiresAt = time.Time{}
	require.NoError(t, repo.Upsert(ctx, identity))

	newExpiry := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)
	applied, err := repo.UpdateCredentials(ctx, "acct-1", "aaaa:bbbb:cccc", "dddd:eeee:ffff",
		newExpiry, model.LinkStateValid, time.Time{})

	require.NoError(t, err)
	assert.True(t, applied)
}

func TestIdentityRepo_SetState(t *testing.T) {
	db := setupTestDB(t)
	repo := NewIdentityRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, testIdentity("acct-1")))
	require.NoError(t, repo.SetState(ctx, "acct-1", model.LinkStateNeedsRenewal))

	got, err := repo.Get(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, model.LinkStateNeedsRenewal, got.State)
}

func TestIdentityRepo_ClearCredentials(t *testing.T) {
	db := setupTestDB(t)
	repo := NewIdentityRepo(db)
	ctx := context.Background()

	identity := testIdentity("acct-1")
	identity.BroadcastEnabled = true
	require.NoError(t, repo.Upsert(ctx, identity))

	require.NoError(t, repo.ClearCredentials(ctx, "acct-1"))

	got, err := repo.Get(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, model.LinkStateUnlinked, got.State)
	assert.Empty(t, got.Handle)
	assert.Empty(t, got.DID)
	assert.False(t, got.Verified)
	assert.Empty(t, got.AccessTokenEnc)
	assert.Empty(t, got.RenewalTokenEnc)
	assert.True(t, got.AccessExpiresAt.IsZero())
	assert.False(t, got.BroadcastEnabled)
}

func TestIdentityRepo_SetBroadcastEnabled(t *testing.T) {
	db := setupTestDB(t)
	repo := NewIdentityRepo(db)
	ctx := context.Background()

	require.NoError(t, repo.Upsert(ctx, testIdentity("acct-1")))
	require.NoError(t, repo.SetBroadcastEnabled(ctx, "acct-1", true))

	got, err := repo.Get(ctx, "acct-1")
	require.NoError(t, err)
	assert.True(t, got.BroadcastEnabled)
}

func TestIdentityRepo_SetBroadcastEnabledRejectsUnlinked(t *testing.T) {
	db := setupTestDB(t)
	repo := NewIdentityRepo(db)
	ctx := context.Background()

	err := repo.SetBroadcastEnabled(ctx, "nobody", true)
	assert.ErrorIs(t, err, driven.ErrIdentityNotFound)

	identity := testIdentity("acct-1")
	identity.State = model.LinkStateUnlinked
	require.NoError(t, repo.Upsert(ctx, identity))

	err = repo.SetBroadcastEnabled(ctx, "acct-1", true)
	assert.ErrorIs(t, err, driven.ErrIdentityNotFound)
}

func TestIdentityRepo_ListLinked(t *testing.T) {
	db := setupTestDB(t)
	repo := NewIdentityRepo(db)
	ctx := context.Background()

	b := testIdentity("acct-b")
	a := testIdentity("acct-a")
	unlinked := testIdentity("acct-c")
	unlinked.State = model.LinkStateUnlinked
	require.NoError(t, repo.Upsert(ctx, b))
	require.NoError(t, repo.Upsert(ctx, a))
	require.NoError(t, repo.Upsert(ctx, unlinked))

	identities, err := repo.ListLinked(ctx)

	require.NoError(t, err)
	require.Len(t, identities, 2)
	assert.Equal(t, "acct-a", identities[0].AccountID)
	assert.Equal(t, "acct-b", identities[1].AccountID)
}

func TestIdentityRepo_ListLinkedEmpty(t *testing.T) {
	db := setupTestDB(t)
	repo := NewIdentityRepo(db)

	identities, err := repo.ListLinked(context.Background())

	require.NoError(t, err)
	assert.Empty(t, identities)
}
