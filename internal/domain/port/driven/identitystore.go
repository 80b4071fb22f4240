package driven

import (
	"context"
	"errors"
	"time"

	"github.com/openforum/skyrelay/internal/domain/model"
)

// ErrIdentityNotFound is returned by IdentityStore lookups when no linked
// identity exists for the account.
var ErrIdentityNotFound = errors.New("linked identity not found")

// IdentityStore defines the driven port for persisting linked identities and
// their encrypted credential records. Token fields cross this boundary as
// vault blobs; the store never sees plaintext credentials.
type IdentityStore interface {
	// Get returns the linked identity for an account, or ErrIdentityNotFound.
	Get(ctx context.Context, accountID string) (*model.LinkedIdentity, error)

	// Upsert inserts or replaces the full identity row.
	Upsert(ctx context.Context, identity *model.LinkedIdentity) error

	// UpdateCredentials replaces the encrypted token pair, expiry, and state
	// for an account, but only while the stored expiry still equals
	// expectedExpiresAt. Returns (false, nil) when the guard fails, which
	// means a concurrent refresh already persisted newer credentials.
	UpdateCredentials(ctx context.Context, accountID string, accessEnc, renewalEnc string, expiresAt time.Time, state model.LinkState, expectedExpiresAt time.Time) (bool, error)

	// SetState updates only the lifecycle state.
	SetState(ctx context.Context, accountID string, state model.LinkState) error

	// ClearCredentials wipes the token pair and expiry and resets the account
	// to the unlinked state. The verified DID/handle columns are cleared too.
	ClearCredentials(ctx context.Context, accountID string) error

	// SetBroadcastEnabled toggles the broadcast flag for a linked account.
	SetBroadcastEnabled(ctx context.Context, accountID string, enabled bool) error

	// ListLinked returns every identity holding stored credentials,
	// ordered by account id for deterministic batch passes.
	ListLinked(ctx context.Context) ([]model.LinkedIdentity, error)
}

// ReplyStore defines the driven port for reply dedup bookkeeping and
// engagement snapshots owned by this subsystem. The reply bodies themselves
// are merged into the authoring subsystem's comment storage by the caller.
type ReplyStore interface {
	// FilterNewReplyURIs returns the subset of uris not yet imported,
	// preserving input order.
	FilterNewReplyURIs(ctx context.Context, uris []string) ([]string, error)

	// MarkRepliesImported records reply URIs as imported for a broadcast post.
	MarkRepliesImported(ctx context.Context, postURI string, uris []string) error

	// SaveEngagement overwrites the engagement snapshot for a post.
	SaveEngagement(ctx context.Context, snapshot *model.EngagementSnapshot) error

	// GetEngagement returns the stored snapshot, or nil when none exists.
	GetEngagement(ctx context.Context, postURI string) (*model.EngagementSnapshot, error)
}
