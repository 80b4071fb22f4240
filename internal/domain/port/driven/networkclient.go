package driven

import (
	"context"
	"time"

	"github.com/openforum/skyrelay/internal/domain/model"
)

// NetworkClient defines the driven port for the federated network's API.
// Every method performs network I/O and honors the caller's context.
// Failures are classified as model.FlowError kinds where the cause is
// expected (auth, rate limit, not found); anything else is a wrapped error.
type NetworkClient interface {
	// CreateSession authenticates with an identifier (handle or DID) and an
	// app password, returning a fresh session with both tokens.
	CreateSession(ctx context.Context, identifier, appPassword string) (*model.Session, error)

	// RefreshSession exchanges a renewal token for a new token pair without
	// re-authenticating. The access token of the old session is not reused.
	RefreshSession(ctx context.Context, session *model.Session) (*model.Session, error)

	// ResolveHandle maps a normalized handle to its DID.
	// Returns a not-found kind error for unregistered handles.
	ResolveHandle(ctx context.Context, handle string) (string, error)

	// GetProfile fetches the public profile for a DID.
	GetProfile(ctx context.Context, did string) (*model.Profile, error)

	// CreatePost publishes text with its rich-text entities under the session's
	// identity and returns the created post's stable reference.
	CreatePost(ctx context.Context, session *model.Session, text string, entities []model.RichTextEntity, createdAt time.Time) (*model.BroadcastResult, error)

	// GetThread fetches the thread rooted at postURI down to the given depth
	// and returns the immediate replies.
	GetThread(ctx context.Context, session *model.Session, postURI string, depth int) ([]model.ImportedReply, error)

	// GetEngagement fetches aggregate like/repost/reply counts for a post.
	GetEngagement(ctx context.Context, session *model.Session, postURI string) (*model.EngagementSnapshot, error)
}
