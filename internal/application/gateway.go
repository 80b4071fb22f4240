package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/openforum/skyrelay/internal/domain/model"
	"github.com/openforum/skyrelay/internal/domain/port/driven"
	"github.com/openforum/skyrelay/internal/textfit"
)

// postLengthLimit is the network's hard cap on post length.
const postLengthLimit = 300

// Policy refusals from the broadcast gate. Centralized broadcasting must not
// leak identity-sensitive or unapproved content to an external network.
var (
	ErrPrivatePost    = errors.New("post is scoped to a private community")
	ErrAnonymousPost  = errors.New("post is anonymous")
	ErrUnapprovedPost = errors.New("post is not approved by moderation")
)

// BroadcastService composes, fits, and submits outbound posts.
type BroadcastService struct {
	lifecycle   *LifecycleService
	client      driven.NetworkClient
	platformTag string
	now         func() time.Time
}

// NewBroadcastService creates a BroadcastService. platformTag is the short
// marker appended to every outbound post (e.g. "via OpenForum").
func NewBroadcastService(lifecycle *LifecycleService, client driven.NetworkClient, platformTag string) *BroadcastService {
	return &BroadcastService{
		lifecycle:   lifecycle,
		client:      client,
		platformTag: platformTag,
		now:         time.Now,
	}
}

// CanBroadcast is the policy gate: it refuses posts from private
// communities, anonymous posts, and posts not yet approved by moderation.
func (s *BroadcastService) CanBroadcast(post *model.SourcePost) error {
	switch {
	case post.Private:
		return ErrPrivatePost
	case post.Anonymous:
		return ErrAnonymousPost
	case !post.Approved:
		return ErrUnapprovedPost
	}
	return nil
}

// Broadcast publishes a forum post to the network: plain-text the content,
// fit it with the attribution footer into the length budget, annotate links
// and mentions, and submit under the best available identity: the author's
// own linked identity when broadcast-enabled, otherwise the platform
// broadcaster.
func (s *BroadcastService) Broadcast(ctx context.Context, post *model.SourcePost) (*model.BroadcastResult, error) {
	if err := s.CanBroadcast(post); err != nil {
		return nil, err
	}

	accountID := s.broadcasterAccountID(ctx, post)
	session, err := s.lifecycle.SessionFor(ctx, accountID)
	if err != nil {
		return nil, err
	}

	content := plainText(post.Content)
	footer := "\n\n" + post.AuthorAttribution + "\n" + s.platformTag + "\n" + post.CanonicalURL

	fitted := textfit.Fit(content, footer, postLengthLimit)
	text := fitted.Text + footer

	// The fitter guarantees this; a violation is an internal bug, not a
	// user-facing condition.
	if utf8.RuneCountInString(text) > postLengthLimit {
		slog.Error("fitted text exceeds the length budget",
			"post_id", post.ID, "length", utf8.RuneCountInString(text), "limit", postLengthLimit)
		return nil, model.NewFlowError(model.KindLengthExceeded,
			fmt.Sprintf("fitted text is %d units over the %d budget", utf8.RuneCountInString(text)-postLengthLimit, postLengthLimit), nil)
	}

	entities := detectEntities(text)

	result, err := s.client.CreatePost(ctx, session, text, entities, s.now())
	if model.IsKind(err, model.KindSessionExpired) {
		// The network rejected a token our records still consider valid;
		// force the refresh chain and retry once with the new credentials.
		s.lifecycle.cache.Drop(session.DID)
		session, err = s.lifecycle.sessionViaRefresh(ctx, accountID)
		if err != nil {
			return nil, err
		}
		result, err = s.client.CreatePost(ctx, session, text, entities, s.now())
	}
	if err != nil {
		return nil, err
	}

	result.Truncated = fitted.Truncated
	slog.Info("post broadcast", "post_id", post.ID, "uri", result.URI, "truncated", result.Truncated)
	return result, nil
}

// broadcasterAccountID applies the hybrid broadcast policy: the author's own
// linked identity wins when it is linked and broadcast-enabled; everything
// else goes out through the platform broadcaster.
func (s *BroadcastService) broadcasterAccountID(ctx context.Context, post *model.SourcePost) string {
	if post.AuthorAccountID != "" {
		if identity, err := s.lifecycle.Status(ctx, post.AuthorAccountID); err == nil &&
			identity.Linked() && identity.BroadcastEnabled {
			return post.AuthorAccountID
		}
	}
	return s.lifecycle.PlatformAccountID()
}
