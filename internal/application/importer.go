package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/openforum/skyrelay/internal/domain/model"
	"github.com/openforum/skyrelay/internal/domain/port/driven"
)

// ImportService pulls replies and engagement counts for previously broadcast
// posts back from the network, for the authoring subsystem to merge into its
// own comment and stats storage.
type ImportService struct {
	lifecycle *LifecycleService
	client    driven.NetworkClient
	replies   driven.ReplyStore
	now       func() time.Time
}

// NewImportService creates an ImportService.
func NewImportService(lifecycle *LifecycleService, client driven.NetworkClient, replies driven.ReplyStore) *ImportService {
	return &ImportService{
		lifecycle: lifecycle,
		client:    client,
		replies:   replies,
		now:       time.Now,
	}
}

// ImportReplies fetches the immediate replies to a broadcast post and
// returns the ones not seen before, in thread order. Returned replies are
// marked imported, so the next call only yields newer ones.
func (s *ImportService) ImportReplies(ctx context.Context, accountID, postURI string) ([]model.ImportedReply, error) {
	session, err := s.lifecycle.SessionFor(ctx, accountID)
	if err != nil {
		return nil, err
	}

	candidates, err := s.client.GetThread(ctx, session, postURI, 1)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	uris := make([]string, 0, len(candidates))
	for _, r := range candidates {
		if r.URI == "" {
			// A reply the network could not materialize (deleted or blocked)
			// is skipped, not fatal for the batch.
			slog.Debug("skipping reply without a reference", "post_uri", postURI)
			continue
		}
		uris = append(uris, r.URI)
	}

	fresh, err := s.replies.FilterNewReplyURIs(ctx, uris)
	if err != nil {
		return nil, err
	}
	if len(fresh) == 0 {
		return nil, nil
	}

	keep := make(map[string]struct{}, len(fresh))
	for _, uri := range fresh {
		keep[uri] = struct{}{}
	}

	var imported []model.ImportedReply
	for _, r := range candidates {
		if _, ok := keep[r.URI]; ok {
			imported = append(imported, r)
		}
	}

	if err := s.replies.MarkRepliesImported(ctx, postURI, fresh); err != nil {
		return nil, err
	}

	slog.Info("replies imported", "post_uri", postURI, "fetched", len(candidates), "new", len(imported))
	return imported, nil
}

// SyncEngagement fetches aggregate like/repost/reply counts for a broadcast
// post, stores the snapshot, and returns it.
func (s *ImportService) SyncEngagement(ctx context.Context, accountID, postURI string) (*model.EngagementSnapshot, error) {
	session, err := s.lifecycle.SessionFor(ctx, accountID)
	if err != nil {
		return nil, err
	}

	snapshot, err := s.client.GetEngagement(ctx, session, postURI)
	if err != nil {
		return nil, err
	}
	snapshot.SyncedAt = s.now()

	if err := s.replies.SaveEngagement(ctx, snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}
