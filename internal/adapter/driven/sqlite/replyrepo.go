package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/openforum/skyrelay/internal/domain/model"
	"github.com/openforum/skyrelay/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ReplyStore = (*ReplyRepo)(nil)

// ReplyRepo is the SQLite implementation of the ReplyStore port. It keeps
// only dedup bookkeeping and engagement snapshots; reply bodies live in the
// authoring subsystem's own storage.
type ReplyRepo struct {
	db *DB
}

// NewReplyRepo creates a new ReplyRepo.
func NewReplyRepo(db *DB) *ReplyRepo {
	return &ReplyRepo{db: db}
}

// FilterNewReplyURIs returns the subset of uris not yet imported, preserving
// input order.
func (r *ReplyRepo) FilterNewReplyURIs(ctx context.Context, uris []string) ([]string, error) {
	if len(uris) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(uris)), ",")
	query := fmt.Sprintf(`SELECT uri FROM imported_replies WHERE uri IN (%s)`, placeholders)

	args := make([]any, len(uris))
	for i, u := range uris {
		args[i] = u
	}

	rows, err := r.db.Reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("filter reply uris: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	for rows.Next() {
		var uri string
		if err := rows.Scan(&uri); err != nil {
			return nil, fmt.Errorf("scan reply uri: %w", err)
		}
		seen[uri] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reply uris: %w", err)
	}

	var fresh []string
	for _, u := range uris {
		if _, ok := seen[u]; !ok {
			fresh = append(fresh, u)
		}
	}
	return fresh, nil
}

// MarkRepliesImported records reply URIs as imported for a broadcast post.
// Already-recorded URIs are ignored.
func (r *ReplyRepo) MarkRepliesImported(ctx context.Context, postURI string, uris []string) error {
	if len(uris) == 0 {
		return nil
	}

	const query = `INSERT OR IGNORE INTO imported_replies (uri, post_uri) VALUES (?, ?)`
	for _, uri := range uris {
		if _, err := r.db.Writer.ExecContext(ctx, query, uri, postURI); err != nil {
			return fmt.Errorf("mark reply %q imported: %w", uri, err)
		}
	}
	return nil
}

// SaveEngagement overwrites the engagement snapshot for a post.
func (r *ReplyRepo) SaveEngagement(ctx context.Context, snapshot *model.EngagementSnapshot) error {
	const query = `
		INSERT OR REPLACE INTO engagement_snapshots (post_uri, likes, reposts, replies, synced_at)
		VALUES (?, ?, ?, ?, ?)`

	_, err := r.db.Writer.ExecContext(ctx, query,
		snapshot.PostURI, snapshot.Likes, snapshot.Reposts, snapshot.Replies,
		snapshot.SyncedAt.UTC().Format("2006-01-02T15:04:05Z"),
	)
	if err != nil {
		return fmt.Errorf("save engagement %q: %w", snapshot.PostURI, err)
	}
	return nil
}

// GetEngagement returns the stored snapshot, or nil when none exists.
func (r *ReplyRepo) GetEngagement(ctx context.Context, postURI string) (*model.EngagementSnapshot, error) {
	const query = `SELECT post_uri, likes, reposts, replies, synced_at FROM engagement_snapshots WHERE post_uri = ?`

	var snap model.EngagementSnapshot
	var syncedAt string
	err := r.db.Reader.QueryRowContext(ctx, query, postURI).Scan(
		&snap.PostURI, &snap.Likes, &snap.Reposts, &snap.Replies, &syncedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get engagement %q: %w", postURI, err)
	}

	if snap.SyncedAt, err = parseTime(syncedAt); err != nil {
		return nil, fmt.Errorf("parse synced_at for %q: %w", postURI, err)
	}
	return &snap, nil
}
