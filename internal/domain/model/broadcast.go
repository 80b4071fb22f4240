package model

import "time"

// SourcePost is the authoring subsystem's view of a forum post handed to the
// broadcast gateway. Content is forum markdown; the gateway converts it to
// plain text before fitting it to the network's length budget.
type SourcePost struct {
	ID                int64
	AuthorAccountID   string
	Content           string
	AuthorAttribution string
	CanonicalURL      string

	// Moderation/visibility flags checked by the broadcast policy gate.
	Private   bool
	Anonymous bool
	Approved  bool
}

// EntityKind classifies a rich-text entity in outbound text.
type EntityKind string

const (
	EntityLink    EntityKind = "link"
	EntityMention EntityKind = "mention"
)

// RichTextEntity marks a byte range of outbound text as a link or mention so
// the network renders it correctly. Offsets are byte offsets into the UTF-8
// encoded text, as the network's facet model requires.
type RichTextEntity struct {
	ByteStart int
	ByteEnd   int
	Kind      EntityKind
	Value     string // Link target or mention handle.
}

// BroadcastResult is returned after a successful broadcast.
type BroadcastResult struct {
	URI       string // Stable reference of the created post (at:// URI).
	CID       string // Content identifier of the record.
	Truncated bool   // True when content was shortened to fit the budget.
}

// ImportedReply is a remote reply to a previously broadcast post, mapped for
// the authoring subsystem to merge into its own comment storage. Deduplicated
// by URI before it reaches the caller.
type ImportedReply struct {
	URI               string
	CID               string
	Text              string
	AuthorHandle      string
	AuthorDisplayName string
	CreatedAt         time.Time
}

// EngagementSnapshot holds aggregate engagement counts for a broadcast post.
// Overwritten in full on each sync.
type EngagementSnapshot struct {
	PostURI  string
	Likes    int
	Reposts  int
	Replies  int
	SyncedAt time.Time
}

// RefreshResult reports the outcome of a single credential refresh.
type RefreshResult struct {
	Refreshed  bool
	Via        string // "renewal token" or "app password"; empty on failure.
	Reason     string // Human-readable failure reason; empty on success.
	RetryLater bool   // True when the failure was a rate limit and a later retry may succeed.
}

// BatchRefreshReport tallies a sequential batch refresh pass.
type BatchRefreshReport struct {
	Total     int
	Refreshed int
	Skipped   int
	Failed    int
	Errors    []string
}
