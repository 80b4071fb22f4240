package application

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/openforum/skyrelay/internal/domain/model"
	"github.com/openforum/skyrelay/internal/domain/port/driven"
)

// handlePattern is a conservative label-dot-label check; it accepts
// "name.example.social" and rejects bare words, leading dots, and whitespace.
var handlePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*(\.[a-z0-9][a-z0-9-]*)+$`)

// didPattern matches the network's stable identifier: a fixed prefix plus a
// 24-character base32 body.
var didPattern = regexp.MustCompile(`^did:plc:[a-z2-7]{24}$`)

// NormalizeHandle strips a leading "@", lowercases, and trims whitespace.
func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(handle), "@"))
}

// ValidHandle reports whether h (already normalized) looks like a handle.
func ValidHandle(h string) bool {
	return h != "" && strings.Contains(h, ".") && handlePattern.MatchString(h)
}

// ValidDID reports whether id is a well-formed stable identifier.
func ValidDID(id string) bool {
	return didPattern.MatchString(id)
}

// Resolver maps handles to stable identifiers and verifies that a claimed
// identifier still owns a handle.
type Resolver struct {
	client driven.NetworkClient
}

// NewResolver creates a Resolver over the network client.
func NewResolver(client driven.NetworkClient) *Resolver {
	return &Resolver{client: client}
}

// ResolvedIdentity is the outcome of a handle resolution.
type ResolvedIdentity struct {
	DID         string
	Handle      string
	DisplayName string
}

// Resolve maps a handle to its DID and, best-effort, its display name.
// An unregistered handle yields a not-found kind error. A failure of the
// secondary profile lookup degrades to the bare handle as display name
// instead of failing the resolution.
func (r *Resolver) Resolve(ctx context.Context, handle string) (*ResolvedIdentity, error) {
	normalized := NormalizeHandle(handle)
	if !ValidHandle(normalized) {
		return nil, model.FormatError(fmt.Sprintf("invalid handle %q", handle))
	}

	did, err := r.client.ResolveHandle(ctx, normalized)
	if err != nil {
		return nil, err
	}
	if !ValidDID(did) {
		return nil, fmt.Errorf("network returned malformed identifier %q for handle %q", did, normalized)
	}

	resolved := &ResolvedIdentity{DID: did, Handle: normalized, DisplayName: normalized}
	if profile, err := r.client.GetProfile(ctx, did); err != nil {
		slog.Warn("profile lookup failed, using degraded display name", "handle", normalized, "error", err)
	} else if profile.DisplayName != "" {
		resolved.DisplayName = profile.DisplayName
	}
	return resolved, nil
}

// VerifyBinding fetches the profile for did and reports whether its current
// handle equals the expected one. Used to refuse linking an identifier that
// has since been reassigned to a different handle.
func (r *Resolver) VerifyBinding(ctx context.Context, did, expectedHandle string) (bool, error) {
	profile, err := r.client.GetProfile(ctx, did)
	if err != nil {
		return false, err
	}
	return NormalizeHandle(profile.Handle) == NormalizeHandle(expectedHandle), nil
}
