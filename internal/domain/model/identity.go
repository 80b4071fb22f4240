package model

import "time"

// LinkState is the lifecycle state of an account's link to the federated network.
type LinkState string

const (
	// LinkStateUnlinked means no credentials are stored for the account.
	LinkStateUnlinked LinkState = "unlinked"
	// LinkStateConnected means the first authentication succeeded but the
	// identity binding has not yet been through a refresh cycle.
	LinkStateConnected LinkState = "connected"
	// LinkStateValid means credentials were refreshed ahead of expiry and are usable.
	LinkStateValid LinkState = "valid"
	// LinkStateNeedsRenewal means every automatic refresh strategy was
	// exhausted; the user must reconnect with a fresh app password.
	LinkStateNeedsRenewal LinkState = "needs_renewal"
)

// LinkedIdentity binds a local forum account to an identity on the federated
// network, together with its encrypted credential record. The DID is immutable
// once verified; the handle may change on the remote side and is re-verified
// on refresh.
type LinkedIdentity struct {
	AccountID string
	Handle    string // Normalized: lowercase, no leading "@".
	DID       string
	Verified  bool
	State     LinkState

	// Credential record. Token fields hold vault blobs ("iv:ct:tag" hex),
	// never plaintext. Empty when State is LinkStateUnlinked.
	AccessTokenEnc   string
	RenewalTokenEnc  string
	AccessExpiresAt  time.Time // Zero means unknown; treated as already expired.
	ConnectedAt      time.Time
	BroadcastEnabled bool
}

// Linked reports whether the identity currently holds stored credentials.
func (li *LinkedIdentity) Linked() bool {
	return li.State != "" && li.State != LinkStateUnlinked
}

// Session is a live authenticated session on the federated network.
// Tokens are plaintext and must never be persisted; the vault encrypts
// them before they reach storage.
type Session struct {
	DID          string
	Handle       string
	AccessToken  string
	RenewalToken string
}

// Profile is the network's public view of an identity.
type Profile struct {
	DID         string
	Handle      string
	DisplayName string
}
