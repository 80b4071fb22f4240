package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/openforum/skyrelay/internal/domain/model"
	"github.com/openforum/skyrelay/internal/domain/port/driven"
	"github.com/openforum/skyrelay/internal/vault"
)

const (
	// refreshBuffer is how far ahead of expiry a credential counts as
	// needing refresh.
	refreshBuffer = 15 * time.Minute

	// fallbackExpiryHorizon is used when the access token carries no
	// readable expiry claim.
	fallbackExpiryHorizon = 2 * time.Hour
)

// appPasswordPattern is the network's app-password shape: four 4-character
// alphanumeric groups separated by dashes.
var appPasswordPattern = regexp.MustCompile(`^[a-z0-9]{4}-[a-z0-9]{4}-[a-z0-9]{4}-[a-z0-9]{4}$`)

// ValidAppPassword reports whether s has the app-password format.
func ValidAppPassword(s string) bool {
	return appPasswordPattern.MatchString(s)
}

// PlatformBroadcaster identifies the one system-wide account whose app
// password may come from process configuration instead of a caller.
type PlatformBroadcaster struct {
	AccountID   string
	Identifier  string
	AppPassword string
}

// LifecycleService owns the credential lifecycle: linking, refresh, and
// disconnect. It is the only component that mutates credential records.
type LifecycleService struct {
	client   driven.NetworkClient
	store    driven.IdentityStore
	vault    *vault.Vault
	resolver *Resolver
	cache    *SessionCache
	platform PlatformBroadcaster
	ttl      time.Duration
	now      func() time.Time

	// Per-account refresh guard so concurrent refreshes never interleave
	// decrypt/encrypt/persist steps.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLifecycleService creates a LifecycleService with all required dependencies.
func NewLifecycleService(
	client driven.NetworkClient,
	store driven.IdentityStore,
	v *vault.Vault,
	cache *SessionCache,
	platform PlatformBroadcaster,
	sessionTTL time.Duration,
) *LifecycleService {
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	return &LifecycleService{
		client:   client,
		store:    store,
		vault:    v,
		resolver: NewResolver(client),
		cache:    cache,
		platform: platform,
		ttl:      sessionTTL,
		now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
	}
}

// NeedsRefresh reports whether a credential expiring at expiry should be
// refreshed now: true when expiry is unknown (zero) or within the buffer.
func (s *LifecycleService) NeedsRefresh(expiry time.Time) bool {
	return expiry.IsZero() || expiry.Sub(s.now()) <= refreshBuffer
}

// Connect performs the initial link of a local account to a network identity:
// authenticate with an app password, verify the handle/DID binding, and
// persist the encrypted credential pair.
func (s *LifecycleService) Connect(ctx context.Context, accountID, handle, appPassword string) (*model.LinkedIdentity, error) {
	normalized := NormalizeHandle(handle)
	if !ValidHandle(normalized) {
		return nil, model.FormatError(fmt.Sprintf("invalid handle %q", handle))
	}
	if !ValidAppPassword(appPassword) {
		return nil, model.FormatError("app password must be four dash-separated groups of four characters")
	}

	if existing, err := s.store.Get(ctx, accountID); err == nil && existing.Verified && existing.Handle != normalized {
		// Re-linking under a different handle requires an explicit
		// disconnect first; the stable identifier must not silently change.
		return nil, model.FormatError(fmt.Sprintf("account already linked to %q; disconnect before linking %q", existing.Handle, normalized))
	}

	session, err := s.client.CreateSession(ctx, normalized, appPassword)
	if err != nil {
		return nil, err
	}
	if !ValidDID(session.DID) {
		return nil, fmt.Errorf("network returned malformed identifier %q", session.DID)
	}

	ok, err := s.resolver.VerifyBinding(ctx, session.DID, normalized)
	if err != nil {
		return nil, fmt.Errorf("verify binding for %q: %w", normalized, err)
	}
	if !ok {
		return nil, model.AuthError(fmt.Sprintf("identifier %s no longer owns handle %q", session.DID, normalized), nil)
	}

	identity := &model.LinkedIdentity{
		AccountID:   accountID,
		Handle:      normalized,
		DID:         session.DID,
		Verified:    true,
		State:       model.LinkStateConnected,
		ConnectedAt: s.now(),
	}
	if err := s.sealInto(identity, session); err != nil {
		return nil, err
	}
	if err := s.store.Upsert(ctx, identity); err != nil {
		return nil, err
	}

	s.cache.Put(session.DID, session, s.ttl)
	slog.Info("account linked", "account_id", accountID, "handle", normalized, "did", session.DID)
	return identity, nil
}

// Disconnect wipes the stored credentials and evicts any cached session.
// The account returns to the unlinked state.
func (s *LifecycleService) Disconnect(ctx context.Context, accountID string) error {
	identity, err := s.store.Get(ctx, accountID)
	if err != nil {
		if errors.Is(err, driven.ErrIdentityNotFound) {
			return nil
		}
		return err
	}
	if identity.DID != "" {
		s.cache.Drop(identity.DID)
	}
	if err := s.store.ClearCredentials(ctx, accountID); err != nil {
		return err
	}
	slog.Info("account disconnected", "account_id", accountID)
	return nil
}

// SetBroadcastEnabled toggles the broadcast flag for a linked account.
func (s *LifecycleService) SetBroadcastEnabled(ctx context.Context, accountID string, enabled bool) error {
	return s.store.SetBroadcastEnabled(ctx, accountID, enabled)
}

// Status returns the linked identity for display by the settings surface.
func (s *LifecycleService) Status(ctx context.Context, accountID string) (*model.LinkedIdentity, error) {
	return s.store.Get(ctx, accountID)
}

// Refresh runs the ordered refresh strategy chain for an account. Expected
// failures are reported in the result, not as errors; a non-nil error means
// an unexpected store or invariant failure.
func (s *LifecycleService) Refresh(ctx context.Context, accountID, appPassword string) (*model.RefreshResult, error) {
	lock := s.accountLock(accountID)
	lock.Lock()
	defer lock.Unlock()

	identity, err := s.store.Get(ctx, accountID)
	if errors.Is(err, driven.ErrIdentityNotFound) {
		identity = &model.LinkedIdentity{AccountID: accountID, State: model.LinkStateUnlinked}
	} else if err != nil {
		return nil, err
	}

	job := &refreshJob{identity: identity, appPassword: appPassword}

	for _, strategy := range s.strategies() {
		result := strategy.attempt(ctx, job)
		switch result.outcome {
		case outcomeSuccess:
			slog.Info("credentials refreshed", "account_id", accountID, "via", result.via)
			return &model.RefreshResult{Refreshed: true, Via: result.via}, nil
		case outcomeRetryNext:
			slog.Debug("refresh strategy unusable, falling through",
				"account_id", accountID, "strategy", strategy.name(), "reason", result.reason)
		case outcomeFatal:
			if !result.retryLater {
				if identity.Linked() {
					if err := s.store.SetState(ctx, accountID, model.LinkStateNeedsRenewal); err != nil {
						return nil, err
					}
				}
			}
			slog.Warn("refresh failed", "account_id", accountID,
				"strategy", strategy.name(), "reason", result.reason, "retry_later", result.retryLater)
			return &model.RefreshResult{Reason: result.reason, RetryLater: result.retryLater}, nil
		}
	}

	// Chain exhausted without a fatal verdict; should be unreachable because
	// the app-password strategy always concludes.
	return &model.RefreshResult{Reason: "no refresh strategy available"}, nil
}

// RefreshBatch walks every linked account sequentially (never in parallel,
// to stay under the network's rate limits), refreshing those whose
// credential is inside the buffer.
func (s *LifecycleService) RefreshBatch(ctx context.Context) (*model.BatchRefreshReport, error) {
	identities, err := s.store.ListLinked(ctx)
	if err != nil {
		return nil, err
	}

	report := &model.BatchRefreshReport{Total: len(identities)}
	for _, identity := range identities {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		if !s.NeedsRefresh(identity.AccessExpiresAt) {
			report.Skipped++
			continue
		}

		result, err := s.Refresh(ctx, identity.AccountID, "")
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", identity.AccountID, err))
			continue
		}
		if result.Refreshed {
			report.Refreshed++
		} else {
			report.Failed++
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %s", identity.AccountID, result.Reason))
		}
	}

	slog.Info("batch refresh complete", "total", report.Total,
		"refreshed", report.Refreshed, "skipped", report.Skipped, "failed", report.Failed)
	return report, nil
}

// SessionFor returns a usable session for the account: from cache when
// fresh, from stored credentials when they are still comfortably valid, and
// via the refresh chain otherwise.
func (s *LifecycleService) SessionFor(ctx context.Context, accountID string) (*model.Session, error) {
	identity, err := s.store.Get(ctx, accountID)
	if err != nil && !errors.Is(err, driven.ErrIdentityNotFound) {
		return nil, err
	}

	if identity != nil && identity.DID != "" {
		if session := s.cache.Get(identity.DID); session != nil {
			return session, nil
		}
	}

	if identity != nil && identity.Linked() && !s.NeedsRefresh(identity.AccessExpiresAt) {
		session, err := s.openSession(identity)
		if err == nil {
			s.cache.Put(session.DID, session, s.ttl)
			return session, nil
		}
		slog.Warn("stored credentials unusable, falling back to refresh", "account_id", accountID, "error", err)
	}

	return s.sessionViaRefresh(ctx, accountID)
}

// sessionViaRefresh runs the refresh chain and returns a session backed by
// the freshly minted credentials, bypassing the cache and the stored token.
func (s *LifecycleService) sessionViaRefresh(ctx context.Context, accountID string) (*model.Session, error) {
	result, err := s.Refresh(ctx, accountID, "")
	if err != nil {
		return nil, err
	}
	if !result.Refreshed {
		kind := model.KindAuth
		if result.RetryLater {
			kind = model.KindRateLimited
		}
		return nil, model.NewFlowError(kind, result.Reason, nil)
	}

	refreshed, err := s.store.Get(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if session := s.cache.Get(refreshed.DID); session != nil {
		return session, nil
	}
	session, err := s.openSession(refreshed)
	if err != nil {
		return nil, err
	}
	s.cache.Put(session.DID, session, s.ttl)
	return session, nil
}

// PlatformAccountID returns the account id of the system-wide broadcaster,
// or "" when none is configured.
func (s *LifecycleService) PlatformAccountID() string {
	return s.platform.AccountID
}

// --- refresh strategy chain ---

type strategyOutcome int

const (
	outcomeSuccess strategyOutcome = iota
	outcomeRetryNext
	outcomeFatal
)

type strategyResult struct {
	outcome    strategyOutcome
	via        string
	reason     string
	retryLater bool
}

// refreshJob carries the mutable state of one refresh attempt through the
// strategy chain.
type refreshJob struct {
	identity    *model.LinkedIdentity
	appPassword string
}

// refreshStrategy is one rung of the ordered fallback chain. Each attempt
// concludes with success, a hand-off to the next strategy, or a fatal verdict.
type refreshStrategy interface {
	name() string
	attempt(ctx context.Context, job *refreshJob) strategyResult
}

func (s *LifecycleService) strategies() []refreshStrategy {
	return []refreshStrategy{
		&renewalTokenStrategy{svc: s},
		&appPasswordStrategy{svc: s},
	}
}

// renewalTokenStrategy resumes the session with the stored renewal token.
// Every failure here is non-fatal: the chain falls through to the
// app-password strategy.
type renewalTokenStrategy struct {
	svc *LifecycleService
}

func (st *renewalTokenStrategy) name() string { return "renewal token" }

func (st *renewalTokenStrategy) attempt(ctx context.Context, job *refreshJob) strategyResult {
	identity := job.identity
	if !identity.Linked() || identity.RenewalTokenEnc == "" {
		return strategyResult{outcome: outcomeRetryNext, reason: "no stored renewal credential"}
	}
	if !vault.IsWellFormed(identity.AccessTokenEnc) || !vault.IsWellFormed(identity.RenewalTokenEnc) {
		return strategyResult{outcome: outcomeRetryNext, reason: "stored credential blob is malformed"}
	}

	stored, err := st.svc.openSession(identity)
	if err != nil {
		return strategyResult{outcome: outcomeRetryNext, reason: fmt.Sprintf("stored credentials unreadable: %v", err)}
	}

	session, err := st.svc.client.RefreshSession(ctx, stored)
	if err != nil {
		return strategyResult{outcome: outcomeRetryNext, reason: fmt.Sprintf("renewal rejected: %v", err)}
	}

	if err := st.svc.persistSession(ctx, job, session); err != nil {
		return strategyResult{outcome: outcomeRetryNext, reason: fmt.Sprintf("persist refreshed credentials: %v", err)}
	}
	return strategyResult{outcome: outcomeSuccess, via: st.name()}
}

// appPasswordStrategy authenticates from scratch with an app password
// supplied by the caller or, for the platform broadcaster only, from process
// configuration. It always concludes the chain.
type appPasswordStrategy struct {
	svc *LifecycleService
}

func (st *appPasswordStrategy) name() string { return "app password" }

func (st *appPasswordStrategy) attempt(ctx context.Context, job *refreshJob) strategyResult {
	svc := st.svc
	identity := job.identity

	password := job.appPassword
	identifier := identity.Handle
	if password == "" && identity.AccountID == svc.platform.AccountID && svc.platform.AppPassword != "" {
		password = svc.platform.AppPassword
		if identifier == "" {
			identifier = svc.platform.Identifier
		}
	}

	if password == "" {
		return strategyResult{outcome: outcomeFatal, reason: "cannot refresh without a credential; reconnect required"}
	}
	if !ValidAppPassword(password) {
		return strategyResult{outcome: outcomeFatal, reason: "malformed app password; reconnect required"}
	}
	if identifier == "" {
		return strategyResult{outcome: outcomeFatal, reason: "no handle on record; reconnect required"}
	}

	session, err := svc.client.CreateSession(ctx, identifier, password)
	if err != nil {
		switch model.KindOf(err) {
		case model.KindAuth:
			return strategyResult{outcome: outcomeFatal, reason: fmt.Sprintf("network rejected the credential: %v", err)}
		case model.KindRateLimited:
			return strategyResult{outcome: outcomeFatal, reason: "rate limited by the network; retry later", retryLater: true}
		default:
			return strategyResult{outcome: outcomeFatal, reason: fmt.Sprintf("authentication failed: %v", err)}
		}
	}

	// Bind or re-verify the identity before persisting fresh credentials.
	if identity.Verified && identity.DID != "" && identity.DID != session.DID {
		return strategyResult{outcome: outcomeFatal,
			reason: fmt.Sprintf("identifier changed from %s to %s; reconnect required", identity.DID, session.DID)}
	}
	if !identity.Verified {
		ok, err := svc.resolver.VerifyBinding(ctx, session.DID, session.Handle)
		if err != nil || !ok {
			return strategyResult{outcome: outcomeFatal, reason: "handle/identifier binding could not be verified; reconnect required"}
		}
		identity.DID = session.DID
		identity.Handle = NormalizeHandle(session.Handle)
		identity.Verified = true
		if identity.ConnectedAt.IsZero() {
			identity.ConnectedAt = svc.now()
		}
	}

	if err := svc.persistSession(ctx, job, session); err != nil {
		return strategyResult{outcome: outcomeFatal, reason: fmt.Sprintf("persist credentials: %v", err)}
	}
	return strategyResult{outcome: outcomeSuccess, via: st.name()}
}

// --- shared helpers ---

// accountLock returns the mutex guarding refreshes for one account.
func (s *LifecycleService) accountLock(accountID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[accountID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[accountID] = lock
	}
	return lock
}

// openSession decrypts the stored credential pair into a usable session.
func (s *LifecycleService) openSession(identity *model.LinkedIdentity) (*model.Session, error) {
	access, err := s.vault.Decrypt(identity.AccessTokenEnc)
	if err != nil {
		return nil, err
	}
	renewal, err := s.vault.Decrypt(identity.RenewalTokenEnc)
	if err != nil {
		return nil, err
	}
	return &model.Session{
		DID:          identity.DID,
		Handle:       identity.Handle,
		AccessToken:  access,
		RenewalToken: renewal,
	}, nil
}

// sealInto encrypts the session's token pair into the identity record and
// stamps the expiry.
func (s *LifecycleService) sealInto(identity *model.LinkedIdentity, session *model.Session) error {
	accessEnc, err := s.vault.Encrypt(session.AccessToken)
	if err != nil {
		return err
	}
	renewalEnc, err := s.vault.Encrypt(session.RenewalToken)
	if err != nil {
		return err
	}
	identity.AccessTokenEnc = accessEnc
	identity.RenewalTokenEnc = renewalEnc
	identity.AccessExpiresAt = s.tokenExpiry(session.AccessToken)
	return nil
}

// persistSession encrypts and stores a fresh token pair, guarded against a
// concurrent refresh having already persisted newer credentials, then caches
// the live session.
func (s *LifecycleService) persistSession(ctx context.Context, job *refreshJob, session *model.Session) error {
	identity := job.identity
	previousExpiry := identity.AccessExpiresAt
	wasLinked := identity.Linked()

	if err := s.sealInto(identity, session); err != nil {
		return err
	}
	identity.State = model.LinkStateValid

	if wasLinked {
		applied, err := s.store.UpdateCredentials(ctx, identity.AccountID,
			identity.AccessTokenEnc, identity.RenewalTokenEnc, identity.AccessExpiresAt,
			model.LinkStateValid, previousExpiry)
		if err != nil {
			return err
		}
		if !applied {
			// A concurrent refresh won the race; its credentials are just
			// as valid. Fall through to an upsert only when the row is
			// missing entirely.
			existing, getErr := s.store.Get(ctx, identity.AccountID)
			if getErr == nil && existing.Linked() {
				s.cache.Put(session.DID, session, s.ttl)
				return nil
			}
			if err := s.store.Upsert(ctx, identity); err != nil {
				return err
			}
		}
	} else {
		if err := s.store.Upsert(ctx, identity); err != nil {
			return err
		}
	}

	s.cache.Put(session.DID, session, s.ttl)
	return nil
}

// tokenExpiry reads the access token's JWT exp claim; when the token is not
// a readable JWT the fixed horizon applies.
func (s *LifecycleService) tokenExpiry(accessToken string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return s.now().Add(fallbackExpiryHorizon)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return s.now().Add(fallbackExpiryHorizon)
	}
	return exp.Time
}
