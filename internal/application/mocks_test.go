package application

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/openforum/skyrelay/internal/domain/model"
	"github.com/openforum/skyrelay/internal/domain/port/driven"
)

// mockNetworkClient implements driven.NetworkClient with per-method function
// hooks. Unconfigured methods fail, so tests only exercise the calls they
// expect.
type mockNetworkClient struct {
	createSessionFn  func(ctx context.Context, identifier, appPassword string) (*model.Session, error)
	refreshSessionFn func(ctx context.Context, session *model.Session) (*model.Session, error)
	resolveHandleFn  func(ctx context.Context, handle string) (string, error)
	getProfileFn     func(ctx context.Context, did string) (*model.Profile, error)
	createPostFn     func(ctx context.Context, session *model.Session, text string, entities []model.RichTextEntity, createdAt time.Time) (*model.BroadcastResult, error)
	getThreadFn      func(ctx context.Context, session *model.Session, postURI string, depth int) ([]model.ImportedReply, error)
	getEngagementFn  func(ctx context.Context, session *model.Session, postURI string) (*model.EngagementSnapshot, error)

	callMu              sync.Mutex
	createSessionCalls  int
	refreshSessionCalls int
	createPostCalls     int
}

func (m *mockNetworkClient) count(counter *int) int {
	m.callMu.Lock()
	defer m.callMu.Unlock()
	*counter++
	return *counter
}

func (m *mockNetworkClient) refreshCalls() int {
	m.callMu.Lock()
	defer m.callMu.Unlock()
	return m.refreshSessionCalls
}

func (m *mockNetworkClient) CreateSession(ctx context.Context, identifier, appPassword string) (*model.Session, error) {
	m.count(&m.createSessionCalls)
	if m.createSessionFn == nil {
		return nil, errors.New("unexpected CreateSession call")
	}
	return m.createSessionFn(ctx, identifier, appPassword)
}

func (m *mockNetworkClient) RefreshSession(ctx context.Context, session *model.Session) (*model.Session, error) {
	m.count(&m.refreshSessionCalls)
	if m.refreshSessionFn == nil {
		return nil, errors.New("unexpected RefreshSession call")
	}
	return m.refreshSessionFn(ctx, session)
}

func (m *mockNetworkClient) ResolveHandle(ctx context.Context, handle string) (string, error) {
	if m.resolveHandleFn == nil {
		return "", errors.New("unexpected ResolveHandle call")
	}
	return m.resolveHandleFn(ctx, handle)
}

func (m *mockNetworkClient) GetProfile(ctx context.Context, did string) (*model.Profile, error) {
	if m.getProfileFn == nil {
		return nil, errors.New("unexpected GetProfile call")
	}
	return m.getProfileFn(ctx, did)
}

func (m *mockNetworkClient) CreatePost(ctx context.Context, session *model.Session, text string, entities []model.RichTextEntity, createdAt time.Time) (*model.BroadcastResult, error) {
	m.count(&m.createPostCalls)
	if m.createPostFn == nil {
		return nil, errors.New("unexpected CreatePost call")
	}
	return m.createPostFn(ctx, session, text, entities, createdAt)
}

func (m *mockNetworkClient) GetThread(ctx context.Context, session *model.Session, postURI string, depth int) ([]model.ImportedReply, error) {
	if m.getThreadFn == nil {
		return nil, errors.New("unexpected GetThread call")
	}
	return m.getThreadFn(ctx, session, postURI, depth)
}

func (m *mockNetworkClient) GetEngagement(ctx context.Context, session *model.Session, postURI string) (*model.EngagementSnapshot, error) {
	if m.getEngagementFn == nil {
		return nil, errors.New("unexpected GetEngagement call")
	}
	return m.getEngagementFn(ctx, session, postURI)
}

// mockIdentityStore is an in-memory IdentityStore with the same guard
// semantics as the sqlite adapter.
type mockIdentityStore struct {
	mu         sync.Mutex
	identities map[string]model.LinkedIdentity
	getErr     error
}

func newMockIdentityStore() *mockIdentityStore {
	return &mockIdentityStore{identities: make(map[string]model.LinkedIdentity)}
}

func (m *mockIdentityStore) Get(_ context.Context, accountID string) (*model.LinkedIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	identity, ok := m.identities[accountID]
	if !ok {
		return nil, driven.ErrIdentityNotFound
	}
	copied := identity
	return &copied, nil
}

func (m *mockIdentityStore) Upsert(_ context.Context, identity *model.LinkedIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities[identity.AccountID] = *identity
	return nil
}

func (m *mockIdentityStore) UpdateCredentials(_ context.Context, accountID string, accessEnc, renewalEnc string, expiresAt time.Time, state model.LinkState, expectedExpiresAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	identity, ok := m.identities[accountID]
	if !ok || !identity.AccessExpiresAt.Equal(expectedExpiresAt) {
		return false, nil
	}
	identity.AccessTokenEnc = accessEnc
	identity.RenewalTokenEnc = renewalEnc
	identity.AccessExpiresAt = expiresAt
	identity.State = state
	m.identities[accountID] = identity
	return true, nil
}

func (m *mockIdentityStore) SetState(_ context.Context, accountID string, state model.LinkState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	identity, ok := m.identities[accountID]
	if !ok {
		return driven.ErrIdentityNotFound
	}
	identity.State = state
	m.identities[accountID] = identity
	return nil
}

func (m *mockIdentityStore) ClearCredentials(_ context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	identity, ok := m.identities[accountID]
	if !ok {
		return driven.ErrIdentityNotFound
	}
	m.identities[accountID] = model.LinkedIdentity{
		AccountID: identity.AccountID,
		State:     model.LinkStateUnlinked,
	}
	return nil
}

func (m *mockIdentityStore) SetBroadcastEnabled(_ context.Context, accountID string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	identity, ok := m.identities[accountID]
	if !ok {
		return driven.ErrIdentityNotFound
	}
	identity.BroadcastEnabled = enabled
	m.identities[accountID] = identity
	return nil
}

func (m *mockIdentityStore) ListLinked(_ context.Context) ([]model.LinkedIdentity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.LinkedIdentity
	for _, identity := range m.identities {
		if identity.Linked() {
			out = append(out, identity)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

// mockReplyStore is an in-memory ReplyStore.
type mockReplyStore struct {
	mu        sync.Mutex
	imported  map[string]struct{}
	snapshots map[string]model.EngagementSnapshot
	markErr   error
}

func newMockReplyStore() *mockReplyStore {
	return &mockReplyStore{
		imported:  make(map[string]struct{}),
		snapshots: make(map[string]model.EngagementSnapshot),
	}
}

func (m *mockReplyStore) FilterNewReplyURIs(_ context.Context, uris []string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var fresh []string
	for _, uri := range uris {
		if _, seen := m.imported[uri]; !seen {
			fresh = append(fresh, uri)
		}
	}
	return fresh, nil
}

func (m *mockReplyStore) MarkRepliesImported(_ context.Context, _ string, uris []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.markErr != nil {
		return m.markErr
	}
	for _, uri := range uris {
		m.imported[uri] = struct{}{}
	}
	return nil
}

func (m *mockReplyStore) SaveEngagement(_ context.Context, snapshot *model.EngagementSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[snapshot.PostURI] = *snapshot
	return nil
}

func (m *mockReplyStore) GetEngagement(_ context.Context, postURI string) (*model.EngagementSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot, ok := m.snapshots[postURI]
	if !ok {
		return nil, nil
	}
	copied := snapshot
	return &copied, nil
}
