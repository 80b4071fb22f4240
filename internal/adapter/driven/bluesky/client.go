// Package bluesky implements the NetworkClient port against an AT-Protocol
// XRPC endpoint.
package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gregjones/httpcache"

	"github.com/openforum/skyrelay/internal/domain/model"
	"github.com/openforum/skyrelay/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.NetworkClient = (*Client)(nil)

// loginAttempts bounds the retry loop for initial authentication.
// Refresh-path failures are classified by the lifecycle manager and never
// retried here.
const loginAttempts = 3

// Client implements the driven.NetworkClient port by speaking XRPC over HTTP.
// GET lookups (profiles, threads) go through an httpcache memory transport so
// repeated reads within a poll cycle become conditional requests.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the personal data server at baseURL
// (e.g. "https://bsky.social").
func NewClient(baseURL string) *Client {
	transport := httpcache.NewMemoryCacheTransport()
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Transport: transport, Timeout: 30 * time.Second},
	}
}

// NewClientWithHTTPClient creates a Client with a custom http.Client.
// This constructor is intended for testing, allowing injection of an
// httptest server.
func NewClientWithHTTPClient(httpClient *http.Client, baseURL string) *Client {
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

// --- wire types ---

type sessionResponse struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	Handle     string `json:"handle"`
	DID        string `json:"did"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type facet struct {
	Index    facetIndex     `json:"index"`
	Features []facetFeature `json:"features"`
}

type facetIndex struct {
	ByteStart int `json:"byteStart"`
	ByteEnd   int `json:"byteEnd"`
}

type facetFeature struct {
	Type string `json:"$type"`
	URI  string `json:"uri,omitempty"`
	DID  string `json:"did,omitempty"`
}

type postRecord struct {
	Type      string  `json:"$type"`
	Text      string  `json:"text"`
	Facets    []facet `json:"facets,omitempty"`
	CreatedAt string  `json:"createdAt"`
}

type threadPost struct {
	URI    string `json:"uri"`
	CID    string `json:"cid"`
	Author struct {
		Handle      string `json:"handle"`
		DisplayName string `json:"displayName"`
	} `json:"author"`
	Record struct {
		Text      string `json:"text"`
		CreatedAt string `json:"createdAt"`
	} `json:"record"`
	LikeCount   int `json:"likeCount"`
	RepostCount int `json:"repostCount"`
	ReplyCount  int `json:"replyCount"`
}

type threadView struct {
	Post    threadPost   `json:"post"`
	Replies []threadView `json:"replies"`
}

// CreateSession authenticates with an identifier and app password. Transient
// upstream failures (5xx, network errors) are retried with growing backoff up
// to three attempts; credential rejections are returned immediately.
func (c *Client) CreateSession(ctx context.Context, identifier, appPassword string) (*model.Session, error) {
	body := map[string]string{"identifier": identifier, "password": appPassword}

	var sess sessionResponse
	op := func() error {
		err := c.postJSON(ctx, "com.atproto.server.createSession", "", body, &sess)
		if err != nil && !transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), loginAttempts-1), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return mapSession(&sess), nil
}

// RefreshSession exchanges the session's renewal token for a new token pair.
// No retry: the lifecycle manager classifies failures and decides what comes
// next.
func (c *Client) RefreshSession(ctx context.Context, session *model.Session) (*model.Session, error) {
	var sess sessionResponse
	if err := c.postJSON(ctx, "com.atproto.server.refreshSession", session.RenewalToken, nil, &sess); err != nil {
		return nil, err
	}
	return mapSession(&sess), nil
}

// ResolveHandle maps a normalized handle to its DID.
func (c *Client) ResolveHandle(ctx context.Context, handle string) (string, error) {
	var out struct {
		DID string `json:"did"`
	}
	params := url.Values{"handle": {handle}}
	if err := c.getJSON(ctx, "com.atproto.identity.resolveHandle", "", params, &out); err != nil {
		return "", err
	}
	return out.DID, nil
}

// GetProfile fetches the public profile for a DID.
func (c *Client) GetProfile(ctx context.Context, did string) (*model.Profile, error) {
	var out struct {
		DID         string `json:"did"`
		Handle      string `json:"handle"`
		DisplayName string `json:"displayName"`
	}
	params := url.Values{"actor": {did}}
	if err := c.getJSON(ctx, "app.bsky.actor.getProfile", "", params, &out); err != nil {
		return nil, err
	}
	return &model.Profile{DID: out.DID, Handle: out.Handle, DisplayName: out.DisplayName}, nil
}

// CreatePost publishes text under the session's identity. Link entities map
// to link facets directly; mention entities need the mentioned account's DID,
// which is resolved best-effort; a mention whose handle fails to resolve is
// posted as plain text rather than failing the broadcast.
func (c *Client) CreatePost(ctx context.Context, session *model.Session, text string, entities []model.RichTextEntity, createdAt time.Time) (*model.BroadcastResult, error) {
	record := postRecord{
		Type:      "app.bsky.feed.post",
		Text:      text,
		Facets:    c.mapFacets(ctx, entities),
		CreatedAt: createdAt.UTC().Format(time.RFC3339),
	}
	body := map[string]any{
		"repo":       session.DID,
		"collection": "app.bsky.feed.post",
		"record":     record,
	}

	var out struct {
		URI string `json:"uri"`
		CID string `json:"cid"`
	}
	if err := c.postJSON(ctx, "com.atproto.repo.createRecord", session.AccessToken, body, &out); err != nil {
		return nil, err
	}
	return &model.BroadcastResult{URI: out.URI, CID: out.CID}, nil
}

// GetThread fetches the thread rooted at postURI and returns its immediate
// replies in thread order.
func (c *Client) GetThread(ctx context.Context, session *model.Session, postURI string, depth int) ([]model.ImportedReply, error) {
	var out struct {
		Thread threadView `json:"thread"`
	}
	params := url.Values{"uri": {postURI}, "depth": {strconv.Itoa(depth)}}
	if err := c.getJSON(ctx, "app.bsky.feed.getPostThread", session.AccessToken, params, &out); err != nil {
		return nil, err
	}

	replies := make([]model.ImportedReply, 0, len(out.Thread.Replies))
	for _, r := range out.Thread.Replies {
		createdAt, err := time.Parse(time.RFC3339, r.Post.Record.CreatedAt)
		if err != nil {
			createdAt = time.Time{}
		}
		replies = append(replies, model.ImportedReply{
			URI:               r.Post.URI,
			CID:               r.Post.CID,
			Text:              r.Post.Record.Text,
			AuthorHandle:      r.Post.Author.Handle,
			AuthorDisplayName: r.Post.Author.DisplayName,
			CreatedAt:         createdAt,
		})
	}
	return replies, nil
}

// GetEngagement fetches aggregate counts for a post via a depth-0 thread view.
func (c *Client) GetEngagement(ctx context.Context, session *model.Session, postURI string) (*model.EngagementSnapshot, error) {
	var out struct {
		Thread threadView `json:"thread"`
	}
	params := url.Values{"uri": {postURI}, "depth": {"0"}}
	if err := c.getJSON(ctx, "app.bsky.feed.getPostThread", session.AccessToken, params, &out); err != nil {
		return nil, err
	}
	return &model.EngagementSnapshot{
		PostURI: postURI,
		Likes:   out.Thread.Post.LikeCount,
		Reposts: out.Thread.Post.RepostCount,
		Replies: out.Thread.Post.ReplyCount,
	}, nil
}

// mapFacets converts rich-text entities to wire facets.
func (c *Client) mapFacets(ctx context.Context, entities []model.RichTextEntity) []facet {
	var facets []facet
	for _, e := range entities {
		var feature facetFeature
		switch e.Kind {
		case model.EntityLink:
			feature = facetFeature{Type: "app.bsky.richtext.facet#link", URI: e.Value}
		case model.EntityMention:
			did, err := c.ResolveHandle(ctx, e.Value)
			if err != nil {
				slog.Debug("skipping mention facet, handle did not resolve", "handle", e.Value, "error", err)
				continue
			}
			feature = facetFeature{Type: "app.bsky.richtext.facet#mention", DID: did}
		default:
			continue
		}
		facets = append(facets, facet{
			Index:    facetIndex{ByteStart: e.ByteStart, ByteEnd: e.ByteEnd},
			Features: []facetFeature{feature},
		})
	}
	return facets
}

// --- transport helpers ---

func (c *Client) postJSON(ctx context.Context, method, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", method, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.xrpcURL(method), reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, method, token, out)
}

func (c *Client) getJSON(ctx context.Context, method, token string, params url.Values, out any) error {
	u := c.xrpcURL(method)
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", method, err)
	}
	return c.do(req, method, token, out)
}

func (c *Client) do(req *http.Request, method, token string, out any) error {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classifyError(method, resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	return nil
}

func (c *Client) xrpcURL(method string) string {
	return c.baseURL + "/xrpc/" + method
}

// classifyError maps an XRPC error response onto the flow-error taxonomy.
func classifyError(method string, resp *http.Response) error {
	var body errorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &body)

	msg := body.Message
	if msg == "" {
		msg = body.Error
	}
	if msg == "" {
		msg = resp.Status
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return model.NewFlowError(model.KindRateLimited, fmt.Sprintf("%s rate limited: %s", method, msg), nil)
	}
	if resp.StatusCode >= 500 {
		return &upstreamError{method: method, status: resp.StatusCode, msg: msg}
	}

	switch body.Error {
	case "ExpiredToken":
		return model.NewFlowError(model.KindSessionExpired, fmt.Sprintf("%s: session expired", method), nil)
	case "AuthFactorTokenRequired":
		return model.AuthError(fmt.Sprintf("%s: confirmation on the network required", method), nil)
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return model.AuthError(fmt.Sprintf("%s: %s", method, msg), nil)
	case http.StatusNotFound:
		return model.NotFoundError(fmt.Sprintf("%s: %s", method, msg))
	case http.StatusBadRequest:
		if body.Error == "AuthenticationRequired" || body.Error == "AccountTakedown" {
			return model.AuthError(fmt.Sprintf("%s: %s", method, msg), nil)
		}
		if body.Error == "InvalidRequest" && method == "com.atproto.identity.resolveHandle" {
			return model.NotFoundError(fmt.Sprintf("%s: %s", method, msg))
		}
	}
	return fmt.Errorf("%s failed with status %d: %s", method, resp.StatusCode, msg)
}

// upstreamError is a 5xx response from the PDS.
type upstreamError struct {
	method string
	status int
	msg    string
}

func (e *upstreamError) Error() string {
	return fmt.Sprintf("%s upstream error %d: %s", e.method, e.status, e.msg)
}

// transient reports whether a login failure is worth retrying: transport
// errors and upstream 5xx responses only. Credential rejections, other
// classified flow errors, and malformed response bodies are final.
func transient(err error) bool {
	var upstream *upstreamError
	var transport *url.Error
	return errors.As(err, &upstream) || errors.As(err, &transport)
}

func mapSession(s *sessionResponse) *model.Session {
	return &model.Session{
		DID:          s.DID,
		Handle:       s.Handle,
		AccessToken:  s.AccessJwt,
		RenewalToken: s.RefreshJwt,
	}
}
