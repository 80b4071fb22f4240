package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/openforum/skyrelay/internal/domain/model"
	"github.com/openforum/skyrelay/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.IdentityStore = (*IdentityRepo)(nil)

// IdentityRepo is the SQLite implementation of the IdentityStore port.
// Token columns hold vault blobs; plaintext credentials never reach this
// layer.
type IdentityRepo struct {
	db *DB
}

// NewIdentityRepo creates a new IdentityRepo.
func NewIdentityRepo(db *DB) *IdentityRepo {
	return &IdentityRepo{db: db}
}

// Get returns the linked identity for an account, or driven.ErrIdentityNotFound.
func (r *IdentityRepo) Get(ctx context.Context, accountID string) (*model.LinkedIdentity, error) {
	const query = `
		SELECT account_id, handle, did, verified, state,
		       access_token_enc, renewal_token_enc, access_expires_at,
		       connected_at, broadcast_enabled
		FROM linked_identities WHERE account_id = ?`

	identity, err := scanIdentity(r.db.Reader.QueryRowContext(ctx, query, accountID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, driven.ErrIdentityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get linked identity %q: %w", accountID, err)
	}
	return identity, nil
}

// Upsert inserts or replaces the full identity row.
func (r *IdentityRepo) Upsert(ctx context.Context, identity *model.LinkedIdentity) error {
	const query = `
		INSERT INTO linked_identities
			(account_id, handle, did, verified, state,
			 access_token_enc, renewal_token_enc, access_expires_at,
			 connected_at, broadcast_enabled, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(account_id) DO UPDATE SET
			handle = excluded.handle,
			did = excluded.did,
			verified = excluded.verified,
			state = excluded.state,
			access_token_enc = excluded.access_token_enc,
			renewal_token_enc = excluded.renewal_token_enc,
			access_expires_at = excluded.access_expires_at,
			connected_at = excluded.connected_at,
			broadcast_enabled = excluded.broadcast_enabled,
			updated_at = CURRENT_TIMESTAMP`

	_, err := r.db.Writer.ExecContext(ctx, query,
		identity.AccountID, identity.Handle, identity.DID, identity.Verified, string(identity.State),
		identity.AccessTokenEnc, identity.RenewalTokenEnc, formatNullableTime(identity.AccessExpiresAt),
		formatNullableTime(identity.ConnectedAt), identity.BroadcastEnabled,
	)
	if err != nil {
		return fmt.Errorf("upsert linked identity %q: %w", identity.AccountID, err)
	}
	return nil
}

// UpdateCredentials replaces the encrypted token pair, expiry, and state,
// guarded by the previously observed expiry so two refreshes cannot
// interleave. Returns (false, nil) when the guard fails.
func (r *IdentityRepo) UpdateCredentials(ctx context.Context, accountID string, accessEnc, renewalEnc string, expiresAt time.Time, state model.LinkState, expectedExpiresAt time.Time) (bool, error) {
	const query = `
		UPDATE linked_identities
		SET access_token_enc = ?, renewal_token_enc = ?, access_expires_at = ?,
		    state = ?, updated_at = CURRENT_TIMESTAMP
		WHERE account_id = ? AND COALESCE(access_expires_at, '') = COALESCE(?, '')`

	res, err := r.db.Writer.ExecContext(ctx, query,
		accessEnc, renewalEnc, formatNullableTime(expiresAt),
		string(state), accountID, formatNullableTime(expectedExpiresAt),
	)
	if err != nil {
		return false, fmt.Errorf("update credentials %q: %w", accountID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update credentials %q rows: %w", accountID, err)
	}
	return n == 1, nil
}

// SetState updates only the lifecycle state.
func (r *IdentityRepo) SetState(ctx context.Context, accountID string, state model.LinkState) error {
	const query = `UPDATE linked_identities SET state = ?, updated_at = CURRENT_TIMESTAMP WHERE account_id = ?`
	if _, err := r.db.Writer.ExecContext(ctx, query, string(state), accountID); err != nil {
		return fmt.Errorf("set state %q: %w", accountID, err)
	}
	return nil
}

// ClearCredentials wipes tokens, expiry, and the verified binding, returning
// the account to the unlinked state.
func (r *IdentityRepo) ClearCredentials(ctx context.Context, accountID string) error {
	const query = `
		UPDATE linked_identities
		SET handle = '', did = '', verified = 0, state = ?,
		    access_token_enc = '', renewal_token_enc = '', access_expires_at = NULL,
		    connected_at = NULL, broadcast_enabled = 0, updated_at = CURRENT_TIMESTAMP
		WHERE account_id = ?`

	if _, err := r.db.Writer.ExecContext(ctx, query, string(model.LinkStateUnlinked), accountID); err != nil {
		return fmt.Errorf("clear credentials %q: %w", accountID, err)
	}
	return nil
}

// SetBroadcastEnabled toggles the broadcast flag for a linked account.
func (r *IdentityRepo) SetBroadcastEnabled(ctx context.Context, accountID string, enabled bool) error {
	const query = `
		UPDATE linked_identities SET broadcast_enabled = ?, updated_at = CURRENT_TIMESTAMP
		WHERE account_id = ? AND state != ?`

	res, err := r.db.Writer.ExecContext(ctx, query, enabled, accountID, string(model.LinkStateUnlinked))
	if err != nil {
		return fmt.Errorf("set broadcast flag %q: %w", accountID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set broadcast flag %q rows: %w", accountID, err)
	}
	if n == 0 {
		return driven.ErrIdentityNotFound
	}
	return nil
}

// ListLinked returns every identity holding stored credentials, ordered by
// account id for deterministic batch passes.
func (r *IdentityRepo) ListLinked(ctx context.Context) ([]model.LinkedIdentity, error) {
	const query = `
		SELECT account_id, handle, did, verified, state,
		       access_token_enc, renewal_token_enc, access_expires_at,
		       connected_at, broadcast_enabled
		FROM linked_identities WHERE state != ? ORDER BY account_id`

	rows, err := r.db.Reader.QueryContext(ctx, query, string(model.LinkStateUnlinked))
	if err != nil {
		return nil, fmt.Errorf("list linked identities: %w", err)
	}
	defer rows.Close()

	var identities []model.LinkedIdentity
	for rows.Next() {
		identity, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan linked identity: %w", err)
		}
		identities = append(identities, *identity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate linked identities: %w", err)
	}
	return identities, nil
}

// scanner abstracts sql.Row and sql.Rows for shared scanning.
type scanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row scanner) (*model.LinkedIdentity, error) {
	var identity model.LinkedIdentity
	var state string
	var expiresAt, connectedAt sql.NullString

	err := row.Scan(
		&identity.AccountID, &identity.Handle, &identity.DID, &identity.Verified, &state,
		&identity.AccessTokenEnc, &identity.RenewalTokenEnc, &expiresAt,
		&connectedAt, &identity.BroadcastEnabled,
	)
	if err != nil {
		return nil, err
	}

	identity.State = model.LinkState(state)
	if identity.AccessExpiresAt, err = parseNullableTime(expiresAt); err != nil {
		return nil, err
	}
	if identity.ConnectedAt, err = parseNullableTime(connectedAt); err != nil {
		return nil, err
	}
	return &identity, nil
}

// formatNullableTime stores zero times as NULL so "no expiry known" survives
// the round trip.
func formatNullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseNullableTime(s sql.NullString) (time.Time, error) {
	if !s.Valid || s.String == "" {
		return time.Time{}, nil
	}
	return parseTime(s.String)
}

func parseTime(s string) (time.Time, error) {
	formats := []string{
		"2006-01-02T15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000",
		time.RFC3339,
		time.RFC3339Nano,
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}
