package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agen-co/agenshield/internal/domain/policy"
)

var _ policy.Store = (*Store)(nil)
var _ policy.ProfileStore = (*Store)(nil)

// GetEnabled returns the enabled union of global policies and policies
// scoped to profileID, ordered by insert position.
func (s *Store) GetEnabled(ctx context.Context, profileID string) ([]policy.Policy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, profile_id, action, target, patterns, operations,
		       enabled, priority, scope, network_access
		FROM policies
		WHERE enabled = 1 AND (profile_id = '' OR profile_id = ?)
		ORDER BY position`, profileID)
	if err != nil {
		return nil, fmt.Errorf("query policies: %w", err)
	}
	defer rows.Close()

	var out []policy.Policy
	for rows.Next() {
		var p policy.Policy
		var patterns, operations string
		if err := rows.Scan(&p.ID, &p.Name, &p.ProfileID, &p.Action, &p.Target,
			&patterns, &operations, &p.Enabled, &p.Priority, &p.Scope, &p.NetworkAccess); err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		if err := json.Unmarshal([]byte(patterns), &p.Patterns); err != nil {
			return nil, fmt.Errorf("decode patterns for %s: %w", p.ID, err)
		}
		if err := json.Unmarshal([]byte(operations), &p.Operations); err != nil {
			return nil, fmt.Errorf("decode operations for %s: %w", p.ID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Save creates or updates a policy. New policies append to the position
// order; updates keep their original position.
func (s *Store) Save(ctx context.Context, p *policy.Policy) error {
	patterns, err := json.Marshal(p.Patterns)
	if err != nil {
		return fmt.Errorf("encode patterns: %w", err)
	}
	operations, err := json.Marshal(p.Operations)
	if err != nil {
		return fmt.Errorf("encode operations: %w", err)
	}
	if p.Patterns == nil {
		patterns = []byte("[]")
	}
	if p.Operations == nil {
		operations = []byte("[]")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO policies (id, name, profile_id, action, target, patterns,
			operations, enabled, priority, scope, network_access, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(position), 0) + 1 FROM policies))
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			profile_id = excluded.profile_id,
			action = excluded.action,
			target = excluded.target,
			patterns = excluded.patterns,
			operations = excluded.operations,
			enabled = excluded.enabled,
			priority = excluded.priority,
			scope = excluded.scope,
			network_access = excluded.network_access`,
		p.ID, p.Name, p.ProfileID, p.Action, p.Target, string(patterns),
		string(operations), p.Enabled, p.Priority, p.Scope, p.NetworkAccess)
	if err != nil {
		return fmt.Errorf("save policy %s: %w", p.ID, err)
	}
	return nil
}

// Delete removes a policy by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM policies WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete policy %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return policy.ErrPolicyNotFound
	}
	return nil
}

// SaveProfile creates or updates a caller profile. Callers invalidate the
// token cache after any mutation.
func (s *Store) SaveProfile(ctx context.Context, p *policy.Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, name, type, token_digest, token_hash)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			type = excluded.type,
			token_digest = excluded.token_digest,
			token_hash = excluded.token_hash`,
		p.ID, p.Name, p.Type, p.TokenDigest, p.TokenHash)
	if err != nil {
		return fmt.Errorf("save profile %s: %w", p.ID, err)
	}
	return nil
}

// GetByType returns all profiles of the given type.
func (s *Store) GetByType(ctx context.Context, profileType string) ([]policy.Profile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, type, token_digest, token_hash
		FROM profiles WHERE type = ? ORDER BY id`, profileType)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()

	var out []policy.Profile
	for rows.Next() {
		var p policy.Profile
		if err := rows.Scan(&p.ID, &p.Name, &p.Type, &p.TokenDigest, &p.TokenHash); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// GetProfile returns a single profile by id.
func (s *Store) GetProfile(ctx context.Context, id string) (*policy.Profile, error) {
	var p policy.Profile
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, type, token_digest, token_hash
		FROM profiles WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Type, &p.TokenDigest, &p.TokenHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, policy.ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query profile %s: %w", id, err)
	}
	return &p, nil
}
