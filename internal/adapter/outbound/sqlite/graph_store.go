package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/agen-co/agenshield/internal/domain/graph"
)

var _ graph.Store = (*Store)(nil)
var _ graph.SecretStore = (*Store)(nil)

// SaveGraph replaces the stored graph for a profile in one transaction.
func (s *Store) SaveGraph(ctx context.Context, profileID string, g *graph.Graph) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM graph_nodes WHERE profile_id = ?`, profileID); err != nil {
		return fmt.Errorf("clear nodes: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM graph_edges WHERE profile_id = ?`, profileID); err != nil {
		return fmt.Errorf("clear edges: %w", err)
	}
	if g == nil {
		return tx.Commit()
	}

	for _, n := range g.Nodes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO graph_nodes (id, profile_id, policy_id, dormant)
			VALUES (?, ?, ?, ?)`,
			n.ID, profileID, n.PolicyID, n.Dormant); err != nil {
			return fmt.Errorf("insert node %s: %w", n.ID, err)
		}
	}
	for _, e := range g.Edges {
		patterns, err := json.Marshal(e.GrantPatterns)
		if err != nil {
			return fmt.Errorf("encode grant patterns: %w", err)
		}
		if e.GrantPatterns == nil {
			patterns = []byte("[]")
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO graph_edges (id, profile_id, source_node_id, target_node_id,
				effect, lifetime, priority, enabled, grant_patterns, secret_name, condition)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, profileID, e.SourceNodeID, e.TargetNodeID, e.Effect, e.Lifetime,
			e.Priority, e.Enabled, string(patterns), e.SecretName, e.Condition); err != nil {
			return fmt.Errorf("insert edge %s: %w", e.ID, err)
		}
	}
	return tx.Commit()
}

// LoadGraph returns the graph for a profile, falling back to the global
// graph, or nil when none is stored.
func (s *Store) LoadGraph(ctx context.Context, profileID string) (*graph.Graph, error) {
	g, err := s.loadGraphExact(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if g == nil && profileID != "" {
		return s.loadGraphExact(ctx, "")
	}
	return g, nil
}

func (s *Store) loadGraphExact(ctx context.Context, profileID string) (*graph.Graph, error) {
	nodeRows, err := s.db.QueryContext(ctx, `
		SELECT id, policy_id, dormant FROM graph_nodes WHERE profile_id = ? ORDER BY id`, profileID)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer nodeRows.Close()

	g := &graph.Graph{}
	for nodeRows.Next() {
		var n graph.Node
		if err := nodeRows.Scan(&n.ID, &n.PolicyID, &n.Dormant); err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		g.Nodes = append(g.Nodes, n)
	}
	if err := nodeRows.Err(); err != nil {
		return nil, err
	}

	edgeRows, err := s.db.QueryContext(ctx, `
		SELECT id, source_node_id, target_node_id, effect, lifetime, priority,
		       enabled, grant_patterns, secret_name, condition
		FROM graph_edges WHERE profile_id = ? ORDER BY rowid`, profileID)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer edgeRows.Close()

	for edgeRows.Next() {
		var e graph.Edge
		var patterns string
		if err := edgeRows.Scan(&e.ID, &e.SourceNodeID, &e.TargetNodeID, &e.Effect,
			&e.Lifetime, &e.Priority, &e.Enabled, &patterns, &e.SecretName, &e.Condition); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		if err := json.Unmarshal([]byte(patterns), &e.GrantPatterns); err != nil {
			return nil, fmt.Errorf("decode grant patterns for %s: %w", e.ID, err)
		}
		g.Edges = append(g.Edges, e)
	}
	if err := edgeRows.Err(); err != nil {
		return nil, err
	}

	if len(g.Nodes) == 0 && len(g.Edges) == 0 {
		return nil, nil
	}
	return g, nil
}

// Activate records that an activate edge fired.
func (s *Store) Activate(ctx context.Context, p graph.ActivateParams) (*graph.Activation, error) {
	a := &graph.Activation{
		ID:          uuid.NewString(),
		EdgeID:      p.EdgeID,
		ActivatedAt: time.Now().UTC(),
		ProcessID:   p.ProcessID,
		ExpiresAt:   p.ExpiresAt,
	}

	var expires any
	if a.ExpiresAt != nil {
		expires = a.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activations (id, edge_id, activated_at, process_id, expires_at, consumed)
		VALUES (?, ?, ?, ?, ?, 0)`,
		a.ID, a.EdgeID, a.ActivatedAt.Format(time.RFC3339Nano), a.ProcessID, expires)
	if err != nil {
		return nil, fmt.Errorf("insert activation: %w", err)
	}
	return a, nil
}

// ActiveActivations returns the non-consumed, non-expired activations for
// an edge; an empty edgeID returns all of them. Expiry is checked in Go
// after parsing: RFC3339Nano trims trailing fractional zeros, so the
// stored strings do not order lexicographically at sub-second boundaries.
func (s *Store) ActiveActivations(ctx context.Context, edgeID string) ([]graph.Activation, error) {
	now := time.Now().UTC()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, edge_id, activated_at, process_id, expires_at, consumed
		FROM activations
		WHERE consumed = 0
		  AND (? = '' OR edge_id = ?)
		ORDER BY activated_at`, edgeID, edgeID)
	if err != nil {
		return nil, fmt.Errorf("query activations: %w", err)
	}
	defer rows.Close()

	var out []graph.Activation
	for rows.Next() {
		var a graph.Activation
		var activated string
		var expires *string
		if err := rows.Scan(&a.ID, &a.EdgeID, &activated, &a.ProcessID, &expires, &a.Consumed); err != nil {
			return nil, fmt.Errorf("scan activation: %w", err)
		}
		if a.ActivatedAt, err = time.Parse(time.RFC3339Nano, activated); err != nil {
			return nil, fmt.Errorf("parse activated_at: %w", err)
		}
		if expires != nil {
			t, err := time.Parse(time.RFC3339Nano, *expires)
			if err != nil {
				return nil, fmt.Errorf("parse expires_at: %w", err)
			}
			a.ExpiresAt = &t
		}
		if !a.Active(now) {
			continue
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ConsumeActivation marks an activation consumed.
func (s *Store) ConsumeActivation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE activations SET consumed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("consume activation %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return graph.ErrActivationNotFound
	}
	return nil
}

// SetSecret stores a secret value under a name.
func (s *Store) SetSecret(ctx context.Context, name, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO secrets (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value`, name, value)
	if err != nil {
		return fmt.Errorf("set secret %s: %w", name, err)
	}
	return nil
}

// GetByName returns the secret, or graph.ErrSecretNotFound.
func (s *Store) GetByName(ctx context.Context, name string) (*graph.Secret, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE name = ?`, name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, graph.ErrSecretNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query secret %s: %w", name, err)
	}
	return &graph.Secret{Name: name, Value: value}, nil
}
