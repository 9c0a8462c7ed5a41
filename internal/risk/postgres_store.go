package risk

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresStore persists verdicts in PostgreSQL. Schema is managed by
// the migrations under migrations/.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed verdict audit store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Record(ctx context.Context, verdict *Verdict) error {
	factorsJSON, err := json.Marshal(verdict.Factors)
	if err != nil {
		return fmt.Errorf("failed to marshal factors: %w", err)
	}
	recsJSON, err := json.Marshal(verdict.Recommendations)
	if err != nil {
		return fmt.Errorf("failed to marshal recommendations: %w", err)
	}
	var mlJSON []byte
	if verdict.ML != nil {
		if mlJSON, err = json.Marshal(verdict.ML); err != nil {
			return fmt.Errorf("failed to marshal ml signal: %w", err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_verdicts (id, address, risk_score, risk_tier, profile, factors, recommendations, ml_signal, computed_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		verdict.ID,
		verdict.Address,
		verdict.RiskScore,
		string(verdict.RiskTier),
		verdict.Profile,
		factorsJSON,
		recsJSON,
		mlJSON,
		verdict.ComputedAt,
		verdict.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record verdict: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByAddress(ctx context.Context, address string, limit int) ([]*Verdict, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, address, risk_score, risk_tier, profile, factors, recommendations, ml_signal, computed_at, expires_at
		FROM risk_verdicts
		WHERE address = $1
		ORDER BY computed_at DESC
		LIMIT $2
	`, address, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list verdicts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Verdict
	for rows.Next() {
		var v Verdict
		// mlJSON scans to nil on NULL
		var factorsJSON, recsJSON, mlJSON []byte
		var computedAt, expiresAt time.Time

		if err := rows.Scan(&v.ID, &v.Address, &v.RiskScore, &v.RiskTier, &v.Profile, &factorsJSON, &recsJSON, &mlJSON, &computedAt, &expiresAt); err != nil {
			continue
		}
		v.ComputedAt = computedAt
		v.ExpiresAt = expiresAt
		_ = json.Unmarshal(factorsJSON, &v.Factors)
		_ = json.Unmarshal(recsJSON, &v.Recommendations)
		if len(mlJSON) > 0 {
			v.ML = &MLSignal{}
			_ = json.Unmarshal(mlJSON, v.ML)
		}
		result = append(result, &v)
	}
	return result, rows.Err()
}
