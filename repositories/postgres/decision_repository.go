package postgres

import (
	"context"
	"fmt"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/upb/rolegate/services/audit"
)

// DecisionRepository stores gate decisions in auth_decisions
type DecisionRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewDecisionRepository creates a new decision repository
func NewDecisionRepository(db *DB, logger *zap.Logger) *DecisionRepository {
	return &DecisionRepository{
		db:     db,
		logger: logger,
	}
}

// Insert inserts a new decision row
func (r *DecisionRepository) Insert(ctx context.Context, d *audit.Decision) error {
	query := `
		INSERT INTO auth_decisions (
			id, request_id, method, path, subject, outcome, reason,
			status_code, requirement, roles, timestamp
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		d.ID,
		d.RequestID,
		d.Method,
		d.Path,
		d.Subject,
		string(d.Outcome),
		d.Reason,
		d.Status,
		d.Requirement,
		pq.Array(d.Roles),
		d.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}

	r.logger.Debug("decision inserted", zap.String("id", d.ID.String()), zap.String("outcome", string(d.Outcome)))
	return nil
}

// ListRecent returns up to limit decisions, newest first
func (r *DecisionRepository) ListRecent(ctx context.Context, limit int) ([]*audit.Decision, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, request_id, method, path, subject, outcome, reason,
		       status_code, requirement, roles, timestamp
		FROM auth_decisions
		ORDER BY timestamp DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var decisions []*audit.Decision
	for rows.Next() {
		d := &audit.Decision{}
		var outcome string
		var granted pq.StringArray
		err := rows.Scan(
			&d.ID,
			&d.RequestID,
			&d.Method,
			&d.Path,
			&d.Subject,
			&outcome,
			&d.Reason,
			&d.Status,
			&d.Requirement,
			&granted,
			&d.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		d.Outcome = audit.Outcome(outcome)
		d.Roles = []string(granted)
		decisions = append(decisions, d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decisions: %w", err)
	}

	return decisions, nil
}
