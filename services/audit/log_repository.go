package audit

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// LogRepository writes decisions to the structured log and keeps the most
// recent ones in memory. It is used when no audit database is configured.
type LogRepository struct {
	logger *zap.Logger
	limit  int

	mu     sync.Mutex
	recent []*Decision
}

// NewLogRepository creates a log-backed repository remembering up to limit
// decisions.
func NewLogRepository(logger *zap.Logger, limit int) *LogRepository {
	if limit <= 0 {
		limit = 100
	}
	return &LogRepository{logger: logger, limit: limit}
}

// Insert logs d.
func (r *LogRepository) Insert(_ context.Context, d *Decision) error {
	r.logger.Info("authorization decision",
		zap.String("decision_id", d.ID.String()),
		zap.String("request_id", d.RequestID),
		zap.String("method", d.Method),
		zap.String("path", d.Path),
		zap.String("subject", d.Subject),
		zap.String("outcome", string(d.Outcome)),
		zap.String("reason", d.Reason),
		zap.Int("status", d.Status),
		zap.String("requirement", d.Requirement),
		zap.Time("timestamp", d.Timestamp))

	r.mu.Lock()
	defer r.mu.Unlock()
	r.recent = append(r.recent, d)
	if len(r.recent) > r.limit {
		r.recent = r.recent[len(r.recent)-r.limit:]
	}
	return nil
}

// ListRecent returns up to limit decisions, newest first.
func (r *LogRepository) ListRecent(_ context.Context, limit int) ([]*Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if limit <= 0 || limit > len(r.recent) {
		limit = len(r.recent)
	}
	out := make([]*Decision, 0, limit)
	for i := len(r.recent) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.recent[i])
	}
	return out, nil
}
