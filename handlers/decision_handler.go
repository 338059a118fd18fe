package handlers

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/upb/rolegate/services/audit"
	"github.com/upb/rolegate/utils"
)

const (
	defaultDecisionLimit = 50
	maxDecisionLimit     = 500
)

// DecisionLister reads recent audited decisions
type DecisionLister interface {
	ListRecent(ctx context.Context, limit int) ([]*audit.Decision, error)
}

// DecisionView is the JSON form of an audited decision
type DecisionView struct {
	ID          string   `json:"id"`
	RequestID   string   `json:"request_id,omitempty"`
	Method      string   `json:"method"`
	Path        string   `json:"path"`
	Subject     string   `json:"subject,omitempty"`
	Outcome     string   `json:"outcome"`
	Reason      string   `json:"reason,omitempty"`
	Status      int      `json:"status"`
	Requirement string   `json:"requirement"`
	Roles       []string `json:"roles,omitempty"`
	Timestamp   string   `json:"timestamp"`
}

// DecisionHandler exposes the decision audit trail
type DecisionHandler struct {
	lister DecisionLister
	logger *zap.Logger
}

// NewDecisionHandler creates a new DecisionHandler
func NewDecisionHandler(lister DecisionLister, logger *zap.Logger) *DecisionHandler {
	return &DecisionHandler{lister: lister, logger: logger}
}

// HandleList handles GET /api/v1/audit/decisions?limit=N
func (h *DecisionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit := defaultDecisionLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			_ = utils.WriteBadRequest(w, "limit must be a positive integer", nil)
			return
		}
		limit = min(n, maxDecisionLimit)
	}

	decisions, err := h.lister.ListRecent(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list decisions", zap.Error(err))
		_ = utils.WriteInternalServerError(w, "")
		return
	}

	views := make([]DecisionView, 0, len(decisions))
	for _, d := range decisions {
		views = append(views, DecisionView{
			ID:          d.ID.String(),
			RequestID:   d.RequestID,
			Method:      d.Method,
			Path:        d.Path,
			Subject:     d.Subject,
			Outcome:     string(d.Outcome),
			Reason:      d.Reason,
			Status:      d.Status,
			Requirement: d.Requirement,
			Roles:       d.Roles,
			Timestamp:   d.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}

	_ = utils.WriteOK(w, views)
}
