package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/upb/rolegate/claims"
	"github.com/upb/rolegate/policy"
	"github.com/upb/rolegate/roles"
	"github.com/upb/rolegate/services/audit"
	"github.com/upb/rolegate/utils"
	"github.com/upb/rolegate/verifier"
)

// Gate-level reasons on top of the verifier's.
const (
	ReasonMissingToken     verifier.Reason = "missing_token"
	ReasonInsufficientRole verifier.Reason = "insufficient_role"
)

// TokenVerifier validates a raw bearer token
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*claims.ClaimSet, error)
}

// RoleMapper derives the granted roles from verified claims
type RoleMapper interface {
	Map(cs *claims.ClaimSet) roles.Set
}

// DecisionRecorder receives every gate decision for auditing
type DecisionRecorder interface {
	Record(d *audit.Decision) error
}

// MetricsRecorder counts gate decisions
type MetricsRecorder interface {
	RecordGateDecision(outcome, reason string)
}

// Denial is a terminal Denied state: 401 for authentication failures, 403
// for authorization failures.
type Denial struct {
	Status int
	Reason verifier.Reason
}

func (d *Denial) Error() string {
	return fmt.Sprintf("request denied (%d): %s", d.Status, d.Reason)
}

// Result is what the gate learned about a request.
type Result struct {
	Claims *claims.ClaimSet
	Roles  roles.Set
	Denial *Denial
}

// Allowed reports whether the request may proceed.
func (r Result) Allowed() bool {
	return r.Denial == nil
}

// Gate runs extract, verify, map and authorize for each protected request.
type Gate struct {
	verifier TokenVerifier
	mapper   RoleMapper
	logger   *zap.Logger
	recorder DecisionRecorder
	metrics  MetricsRecorder
}

// GateOption configures optional Gate collaborators
type GateOption func(*Gate)

// WithDecisionRecorder audits every decision through r
func WithDecisionRecorder(r DecisionRecorder) GateOption {
	return func(g *Gate) { g.recorder = r }
}

// WithGateMetrics counts decisions through m
func WithGateMetrics(m MetricsRecorder) GateOption {
	return func(g *Gate) { g.metrics = m }
}

// NewGate creates a new Gate
func NewGate(v TokenVerifier, m RoleMapper, logger *zap.Logger, opts ...GateOption) *Gate {
	g := &Gate{
		verifier: v,
		mapper:   m,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Evaluate decides a request from its Authorization header value.
func (g *Gate) Evaluate(ctx context.Context, authorization string, req policy.Requirement) Result {
	token := extractBearerToken(authorization)
	if token == "" {
		return Result{Denial: &Denial{Status: http.StatusUnauthorized, Reason: ReasonMissingToken}}
	}

	cs, err := g.verifier.Verify(ctx, token)
	if err != nil {
		return Result{Denial: &Denial{Status: http.StatusUnauthorized, Reason: verifier.ReasonOf(err)}}
	}

	granted := g.mapper.Map(cs)
	if policy.Authorize(req, granted) != policy.Allow {
		return Result{
			Claims: cs,
			Roles:  granted,
			Denial: &Denial{Status: http.StatusForbidden, Reason: ReasonInsufficientRole},
		}
	}

	return Result{Claims: cs, Roles: granted}
}

// Require guards next with req. Allowed requests carry the claim set and
// roles in their context.
func (g *Gate) Require(req policy.Requirement) func(http.Handler) http.Handler {
	requirement := "<none>"
	if req != nil {
		requirement = req.String()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			result := g.Evaluate(ctx, r.Header.Get("Authorization"), req)
			g.record(r, requestID, requirement, result)

			if d := result.Denial; d != nil {
				fields := []zap.Field{
					zap.String("request_id", requestID),
					zap.String("reason", string(d.Reason)),
					zap.String("requirement", requirement),
				}
				if result.Claims != nil {
					fields = append(fields,
						zap.String("subject", result.Claims.Subject),
						zap.Strings("roles", result.Roles.Strings()))
				}
				g.logger.Warn("request denied", fields...)

				if d.Status == http.StatusForbidden {
					_ = utils.WriteForbidden(w, "Insufficient permissions")
				} else {
					_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
				}
				return
			}

			g.logger.Debug("request allowed",
				zap.String("request_id", requestID),
				zap.String("subject", result.Claims.Subject),
				zap.String("requirement", requirement))

			ctx = WithClaims(ctx, result.Claims)
			ctx = WithRoles(ctx, result.Roles)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (g *Gate) record(r *http.Request, requestID, requirement string, result Result) {
	outcome := audit.OutcomeAllowed
	status := http.StatusOK
	reason := ""
	if result.Denial != nil {
		outcome = audit.OutcomeDenied
		status = result.Denial.Status
		reason = string(result.Denial.Reason)
	}

	if g.metrics != nil {
		g.metrics.RecordGateDecision(string(outcome), reason)
	}
	if g.recorder == nil {
		return
	}

	d := audit.NewDecision(outcome, reason, status)
	d.RequestID = requestID
	d.Method = r.Method
	d.Path = r.URL.Path
	d.Requirement = requirement
	if result.Claims != nil {
		d.Subject = result.Claims.Subject
		d.Roles = result.Roles.Strings()
	}
	if err := g.recorder.Record(d); err != nil {
		g.logger.Warn("failed to record decision",
			zap.String("request_id", requestID),
			zap.Error(err))
	}
}

// extractBearerToken returns the token of an "Authorization: Bearer <token>"
// header. The scheme is case-insensitive; any other form yields "".
func extractBearerToken(header string) string {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	token := strings.TrimSpace(parts[1])
	if strings.ContainsAny(token, " \t") {
		return ""
	}
	return token
}
