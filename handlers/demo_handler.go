package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/upb/rolegate/middleware"
	"github.com/upb/rolegate/utils"
)

// GreetingResponse is returned by the demo endpoints
type GreetingResponse struct {
	Message string   `json:"message,omitempty"`
	Subject string   `json:"subject"`
	Roles   []string `json:"roles"`
}

// DemoHandler serves the role-gated demo endpoints. The gate has already
// authorized every request that reaches it.
type DemoHandler struct {
	logger *zap.Logger
}

// NewDemoHandler creates a new DemoHandler
func NewDemoHandler(logger *zap.Logger) *DemoHandler {
	return &DemoHandler{logger: logger}
}

// HandleUserGreeting handles GET /api/v1/demo (client_user)
func (h *DemoHandler) HandleUserGreeting(w http.ResponseWriter, r *http.Request) {
	h.greet(w, r, "Hello Daiki")
}

// HandleAdminGreeting handles GET /api/v1/demo/hello (client_admin)
func (h *DemoHandler) HandleAdminGreeting(w http.ResponseWriter, r *http.Request) {
	h.greet(w, r, "Hello Baki")
}

// HandleMe handles GET /api/v1/me
func (h *DemoHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	h.greet(w, r, "")
}

func (h *DemoHandler) greet(w http.ResponseWriter, r *http.Request, message string) {
	cs := middleware.GetClaimsFromContext(r.Context())
	if cs == nil {
		h.logger.Error("claims not found in context",
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())))
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	_ = utils.WriteOK(w, GreetingResponse{
		Message: message,
		Subject: cs.Subject,
		Roles:   middleware.GetRolesFromContext(r.Context()).Strings(),
	})
}
