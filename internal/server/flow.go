package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/florianilch/kroger-bridge/internal/configflow"
)

// Flows is the config flow the /auth/kroger routes drive.
type Flows interface {
	StartUser(ctx context.Context) (configflow.Result, error)
	StartReauth(ctx context.Context) configflow.Result
	ConfirmReauth(ctx context.Context, flowID string) configflow.Result
	Callback(ctx context.Context, state, code, oauthErr string) (configflow.Result, error)
}

// flowHandlers adapts Flows to HTTP.
type flowHandlers struct {
	flows Flows
}

// authorize starts a new setup and redirects to Kroger.
func (h *flowHandlers) authorize(w http.ResponseWriter, r *http.Request) {
	res, err := h.flows.StartUser(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to start config flow", "error", err)
		writeJSONError(r.Context(), w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	writeFlowResult(w, r, res, http.StatusFound)
}

// reauth shows the reauth_confirm step.
func (h *flowHandlers) reauth(w http.ResponseWriter, r *http.Request) {
	writeFlowResult(w, r, h.flows.StartReauth(r.Context()), http.StatusFound)
}

// confirmReauth continues the reauth flow into authorization.
func (h *flowHandlers) confirmReauth(w http.ResponseWriter, r *http.Request) {
	flowID := r.URL.Query().Get("flow_id")
	if flowID == "" {
		writeJSONError(r.Context(), w, "flow_id is required", http.StatusBadRequest)
		return
	}
	writeFlowResult(w, r, h.flows.ConfirmReauth(r.Context(), flowID), http.StatusSeeOther)
}

// callback receives Kroger's redirect after the user authorized (or denied).
func (h *flowHandlers) callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	res, err := h.flows.Callback(r.Context(), q.Get("state"), q.Get("code"), q.Get("error"))
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to finish config flow", "error", err)
		writeJSONError(r.Context(), w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	writeFlowResult(w, r, res, http.StatusFound)
}

// writeFlowResult redirects for external steps and renders everything else as JSON.
func writeFlowResult(w http.ResponseWriter, r *http.Request, res configflow.Result, redirectStatus int) {
	if res.Type == configflow.ResultExternal {
		http.Redirect(w, r, res.URL, redirectStatus)
		return
	}
	writeJSON(r.Context(), w, res, http.StatusOK)
}
