package handlers

import (
	"net/http"

	"github.com/luminalearn/teachback/pkg/core"
	"github.com/luminalearn/teachback/pkg/engine/plans"
	"github.com/luminalearn/teachback/pkg/engine/retention"
)

type monitoringResponse struct {
	Success bool `json:"success"`
	Engine  any  `json:"engine"`
}

// Monitoring handles GET /api/admin/teach-back/monitoring.
func Monitoring(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, monitoringResponse{Success: true, Engine: deps.Engine.Monitor()})
	}
}

type featureRequest struct {
	Enabled bool `json:"enabled"`
}

// SetFeature handles PUT /api/admin/teach-back/feature.
func SetFeature(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req featureRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		deps.Engine.SetFeatureEnabled(req.Enabled)
		deps.Logger.Info("teach-back feature toggled", "enabled", req.Enabled)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "enabled": req.Enabled})
	}
}

type overrideRequest struct {
	Plan string `json:"plan"`
}

// SetQuotaOverride handles PUT /api/admin/teach-back/quota-overrides/{user}.
func SetQuotaOverride(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req overrideRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		if _, ok := plans.Defaults[req.Plan]; !ok {
			writeError(w, core.Newf(core.CodeNoInput, "unknown plan %q", req.Plan))
			return
		}
		userID := r.PathValue("user")
		deps.Engine.SetQuotaOverride(userID, req.Plan)
		deps.Logger.Info("quota override set", "user_id", userID, "plan", req.Plan)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "user_id": userID, "plan": req.Plan})
	}
}

// ClearQuotaOverride handles DELETE /api/admin/teach-back/quota-overrides/{user}.
func ClearQuotaOverride(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.PathValue("user")
		deps.Engine.SetQuotaOverride(userID, "")
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "user_id": userID})
	}
}

// ClearMaintenance handles DELETE /api/admin/teach-back/maintenance. This is
// the only way out of maintenance mode.
func ClearMaintenance(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tripped, reason, _ := deps.Engine.Breaker().Status()
		deps.Engine.Breaker().Clear()
		if tripped {
			deps.Logger.Info("maintenance mode cleared", "was_tripped_for", reason)
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "was_tripped": tripped})
	}
}

// RunRetention handles POST /api/admin/teach-back/retention/run: an
// on-demand enforcement batch outside the nightly schedule. ?dry_run=true
// previews the batch without deleting.
func RunRetention(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Enforcer == nil {
			writeError(w, core.Newf(core.CodeProcessingFailed, "retention enforcement not configured"))
			return
		}
		dryRun := r.URL.Query().Get("dry_run") == "true"

		var (
			report retention.Report
			err    error
		)
		if dryRun {
			report, err = deps.Enforcer.Preview(r.Context())
		} else {
			report, err = deps.Enforcer.Run(r.Context())
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "dry_run": dryRun, "report": report})
	}
}

type planChangeRequest struct {
	UserID  string `json:"user_id"`
	OldPlan string `json:"old_plan"`
	NewPlan string `json:"new_plan"`
}

// PlanChanged handles POST /api/admin/teach-back/plan-changes: the billing
// system notifies the engine so a downgrade cleans up immediately.
func PlanChanged(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req planChangeRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, err)
			return
		}
		if req.UserID == "" {
			writeError(w, core.Newf(core.CodeNoInput, "user_id is required"))
			return
		}
		report, err := deps.Engine.PlanChanged(r.Context(), req.UserID, req.OldPlan, req.NewPlan)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "report": report})
	}
}
