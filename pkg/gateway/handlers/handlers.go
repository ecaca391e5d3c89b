// Package handlers implements the HTTP surface over the engine service.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/luminalearn/teachback/pkg/core"
	"github.com/luminalearn/teachback/pkg/engine"
	"github.com/luminalearn/teachback/pkg/engine/retention"
	"github.com/luminalearn/teachback/pkg/gateway/apierror"
	"github.com/luminalearn/teachback/pkg/gateway/auth"
)

// Deps is what every handler needs.
type Deps struct {
	Engine   *engine.Service
	Enforcer *retention.Enforcer // optional
	Logger   *slog.Logger
	Draining func() bool
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return core.Newf(core.CodeNoInput, "invalid request body: %v", err)
	}
	return nil
}

func principal(r *http.Request) (*auth.Principal, bool) {
	return auth.PrincipalFrom(r.Context())
}

func writeError(w http.ResponseWriter, err error) {
	apierror.Write(w, err)
}
