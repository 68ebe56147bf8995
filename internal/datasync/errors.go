package datasync

import (
	"encoding/json"
	"errors"
	"net/http"

	"datasync/internal/connections"
	"datasync/internal/folders"
	"datasync/internal/oauthflow"
	"datasync/pkg/connectors"
	"datasync/pkg/middleware"
	"datasync/pkg/problems"
)

// writeError maps domain errors to problem+json responses. Remote listing
// failures keep the provider's status and, when it is JSON, its body.
func (a *App) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		cfgErr     *oauthflow.ConfigError
		exchErr    *oauthflow.TokenExchangeError
		listingErr *folders.RemoteListingError
	)
	switch {
	case errors.As(err, &cfgErr):
		problems.Write(w, http.StatusBadRequest, "invalid-connector-config", "Connector configuration is incomplete", err.Error(), map[string]any{"field": cfgErr.Field})
	case errors.Is(err, oauthflow.ErrStateMismatch):
		problems.Write(w, http.StatusBadRequest, "state-mismatch", "OAuth state does not match", "", nil)
	case errors.Is(err, oauthflow.ErrFlowNotFound):
		problems.Write(w, http.StatusBadRequest, "flow-not-found", "No authorization in progress", "", nil)
	case errors.Is(err, oauthflow.ErrInvalidCallback), errors.Is(err, oauthflow.ErrInsecureCallback):
		problems.Write(w, http.StatusBadRequest, "invalid-callback", "Invalid callback URL", err.Error(), nil)
	case errors.Is(err, folders.ErrSiteRequired), errors.Is(err, folders.ErrInvalidSelection):
		problems.Write(w, http.StatusBadRequest, "invalid-request", "Invalid folder request", err.Error(), nil)
	case errors.Is(err, connectors.ErrUnknownConnector):
		problems.Write(w, http.StatusNotFound, "unknown-connector", "Unknown connector", err.Error(), nil)
	case errors.Is(err, connections.ErrNotConnected):
		problems.Write(w, http.StatusNotFound, "not-connected", "Connector is not connected", "", nil)
	case errors.Is(err, oauthflow.ErrNoRefreshToken):
		problems.Write(w, http.StatusConflict, "no-refresh-token", "Connection has no refresh token", "", nil)
	case errors.As(err, &exchErr):
		extra := map[string]any{"provider_status": exchErr.StatusCode}
		if exchErr.ErrorCode != "" {
			extra["error"] = exchErr.ErrorCode
		}
		if exchErr.Description != "" {
			extra["error_description"] = exchErr.Description
		}
		problems.Write(w, http.StatusBadGateway, "token-exchange-failed", "Provider rejected the token request", "", extra)
	case errors.As(err, &listingErr):
		if json.Valid([]byte(listingErr.Body)) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(listingErr.StatusCode)
			_, _ = w.Write([]byte(listingErr.Body))
			return
		}
		problems.Write(w, listingErr.StatusCode, "remote-listing-failed", "Provider listing failed", listingErr.Body, nil)
	default:
		a.log.Errorw("request failed", "path", r.URL.Path, "request_id", middleware.RequestIDFrom(r.Context()), "err", err)
		problems.Write(w, http.StatusInternalServerError, "internal", "Internal error", "", nil)
	}
}
