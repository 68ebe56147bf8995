package datasync

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"datasync/internal/connections"
	"datasync/internal/folders"
	"datasync/internal/oauthflow"
	"datasync/pkg/connectors"
	"datasync/pkg/middleware"
	"datasync/pkg/problems"
)

const maxBody = 1 << 20

// dataSourceView is a catalog entry as shown to a tenant. Client secrets
// never leave the service.
type dataSourceView struct {
	Slug        string                     `json:"slug"`
	Name        string                     `json:"name"`
	Kind        string                     `json:"kind,omitempty"`
	AuthMethod  connectors.AuthMethod      `json:"auth_method"`
	Logo        string                     `json:"logo,omitempty"`
	Description string                     `json:"description,omitempty"`
	IsOwnApp    bool                       `json:"is_own_app"`
	Metadata    []connectors.MetadataField `json:"metadata"`
	IsConnected bool                       `json:"is_connected"`
	Folders     any                        `json:"folders"`
}

func (a *App) listDataSources(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenant := middleware.TenantFrom(ctx)
	defs, err := a.catalog.List(ctx)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	recs, err := a.conns.ListByTenant(ctx, tenant.ID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	connected := make(map[string]connections.Record, len(recs))
	for _, rec := range recs {
		connected[rec.Connector] = rec
	}
	showAll := r.URL.Query().Get("show_all") == "yes"

	out := make([]dataSourceView, 0, len(defs))
	for _, d := range defs {
		if !showAll && !tenant.Allows(d.Slug) {
			continue
		}
		v := dataSourceView{
			Slug:        d.Slug,
			Name:        d.Name,
			Kind:        d.Kind,
			AuthMethod:  d.AuthMethod,
			Logo:        d.Logo,
			Description: d.Description,
			IsOwnApp:    d.IsOwnApp,
			Metadata:    d.Metadata,
		}
		if v.Metadata == nil {
			v.Metadata = []connectors.MetadataField{}
		}
		if rec, ok := connected[d.Slug]; ok {
			v.IsConnected = true
			v.Folders = rec.Folders()
			if v.Folders == nil {
				if d.SiteKeyed() {
					v.Folders = map[string]any{}
				} else {
					v.Folders = []any{}
				}
			}
		}
		out = append(out, v)
	}
	writeJSON(w, out, http.StatusOK)
}

func (a *App) authorizationURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slug := chi.URLParam(r, "slug")
	def, err := a.catalog.Get(ctx, slug)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	body := map[string]any{}
	if !decodeBody(w, r, &body, true) {
		return
	}
	req := oauthflow.BeginRequest{
		Connector: def.Slug,
		TenantID:  middleware.TenantFrom(ctx).ID,
		UserID:    userID(r),
		Metadata:  map[string]string{},
	}
	for k, v := range body {
		if s, ok := v.(string); ok {
			req.Metadata[k] = s
		}
	}
	if !def.IsOwnApp {
		req.Custom = customApp(body)
	}
	res, err := a.flows.BeginAuthorization(ctx, req)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, res, http.StatusOK)
}

// customApp reads a tenant-supplied OAuth app from the request body. scopes
// may be a JSON array or a string holding one.
func customApp(body map[string]any) *oauthflow.OAuthInfo {
	str := func(k string) string {
		s, _ := body[k].(string)
		return strings.TrimSpace(s)
	}
	info := &oauthflow.OAuthInfo{
		ClientID:         str("client_id"),
		ClientSecret:     str("client_secret"),
		AuthorizationURL: str("authorization_url"),
		TokenURL:         str("token_url"),
		Scopes:           parseScopes(body["scopes"]),
	}
	if info.ClientID == "" && info.ClientSecret == "" && info.AuthorizationURL == "" && info.TokenURL == "" {
		return nil
	}
	return info
}

func parseScopes(v any) []string {
	var out []string
	switch s := v.(type) {
	case []any:
		for _, item := range s {
			if str, ok := item.(string); ok && strings.TrimSpace(str) != "" {
				out = append(out, strings.TrimSpace(str))
			}
		}
	case string:
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		if err := json.Unmarshal([]byte(s), &out); err == nil {
			return out
		}
		out = strings.Fields(strings.ReplaceAll(s, ",", " "))
	}
	return out
}

type callbackBody struct {
	CallbackURL string `json:"callback_url"`
}

func (a *App) callback(w http.ResponseWriter, r *http.Request) {
	var body callbackBody
	if !decodeBody(w, r, &body, false) {
		return
	}
	if strings.TrimSpace(body.CallbackURL) == "" {
		problems.Write(w, http.StatusBadRequest, "invalid-body", "callback_url is required", "", nil)
		return
	}
	ctx := r.Context()
	_, err := a.flows.CompleteAuthorization(ctx, chi.URLParam(r, "slug"), middleware.TenantFrom(ctx).ID, userID(r), body.CallbackURL)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, "ok", http.StatusOK)
}

type refreshView struct {
	Status    string     `json:"status"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Scope     string     `json:"scope,omitempty"`
}

func (a *App) refresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := a.flows.Refresh(ctx, chi.URLParam(r, "slug"), middleware.TenantFrom(ctx).ID)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, refreshView{Status: "ok", ExpiresAt: res.ExpiresAt, Scope: res.Scope}, http.StatusOK)
}

func (a *App) disconnect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := a.flows.Disconnect(ctx, chi.URLParam(r, "slug"), middleware.TenantFrom(ctx).ID); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, "ok", http.StatusOK)
}

func (a *App) listFolders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	def, err := a.catalog.Get(ctx, chi.URLParam(r, "slug"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	q := folders.Query{
		SiteID: strings.TrimSpace(r.URL.Query().Get("site_id")),
		Sites:  r.URL.Query().Get("is_search_sites") == "yes",
	}
	out, err := a.browser.List(ctx, def, middleware.TenantFrom(ctx).ID, q)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, out, http.StatusOK)
}

func (a *App) saveFolders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	def, err := a.catalog.Get(ctx, chi.URLParam(r, "slug"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	body := map[string]any{}
	if !decodeBody(w, r, &body, false) {
		return
	}
	if err := a.browser.SaveSelection(ctx, def, middleware.TenantFrom(ctx).ID, body); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, "OK", http.StatusOK)
}

func (a *App) simpleConnect(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{}
	if !decodeBody(w, r, &body, false) {
		return
	}
	ctx := r.Context()
	if err := a.flows.ConnectSimple(ctx, chi.URLParam(r, "slug"), middleware.TenantFrom(ctx).ID, body); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, "OK", http.StatusOK)
}

func userID(r *http.Request) string {
	p, _ := middleware.PrincipalFrom(r.Context())
	return p.UserID
}

// decodeBody reads a JSON body into v. An empty body is accepted when
// allowEmpty is set. On failure it writes the error response.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return true
		}
		problems.Write(w, http.StatusBadRequest, "invalid-body", "Request body must be a JSON object", err.Error(), nil)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
