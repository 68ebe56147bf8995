package datasync

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"datasync/pkg/config"
	"datasync/pkg/middleware"
	"datasync/pkg/openapi"
	"datasync/pkg/tenants"
)

const (
	basePath    = "/v1/data-sources"
	serviceName = "datasync"
	apiVersion  = "v1"
)

type route struct {
	Method     string
	Path       string
	Summary    string
	AdminOnly  bool
	Parameters []any
	Body       map[string]any
	handler    func(a *App) http.HandlerFunc
}

var slugParam = openapi.PathParam("slug")

var routes = []route{
	{Method: http.MethodGet, Path: "", Summary: "List data sources with connection status",
		Parameters: []any{openapi.QueryParam("show_all", "yes lists every catalog entry")},
		handler:    func(a *App) http.HandlerFunc { return a.listDataSources }},
	{Method: http.MethodPost, Path: "/{slug}/authorization-url", Summary: "Start an OAuth authorization", AdminOnly: true,
		Parameters: []any{slugParam},
		Body: map[string]any{"type": "object", "additionalProperties": true, "properties": map[string]any{
			"client_id": map[string]any{"type": "string"}, "client_secret": map[string]any{"type": "string"},
			"authorization_url": map[string]any{"type": "string"}, "token_url": map[string]any{"type": "string"},
			"scopes": map[string]any{"type": []string{"array", "string"}},
		}},
		handler: func(a *App) http.HandlerFunc { return a.authorizationURL }},
	{Method: http.MethodPost, Path: "/{slug}/callback", Summary: "Complete an OAuth authorization", AdminOnly: true,
		Parameters: []any{slugParam},
		Body: map[string]any{"type": "object", "required": []string{"callback_url"}, "properties": map[string]any{
			"callback_url": map[string]any{"type": "string"},
		}},
		handler: func(a *App) http.HandlerFunc { return a.callback }},
	{Method: http.MethodPost, Path: "/{slug}/refresh", Summary: "Refresh the access token", AdminOnly: true,
		Parameters: []any{slugParam},
		handler:    func(a *App) http.HandlerFunc { return a.refresh }},
	{Method: http.MethodPost, Path: "/{slug}/disconnect", Summary: "Delete the connection", AdminOnly: true,
		Parameters: []any{slugParam},
		handler:    func(a *App) http.HandlerFunc { return a.disconnect }},
	{Method: http.MethodGet, Path: "/{slug}/folders", Summary: "List remote folders or sites",
		Parameters: []any{slugParam, openapi.QueryParam("site_id", "site to list folders of"), openapi.QueryParam("is_search_sites", "yes lists sites")},
		handler:    func(a *App) http.HandlerFunc { return a.listFolders }},
	{Method: http.MethodPost, Path: "/{slug}/folders", Summary: "Save the folder selection", AdminOnly: true,
		Parameters: []any{slugParam},
		Body:       map[string]any{"type": "object", "additionalProperties": true},
		handler:    func(a *App) http.HandlerFunc { return a.saveFolders }},
	{Method: http.MethodPost, Path: "/{slug}/simple-connect", Summary: "Connect with an api key or basic credentials", AdminOnly: true,
		Parameters: []any{slugParam},
		Body: map[string]any{"type": "object", "additionalProperties": true, "properties": map[string]any{
			"username": map[string]any{"type": "string"}, "password": map[string]any{"type": "string"}, "api_key": map[string]any{"type": "string"},
		}},
		handler: func(a *App) http.HandlerFunc { return a.simpleConnect }},
}

// Routes mounts the data source API on r. Callers install authentication
// and tenant resolution first.
func (a *App) Routes(r chi.Router) {
	for _, rt := range routes {
		h := rt.handler(a)
		if rt.AdminOnly {
			r.With(middleware.RequireRole(middleware.RoleTenantAdmin)).Method(rt.Method, basePath+rt.Path, h)
			continue
		}
		r.Method(rt.Method, basePath+rt.Path, h)
	}
}

// OpenAPI describes the routes mounted by Routes.
func OpenAPI() *openapi.Registry {
	reg := openapi.NewRegistry()
	for _, rt := range routes {
		op := openapi.Operation{
			Method:     rt.Method,
			Path:       basePath + rt.Path,
			Summary:    rt.Summary,
			Tags:       []string{"data-sources"},
			Parameters: rt.Parameters,
			Responses: map[string]any{
				"200":     map[string]any{"description": "OK"},
				"default": map[string]any{"description": "problem+json error"},
			},
		}
		if rt.AdminOnly {
			op.Roles = []string{middleware.RoleTenantAdmin}
		}
		if rt.Body != nil {
			op.RequestBody = openapi.JSONBody(rt.Body)
		}
		reg.Register(op)
	}
	return reg
}

// Handler builds the full service handler: shared middleware, public
// endpoints and the authenticated API.
func (a *App) Handler(cfg config.Config, prov tenants.Provider) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID(), chimw.RealIP, middleware.Recover(a.log))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.Tracing(a.log, serviceName))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/.well-known/openapi.json", OpenAPI().ServeHandler(serviceName, apiVersion))

	r.Group(func(pr chi.Router) {
		pr.Use(middleware.JWTAuth(cfg))
		pr.Use(middleware.WithTenant(prov, cfg.Env == "dev"))
		a.Routes(pr)
	})
	return r
}
