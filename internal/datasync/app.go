// Package datasync exposes the data source connection API.
package datasync

import (
	"context"

	"go.uber.org/zap"

	"datasync/internal/connections"
	"datasync/internal/folders"
	"datasync/internal/oauthflow"
	"datasync/pkg/connectors"
)

// Catalog lists and resolves connector definitions.
type Catalog interface {
	Get(ctx context.Context, slug string) (connectors.Definition, error)
	List(ctx context.Context) ([]connectors.Definition, error)
}

// App is the HTTP application container. Handlers are methods on it.
type App struct {
	log     *zap.SugaredLogger
	catalog Catalog
	conns   connections.Store
	flows   *oauthflow.Service
	browser *folders.Browser
}

func New(log *zap.SugaredLogger, catalog Catalog, conns connections.Store, flows *oauthflow.Service, browser *folders.Browser) *App {
	return &App{log: log, catalog: catalog, conns: conns, flows: flows, browser: browser}
}
