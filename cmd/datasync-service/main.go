// cmd/datasync-service/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/api/option"

	"datasync/internal/connections"
	"datasync/internal/datasync"
	"datasync/internal/folders"
	"datasync/internal/oauthflow"
	"datasync/pkg/config"
	"datasync/pkg/connectors"
	"datasync/pkg/db"
	"datasync/pkg/logger"
	"datasync/pkg/secrets"
	"datasync/pkg/tenants"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	defer func() { _ = log.Sync() }()

	sealer := secrets.NewSealer(cfg.EncryptionKey)
	if !sealer.Enabled() {
		log.Warnw("ENCRYPTION_KEY not set, credentials are stored unsealed")
	}

	pool := db.MustConnect(cfg, log)
	rdb := db.MustRedis(cfg, log)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	var (
		prov  tenants.Provider
		conns connections.Store
	)
	if pool != nil {
		if err := tenants.EnsureSchema(ctx, pool); err != nil {
			log.Fatalw("schema", "table", "tenants", "err", err)
		}
		if err := connectors.EnsureSchema(ctx, pool); err != nil {
			log.Fatalw("schema", "table", "data_sources", "err", err)
		}
		if err := connections.EnsureSchema(ctx, pool); err != nil {
			log.Fatalw("schema", "table", "data_connections", "err", err)
		}
		if err := tenants.SeedFromEnv(ctx, pool, os.Getenv("TENANT_SEED_JSON")); err != nil {
			log.Warnw("seed", "err", err)
		}
		prov = tenants.NewPostgresProvider(pool, log)
		conns = connections.NewPostgresStore(pool, sealer)
	} else {
		prov = tenants.NewMemoryProviderFromEnv(log)
		conns = connections.NewMemoryStore()
	}

	catalog := connectors.NewCatalog(pool, sealer)
	defs, err := connectors.LoadDir(cfg.CatalogDir)
	if err != nil {
		log.Fatalw("catalog load", "dir", cfg.CatalogDir, "err", err)
	}
	if err := catalog.Upsert(ctx, defs); err != nil {
		log.Fatalw("catalog import", "err", err)
	}
	cancel()
	log.Infow("catalog imported", "entries", len(defs))

	var flows oauthflow.FlowStore = oauthflow.NewMemoryFlowStore()
	if rdb != nil {
		flows = oauthflow.NewRedisFlowStore(rdb, sealer)
	}

	svc := oauthflow.NewService(log, catalog, flows, conns, oauthflow.NewExchanger(nil), oauthflow.Options{
		RedirectURITemplate:    cfg.OAuthRedirectURI,
		FlowTTL:                cfg.FlowTTL,
		AllowInsecureTransport: cfg.AllowInsecureTransport,
	})

	var driveOpts []option.ClientOption
	if cfg.GoogleDriveEndpoint != "" {
		driveOpts = append(driveOpts, option.WithEndpoint(cfg.GoogleDriveEndpoint))
	}
	browser := folders.NewBrowser(log, conns, svc, map[string]folders.Lister{
		connectors.KindGoogleDrive: folders.NewDriveLister(driveOpts...),
		connectors.KindSharePoint:  folders.NewGraphLister(nil, cfg.GraphEndpoint),
		connectors.KindFacebook:    folders.StaticLister{Items: folders.FacebookPages},
	})

	app := datasync.New(log, catalog, conns, svc, browser)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           app.Handler(cfg, prov),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infow("datasync-service listening", "addr", cfg.HTTPAddr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	if pool != nil {
		pool.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	fmt.Println("datasync-service stopped")
}
