package folders

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"datasync/internal/connections"
	"datasync/pkg/connectors"
	"datasync/pkg/metrics"
)

// TokenRefresher swaps a connection's refresh token for a new access token and
// persists it.
type TokenRefresher interface {
	RefreshAccessToken(ctx context.Context, connector, tenantID string) (string, error)
}

// Browser runs listings for connected data sources. An unauthorized listing
// is retried exactly once after a token refresh.
type Browser struct {
	log       *zap.SugaredLogger
	conns     connections.Store
	refresher TokenRefresher
	listers   map[string]Lister
}

// NewBrowser wires listers by connector kind (connectors.KindGoogleDrive etc).
func NewBrowser(log *zap.SugaredLogger, conns connections.Store, refresher TokenRefresher, listers map[string]Lister) *Browser {
	return &Browser{log: log, conns: conns, refresher: refresher, listers: listers}
}

// List returns the remote folders (or sites) of def for tenantID. A tenant
// that is not connected, or a connector without a lister, gets an empty
// listing. Renamed folders are written back into the saved selection.
func (b *Browser) List(ctx context.Context, def connectors.Definition, tenantID string, q Query) ([]Folder, error) {
	rec, err := b.conns.Get(ctx, tenantID, def.Slug)
	if errors.Is(err, connections.ErrNotConnected) {
		return []Folder{}, nil
	}
	if err != nil {
		return nil, err
	}
	lister, ok := b.listers[def.Kind]
	if !ok {
		return []Folder{}, nil
	}
	if !def.SiteKeyed() {
		q = Query{}
	}

	out, err := b.attempt(ctx, def.Kind, lister, rec.AccessToken(), q)
	if errors.Is(err, ErrUnauthorized) {
		b.log.Infow("listing unauthorized, refreshing token", "connector", def.Slug, "tenant", tenantID)
		token, rerr := b.refresher.RefreshAccessToken(ctx, def.Slug, tenantID)
		if rerr != nil {
			return nil, rerr
		}
		out, err = b.attempt(ctx, def.Kind, lister, token, q)
		if err == nil {
			// the refresh rewrote the record
			if rec, err = b.conns.Get(ctx, tenantID, def.Slug); err != nil {
				return nil, err
			}
		}
	}
	if err != nil {
		return nil, err
	}

	if !q.Sites {
		b.reconcile(ctx, def, rec, q.SiteID, out)
	}
	return out, nil
}

func (b *Browser) attempt(ctx context.Context, kind string, l Lister, token string, q Query) ([]Folder, error) {
	out, err := l.List(ctx, token, q)
	outcome := "ok"
	switch {
	case errors.Is(err, ErrUnauthorized):
		outcome = "unauthorized"
	case err != nil:
		outcome = "error"
	}
	metrics.ListingAttempts.WithLabelValues(kind, outcome).Inc()
	return out, err
}

func (b *Browser) reconcile(ctx context.Context, def connectors.Definition, rec connections.Record, siteID string, fresh []Folder) {
	if def.SiteKeyed() != (siteID != "") {
		return
	}
	if !ReconcileSelection(rec.OtherInfo, siteID, fresh) {
		return
	}
	if err := b.conns.Upsert(ctx, rec); err != nil {
		b.log.Warnw("folder rename reconcile failed", "connector", def.Slug, "tenant", rec.TenantID, "err", err)
		return
	}
	b.log.Infow("folder selection renamed", "connector", def.Slug, "tenant", rec.TenantID, "site", siteID)
}

// SaveSelection merges body into the connection's other_info. A "folders"
// entry must be a site mapping for site-keyed connectors and a list
// otherwise. Saving for a connector that is not connected is a no-op.
func (b *Browser) SaveSelection(ctx context.Context, def connectors.Definition, tenantID string, body map[string]any) error {
	if raw, ok := body[connections.FoldersKey]; ok && raw != nil {
		switch raw.(type) {
		case map[string]any:
			if !def.SiteKeyed() {
				return ErrInvalidSelection
			}
		case []any:
			if def.SiteKeyed() {
				return ErrInvalidSelection
			}
		default:
			return ErrInvalidSelection
		}
	}
	rec, err := b.conns.Get(ctx, tenantID, def.Slug)
	if errors.Is(err, connections.ErrNotConnected) {
		return nil
	}
	if err != nil {
		return err
	}
	if rec.OtherInfo == nil {
		rec.OtherInfo = map[string]any{}
	}
	for k, v := range body {
		rec.OtherInfo[k] = v
	}
	return b.conns.Upsert(ctx, rec)
}
