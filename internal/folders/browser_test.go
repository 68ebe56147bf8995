package folders

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datasync/internal/connections"
	"datasync/pkg/connectors"
	"datasync/pkg/logger"
)

// scriptedLister answers each call with the next scripted result.
type scriptedLister struct {
	results []func(token string) ([]Folder, error)
	tokens  []string
	queries []Query
}

func (s *scriptedLister) List(_ context.Context, token string, q Query) ([]Folder, error) {
	i := len(s.tokens)
	s.tokens = append(s.tokens, token)
	s.queries = append(s.queries, q)
	if i >= len(s.results) {
		return nil, errors.New("unexpected call")
	}
	return s.results[i](token)
}

func unauthorized(string) ([]Folder, error) {
	return nil, &RemoteListingError{StatusCode: http.StatusUnauthorized, Body: `{"error":"invalid_token"}`}
}

// storeRefresher writes a new access token the way oauthflow.Service does.
type storeRefresher struct {
	conns connections.Store
	calls int
	err   error
}

func (r *storeRefresher) RefreshAccessToken(ctx context.Context, connector, tenantID string) (string, error) {
	r.calls++
	if r.err != nil {
		return "", r.err
	}
	rec, err := r.conns.Get(ctx, tenantID, connector)
	if err != nil {
		return "", err
	}
	rec.AuthInfo[connections.KeyAccessToken] = "fresh"
	return "fresh", r.conns.Upsert(ctx, rec)
}

var (
	driveDef      = connectors.Definition{Slug: "googledrive", Kind: connectors.KindGoogleDrive}
	sharepointDef = connectors.Definition{Slug: "sharepoint", Kind: connectors.KindSharePoint}
)

func newBrowser(t *testing.T, kind string, l Lister, other map[string]any) (*Browser, *connections.MemoryStore, *storeRefresher) {
	t.Helper()
	conns := connections.NewMemoryStore()
	slug := kind
	require.NoError(t, conns.Upsert(context.Background(), connections.Record{
		TenantID:  "t1",
		Connector: slug,
		AuthInfo:  map[string]string{connections.KeyAccessToken: "stale"},
		OtherInfo: other,
	}))
	r := &storeRefresher{conns: conns}
	return NewBrowser(logger.Nop(), conns, r, map[string]Lister{kind: l}), conns, r
}

func TestBrowser_RefreshesOnceThenSucceeds(t *testing.T) {
	l := &scriptedLister{results: []func(string) ([]Folder, error){
		unauthorized,
		func(string) ([]Folder, error) {
			return []Folder{{ID: "A", Name: "new"}, {ID: "B", Name: "new2"}}, nil
		},
	}}
	other := map[string]any{"folders": []any{map[string]any{"id": "A", "name": "old"}}}
	b, conns, r := newBrowser(t, connectors.KindGoogleDrive, l, other)

	out, err := b.List(context.Background(), driveDef, "t1", Query{})
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Equal(t, []string{"stale", "fresh"}, l.tokens)
	assert.Equal(t, 1, r.calls)

	rec, err := conns.Get(context.Background(), "t1", "googledrive")
	require.NoError(t, err)
	assert.Equal(t, "fresh", rec.AccessToken(), "refreshed token is kept")
	assert.Equal(t, []any{map[string]any{"id": "A", "name": "new"}}, rec.Folders())
}

func TestBrowser_SecondUnauthorizedIsTerminal(t *testing.T) {
	l := &scriptedLister{results: []func(string) ([]Folder, error){unauthorized, unauthorized, unauthorized}}
	b, _, r := newBrowser(t, connectors.KindGoogleDrive, l, nil)

	_, err := b.List(context.Background(), driveDef, "t1", Query{})
	var rle *RemoteListingError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, http.StatusUnauthorized, rle.StatusCode)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Len(t, l.tokens, 2, "exactly two attempts")
	assert.Equal(t, 1, r.calls)
}

func TestBrowser_RefreshFailurePropagates(t *testing.T) {
	l := &scriptedLister{results: []func(string) ([]Folder, error){unauthorized}}
	b, _, r := newBrowser(t, connectors.KindGoogleDrive, l, nil)
	r.err = errors.New("invalid_grant")

	_, err := b.List(context.Background(), driveDef, "t1", Query{})
	assert.EqualError(t, err, "invalid_grant")
	assert.Len(t, l.tokens, 1)
}

func TestBrowser_OtherErrorsAreNotRetried(t *testing.T) {
	l := &scriptedLister{results: []func(string) ([]Folder, error){
		func(string) ([]Folder, error) {
			return nil, &RemoteListingError{StatusCode: http.StatusForbidden, Body: "quota"}
		},
	}}
	b, _, r := newBrowser(t, connectors.KindGoogleDrive, l, nil)

	_, err := b.List(context.Background(), driveDef, "t1", Query{})
	var rle *RemoteListingError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, "quota", rle.Body)
	assert.NotErrorIs(t, err, ErrUnauthorized)
	assert.Zero(t, r.calls)
}

func TestBrowser_NotConnectedOrNoLister(t *testing.T) {
	l := &scriptedLister{}
	b := NewBrowser(logger.Nop(), connections.NewMemoryStore(), &storeRefresher{}, map[string]Lister{connectors.KindGoogleDrive: l})

	out, err := b.List(context.Background(), driveDef, "t1", Query{})
	require.NoError(t, err)
	assert.Equal(t, []Folder{}, out)
	assert.Empty(t, l.tokens)

	b2, _, _ := newBrowser(t, "quickbooks", l, nil)
	out, err = b2.List(context.Background(), connectors.Definition{Slug: "quickbooks"}, "t1", Query{})
	require.NoError(t, err)
	assert.Equal(t, []Folder{}, out)
}

func TestBrowser_SharePointReconcilesOnlyRequestedSite(t *testing.T) {
	l := &scriptedLister{results: []func(string) ([]Folder, error){
		func(string) ([]Folder, error) { return []Folder{{ID: "S1", Name: "Marketing"}}, nil },
		func(string) ([]Folder, error) { return []Folder{{ID: "F", Name: "renamed"}}, nil },
	}}
	other := map[string]any{"folders": map[string]any{
		"S1": []any{map[string]any{"id": "F", "name": "old"}},
		"S2": []any{map[string]any{"id": "F", "name": "untouched"}},
	}}
	b, conns, _ := newBrowser(t, connectors.KindSharePoint, l, other)
	ctx := context.Background()

	sites, err := b.List(ctx, sharepointDef, "t1", Query{Sites: true})
	require.NoError(t, err)
	assert.Equal(t, []Folder{{ID: "S1", Name: "Marketing"}}, sites)

	_, err = b.List(ctx, sharepointDef, "t1", Query{SiteID: "S1"})
	require.NoError(t, err)
	assert.Equal(t, []Query{{Sites: true}, {SiteID: "S1"}}, l.queries)

	rec, err := conns.Get(ctx, "t1", "sharepoint")
	require.NoError(t, err)
	bySite := rec.Folders().(map[string]any)
	assert.Equal(t, "renamed", bySite["S1"].([]any)[0].(map[string]any)["name"])
	assert.Equal(t, "untouched", bySite["S2"].([]any)[0].(map[string]any)["name"])
}

func TestBrowser_SaveSelection(t *testing.T) {
	b, conns, _ := newBrowser(t, connectors.KindSharePoint, &scriptedLister{}, map[string]any{"tenant_url": "acme"})
	ctx := context.Background()

	assert.ErrorIs(t, b.SaveSelection(ctx, sharepointDef, "t1", map[string]any{"folders": []any{}}), ErrInvalidSelection)

	sel := map[string]any{"folders": map[string]any{"S1": []any{map[string]any{"id": "F", "name": "f"}}}}
	require.NoError(t, b.SaveSelection(ctx, sharepointDef, "t1", sel))

	rec, err := conns.Get(ctx, "t1", "sharepoint")
	require.NoError(t, err)
	assert.Equal(t, "acme", rec.OtherInfo["tenant_url"], "other keys are merged, not replaced")
	assert.Equal(t, sel["folders"], rec.Folders())

	assert.NoError(t, b.SaveSelection(ctx, driveDef, "t1", map[string]any{"folders": []any{}}), "not connected is a no-op")
	assert.ErrorIs(t, b.SaveSelection(ctx, driveDef, "t1", map[string]any{"folders": "A"}), ErrInvalidSelection)
}
