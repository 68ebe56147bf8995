package folders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestDriveLister(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/drive/v3/files", r.URL.Path)
		assert.Equal(t, driveRootFolders, r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			if r.URL.Query().Get("pageToken") == "" {
				_ = json.NewEncoder(w).Encode(map[string]any{
					"nextPageToken": "p2",
					"files":         []map[string]string{{"id": "1ZdG", "name": "helle2024"}},
				})
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"files": []map[string]string{{"id": "2abc", "name": "reports"}},
			})
		case "Bearer denied":
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":{"code":403,"message":"insufficient scope"}}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"code":401,"message":"Invalid Credentials"}}`))
		}
	}))
	defer srv.Close()

	l := NewDriveLister(option.WithEndpoint(srv.URL + "/drive/v3/"))
	ctx := context.Background()

	out, err := l.List(ctx, "good", Query{})
	require.NoError(t, err)
	assert.Equal(t, []Folder{{ID: "1ZdG", Name: "helle2024"}, {ID: "2abc", Name: "reports"}}, out)

	_, err = l.List(ctx, "expired", Query{})
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = l.List(ctx, "denied", Query{})
	var rle *RemoteListingError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, http.StatusForbidden, rle.StatusCode)
	assert.Contains(t, rle.Body, "insufficient scope")
}

func TestGraphLister(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"code":"InvalidAuthenticationToken"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/v1.0/sites" && r.URL.Query().Get("search") == "*":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"value": []map[string]any{
					{"id": "contoso,ab1f3419", "displayName": "Marketing"},
					{"id": "contoso,apps", "displayName": "Apps"},
					{"id": "contoso,root", "displayName": "Team Site"},
				},
				"@odata.nextLink": srv.URL + "/v1.0/sites/page2",
			})
		case r.URL.Path == "/v1.0/sites/page2":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"value":           []map[string]any{{"id": "contoso,hr", "displayName": "HR"}},
				"@odata.nextLink": "https://evil.example.com/steal",
			})
		case r.URL.Path == "/v1.0/sites/contoso,ab1f3419/drive/root/children":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"value": []map[string]any{
					{"id": "01JIQ", "name": "folder2024", "folder": map[string]any{"childCount": 3}},
					{"id": "01XYZ", "name": "notes.docx", "file": map[string]any{}},
				},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":"itemNotFound"}}`))
		}
	}))
	defer srv.Close()

	l := NewGraphLister(srv.Client(), srv.URL+"/v1.0/")
	ctx := context.Background()

	sites, err := l.List(ctx, "good", Query{Sites: true})
	require.NoError(t, err)
	assert.Equal(t, []Folder{{ID: "contoso,ab1f3419", Name: "Marketing"}, {ID: "contoso,hr", Name: "HR"}}, sites)

	folders, err := l.List(ctx, "good", Query{SiteID: "contoso,ab1f3419"})
	require.NoError(t, err)
	assert.Equal(t, []Folder{{ID: "01JIQ", Name: "folder2024"}}, folders)

	_, err = l.List(ctx, "good", Query{})
	assert.ErrorIs(t, err, ErrSiteRequired)

	_, err = l.List(ctx, "good", Query{SiteID: "missing"})
	var rle *RemoteListingError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, http.StatusNotFound, rle.StatusCode)
	assert.Contains(t, rle.Body, "itemNotFound")

	_, err = l.List(ctx, "stale", Query{Sites: true})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestStaticLister(t *testing.T) {
	out, err := StaticLister{Items: FacebookPages}.List(context.Background(), "", Query{})
	require.NoError(t, err)
	assert.Equal(t, FacebookPages, out)
	out[0].Name = "changed"
	assert.Equal(t, "Reviews", FacebookPages[0].Name)
}
