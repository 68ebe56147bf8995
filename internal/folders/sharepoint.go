package folders

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jmespath/go-jmespath"

	"datasync/pkg/metrics"
)

const (
	graphMaxBody  = 4 << 20
	graphMaxPages = 20
)

var (
	// Root sites Graph creates for every tenant are not useful sync targets.
	graphSites   = jmespath.MustCompile("value[?displayName != 'Apps' && displayName != 'Team Site'].{id: id, name: displayName}")
	graphFolders = jmespath.MustCompile("value[?folder != `null`].{id: id, name: name}")
)

// GraphLister lists SharePoint sites, or the root folders of one site's
// default drive, through Microsoft Graph.
type GraphLister struct {
	client   *http.Client
	endpoint string
}

func NewGraphLister(client *http.Client, endpoint string) *GraphLister {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &GraphLister{client: client, endpoint: strings.TrimRight(endpoint, "/")}
}

func (g *GraphLister) List(ctx context.Context, accessToken string, q Query) ([]Folder, error) {
	if q.Sites {
		return g.collect(ctx, accessToken, g.endpoint+"/sites?search=*", graphSites)
	}
	if q.SiteID == "" || strings.ContainsAny(q.SiteID, "/?#") {
		return nil, ErrSiteRequired
	}
	return g.collect(ctx, accessToken, g.endpoint+"/sites/"+q.SiteID+"/drive/root/children", graphFolders)
}

// collect follows @odata.nextLink and projects every page with expr.
func (g *GraphLister) collect(ctx context.Context, accessToken, url string, expr *jmespath.JMESPath) ([]Folder, error) {
	start := time.Now()
	defer metrics.ObserveSince("list_sharepoint", start)

	out := []Folder{}
	for page := 0; url != "" && page < graphMaxPages; page++ {
		body, err := g.get(ctx, accessToken, url)
		if err != nil {
			return nil, err
		}
		var doc any
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, fmt.Errorf("graph response: %w", err)
		}
		projected, err := expr.Search(doc)
		if err != nil {
			return nil, fmt.Errorf("graph projection: %w", err)
		}
		items, _ := projected.([]any)
		for _, it := range items {
			m, ok := it.(map[string]any)
			if !ok {
				continue
			}
			id, _ := m["id"].(string)
			name, _ := m["name"].(string)
			out = append(out, Folder{ID: id, Name: name})
		}
		url = g.nextLink(doc)
	}
	return out, nil
}

// nextLink only follows links back to the configured endpoint so the bearer
// token is never sent elsewhere.
func (g *GraphLister) nextLink(doc any) string {
	m, _ := doc.(map[string]any)
	next, _ := m["@odata.nextLink"].(string)
	if !strings.HasPrefix(next, g.endpoint+"/") {
		return ""
	}
	return next
}

func (g *GraphLister) get(ctx context.Context, accessToken, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("graph request: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, graphMaxBody))
	if err != nil {
		return nil, fmt.Errorf("graph read: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &RemoteListingError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}
