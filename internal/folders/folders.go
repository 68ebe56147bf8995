// Package folders lists remote folders (or sites) for connected data sources
// and keeps saved selections in step with upstream renames.
package folders

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrUnauthorized matches a *RemoteListingError carrying a 401.
	ErrUnauthorized = errors.New("remote listing unauthorized")
	// ErrSiteRequired is returned for a folder listing of a site-keyed
	// connector without a usable site id.
	ErrSiteRequired = errors.New("site_id is required")
	// ErrInvalidSelection rejects a folder selection whose shape does not
	// match the connector (list vs site mapping).
	ErrInvalidSelection = errors.New("invalid folder selection")
)

// Folder is one selectable remote container.
type Folder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Query narrows a listing. Sites asks a site-keyed connector for its sites
// instead of the folders of SiteID.
type Query struct {
	SiteID string
	Sites  bool
}

// Lister fetches one page set of folders using a bearer token.
type Lister interface {
	List(ctx context.Context, accessToken string, q Query) ([]Folder, error)
}

// RemoteListingError is a non-2xx answer from a listing endpoint. The status
// and body are passed through to the caller unchanged.
type RemoteListingError struct {
	StatusCode int
	Body       string
}

func (e *RemoteListingError) Error() string {
	return fmt.Sprintf("remote listing failed with status %d", e.StatusCode)
}

func (e *RemoteListingError) Is(target error) bool {
	return target == ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}
