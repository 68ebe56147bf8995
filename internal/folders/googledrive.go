package folders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"datasync/pkg/metrics"
)

const driveRootFolders = "mimeType='application/vnd.google-apps.folder' and 'root' in parents"

// DriveLister lists the top-level folders of a Google Drive.
type DriveLister struct {
	opts []option.ClientOption
}

// NewDriveLister accepts extra client options, typically option.WithEndpoint
// for tests.
func NewDriveLister(opts ...option.ClientOption) *DriveLister {
	return &DriveLister{opts: opts}
}

func (d *DriveLister) List(ctx context.Context, accessToken string, _ Query) ([]Folder, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, d.opts...)
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("drive client: %w", err)
	}

	start := time.Now()
	defer metrics.ObserveSince("list_googledrive", start)

	out := []Folder{}
	err = svc.Files.List().
		Q(driveRootFolders).
		Fields("nextPageToken, files(id, name)").
		PageSize(1000).
		Pages(ctx, func(page *drive.FileList) error {
			for _, f := range page.Files {
				out = append(out, Folder{ID: f.Id, Name: f.Name})
			}
			return nil
		})
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			return nil, &RemoteListingError{StatusCode: gerr.Code, Body: gerr.Body}
		}
		return nil, fmt.Errorf("drive list: %w", err)
	}
	return out, nil
}
