package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"driveingest/internal/ingest"
	"driveingest/internal/model"
)

const (
	listPageSize = 100
	entryFields  = "id,name,mimeType,modifiedTime,webViewLink,parents"
	listFields   = "nextPageToken,files(" + entryFields + ")"
	changeFields = "nextPageToken,newStartPageToken,changes(fileId,removed,time,file(" + entryFields + "))"
)

// DriveDirectory implements ingest.RemoteDirectory with the Drive v3 API.
type DriveDirectory struct {
	svc      *drive.Service
	folderID string
}

var _ ingest.RemoteDirectory = (*DriveDirectory)(nil)

// NewDriveDirectory authenticates with the service-account credentials file
// and watches folderID.
func NewDriveDirectory(ctx context.Context, credentialsFile, folderID string) (*DriveDirectory, error) {
	if folderID == "" {
		return nil, fmt.Errorf("folder_id required for drive remote")
	}
	opts := []option.ClientOption{option.WithScopes(drive.DriveScope)}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating drive client: %w", err)
	}
	return &DriveDirectory{svc: svc, folderID: folderID}, nil
}

// NewDriveDirectoryFromService wraps an existing client, e.g. one pointed at a test server.
func NewDriveDirectoryFromService(svc *drive.Service, folderID string) *DriveDirectory {
	return &DriveDirectory{svc: svc, folderID: folderID}
}

func (d *DriveDirectory) RootFolderID() string {
	return d.folderID
}

func (d *DriveDirectory) ListFiles(ctx context.Context, folderID string) ([]*model.RemoteEntry, error) {
	q := fmt.Sprintf("'%s' in parents and trashed = false", escapeQuery(folderID))
	return d.list(ctx, "files.list", q)
}

func (d *DriveDirectory) GetFile(ctx context.Context, id string) (*model.RemoteEntry, error) {
	f, err := d.svc.Files.Get(id).Fields(entryFields).Context(ctx).Do()
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, remoteError("files.get", err)
	}
	return toEntry(f), nil
}

func (d *DriveDirectory) CreateFolder(ctx context.Context, name, parentID string) (*model.RemoteEntry, error) {
	meta := &drive.File{
		Name:     name,
		MimeType: ingest.FolderMimeType,
		Parents:  []string{parentID},
	}
	f, err := d.svc.Files.Create(meta).Fields(entryFields).Context(ctx).Do()
	if err != nil {
		return nil, remoteError("files.create folder", err)
	}
	return toEntry(f), nil
}

func (d *DriveDirectory) FindFolderByName(ctx context.Context, name, parentID string) (*model.RemoteEntry, error) {
	q := fmt.Sprintf("name = '%s' and mimeType = '%s' and '%s' in parents and trashed = false",
		escapeQuery(name), ingest.FolderMimeType, escapeQuery(parentID))
	entries, err := d.list(ctx, "files.list folder", q)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return entries[0], nil
}

func (d *DriveDirectory) UploadFile(ctx context.Context, name, mimeType string, content io.Reader, parentID string) (*model.RemoteEntry, error) {
	meta := &drive.File{
		Name:     name,
		MimeType: mimeType,
		Parents:  []string{parentID},
	}
	f, err := d.svc.Files.Create(meta).
		Media(content, googleapi.ContentType(mimeType)).
		Fields(entryFields).
		Context(ctx).
		Do()
	if err != nil {
		return nil, remoteError("files.create upload", err)
	}
	return toEntry(f), nil
}

func (d *DriveDirectory) GetStartToken(ctx context.Context) (string, error) {
	resp, err := d.svc.Changes.GetStartPageToken().Context(ctx).Do()
	if err != nil {
		return "", remoteError("changes.getStartPageToken", err)
	}
	return resp.StartPageToken, nil
}

func (d *DriveDirectory) ListChanges(ctx context.Context, token string) (*model.ChangePage, error) {
	resp, err := d.svc.Changes.List(token).
		PageSize(listPageSize).
		Fields(changeFields).
		Context(ctx).
		Do()
	if isInvalidPageToken(err) {
		return nil, fmt.Errorf("change token %q expired: %w", token, ingest.ErrNotFound)
	}
	if err != nil {
		return nil, remoteError("changes.list", err)
	}

	page := &model.ChangePage{
		NextPageToken:     resp.NextPageToken,
		NewStartPageToken: resp.NewStartPageToken,
	}
	for _, c := range resp.Changes {
		ch := &model.Change{
			FileID:  c.FileId,
			Removed: c.Removed,
			Time:    c.Time,
		}
		if c.File != nil && !c.Removed {
			ch.File = toEntry(c.File)
		}
		page.Changes = append(page.Changes, ch)
	}
	return page, nil
}

func (d *DriveDirectory) WatchChanges(ctx context.Context, token, channelID, address string) (*model.Channel, error) {
	resp, err := d.svc.Changes.Watch(token, &drive.Channel{
		Id:      channelID,
		Type:    "web_hook",
		Address: address,
	}).Context(ctx).Do()
	if err != nil {
		return nil, remoteError("changes.watch", err)
	}
	return &model.Channel{
		ID:         resp.Id,
		ResourceID: resp.ResourceId,
		Address:    address,
		Expiration: resp.Expiration,
	}, nil
}

func (d *DriveDirectory) list(ctx context.Context, op, q string) ([]*model.RemoteEntry, error) {
	var entries []*model.RemoteEntry
	pageToken := ""
	for {
		req := d.svc.Files.List().
			Q(q).
			OrderBy("modifiedTime desc").
			PageSize(listPageSize).
			Fields(listFields)
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}
		resp, err := req.Context(ctx).Do()
		if err != nil {
			return nil, remoteError(op, err)
		}
		for _, f := range resp.Files {
			entries = append(entries, toEntry(f))
		}
		if resp.NextPageToken == "" {
			return entries, nil
		}
		pageToken = resp.NextPageToken
	}
}

func toEntry(f *drive.File) *model.RemoteEntry {
	return &model.RemoteEntry{
		ID:           f.Id,
		Name:         f.Name,
		MimeType:     f.MimeType,
		ModifiedTime: f.ModifiedTime,
		WebViewLink:  f.WebViewLink,
		Parents:      f.Parents,
	}
}

// escapeQuery quotes a value for use inside a single-quoted Drive query string.
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

func remoteError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("drive %s: %w", op, err)
	}
	return fmt.Errorf("drive %s: %w: %w", op, ingest.ErrRemoteUnavailable, err)
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound
}

func isInvalidPageToken(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusGone
}
