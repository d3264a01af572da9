package httpapi

import (
	"time"

	"driveingest/internal/ingest"
	"driveingest/internal/model"
)

type serviceStatusJSON struct {
	Status               string `json:"status"`
	Version              string `json:"version"`
	GoogleDriveConnected bool   `json:"google_drive_connected"`
	MonitoringActive     bool   `json:"monitoring_active"`
	FolderID             string `json:"folder_id,omitempty"`
}

type statusJSON struct {
	IsRunning       bool       `json:"is_running"`
	FolderID        string     `json:"folder_id"`
	LastCheck       *time.Time `json:"last_check"`
	FilesProcessed  int        `json:"files_processed"`
	WatchChannel    string     `json:"watch_channel,omitempty"`
	WatchExpiration int64      `json:"watch_expiration,omitempty"`
}

func toStatusJSON(st *ingest.TrackerStatus) statusJSON {
	out := statusJSON{
		IsRunning:       st.Connected,
		FolderID:        st.FolderID,
		FilesProcessed:  st.SeenFiles,
		WatchChannel:    st.WatchChannel,
		WatchExpiration: st.WatchExpireAt,
	}
	if !st.LastCheck.IsZero() {
		t := st.LastCheck
		out.LastCheck = &t
	}
	return out
}

// remoteEntryJSON keeps the remote API's camelCase field names.
type remoteEntryJSON struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	MimeType     string   `json:"mimeType"`
	ModifiedTime string   `json:"modifiedTime"`
	WebViewLink  string   `json:"webViewLink,omitempty"`
	Parents      []string `json:"parents,omitempty"`
}

func toRemoteEntryJSON(e *model.RemoteEntry) remoteEntryJSON {
	return remoteEntryJSON{
		ID:           e.ID,
		Name:         e.Name,
		MimeType:     e.MimeType,
		ModifiedTime: e.ModifiedTime,
		WebViewLink:  e.WebViewLink,
		Parents:      e.Parents,
	}
}

type changeJSON struct {
	FileID  string           `json:"fileId"`
	Removed bool             `json:"removed"`
	Time    string           `json:"time,omitempty"`
	File    *remoteEntryJSON `json:"file,omitempty"`
}

func toChangeJSON(c *model.Change) changeJSON {
	out := changeJSON{FileID: c.FileID, Removed: c.Removed, Time: c.Time}
	if c.File != nil {
		f := toRemoteEntryJSON(c.File)
		out.File = &f
	}
	return out
}

type localFileJSON struct {
	ID           int64     `json:"id"`
	FileID       string    `json:"file_id"`
	Name         string    `json:"name"`
	MimeType     string    `json:"mime_type"`
	ModifiedTime time.Time `json:"modified_time"`
	WebViewLink  *string   `json:"web_view_link"`
	DetectedAt   time.Time `json:"detected_at"`
	Processed    bool      `json:"processed"`
	FolderID     *int64    `json:"folder_id"`
	CreatedAt    time.Time `json:"created_at"`
}

func toLocalFilesJSON(files []*model.RemoteFile) []localFileJSON {
	out := make([]localFileJSON, len(files))
	for i, f := range files {
		out[i] = localFileJSON{
			ID:           f.ID,
			FileID:       f.RemoteID,
			Name:         f.Name,
			MimeType:     f.MimeType,
			ModifiedTime: f.ModifiedTime,
			DetectedAt:   f.DetectedAt,
			Processed:    f.Processed,
			CreatedAt:    f.CreatedAt,
		}
		if f.WebViewLink.Valid {
			link := f.WebViewLink.String
			out[i].WebViewLink = &link
		}
		if f.FolderID.Valid {
			id := f.FolderID.Int64
			out[i].FolderID = &id
		}
	}
	return out
}

type createFolderJSON struct {
	Name       string `json:"name"`
	ParentID   *int64 `json:"parent_id"`
	FolderType string `json:"folder_type"`
	TeamID     string `json:"team_id"`
}

type folderJSON struct {
	ID                  int64     `json:"folder_id"`
	Name                string    `json:"name"`
	GoogleDriveFolderID string    `json:"google_drive_folder_id"`
	ParentFolderID      *int64    `json:"parent_folder_id"`
	FolderType          string    `json:"folder_type"`
	TeamID              string    `json:"team_id,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
}

func toFolderJSON(f *model.Folder) folderJSON {
	out := folderJSON{
		ID:                  f.ID,
		Name:                f.Name,
		GoogleDriveFolderID: f.RemoteID.String,
		FolderType:          string(f.Type),
		TeamID:              f.TeamID.String,
		CreatedAt:           f.CreatedAt,
	}
	if f.ParentID.Valid {
		id := f.ParentID.Int64
		out.ParentFolderID = &id
	}
	return out
}

type documentJSON struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"mime_type"`
	FileID   string `json:"file_id"`
}

type nodeJSON struct {
	ID                  int64          `json:"id"`
	Name                string         `json:"name"`
	GoogleDriveFolderID string         `json:"google_drive_folder_id"`
	FolderType          string         `json:"folder_type"`
	Children            []nodeJSON     `json:"children"`
	Documents           []documentJSON `json:"documents"`
}

// toNodeJSON converts a folder tree with an explicit stack, like BuildFolderTrees.
func toNodeJSON(root *ingest.FolderNode) nodeJSON {
	type frame struct {
		node *ingest.FolderNode
		out  *nodeJSON
	}

	var top nodeJSON
	stack := []frame{{root, &top}}
	for len(stack) > 0 {
		fr := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		f := fr.node.Folder
		*fr.out = nodeJSON{
			ID:                  f.ID,
			Name:                f.Name,
			GoogleDriveFolderID: f.RemoteID.String,
			FolderType:          string(f.Type),
			Children:            make([]nodeJSON, len(fr.node.Children)),
			Documents:           make([]documentJSON, len(fr.node.Documents)),
		}
		for i, d := range fr.node.Documents {
			fr.out.Documents[i] = documentJSON{ID: d.ID, Name: d.Name, MimeType: d.MimeType, FileID: d.RemoteID}
		}
		for i, c := range fr.node.Children {
			stack = append(stack, frame{c, &fr.out.Children[i]})
		}
	}
	return top
}
