package model

import (
	"database/sql"
	"time"
)

// RemoteEntry is file or folder metadata as reported by the remote directory.
// Timestamps are kept as the raw strings the remote sent; parsing happens in
// the sync engine so a bad value only affects one row.
type RemoteEntry struct {
	ID           string
	Name         string
	MimeType     string
	ModifiedTime string   // RFC 3339, may be empty or malformed
	WebViewLink  string   // may be empty
	Parents      []string // remote parent ids
}

// RemoteFile is the local mirror row for a file observed in the remote directory.
type RemoteFile struct {
	ID           int64          // local surrogate id
	RemoteID     string         // external file id, unique
	Name         string
	MimeType     string
	ModifiedTime time.Time
	WebViewLink  sql.NullString
	DetectedAt   time.Time
	Processed    bool          // set once an analysis result has been stored
	FolderID     sql.NullInt64 // owning local folder, if attached
	CreatedAt    time.Time
}

// Folder is a node in the local folder tree.
type Folder struct {
	ID        int64
	Name      string
	RemoteID  sql.NullString // null until reconciled with the remote directory
	ParentID  sql.NullInt64  // null for roots
	Type      FolderType
	TeamID    sql.NullString
	CreatedAt time.Time
}

// Change is one record from the remote change feed.
type Change struct {
	FileID  string
	Removed bool
	Time    string
	File    *RemoteEntry // nil when removed
}

// ChangePage is one page of the remote change feed.
// Exactly one of NextPageToken and NewStartPageToken is normally set.
type ChangePage struct {
	Changes           []*Change
	NextPageToken     string
	NewStartPageToken string
}

// Channel describes a registered push-notification channel.
type Channel struct {
	ID         string
	ResourceID string
	Address    string
	Expiration int64 // unix millis, 0 if unknown
}
