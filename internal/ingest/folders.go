package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"golang.org/x/sync/singleflight"

	"driveingest/internal/model"
)

// EnsureFolderRequest describes a folder that should exist both remotely and locally.
type EnsureFolderRequest struct {
	Name     string
	ParentID *int64 // local parent; nil for a root folder
	Type     model.FolderType
	TeamID   string // required for team folders, inherited otherwise
}

// FolderReconciler keeps the remote folder tree and the local folder table
// in step. Every call checks the remote first, then the local table, and
// fills in whichever side is missing.
type FolderReconciler struct {
	db     Database
	remote RemoteDirectory
	logger Logger
	clock  Clock

	// inflight collapses concurrent calls for the same (parent, name).
	inflight singleflight.Group
}

func NewFolderReconciler(db Database, remote RemoteDirectory, logger Logger, clock Clock) *FolderReconciler {
	return &FolderReconciler{
		db:     db,
		remote: remote,
		logger: logger,
		clock:  clock,
	}
}

// EnsureFolder validates the request against the hierarchy rules and returns
// the local folder bound to the matching remote folder, creating either side
// as needed. Repeating a call returns the same record without creating
// anything remotely.
func (r *FolderReconciler) EnsureFolder(ctx context.Context, req EnsureFolderRequest) (*model.Folder, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, fmt.Errorf("folder name is empty: %w", ErrValidation)
	}
	if !req.Type.Valid() {
		return nil, fmt.Errorf("unknown folder type %q: %w", req.Type, ErrInvalidHierarchy)
	}

	// 1. Team identity.
	if req.Type.RequiresTeam() && strings.TrimSpace(req.TeamID) == "" {
		return nil, fmt.Errorf("creating %s folder %q: %w", req.Type, req.Name, ErrTeamRequired)
	}

	// 2. Parent existence.
	var parent *model.Folder
	if req.ParentID != nil {
		p, err := r.db.FindFolderByID(ctx, *req.ParentID)
		if err != nil {
			return nil, fmt.Errorf("finding parent folder: %w", err)
		}
		if p == nil {
			return nil, fmt.Errorf("parent %d: %w", *req.ParentID, ErrParentNotFound)
		}
		parent = p
	}

	// 3. Structure.
	if parent == nil {
		if req.Type != model.FolderTypeTeam {
			return nil, fmt.Errorf("root folder must be %s, got %s: %w", model.FolderTypeTeam, req.Type, ErrInvalidHierarchy)
		}
	} else if !parent.Type.CanContain(req.Type) {
		return nil, fmt.Errorf("%s folder cannot contain %s: %w", parent.Type, req.Type, ErrInvalidHierarchy)
	}

	// 4. Leaf folders that hold documents stay leaves.
	if parent != nil && parent.Type.IsLeaf() {
		n, err := r.db.CountFilesInFolder(ctx, parent.ID)
		if err != nil {
			return nil, fmt.Errorf("counting parent documents: %w", err)
		}
		if n > 0 {
			return nil, fmt.Errorf("folder %d has %d documents: %w", parent.ID, n, ErrFolderHasDocuments)
		}
	}

	remoteParent := r.remote.RootFolderID()
	teamID := strings.TrimSpace(req.TeamID)
	if parent != nil {
		if !parent.RemoteID.Valid {
			return nil, fmt.Errorf("parent folder %d is not bound to a remote folder: %w", parent.ID, ErrValidation)
		}
		remoteParent = parent.RemoteID.String
		if teamID == "" {
			teamID = parent.TeamID.String
		}
	}

	want := &model.Folder{
		Name:   req.Name,
		Type:   req.Type,
		TeamID: sql.NullString{String: teamID, Valid: teamID != ""},
	}
	if parent != nil {
		want.ParentID = sql.NullInt64{Int64: parent.ID, Valid: true}
	}

	// Keyed without the type so one remote name never gets two folders;
	// a caller asking for another type gets the mismatch below.
	v, err, _ := r.inflight.Do(remoteParent+"/"+req.Name, func() (any, error) {
		return r.reconcile(ctx, want, remoteParent)
	})
	if err != nil {
		return nil, err
	}
	folder := v.(*model.Folder)
	// A remote name is bound to one local folder; its type is fixed.
	if folder.Type != req.Type {
		return nil, fmt.Errorf("folder %q is already bound as %s, not %s: %w", req.Name, folder.Type, req.Type, ErrInvalidHierarchy)
	}
	return folder, nil
}

func (r *FolderReconciler) reconcile(ctx context.Context, want *model.Folder, remoteParent string) (*model.Folder, error) {
	existing, err := r.remote.FindFolderByName(ctx, want.Name, remoteParent)
	if err != nil {
		return nil, fmt.Errorf("looking up remote folder %q: %w", want.Name, err)
	}

	if existing == nil {
		created, err := r.remote.CreateFolder(ctx, want.Name, remoteParent)
		if err != nil {
			return nil, fmt.Errorf("creating remote folder %q: %w", want.Name, err)
		}
		want.RemoteID = sql.NullString{String: created.ID, Valid: true}
		folder, err := r.createLocal(ctx, want)
		if err != nil {
			return nil, err
		}
		r.logger.Info("folder created", "folder", folder.ID, "name", folder.Name, "remote", created.ID)
		return folder, nil
	}

	local, err := r.db.FindFolderByRemoteID(ctx, existing.ID)
	if err != nil {
		return nil, fmt.Errorf("finding local folder: %w", err)
	}
	if local != nil {
		return local, nil
	}

	want.RemoteID = sql.NullString{String: existing.ID, Valid: true}
	folder, err := r.createLocal(ctx, want)
	if err != nil {
		return nil, err
	}
	r.logger.Warn("remote folder had no local record, bound it", "folder", folder.ID, "name", folder.Name, "remote", existing.ID)
	return folder, nil
}

// createLocal inserts the folder. If another writer bound the same remote id
// first, that row is returned instead.
func (r *FolderReconciler) createLocal(ctx context.Context, f *model.Folder) (*model.Folder, error) {
	f.CreatedAt = r.clock.Now()
	err := r.db.CreateFolder(ctx, f)
	if err == nil {
		return f, nil
	}

	winner, findErr := r.db.FindFolderByRemoteID(ctx, f.RemoteID.String)
	if findErr == nil && winner != nil {
		return winner, nil
	}
	return nil, fmt.Errorf("creating local folder %q: %w", f.Name, err)
}

// Folder returns the local folder with the given id or ErrNotFound.
func (r *FolderReconciler) Folder(ctx context.Context, id int64) (*model.Folder, error) {
	f, err := r.db.FindFolderByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("finding folder: %w", err)
	}
	if f == nil {
		return nil, fmt.Errorf("folder %d: %w", id, ErrNotFound)
	}
	return f, nil
}
