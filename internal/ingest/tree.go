package ingest

import (
	"context"
	"fmt"

	"driveingest/internal/model"
)

// FolderNode is one folder with its subfolders and attached documents.
type FolderNode struct {
	Folder    *model.Folder
	Children  []*FolderNode
	Documents []*model.RemoteFile
}

// FolderTree returns the subtree rooted at folder id.
func (r *FolderReconciler) FolderTree(ctx context.Context, id int64) (*FolderNode, error) {
	trees, err := r.buildTrees(ctx, func(f *model.Folder) bool { return f.ID == id })
	if err != nil {
		return nil, err
	}
	if len(trees) == 0 {
		return nil, fmt.Errorf("folder %d: %w", id, ErrNotFound)
	}
	return trees[0], nil
}

// RootTrees returns one tree per root folder.
func (r *FolderReconciler) RootTrees(ctx context.Context) ([]*FolderNode, error) {
	return r.buildTrees(ctx, func(f *model.Folder) bool { return !f.ParentID.Valid })
}

func (r *FolderReconciler) buildTrees(ctx context.Context, isRoot func(*model.Folder) bool) ([]*FolderNode, error) {
	folders, err := r.db.ListFolders(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing folders: %w", err)
	}
	files, err := r.db.ListFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}
	return BuildFolderTrees(folders, files, isRoot), nil
}

// BuildFolderTrees assembles trees without recursion: folders go into an
// arena keyed by id, children are found through a parent-id index, and each
// root is expanded with an explicit stack. A folder is attached at most
// once, so a corrupt parent cycle cannot loop.
func BuildFolderTrees(folders []*model.Folder, files []*model.RemoteFile, isRoot func(*model.Folder) bool) []*FolderNode {
	arena := make(map[int64]*FolderNode, len(folders))
	children := make(map[int64][]int64)
	for _, f := range folders {
		arena[f.ID] = &FolderNode{Folder: f}
		if f.ParentID.Valid {
			children[f.ParentID.Int64] = append(children[f.ParentID.Int64], f.ID)
		}
	}
	for _, file := range files {
		if !file.FolderID.Valid {
			continue
		}
		if n, ok := arena[file.FolderID.Int64]; ok {
			n.Documents = append(n.Documents, file)
		}
	}

	var roots []*FolderNode
	attached := make(map[int64]bool, len(folders))
	for _, f := range folders {
		if !isRoot(f) || attached[f.ID] {
			continue
		}
		root := arena[f.ID]
		attached[f.ID] = true
		stack := []*FolderNode{root}
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			for _, cid := range children[n.Folder.ID] {
				if attached[cid] {
					continue
				}
				attached[cid] = true
				c := arena[cid]
				n.Children = append(n.Children, c)
				stack = append(stack, c)
			}
		}
		roots = append(roots, root)
	}
	return roots
}
