package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"driveingest/internal/ingest"
	"driveingest/internal/model"
)

// Version is reported by the health endpoints.
const Version = "1.0.0"

type ServerConfig struct {
	MaxUploadBytes int64
	MaxBodyBytes   int64
}

// Server exposes the ingest service over HTTP.
type Server struct {
	svc    *ingest.Service
	logger ingest.Logger
	cfg    ServerConfig
	mux    *http.ServeMux
}

func NewServer(svc *ingest.Service, logger ingest.Logger) *Server {
	return NewServerWithConfig(svc, logger, ServerConfig{})
}

func NewServerWithConfig(svc *ingest.Service, logger ingest.Logger, cfg ServerConfig) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 32 << 20
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	s := &Server{
		svc:    svc,
		logger: logger,
		cfg:    cfg,
		mux:    http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /drive/health", s.handleDriveHealth)
	s.mux.HandleFunc("GET /drive/status", s.handleStatus)
	s.mux.HandleFunc("POST /drive/reset", s.handleReset)
	s.mux.HandleFunc("POST /drive/notifications", s.handleNotification)
	s.mux.HandleFunc("POST /drive/sync", s.handleSync)

	s.mux.HandleFunc("GET /drive/files", s.handleListFiles)
	s.mux.HandleFunc("GET /drive/files/new", s.handleNewFiles)
	s.mux.HandleFunc("GET /drive/files/changes", s.handleChanges)
	s.mux.HandleFunc("GET /drive/files/{id}", s.handleGetFile)
	s.mux.HandleFunc("GET /drive/db-files", s.handleLocalFiles)

	s.mux.HandleFunc("POST /drive/folders", s.handleCreateFolder)
	s.mux.HandleFunc("GET /drive/folders/{id}/structure", s.handleFolderStructure)
	s.mux.HandleFunc("GET /drive/root_structure", s.handleRootStructure)
	s.mux.HandleFunc("POST /drive/folders/{id}/upload_file", s.handleUpload)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDriveHealth(w http.ResponseWriter, r *http.Request) {
	connected := s.svc.Tracker.VerifyConnection(r.Context()) == nil
	writeJSON(w, http.StatusOK, serviceStatusJSON{
		Status:               "healthy",
		Version:              Version,
		GoogleDriveConnected: connected,
		MonitoringActive:     connected,
		FolderID:             s.svc.RootFolderID(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Tracker.Status(r.Context())
	if err != nil {
		s.writeServiceError(w, "reading status", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusJSON(st))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Tracker.Reset(); err != nil {
		s.writeServiceError(w, "resetting seen files", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "seen files reset"})
}

// handleNotification acknowledges a push notification at once and leaves
// the actual poll to the service loop.
func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("push notification received",
		"state", r.Header.Get("X-Goog-Resource-State"),
		"channel", r.Header.Get("X-Goog-Channel-ID"),
		"resource", r.Header.Get("X-Goog-Resource-ID"),
	)
	s.svc.Notify()
	writeJSON(w, http.StatusOK, map[string]string{"status": "notification received"})
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	synced, err := s.svc.SyncAll(r.Context())
	if err != nil {
		s.writeServiceError(w, "syncing watched folder", err)
		return
	}
	names := make([]string, len(synced))
	for i, f := range synced {
		names[i] = f.Name
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"synced":    len(synced),
		"new_files": names,
	})
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	entries, err := s.svc.ListRemoteFiles(r.Context())
	if err != nil {
		s.writeServiceError(w, "listing remote files", err)
		return
	}
	out := make([]remoteEntryJSON, len(entries))
	for i, e := range entries {
		out[i] = toRemoteEntryJSON(e)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleNewFiles observes and syncs in one step, so the files it reports are
// already mirrored locally.
func (s *Server) handleNewFiles(w http.ResponseWriter, r *http.Request) {
	synced, err := s.svc.PollAndSync(r.Context())
	if err != nil {
		s.writeServiceError(w, "checking for new files", err)
		return
	}
	writeJSON(w, http.StatusOK, toLocalFilesJSON(synced))
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	changes, next, err := s.svc.Tracker.GetIncrementalChanges(r.Context(), r.URL.Query().Get("saved_token"))
	if err != nil {
		s.writeServiceError(w, "reading incremental changes", err)
		return
	}
	out := make([]changeJSON, len(changes))
	for i, c := range changes {
		out[i] = toChangeJSON(c)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"changes":   out,
		"new_token": next,
	})
}

func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	e, err := s.svc.RemoteFile(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, "fetching remote file", err)
		return
	}
	writeJSON(w, http.StatusOK, toRemoteEntryJSON(e))
}

func (s *Server) handleLocalFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.svc.LocalFiles(r.Context())
	if err != nil {
		s.writeServiceError(w, "listing local files", err)
		return
	}
	writeJSON(w, http.StatusOK, toLocalFilesJSON(files))
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	var body createFolderJSON
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}

	folder, err := s.svc.Folders.EnsureFolder(r.Context(), ingest.EnsureFolderRequest{
		Name:     body.Name,
		ParentID: body.ParentID,
		Type:     model.FolderType(body.FolderType),
		TeamID:   body.TeamID,
	})
	if err != nil {
		s.writeServiceError(w, "ensuring folder", err)
		return
	}
	writeJSON(w, http.StatusOK, toFolderJSON(folder))
}

func (s *Server) handleFolderStructure(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	tree, err := s.svc.Folders.FolderTree(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, "building folder structure", err)
		return
	}
	writeJSON(w, http.StatusOK, toNodeJSON(tree))
}

func (s *Server) handleRootStructure(w http.ResponseWriter, r *http.Request) {
	trees, err := s.svc.Folders.RootTrees(r.Context())
	if err != nil {
		s.writeServiceError(w, "building root structure", err)
		return
	}
	out := make([]nodeJSON, len(trees))
	for i, t := range trees {
		out[i] = toNodeJSON(t)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	f, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "missing file field")
		return
	}
	defer f.Close()

	row, err := s.svc.UploadToFolder(r.Context(), id, header.Filename, header.Header.Get("Content-Type"), f)
	if err != nil {
		s.writeServiceError(w, "uploading file", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":     "file uploaded",
		"document_id": row.ID,
		"file_id":     row.RemoteID,
	})
}

// writeServiceError maps an error kind to a status code. Unclassified errors
// are logged and reported as 500.
func (s *Server) writeServiceError(w http.ResponseWriter, op string, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error(op, "error", err)
	} else {
		s.logger.Debug(op, "status", status, "error", err)
	}
	writeError(w, status, code, err.Error())
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ingest.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, ingest.ErrValidation):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, ingest.ErrPersistenceConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, ingest.ErrRemoteUnavailable):
		return http.StatusBadGateway, "remote_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid folder id %q", r.PathValue("id")))
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":    code,
		"message": message,
	})
}
