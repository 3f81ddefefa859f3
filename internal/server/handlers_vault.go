package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/bobmcallan/covault/internal/services/vault"
)

// maxUploadBytes caps a single file upload.
const maxUploadBytes = 256 << 20

// --- Vault handlers (owner sessions only) ---

// handleVaultFolders handles /api/vault/folders: POST creates, GET lists.
func (s *Server) handleVaultFolders(w http.ResponseWriter, r *http.Request) {
	uc, ok := requireOwner(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodPost:
		var req struct {
			Name string `json:"name"`
		}
		if !DecodeJSON(w, r, &req) {
			return
		}
		folder, err := s.app.Vault.CreateFolder(r.Context(), uc.UserID, req.Name)
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		WriteJSON(w, http.StatusCreated, map[string]interface{}{
			"status": "ok",
			"data":   folder,
		})

	case http.MethodGet:
		folders, err := s.app.Vault.ListFolders(r.Context(), uc.UserID)
		if err != nil {
			s.logger.Error().Err(err).Str("owner_id", uc.UserID).Msg("Failed to list folders")
			WriteError(w, http.StatusInternalServerError, "failed to list folders")
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"status": "ok",
			"data": map[string]interface{}{
				"folders": folders,
			},
		})

	default:
		RequireMethod(w, r, http.MethodGet, http.MethodPost)
	}
}

// routeVaultFolders dispatches /api/vault/folders/{id} and
// /api/vault/folders/{id}/files.
func (s *Server) routeVaultFolders(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/vault/folders/")
	if path == "" {
		s.handleVaultFolders(w, r)
		return
	}

	parts := strings.SplitN(path, "/", 2)
	folderID := parts[0]
	subpath := ""
	if len(parts) > 1 {
		subpath = parts[1]
	}

	switch subpath {
	case "":
		if !RequireMethod(w, r, http.MethodDelete) {
			return
		}
		s.handleFolderDelete(w, r, folderID)
	case "files":
		if !RequireMethod(w, r, http.MethodPost) {
			return
		}
		s.handleFileUpload(w, r, folderID)
	default:
		WriteError(w, http.StatusNotFound, "Not found")
	}
}

// handleFolderDelete handles DELETE /api/vault/folders/{id}. Files and blobs
// in the folder go with it, and the folder drops out of the share selection.
func (s *Server) handleFolderDelete(w http.ResponseWriter, r *http.Request, folderID string) {
	uc, ok := requireOwner(w, r)
	if !ok {
		return
	}

	if err := s.app.Vault.DeleteFolder(r.Context(), uc.UserID, folderID); err != nil {
		s.writeVaultError(w, err, folderID)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
	})
}

// handleFileUpload handles POST /api/vault/folders/{id}/files (multipart).
func (s *Server) handleFileUpload(w http.ResponseWriter, r *http.Request, folderID string) {
	uc, ok := requireOwner(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	part, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer part.Close()

	name := header.Filename
	if override := r.FormValue("name"); override != "" {
		name = override
	}
	contentType := header.Header.Get("Content-Type")

	file, err := s.app.Vault.UploadFile(r.Context(), uc.UserID, folderID, name, contentType, part, header.Size)
	if err != nil {
		s.writeVaultError(w, err, folderID)
		return
	}

	WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"status": "ok",
		"data":   file,
	})
}

// routeVaultFiles dispatches GET/DELETE for /api/vault/files/{id}.
func (s *Server) routeVaultFiles(w http.ResponseWriter, r *http.Request) {
	fileID := strings.TrimPrefix(r.URL.Path, "/api/vault/files/")
	if fileID == "" {
		WriteError(w, http.StatusBadRequest, "file id is required in path")
		return
	}

	uc, ok := requireOwner(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleFileDownload(w, r, uc.UserID, fileID)
	case http.MethodDelete:
		if err := s.app.Vault.DeleteFile(r.Context(), uc.UserID, fileID); err != nil {
			s.writeVaultError(w, err, fileID)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{
			"status": "ok",
		})
	default:
		RequireMethod(w, r, http.MethodGet, http.MethodDelete)
	}
}

// handleFileDownload streams a file back to its owner.
func (s *Server) handleFileDownload(w http.ResponseWriter, r *http.Request, ownerID, fileID string) {
	ctx := r.Context()
	file, err := s.app.Storage.VaultStore().GetFile(ctx, fileID)
	if err != nil {
		s.logger.Error().Err(err).Str("file_id", fileID).Msg("Failed to load file")
		WriteError(w, http.StatusInternalServerError, "failed to load file")
		return
	}
	if file == nil || file.OwnerID != ownerID {
		WriteError(w, http.StatusNotFound, "file not found")
		return
	}

	meta, body, err := s.app.Vault.OpenFile(ctx, fileID)
	if err != nil {
		WriteError(w, http.StatusNotFound, "file not found")
		return
	}
	defer body.Close()

	writeFileStream(w, meta, body)
}

// handleVaultSelection handles PUT /api/vault/selection, replacing the set of
// folders shared with approved devices.
func (s *Server) handleVaultSelection(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPut) {
		return
	}

	uc, ok := requireOwner(w, r)
	if !ok {
		return
	}

	var req struct {
		FolderIDs []string `json:"folder_ids"`
	}
	if !DecodeJSON(w, r, &req) {
		return
	}

	if err := s.app.Vault.SetSelection(r.Context(), uc.UserID, req.FolderIDs); err != nil {
		s.writeVaultError(w, err, "")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"data": map[string]interface{}{
			"selected_folders": req.FolderIDs,
		},
	})
}

// handleTokenRegenerate handles POST /api/vault/token/regenerate. The old
// share token stops working and every grant issued under it is removed; the
// new token is returned exactly once.
func (s *Server) handleTokenRegenerate(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	uc, ok := requireOwner(w, r)
	if !ok {
		return
	}

	token, err := s.app.TokenAuth.RegenerateToken(r.Context(), uc.UserID)
	if err != nil {
		s.logger.Error().Err(err).Str("owner_id", uc.UserID).Msg("Failed to regenerate access token")
		WriteError(w, http.StatusInternalServerError, "failed to regenerate access token")
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"data": map[string]interface{}{
			"access_token": token,
		},
	})
}

// writeVaultError maps vault service errors onto HTTP status codes.
func (s *Server) writeVaultError(w http.ResponseWriter, err error, id string) {
	switch {
	case errors.Is(err, vault.ErrFolderNotFound):
		WriteError(w, http.StatusNotFound, "folder not found")
	case errors.Is(err, vault.ErrFileNotFound):
		WriteError(w, http.StatusNotFound, "file not found")
	default:
		s.logger.Error().Err(err).Str("id", id).Msg("Vault operation failed")
		WriteError(w, http.StatusInternalServerError, "vault operation failed")
	}
}
