package models

import "time"

// Folder is a named container of files in an owner's vault.
type Folder struct {
	FolderID   string    `json:"folder_id"`
	OwnerID    string    `json:"owner_id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// FileObject is the stored metadata for one vault file. The bytes
// themselves live in the blob store under StorageKey.
type FileObject struct {
	FileID      string    `json:"file_id"`
	FolderID    string    `json:"folder_id"`
	OwnerID     string    `json:"owner_id"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type,omitempty"`
	Size        int64     `json:"size"`
	StorageKey  string    `json:"storage_key"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

// FolderListing is the read-only projection of one shared folder handed
// to an approved device. Storage keys and owner identifiers stay server
// side; files are addressed by ID only.
type FolderListing struct {
	FolderID string      `json:"folder_id"`
	Name     string      `json:"name"`
	Files    []FileEntry `json:"files"`
}

// FileEntry is the device-visible view of a single file.
type FileEntry struct {
	FileID      string    `json:"file_id"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type,omitempty"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploaded_at"`
	// DownloadURL is set when the blob backend supports presigned
	// fetches; otherwise the device streams through the API.
	DownloadURL string `json:"download_url,omitempty"`
}
