package surrealdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/covault/internal/models"
)

func TestVaultStoreFolderLifecycle(t *testing.T) {
	db := testDB(t)
	store := NewVaultStore(db, testLogger())
	ctx := context.Background()

	require.NoError(t, store.SaveFolder(ctx, &models.Folder{
		FolderID: "f1",
		OwnerID:  "alice",
		Name:     "taxes",
	}))
	require.NoError(t, store.SaveFolder(ctx, &models.Folder{
		FolderID: "f2",
		OwnerID:  "alice",
		Name:     "art",
	}))
	require.NoError(t, store.SaveFolder(ctx, &models.Folder{
		FolderID: "f3",
		OwnerID:  "bob",
		Name:     "misc",
	}))

	got, err := store.GetFolder(ctx, "f1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "taxes", got.Name)
	assert.False(t, got.CreatedAt.IsZero())

	none, err := store.GetFolder(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, none)

	folders, err := store.ListFolders(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, folders, 2)
	assert.Equal(t, "art", folders[0].Name, "folders should list by name")
	assert.Equal(t, "taxes", folders[1].Name)

	require.NoError(t, store.DeleteFolder(ctx, "f1"))
	folders, err = store.ListFolders(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, folders, 1)

	assert.NoError(t, store.DeleteFolder(ctx, "f1"))
}

func TestVaultStoreFileLifecycle(t *testing.T) {
	db := testDB(t)
	store := NewVaultStore(db, testLogger())
	ctx := context.Background()

	require.NoError(t, store.SaveFile(ctx, &models.FileObject{
		FileID:      "doc1",
		FolderID:    "f1",
		OwnerID:     "alice",
		Name:        "return.pdf",
		ContentType: "application/pdf",
		Size:        2048,
		StorageKey:  "vault/alice/doc1",
	}))
	require.NoError(t, store.SaveFile(ctx, &models.FileObject{
		FileID:     "doc2",
		FolderID:   "f1",
		OwnerID:    "alice",
		Name:       "notes.txt",
		Size:       12,
		StorageKey: "vault/alice/doc2",
	}))
	require.NoError(t, store.SaveFile(ctx, &models.FileObject{
		FileID:     "doc3",
		FolderID:   "f2",
		OwnerID:    "alice",
		Name:       "other.txt",
		Size:       3,
		StorageKey: "vault/alice/doc3",
	}))

	got, err := store.GetFile(ctx, "doc1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "return.pdf", got.Name)
	assert.Equal(t, int64(2048), got.Size)
	assert.False(t, got.UploadedAt.IsZero())

	none, err := store.GetFile(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, none)

	files, err := store.ListFiles(ctx, "f1")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "notes.txt", files[0].Name, "files should list by name")
	assert.Equal(t, "return.pdf", files[1].Name)

	require.NoError(t, store.DeleteFile(ctx, "doc1"))
	files, err = store.ListFiles(ctx, "f1")
	require.NoError(t, err)
	assert.Len(t, files, 1)

	assert.NoError(t, store.DeleteFile(ctx, "doc1"))
}
