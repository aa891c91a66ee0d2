// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metastore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dirkpetersen/claudefs/internal/claudeerr"
	"github.com/dirkpetersen/claudefs/internal/kv"
	"github.com/dirkpetersen/claudefs/internal/model"
)

func newStores(t *testing.T) (*InodeStore, *DirectoryStore) {
	t.Helper()
	store := kv.NewMemoryStore()
	inodes := NewInodeStore(store)
	dirs := NewDirectoryStore(store, inodes)

	root := model.Inode{ID: model.RootInode, Type: model.FileTypeDirectory, Mode: 0o755, LinkCount: 1}
	require.NoError(t, inodes.CreateInode(&root))
	return inodes, dirs
}

func newFile(t *testing.T, inodes *InodeStore) uint64 {
	t.Helper()
	id := inodes.AllocateInode()
	require.NoError(t, inodes.CreateInode(&model.Inode{ID: id, Type: model.FileTypeRegular, Mode: 0o644, LinkCount: 1}))
	return id
}

func newDir(t *testing.T, inodes *InodeStore) uint64 {
	t.Helper()
	id := inodes.AllocateInode()
	require.NoError(t, inodes.CreateInode(&model.Inode{ID: id, Type: model.FileTypeDirectory, Mode: 0o755, LinkCount: 1}))
	return id
}

func isKind(t *testing.T, err error, kind claudeerr.Kind) {
	t.Helper()
	var ce *claudeerr.Error
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, kind, ce.Kind)
}

func TestCreateAndLookupEntry(t *testing.T) {
	inodes, dirs := newStores(t)
	childIno := newFile(t, inodes)

	entry := model.DirEntry{Name: "hello.txt", Child: childIno, Type: model.FileTypeRegular}
	require.NoError(t, dirs.CreateEntry(model.RootInode, &entry))

	found, err := dirs.Lookup(model.RootInode, "hello.txt")
	require.NoError(t, err)
	assert.Equal(t, childIno, found.Child)
	assert.Equal(t, model.FileTypeRegular, found.Type)
}

func TestCreateDuplicateEntry(t *testing.T) {
	inodes, dirs := newStores(t)
	childIno := newFile(t, inodes)
	entry := model.DirEntry{Name: "file.txt", Child: childIno, Type: model.FileTypeRegular}
	require.NoError(t, dirs.CreateEntry(model.RootInode, &entry))

	err := dirs.CreateEntry(model.RootInode, &entry)
	isKind(t, err, claudeerr.EntryExists)
}

func TestDeleteEntry(t *testing.T) {
	inodes, dirs := newStores(t)
	childIno := newFile(t, inodes)
	entry := model.DirEntry{Name: "file.txt", Child: childIno, Type: model.FileTypeRegular}
	require.NoError(t, dirs.CreateEntry(model.RootInode, &entry))

	deleted, err := dirs.DeleteEntry(model.RootInode, "file.txt")
	require.NoError(t, err)
	assert.Equal(t, childIno, deleted.Child)

	_, err = dirs.Lookup(model.RootInode, "file.txt")
	isKind(t, err, claudeerr.EntryNotFound)
}

func TestListEntries(t *testing.T) {
	inodes, dirs := newStores(t)
	names := []string{"file0.txt", "file1.txt", "file2.txt"}
	for _, n := range names {
		ino := newFile(t, inodes)
		require.NoError(t, dirs.CreateEntry(model.RootInode, &model.DirEntry{Name: n, Child: ino, Type: model.FileTypeRegular}))
	}

	entries, err := dirs.ListEntries(model.RootInode)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "file0.txt", entries[0].Name)
	assert.Equal(t, "file1.txt", entries[1].Name)
	assert.Equal(t, "file2.txt", entries[2].Name)
}

func TestIsEmpty(t *testing.T) {
	inodes, dirs := newStores(t)
	empty, err := dirs.IsEmpty(model.RootInode)
	require.NoError(t, err)
	assert.True(t, empty)

	ino := newFile(t, inodes)
	require.NoError(t, dirs.CreateEntry(model.RootInode, &model.DirEntry{Name: "file.txt", Child: ino, Type: model.FileTypeRegular}))

	empty, err = dirs.IsEmpty(model.RootInode)
	require.NoError(t, err)
	assert.False(t, empty)
}

func TestRenameSameDirectory(t *testing.T) {
	inodes, dirs := newStores(t)
	ino := newFile(t, inodes)
	require.NoError(t, dirs.CreateEntry(model.RootInode, &model.DirEntry{Name: "old.txt", Child: ino, Type: model.FileTypeRegular}))

	require.NoError(t, dirs.Rename(model.RootInode, "old.txt", model.RootInode, "new.txt"))

	_, err := dirs.Lookup(model.RootInode, "old.txt")
	isKind(t, err, claudeerr.EntryNotFound)

	found, err := dirs.Lookup(model.RootInode, "new.txt")
	require.NoError(t, err)
	assert.Equal(t, ino, found.Child)
}

func TestRenameCrossDirectory(t *testing.T) {
	inodes, dirs := newStores(t)
	subdirIno := newDir(t, inodes)
	require.NoError(t, dirs.CreateEntry(model.RootInode, &model.DirEntry{Name: "subdir", Child: subdirIno, Type: model.FileTypeDirectory}))

	fileIno := newFile(t, inodes)
	require.NoError(t, dirs.CreateEntry(model.RootInode, &model.DirEntry{Name: "file.txt", Child: fileIno, Type: model.FileTypeRegular}))

	require.NoError(t, dirs.Rename(model.RootInode, "file.txt", subdirIno, "moved.txt"))

	_, err := dirs.Lookup(model.RootInode, "file.txt")
	isKind(t, err, claudeerr.EntryNotFound)

	found, err := dirs.Lookup(subdirIno, "moved.txt")
	require.NoError(t, err)
	assert.Equal(t, fileIno, found.Child)
}

func TestNotADirectory(t *testing.T) {
	inodes, dirs := newStores(t)
	fileIno := newFile(t, inodes)

	entry := model.DirEntry{Name: "child.txt", Child: 999, Type: model.FileTypeRegular}
	err := dirs.CreateEntry(fileIno, &entry)
	isKind(t, err, claudeerr.NotADirectory)
}

func TestRenameNonexistentSource(t *testing.T) {
	_, dirs := newStores(t)
	err := dirs.Rename(model.RootInode, "nonexistent", model.RootInode, "target")
	isKind(t, err, claudeerr.EntryNotFound)
}

func TestRenameOverwritesExisting(t *testing.T) {
	inodes, dirs := newStores(t)
	inoA := newFile(t, inodes)
	inoB := newFile(t, inodes)
	require.NoError(t, dirs.CreateEntry(model.RootInode, &model.DirEntry{Name: "a", Child: inoA, Type: model.FileTypeRegular}))
	require.NoError(t, dirs.CreateEntry(model.RootInode, &model.DirEntry{Name: "b", Child: inoB, Type: model.FileTypeRegular}))

	require.NoError(t, dirs.Rename(model.RootInode, "a", model.RootInode, "b"))

	_, err := dirs.Lookup(model.RootInode, "a")
	isKind(t, err, claudeerr.EntryNotFound)

	found, err := dirs.Lookup(model.RootInode, "b")
	require.NoError(t, err)
	assert.Equal(t, inoA, found.Child)
}

func TestDeleteNonexistentEntry(t *testing.T) {
	_, dirs := newStores(t)
	_, err := dirs.DeleteEntry(model.RootInode, "nonexistent")
	isKind(t, err, claudeerr.EntryNotFound)
}

func TestLookupNonexistentEntry(t *testing.T) {
	_, dirs := newStores(t)
	_, err := dirs.Lookup(model.RootInode, "nonexistent")
	isKind(t, err, claudeerr.EntryNotFound)
}

func TestListEmptyDirectory(t *testing.T) {
	_, dirs := newStores(t)
	entries, err := dirs.ListEntries(model.RootInode)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCreateEntryInNonexistentParent(t *testing.T) {
	inodes, dirs := newStores(t)
	ino := newFile(t, inodes)
	entry := model.DirEntry{Name: "f.txt", Child: ino, Type: model.FileTypeRegular}
	err := dirs.CreateEntry(999, &entry)
	isKind(t, err, claudeerr.InodeNotFound)
}

func TestMultipleDirectories(t *testing.T) {
	inodes, dirs := newStores(t)
	d1 := newDir(t, inodes)
	d2 := newDir(t, inodes)
	require.NoError(t, dirs.CreateEntry(model.RootInode, &model.DirEntry{Name: "d1", Child: d1, Type: model.FileTypeDirectory}))
	require.NoError(t, dirs.CreateEntry(model.RootInode, &model.DirEntry{Name: "d2", Child: d2, Type: model.FileTypeDirectory}))

	f1 := newFile(t, inodes)
	f2 := newFile(t, inodes)
	require.NoError(t, dirs.CreateEntry(d1, &model.DirEntry{Name: "f1.txt", Child: f1, Type: model.FileTypeRegular}))
	require.NoError(t, dirs.CreateEntry(d2, &model.DirEntry{Name: "f2.txt", Child: f2, Type: model.FileTypeRegular}))

	e1, err := dirs.ListEntries(d1)
	require.NoError(t, err)
	require.Len(t, e1, 1)
	assert.Equal(t, "f1.txt", e1[0].Name)

	e2, err := dirs.ListEntries(d2)
	require.NoError(t, err)
	require.Len(t, e2, 1)
	assert.Equal(t, "f2.txt", e2[0].Name)
}
