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
	"encoding/binary"
	"encoding/json"
	"sort"

	"github.com/dirkpetersen/claudefs/internal/claudeerr"
	"github.com/dirkpetersen/claudefs/internal/kv"
	"github.com/dirkpetersen/claudefs/internal/model"
)

const direntPrefix = "dirent/"

func direntPrefixKey(parent uint64) []byte {
	key := make([]byte, 0, len(direntPrefix)+9)
	key = append(key, direntPrefix...)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], parent)
	key = append(key, buf[:]...)
	return append(key, '/')
}

func direntKey(parent uint64, name string) []byte {
	return append(direntPrefixKey(parent), name...)
}

// DirectoryStore manages directory-entry operations atop a kv.Store and
// an InodeStore (spec §4.4).
type DirectoryStore struct {
	kv     kv.Store
	inodes *InodeStore
}

// NewDirectoryStore constructs a DirectoryStore.
func NewDirectoryStore(store kv.Store, inodes *InodeStore) *DirectoryStore {
	return &DirectoryStore{kv: store, inodes: inodes}
}

// CreateEntry adds entry to parent. Fails with NotADirectory if parent is
// not a directory inode, or EntryExists if the name is already taken
// (spec §4.4).
func (d *DirectoryStore) CreateEntry(parent uint64, entry *model.DirEntry) error {
	parentAttr, err := d.inodes.GetInode(parent)
	if err != nil {
		return err
	}
	if parentAttr.Type != model.FileTypeDirectory {
		return claudeerr.New(claudeerr.NotADirectory, "parent is not a directory")
	}

	key := direntKey(parent, entry.Name)
	exists, err := d.kv.ContainsKey(key)
	if err != nil {
		return claudeerr.Wrap(claudeerr.KvBackendError, err, "contains_key")
	}
	if exists {
		return claudeerr.New(claudeerr.EntryExists, "entry already exists")
	}

	value, err := json.Marshal(entry)
	if err != nil {
		return claudeerr.Wrap(claudeerr.Serialization, err, "marshal dirent")
	}
	if err := d.kv.Put(key, value); err != nil {
		return claudeerr.Wrap(claudeerr.KvBackendError, err, "put dirent")
	}
	return nil
}

// DeleteEntry removes and returns the entry named name from parent.
func (d *DirectoryStore) DeleteEntry(parent uint64, name string) (model.DirEntry, error) {
	key := direntKey(parent, name)
	value, ok, err := d.kv.Get(key)
	if err != nil {
		return model.DirEntry{}, claudeerr.Wrap(claudeerr.KvBackendError, err, "get dirent")
	}
	if !ok {
		return model.DirEntry{}, claudeerr.New(claudeerr.EntryNotFound, "entry not found")
	}

	var entry model.DirEntry
	if err := json.Unmarshal(value, &entry); err != nil {
		return model.DirEntry{}, claudeerr.Wrap(claudeerr.Serialization, err, "unmarshal dirent")
	}
	if err := d.kv.Delete(key); err != nil {
		return model.DirEntry{}, claudeerr.Wrap(claudeerr.KvBackendError, err, "delete dirent")
	}
	return entry, nil
}

// Lookup returns the entry named name within parent.
func (d *DirectoryStore) Lookup(parent uint64, name string) (model.DirEntry, error) {
	value, ok, err := d.kv.Get(direntKey(parent, name))
	if err != nil {
		return model.DirEntry{}, claudeerr.Wrap(claudeerr.KvBackendError, err, "get dirent")
	}
	if !ok {
		return model.DirEntry{}, claudeerr.New(claudeerr.EntryNotFound, "entry not found")
	}
	var entry model.DirEntry
	if err := json.Unmarshal(value, &entry); err != nil {
		return model.DirEntry{}, claudeerr.Wrap(claudeerr.Serialization, err, "unmarshal dirent")
	}
	return entry, nil
}

// ListEntries returns every entry of parent, in name order (spec §4.4).
func (d *DirectoryStore) ListEntries(parent uint64) ([]model.DirEntry, error) {
	pairs, err := d.kv.ScanPrefix(direntPrefixKey(parent))
	if err != nil {
		return nil, claudeerr.Wrap(claudeerr.KvBackendError, err, "scan_prefix")
	}
	entries := make([]model.DirEntry, 0, len(pairs))
	for _, p := range pairs {
		var entry model.DirEntry
		if err := json.Unmarshal(p.Value, &entry); err != nil {
			return nil, claudeerr.Wrap(claudeerr.Serialization, err, "unmarshal dirent")
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// IsEmpty reports whether parent has zero entries, via a bounded prefix
// scan (spec §4.4).
func (d *DirectoryStore) IsEmpty(parent uint64) (bool, error) {
	pairs, err := d.kv.ScanPrefix(direntPrefixKey(parent))
	if err != nil {
		return false, claudeerr.Wrap(claudeerr.KvBackendError, err, "scan_prefix")
	}
	return len(pairs) == 0, nil
}

// Rename moves the entry at (srcParent, srcName) to (dstParent, dstName),
// supporting cross-directory renames. If the destination already exists
// it is removed first (POSIX semantics). The write is one atomic batch:
// delete the existing destination key (only if present), put the new key,
// delete the old one (spec §4.4).
func (d *DirectoryStore) Rename(srcParent uint64, srcName string, dstParent uint64, dstName string) error {
	entry, err := d.Lookup(srcParent, srcName)
	if err != nil {
		return err
	}

	newEntry := model.DirEntry{Name: dstName, Child: entry.Child, Type: entry.Type, Parent: dstParent}

	dstKey := direntKey(dstParent, dstName)
	dstExists, err := d.kv.ContainsKey(dstKey)
	if err != nil {
		return claudeerr.Wrap(claudeerr.KvBackendError, err, "contains_key")
	}

	value, err := json.Marshal(&newEntry)
	if err != nil {
		return claudeerr.Wrap(claudeerr.Serialization, err, "marshal dirent")
	}

	ops := make([]kv.BatchOp, 0, 3)
	if dstExists {
		ops = append(ops, kv.BatchOp{Delete: true, Key: dstKey})
	}
	ops = append(ops,
		kv.BatchOp{Key: dstKey, Value: value},
		kv.BatchOp{Delete: true, Key: direntKey(srcParent, srcName)},
	)

	if err := d.kv.WriteBatch(ops); err != nil {
		return claudeerr.Wrap(claudeerr.KvBackendError, err, "write_batch")
	}
	return nil
}
