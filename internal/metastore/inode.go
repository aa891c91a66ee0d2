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

// Package metastore layers the inode store and directory store over the
// kv package's sorted key-value abstraction (spec §4.4): the inode store
// assigns identifiers monotonically from a single counter seeded past the
// root, and the directory store encodes entries as
// "dirent/" || be64(parent) || "/" || name so a prefix scan over a parent
// yields entries in name order.
package metastore

import (
	"encoding/binary"
	"encoding/json"
	"sync/atomic"

	"github.com/dirkpetersen/claudefs/internal/claudeerr"
	"github.com/dirkpetersen/claudefs/internal/kv"
	"github.com/dirkpetersen/claudefs/internal/model"
)

const inodePrefix = "inode/"

func inodeKey(id uint64) []byte {
	key := make([]byte, 0, len(inodePrefix)+8)
	key = append(key, inodePrefix...)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return append(key, buf[:]...)
}

// InodeStore assigns and persists inode metadata atop a kv.Store.
type InodeStore struct {
	kv      kv.Store
	counter atomic.Uint64
}

// NewInodeStore constructs an InodeStore whose allocator counter starts
// past model.RootInode.
func NewInodeStore(store kv.Store) *InodeStore {
	s := &InodeStore{kv: store}
	s.counter.Store(model.RootInode)
	return s
}

// AllocateInode returns the next unused inode id.
func (s *InodeStore) AllocateInode() uint64 {
	return s.counter.Add(1)
}

// CreateInode persists a new inode record. Fails with EntryExists if the
// id is already in use.
func (s *InodeStore) CreateInode(inode *model.Inode) error {
	key := inodeKey(inode.ID)
	exists, err := s.kv.ContainsKey(key)
	if err != nil {
		return claudeerr.Wrap(claudeerr.KvBackendError, err, "contains_key")
	}
	if exists {
		return claudeerr.New(claudeerr.EntryExists, "inode already exists")
	}
	return s.putInode(inode)
}

func (s *InodeStore) putInode(inode *model.Inode) error {
	value, err := json.Marshal(inode)
	if err != nil {
		return claudeerr.Wrap(claudeerr.Serialization, err, "marshal inode")
	}
	if err := s.kv.Put(inodeKey(inode.ID), value); err != nil {
		return claudeerr.Wrap(claudeerr.KvBackendError, err, "put inode")
	}
	return nil
}

// GetInode returns the inode record for id, or InodeNotFound.
func (s *InodeStore) GetInode(id uint64) (model.Inode, error) {
	value, ok, err := s.kv.Get(inodeKey(id))
	if err != nil {
		return model.Inode{}, claudeerr.Wrap(claudeerr.KvBackendError, err, "get inode")
	}
	if !ok {
		return model.Inode{}, claudeerr.New(claudeerr.InodeNotFound, "inode not found")
	}
	var inode model.Inode
	if err := json.Unmarshal(value, &inode); err != nil {
		return model.Inode{}, claudeerr.Wrap(claudeerr.Serialization, err, "unmarshal inode")
	}
	return inode, nil
}

// UpdateInode overwrites an existing inode's record. Fails with
// InodeNotFound if it does not already exist.
func (s *InodeStore) UpdateInode(inode *model.Inode) error {
	exists, err := s.kv.ContainsKey(inodeKey(inode.ID))
	if err != nil {
		return claudeerr.Wrap(claudeerr.KvBackendError, err, "contains_key")
	}
	if !exists {
		return claudeerr.New(claudeerr.InodeNotFound, "inode not found")
	}
	return s.putInode(inode)
}

// DeleteInode removes id's record, if present.
func (s *InodeStore) DeleteInode(id uint64) error {
	if err := s.kv.Delete(inodeKey(id)); err != nil {
		return claudeerr.Wrap(claudeerr.KvBackendError, err, "delete inode")
	}
	return nil
}

// BumpGeneration increments id's generation counter and returns the new
// value, used by the path resolution cache to invalidate stale entries
// (spec §4.5).
func (s *InodeStore) BumpGeneration(id uint64) (uint64, error) {
	inode, err := s.GetInode(id)
	if err != nil {
		return 0, err
	}
	inode.Generation++
	if err := s.UpdateInode(&inode); err != nil {
		return 0, err
	}
	return inode.Generation, nil
}
