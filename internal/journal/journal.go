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

// Package journal implements the per-shard append-only journal of spec
// §4.4: entries are appended with a strictly increasing sequence number
// per shard and a CRC32 covering every field except the CRC itself, so a
// torn write at the tail is detectable on replay (I3, §3).
package journal

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"sync"

	"github.com/dirkpetersen/claudefs/internal/claudeerr"
	"github.com/dirkpetersen/claudefs/internal/model"
)

// recordHeaderLen is the length in bytes of every fixed-width field
// preceding the variable-length payload: seq, shard, source site,
// timestamp, inode, op, payload length.
const recordHeaderLen = 8 + 4 + 8 + 8 + 8 + 1 + 4

func encodeRecord(e model.JournalEntry) []byte {
	buf := make([]byte, recordHeaderLen+len(e.Payload)+4)
	off := 0
	binary.BigEndian.PutUint64(buf[off:], e.Seq)
	off += 8
	binary.BigEndian.PutUint32(buf[off:], e.ShardID)
	off += 4
	binary.BigEndian.PutUint64(buf[off:], e.SourceSite)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], uint64(e.TimestampUS))
	off += 8
	binary.BigEndian.PutUint64(buf[off:], e.Inode)
	off += 8
	buf[off] = byte(e.Op)
	off++
	binary.BigEndian.PutUint32(buf[off:], uint32(len(e.Payload)))
	off += 4
	copy(buf[off:], e.Payload)
	off += len(e.Payload)

	crc := crc32.ChecksumIEEE(buf[:off])
	binary.BigEndian.PutUint32(buf[off:], crc)
	return buf
}

func decodeRecord(r *bufio.Reader) (model.JournalEntry, error) {
	header := make([]byte, recordHeaderLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return model.JournalEntry{}, err
	}

	off := 0
	seq := binary.BigEndian.Uint64(header[off:])
	off += 8
	shard := binary.BigEndian.Uint32(header[off:])
	off += 4
	source := binary.BigEndian.Uint64(header[off:])
	off += 8
	ts := int64(binary.BigEndian.Uint64(header[off:]))
	off += 8
	inode := binary.BigEndian.Uint64(header[off:])
	off += 8
	op := header[off]
	off++
	payloadLen := binary.BigEndian.Uint32(header[off:])

	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return model.JournalEntry{}, err
		}
	}

	var crcBuf [4]byte
	if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
		return model.JournalEntry{}, err
	}
	wantCRC := binary.BigEndian.Uint32(crcBuf[:])

	full := append(append([]byte{}, header...), payload...)
	gotCRC := crc32.ChecksumIEEE(full)
	if gotCRC != wantCRC {
		return model.JournalEntry{}, claudeerr.New(claudeerr.ChecksumMismatch, "journal record CRC mismatch")
	}

	return model.JournalEntry{
		Seq: seq, ShardID: shard, SourceSite: source, TimestampUS: ts,
		Inode: inode, Op: model.OpKind(op), Payload: payload, CRC: gotCRC,
	}, nil
}

type shard struct {
	mu      sync.Mutex
	file    *os.File
	nextSeq uint64
}

// Journal is a collection of per-shard append-only log files.
type Journal struct {
	dir string

	mu     sync.Mutex
	shards map[uint32]*shard
}

// Open opens (creating if necessary) a journal rooted at dir, one file
// per shard named "shard-<id>.log".
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, claudeerr.Wrap(claudeerr.Io, err, "mkdir journal dir")
	}
	return &Journal{dir: dir, shards: make(map[uint32]*shard)}, nil
}

func shardPath(dir string, shardID uint32) string {
	return dir + "/shard-" + itoa(shardID) + ".log"
}

func itoa(v uint32) string {
	if v == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

func (j *Journal) getShard(shardID uint32) (*shard, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if s, ok := j.shards[shardID]; ok {
		return s, nil
	}

	f, err := os.OpenFile(shardPath(j.dir, shardID), os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, claudeerr.Wrap(claudeerr.Io, err, "open shard file")
	}

	nextSeq, err := lastSeq(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	s := &shard{file: f, nextSeq: nextSeq + 1}
	j.shards[shardID] = s
	return s, nil
}

func lastSeq(f *os.File) (uint64, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return 0, claudeerr.Wrap(claudeerr.Io, err, "seek shard file")
	}
	r := bufio.NewReader(f)
	var last uint64
	for {
		entry, err := decodeRecord(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			break // a torn or corrupt tail record stops replay at the last good entry
		}
		last = entry.Seq
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return 0, claudeerr.Wrap(claudeerr.Io, err, "seek shard file end")
	}
	return last, nil
}

// Append appends entry to its shard, assigning the next strictly
// increasing sequence number for that shard and overwriting entry.Seq
// with it (I3, §3). Returns the assigned sequence.
func (j *Journal) Append(entry model.JournalEntry) (uint64, error) {
	s, err := j.getShard(entry.ShardID)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry.Seq = s.nextSeq
	buf := encodeRecord(entry)

	if _, err := s.file.Write(buf); err != nil {
		return 0, claudeerr.Wrap(claudeerr.Io, err, "append journal record")
	}
	if err := s.file.Sync(); err != nil {
		return 0, claudeerr.Wrap(claudeerr.Io, err, "sync journal file")
	}

	s.nextSeq++
	return entry.Seq, nil
}

// Replay returns every valid entry in shardID's journal, in sequence
// order, stopping at the first corrupt or torn record.
func (j *Journal) Replay(shardID uint32) ([]model.JournalEntry, error) {
	s, err := j.getShard(shardID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return nil, claudeerr.Wrap(claudeerr.Io, err, "seek shard file")
	}
	defer s.file.Seek(0, io.SeekEnd)

	r := bufio.NewReader(s.file)
	var entries []model.JournalEntry
	for {
		entry, err := decodeRecord(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Close closes every open shard file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var firstErr error
	for _, s := range j.shards {
		if err := s.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
