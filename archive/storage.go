package archive

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/ledgerwatch/tonstate/common/dbutils"
	"github.com/ledgerwatch/tonstate/kv"
)

// MergeArchiveFragment is the kv.MergeFunc for ArchiveStorageBucket:
// fragments concatenate in arrival order, with ArchivePrefix prepended
// exactly once.
func MergeArchiveFragment(existing, fragment []byte) []byte {
	if len(existing) == 0 {
		out := make([]byte, 0, len(dbutils.ArchivePrefix)+len(fragment))
		out = append(out, dbutils.ArchivePrefix...)
		return append(out, fragment...)
	}
	return append(existing, fragment...)
}

// Storage persists downloaded archive slices into ArchiveStorageBucket,
// keyed by the slice's starting masterchain seq_no, so a restarted node
// can re-serve or re-import history without re-downloading it.
type Storage struct {
	db kv.Database
}

// NewStorage opens archive storage over db.
func NewStorage(db kv.Database) *Storage {
	return &Storage{db: db}
}

func archiveKey(seqNo uint32) []byte {
	var k [4]byte
	binary.LittleEndian.PutUint32(k[:], seqNo)
	return k[:]
}

// AppendFragment merges one downloaded fragment into the slice starting
// at seqNo.
func (s *Storage) AppendFragment(seqNo uint32, fragment []byte) error {
	existing, err := s.db.Get(dbutils.ArchiveStorageBucket, archiveKey(seqNo))
	if err != nil && err != kv.ErrKeyNotFound {
		return err
	}
	return s.db.Put(dbutils.ArchiveStorageBucket, archiveKey(seqNo), MergeArchiveFragment(existing, fragment))
}

// Load returns the slice starting at seqNo with ArchivePrefix stripped,
// or kv.ErrKeyNotFound.
func (s *Storage) Load(seqNo uint32) ([]byte, error) {
	v, err := s.db.Get(dbutils.ArchiveStorageBucket, archiveKey(seqNo))
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(v, dbutils.ArchivePrefix) {
		return nil, fmt.Errorf("archive: slice %d stored without prefix", seqNo)
	}
	return v[len(dbutils.ArchivePrefix):], nil
}
