package archive

import (
	"encoding/binary"

	"github.com/ledgerwatch/tonstate/common/dbutils"
	"github.com/ledgerwatch/tonstate/kv"
)

var (
	cursorLowKey  = []byte("low")
	cursorHighKey = []byte("high")
)

// KVCursorStore persists the background sync cursor in
// BackgroundSyncMetaBucket.
type KVCursorStore struct {
	db kv.Database
}

// NewKVCursorStore wraps db for use as a CursorStore.
func NewKVCursorStore(db kv.Database) *KVCursorStore {
	return &KVCursorStore{db: db}
}

func (s *KVCursorStore) load(key []byte) (uint32, bool, error) {
	raw, err := s.db.Get(dbutils.BackgroundSyncMetaBucket, key)
	if err == kv.ErrKeyNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return binary.LittleEndian.Uint32(raw), true, nil
}

func (s *KVCursorStore) store(key []byte, seqNo uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], seqNo)
	return s.db.Put(dbutils.BackgroundSyncMetaBucket, key, b[:])
}

func (s *KVCursorStore) LoadLow() (uint32, bool, error)  { return s.load(cursorLowKey) }
func (s *KVCursorStore) StoreLow(seqNo uint32) error     { return s.store(cursorLowKey, seqNo) }
func (s *KVCursorStore) LoadHigh() (uint32, bool, error) { return s.load(cursorHighKey) }
func (s *KVCursorStore) StoreHigh(seqNo uint32) error    { return s.store(cursorHighKey, seqNo) }
