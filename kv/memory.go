package kv

import (
	"bytes"
	"sort"
	"sync"

	"github.com/ledgerwatch/tonstate/common/dbutils"
)

// memDB is an in-memory Database, used by tests and by short-lived
// tooling that doesn't want an LMDB environment on disk.
type memDB struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
}

// NewMemDatabase opens an in-memory Database with every column in
// dbutils.Buckets pre-created.
func NewMemDatabase() Database {
	db := &memDB{buckets: make(map[string]map[string][]byte)}
	for _, b := range dbutils.Buckets {
		db.buckets[b] = make(map[string][]byte)
	}
	return db
}

func (db *memDB) bucket(name string) map[string][]byte {
	b, ok := db.buckets[name]
	if !ok {
		b = make(map[string][]byte)
		db.buckets[name] = b
	}
	return b
}

func (db *memDB) Get(bucket string, key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	v, ok := db.bucket(bucket)[string(key)]
	if !ok {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (db *memDB) Put(bucket string, key, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	db.bucket(bucket)[string(key)] = v
	return nil
}

func (db *memDB) Delete(bucket string, key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.bucket(bucket), string(key))
	return nil
}

func (db *memDB) sortedKeys(bucket string) []string {
	b := db.bucket(bucket)
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (db *memDB) Walk(bucket string, startKey []byte, walker func(k, v []byte) (bool, error)) error {
	db.mu.RLock()
	keys := db.sortedKeys(bucket)
	b := db.bucket(bucket)
	db.mu.RUnlock()

	for _, k := range keys {
		if bytes.Compare([]byte(k), startKey) < 0 {
			continue
		}
		db.mu.RLock()
		v, ok := b[k]
		db.mu.RUnlock()
		if !ok {
			continue
		}
		cont, err := walker([]byte(k), v)
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}

func (db *memDB) Batch() (WriteBatch, error) {
	return &memBatch{db: db}, nil
}

func (db *memDB) View(fn func(tx Tx) error) error {
	return fn(&memTx{db: db})
}

func (db *memDB) Close() {}

type memOp struct {
	bucket string
	key    []byte
	value  []byte
	delete bool
}

type memBatch struct {
	db  *memDB
	ops []memOp
}

func (b *memBatch) Put(bucket string, key, value []byte) error {
	b.ops = append(b.ops, memOp{bucket: bucket, key: append([]byte{}, key...), value: append([]byte{}, value...)})
	return nil
}

func (b *memBatch) Delete(bucket string, key []byte) error {
	b.ops = append(b.ops, memOp{bucket: bucket, key: append([]byte{}, key...), delete: true})
	return nil
}

func (b *memBatch) Size() int { return len(b.ops) }

func (b *memBatch) Commit() error {
	b.db.mu.Lock()
	defer b.db.mu.Unlock()
	for _, op := range b.ops {
		if op.delete {
			delete(b.db.bucket(op.bucket), string(op.key))
			continue
		}
		b.db.bucket(op.bucket)[string(op.key)] = op.value
	}
	b.ops = nil
	return nil
}

func (b *memBatch) Rollback() error {
	b.ops = nil
	return nil
}

type memTx struct {
	db *memDB
}

func (tx *memTx) Get(bucket string, key []byte) ([]byte, error) {
	return tx.db.Get(bucket, key)
}

func (tx *memTx) Cursor(bucket string) (Cursor, error) {
	tx.db.mu.RLock()
	keys := tx.db.sortedKeys(bucket)
	tx.db.mu.RUnlock()
	return &memCursor{db: tx.db, bucket: bucket, keys: keys, pos: -1}, nil
}

type memCursor struct {
	db     *memDB
	bucket string
	keys   []string
	pos    int
}

func (c *memCursor) at(i int) ([]byte, []byte, error) {
	if i < 0 || i >= len(c.keys) {
		return nil, nil, nil
	}
	c.pos = i
	c.db.mu.RLock()
	v := c.db.bucket(c.bucket)[c.keys[i]]
	c.db.mu.RUnlock()
	return []byte(c.keys[i]), v, nil
}

func (c *memCursor) SeekExact(key []byte) ([]byte, []byte, error) {
	for i, k := range c.keys {
		if k == string(key) {
			return c.at(i)
		}
	}
	return nil, nil, nil
}

func (c *memCursor) Seek(key []byte) ([]byte, []byte, error) {
	i := sort.SearchStrings(c.keys, string(key))
	return c.at(i)
}

func (c *memCursor) Next() ([]byte, []byte, error) {
	return c.at(c.pos + 1)
}

func (c *memCursor) Prev() ([]byte, []byte, error) {
	return c.at(c.pos - 1)
}

func (c *memCursor) Last() ([]byte, []byte, error) {
	return c.at(len(c.keys) - 1)
}

func (c *memCursor) Close() {}
