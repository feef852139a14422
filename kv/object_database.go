package kv

import "github.com/golang/snappy"

// ObjectDatabase wraps a Database and transparently snappy-compresses
// values before they hit the engine. Cell
// payloads and whole archive slices both benefit: both are
// write-once, read-many blobs with redundant structure (repeated
// descriptor bytes, shared hash prefixes).
type ObjectDatabase struct {
	db Database
}

// NewObjectDatabase wraps db with transparent snappy compression.
func NewObjectDatabase(db Database) *ObjectDatabase {
	return &ObjectDatabase{db: db}
}

func (o *ObjectDatabase) Get(bucket string, key []byte) ([]byte, error) {
	v, err := o.db.Get(bucket, key)
	if err != nil {
		return nil, err
	}
	return snappy.Decode(nil, v)
}

func (o *ObjectDatabase) Put(bucket string, key, value []byte) error {
	return o.db.Put(bucket, key, snappy.Encode(nil, value))
}

func (o *ObjectDatabase) Delete(bucket string, key []byte) error {
	return o.db.Delete(bucket, key)
}

func (o *ObjectDatabase) Walk(bucket string, startKey []byte, walker func(k, v []byte) (bool, error)) error {
	return o.db.Walk(bucket, startKey, func(k, v []byte) (bool, error) {
		dv, err := snappy.Decode(nil, v)
		if err != nil {
			return false, err
		}
		return walker(k, dv)
	})
}

func (o *ObjectDatabase) Batch() (WriteBatch, error) {
	b, err := o.db.Batch()
	if err != nil {
		return nil, err
	}
	return &objectBatch{b: b}, nil
}

func (o *ObjectDatabase) View(fn func(tx Tx) error) error {
	return o.db.View(fn)
}

func (o *ObjectDatabase) Close() { o.db.Close() }

type objectBatch struct {
	b WriteBatch
}

func (ob *objectBatch) Put(bucket string, key, value []byte) error {
	return ob.b.Put(bucket, key, snappy.Encode(nil, value))
}

func (ob *objectBatch) Delete(bucket string, key []byte) error {
	return ob.b.Delete(bucket, key)
}

func (ob *objectBatch) Commit() error   { return ob.b.Commit() }
func (ob *objectBatch) Rollback() error { return ob.b.Rollback() }
func (ob *objectBatch) Size() int       { return ob.b.Size() }
