package kv

import (
	"bytes"
	"os"
	"runtime"

	"github.com/ledgerwatch/lmdb-go/lmdb"
	"github.com/ledgerwatch/tonstate/common/dbutils"
	"github.com/ledgerwatch/tonstate/log"
)

// defaultMapSize is generous because cell storage and archive slices
// grow large; LMDB only reserves address space, not disk, up front.
const defaultMapSize = 1 << 40 // 1 TiB

// lmdbDB is the production Database backend.
type lmdbDB struct {
	env  *lmdb.Env
	dbis map[string]lmdb.DBI
	log  *log.Logger
}

// OpenLMDB opens (creating if absent) an LMDB environment at path with
// every column in dbutils.Buckets as its own named database.
func OpenLMDB(path string) (Database, error) {
	env, err := lmdb.NewEnv()
	if err != nil {
		return nil, err
	}
	if err := env.SetMapSize(defaultMapSize); err != nil {
		return nil, err
	}
	if err := env.SetMaxDBs(len(dbutils.Buckets) + 1); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(path, 0o744); err != nil {
		return nil, err
	}
	if err := env.Open(path, lmdb.NoReadahead, 0o644); err != nil {
		return nil, err
	}

	db := &lmdbDB{env: env, dbis: make(map[string]lmdb.DBI), log: log.New("component", "kv/lmdb")}
	err = env.Update(func(txn *lmdb.Txn) error {
		for _, name := range dbutils.Buckets {
			dbi, err := txn.OpenDBI(name, lmdb.Create)
			if err != nil {
				return err
			}
			db.dbis[name] = dbi
		}
		return nil
	})
	if err != nil {
		env.Close()
		return nil, err
	}
	db.log.Info("opened lmdb environment", "path", path, "buckets", len(dbutils.Buckets))
	return db, nil
}

func (db *lmdbDB) dbi(bucket string) lmdb.DBI {
	return db.dbis[bucket]
}

func (db *lmdbDB) Get(bucket string, key []byte) ([]byte, error) {
	var out []byte
	err := db.env.View(func(txn *lmdb.Txn) error {
		v, err := txn.Get(db.dbi(bucket), key)
		if lmdb.IsNotFound(err) {
			return ErrKeyNotFound
		}
		if err != nil {
			return err
		}
		out = append([]byte{}, v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (db *lmdbDB) Put(bucket string, key, value []byte) error {
	return db.env.Update(func(txn *lmdb.Txn) error {
		return txn.Put(db.dbi(bucket), key, value, 0)
	})
}

func (db *lmdbDB) Delete(bucket string, key []byte) error {
	return db.env.Update(func(txn *lmdb.Txn) error {
		err := txn.Del(db.dbi(bucket), key, nil)
		if lmdb.IsNotFound(err) {
			return nil
		}
		return err
	})
}

func (db *lmdbDB) Walk(bucket string, startKey []byte, walker func(k, v []byte) (bool, error)) error {
	return db.env.View(func(txn *lmdb.Txn) error {
		cur, err := txn.OpenCursor(db.dbi(bucket))
		if err != nil {
			return err
		}
		defer cur.Close()

		var k, v []byte
		if len(startKey) == 0 {
			k, v, err = cur.Get(nil, nil, lmdb.First)
		} else {
			k, v, err = cur.Get(startKey, nil, lmdb.SetRange)
		}
		for ; err == nil; k, v, err = cur.Get(nil, nil, lmdb.Next) {
			cont, werr := walker(k, v)
			if werr != nil {
				return werr
			}
			if !cont {
				return nil
			}
		}
		if lmdb.IsNotFound(err) {
			return nil
		}
		return err
	})
}

type lmdbBatch struct {
	db    *lmdbDB
	txn   *lmdb.Txn
	count int
}

// Batch begins an unmanaged write transaction. LMDB pins write
// transactions to an OS thread, so the goroutine is locked until the
// batch commits or rolls back; use a batch from a single goroutine.
func (db *lmdbDB) Batch() (WriteBatch, error) {
	runtime.LockOSThread()
	txn, err := db.env.BeginTxn(nil, 0)
	if err != nil {
		runtime.UnlockOSThread()
		return nil, err
	}
	return &lmdbBatch{db: db, txn: txn}, nil
}

func (b *lmdbBatch) Put(bucket string, key, value []byte) error {
	b.count++
	return b.txn.Put(b.db.dbi(bucket), key, value, 0)
}

func (b *lmdbBatch) Delete(bucket string, key []byte) error {
	b.count++
	err := b.txn.Del(b.db.dbi(bucket), key, nil)
	if lmdb.IsNotFound(err) {
		return nil
	}
	return err
}

func (b *lmdbBatch) Size() int { return b.count }

func (b *lmdbBatch) Commit() error {
	defer runtime.UnlockOSThread()
	return b.txn.Commit()
}

func (b *lmdbBatch) Rollback() error {
	defer runtime.UnlockOSThread()
	b.txn.Abort()
	return nil
}

type lmdbTx struct {
	db  *lmdbDB
	txn *lmdb.Txn
}

func (db *lmdbDB) View(fn func(tx Tx) error) error {
	return db.env.View(func(txn *lmdb.Txn) error {
		return fn(&lmdbTx{db: db, txn: txn})
	})
}

func (tx *lmdbTx) Get(bucket string, key []byte) ([]byte, error) {
	v, err := tx.txn.Get(tx.db.dbi(bucket), key)
	if lmdb.IsNotFound(err) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}
	return append([]byte{}, v...), nil
}

func (tx *lmdbTx) Cursor(bucket string) (Cursor, error) {
	cur, err := tx.txn.OpenCursor(tx.db.dbi(bucket))
	if err != nil {
		return nil, err
	}
	return &lmdbCursor{cur: cur}, nil
}

type lmdbCursor struct {
	cur *lmdb.Cursor
}

func (c *lmdbCursor) SeekExact(key []byte) ([]byte, []byte, error) {
	k, v, err := c.cur.Get(key, nil, lmdb.Set)
	if lmdb.IsNotFound(err) {
		return nil, nil, nil
	}
	if !bytes.Equal(k, key) {
		return nil, nil, nil
	}
	return k, v, err
}

func (c *lmdbCursor) Seek(key []byte) ([]byte, []byte, error) {
	k, v, err := c.cur.Get(key, nil, lmdb.SetRange)
	if lmdb.IsNotFound(err) {
		return nil, nil, nil
	}
	return k, v, err
}

func (c *lmdbCursor) Next() ([]byte, []byte, error) {
	k, v, err := c.cur.Get(nil, nil, lmdb.Next)
	if lmdb.IsNotFound(err) {
		return nil, nil, nil
	}
	return k, v, err
}

func (c *lmdbCursor) Prev() ([]byte, []byte, error) {
	k, v, err := c.cur.Get(nil, nil, lmdb.Prev)
	if lmdb.IsNotFound(err) {
		return nil, nil, nil
	}
	return k, v, err
}

func (c *lmdbCursor) Last() ([]byte, []byte, error) {
	k, v, err := c.cur.Get(nil, nil, lmdb.Last)
	if lmdb.IsNotFound(err) {
		return nil, nil, nil
	}
	return k, v, err
}

func (c *lmdbCursor) Close() { c.cur.Close() }

func (db *lmdbDB) Close() {
	db.env.Close()
}
