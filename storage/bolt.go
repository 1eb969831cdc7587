package storage

import (
	"bytes"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketState = []byte("state")

// BoltDB stores all keys in a single bbolt bucket. Bolt serialises writers,
// so Update transactions never interleave.
type BoltDB struct {
	db *bolt.DB
}

// NewBoltDB opens (or creates) the bbolt file at path.
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketState)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init bolt bucket: %w", err)
	}
	return &BoltDB{db: db}, nil
}

func (b *BoltDB) Get(key []byte) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		var err error
		out, err = (&boltTx{bucket: tx.Bucket(bucketState)}).Get(key)
		return err
	})
	return out, err
}

func (b *BoltDB) Iterate(prefix, cursor []byte, reverse bool, fn func(key, value []byte) (bool, error)) error {
	return b.db.View(func(tx *bolt.Tx) error {
		return (&boltTx{bucket: tx.Bucket(bucketState)}).Iterate(prefix, cursor, reverse, fn)
	})
}

func (b *BoltDB) Update(fn func(Tx) error) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return fn(&boltTx{bucket: tx.Bucket(bucketState)})
	})
}

func (b *BoltDB) View(fn func(Reader) error) error {
	return b.db.View(func(tx *bolt.Tx) error {
		return fn(&boltTx{bucket: tx.Bucket(bucketState)})
	})
}

func (b *BoltDB) Close() error {
	return b.db.Close()
}

type boltTx struct {
	bucket *bolt.Bucket
}

func (t *boltTx) Get(key []byte) ([]byte, error) {
	value := t.bucket.Get(key)
	if value == nil {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (t *boltTx) Put(key, value []byte) error {
	return t.bucket.Put(key, append([]byte{}, value...))
}

func (t *boltTx) Delete(key []byte) error {
	return t.bucket.Delete(key)
}

func (t *boltTx) Iterate(prefix, cursor []byte, reverse bool, fn func(key, value []byte) (bool, error)) error {
	c := t.bucket.Cursor()
	var k, v []byte
	switch {
	case len(cursor) == 0 && !reverse:
		k, v = c.Seek(prefix)
	case len(cursor) == 0 && reverse:
		if limit := upperBound(prefix); limit != nil {
			if k, v = c.Seek(limit); k != nil {
				k, v = c.Prev()
			} else {
				k, v = c.Last()
			}
		} else {
			k, v = c.Last()
		}
	case !reverse:
		start := seekKey(prefix, cursor)
		k, v = c.Seek(start)
		if k != nil && bytes.Equal(k, start) {
			k, v = c.Next()
		}
	default:
		if k, v = c.Seek(seekKey(prefix, cursor)); k != nil {
			k, v = c.Prev()
		} else {
			k, v = c.Last()
		}
	}
	for ; k != nil && bytes.HasPrefix(k, prefix); k, v = boltStep(c, reverse) {
		more, err := fn(k, v)
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return nil
}

func boltStep(c *bolt.Cursor, reverse bool) ([]byte, []byte) {
	if reverse {
		return c.Prev()
	}
	return c.Next()
}
