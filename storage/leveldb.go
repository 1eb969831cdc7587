package storage

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	lvlstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

// NewMemDB returns a LevelDB instance backed by memory, for tests and
// ephemeral deployments.
func NewMemDB() (*LevelDB, error) {
	db, err := leveldb.Open(lvlstorage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open memory leveldb: %w", err)
	}
	return &LevelDB{db: db}, nil
}

func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	return levelGet(ldb.db.Get(key, nil))
}

func (ldb *LevelDB) Iterate(prefix, cursor []byte, reverse bool, fn func(key, value []byte) (bool, error)) error {
	iter := ldb.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	return walk(iter, prefix, cursor, reverse, fn)
}

func (ldb *LevelDB) Update(fn func(Tx) error) error {
	tr, err := ldb.db.OpenTransaction()
	if err != nil {
		return fmt.Errorf("open leveldb transaction: %w", err)
	}
	if err := fn(&levelTx{tr: tr}); err != nil {
		tr.Discard()
		return err
	}
	if err := tr.Commit(); err != nil {
		return fmt.Errorf("commit leveldb transaction: %w", err)
	}
	return nil
}

func (ldb *LevelDB) View(fn func(Reader) error) error {
	snap, err := ldb.db.GetSnapshot()
	if err != nil {
		return fmt.Errorf("leveldb snapshot: %w", err)
	}
	defer snap.Release()
	return fn(&levelSnapshot{snap: snap})
}

// Close closes the database connection.
func (ldb *LevelDB) Close() error {
	return ldb.db.Close()
}

type levelTx struct {
	tr *leveldb.Transaction
}

func (t *levelTx) Get(key []byte) ([]byte, error) {
	return levelGet(t.tr.Get(key, nil))
}

func (t *levelTx) Put(key, value []byte) error {
	return t.tr.Put(key, value, nil)
}

func (t *levelTx) Delete(key []byte) error {
	return t.tr.Delete(key, nil)
}

func (t *levelTx) Iterate(prefix, cursor []byte, reverse bool, fn func(key, value []byte) (bool, error)) error {
	iter := t.tr.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	return walk(iter, prefix, cursor, reverse, fn)
}

type levelSnapshot struct {
	snap *leveldb.Snapshot
}

func (s *levelSnapshot) Get(key []byte) ([]byte, error) {
	return levelGet(s.snap.Get(key, nil))
}

func (s *levelSnapshot) Iterate(prefix, cursor []byte, reverse bool, fn func(key, value []byte) (bool, error)) error {
	iter := s.snap.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	return walk(iter, prefix, cursor, reverse, fn)
}

func levelGet(value []byte, err error) ([]byte, error) {
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return value, nil
}

// walk drives a prefix-bounded iterator from an exclusive cursor.
func walk(iter iterator.Iterator, prefix, cursor []byte, reverse bool, fn func(key, value []byte) (bool, error)) error {
	var ok bool
	switch {
	case len(cursor) == 0 && !reverse:
		ok = iter.First()
	case len(cursor) == 0 && reverse:
		ok = iter.Last()
	case !reverse:
		start := seekKey(prefix, cursor)
		ok = iter.Seek(start)
		if ok && bytes.Equal(iter.Key(), start) {
			ok = iter.Next()
		}
	default:
		// Seek lands on the first key >= cursor; everything before it is
		// strictly smaller.
		if iter.Seek(seekKey(prefix, cursor)) {
			ok = iter.Prev()
		} else {
			ok = iter.Last()
		}
	}
	for ; ok; ok = step(iter, reverse) {
		more, err := fn(iter.Key(), iter.Value())
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return iter.Error()
}

func step(iter iterator.Iterator, reverse bool) bool {
	if reverse {
		return iter.Prev()
	}
	return iter.Next()
}
