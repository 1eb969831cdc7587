package storage

import "errors"

// ErrNotFound is returned by Get when a key is absent.
var ErrNotFound = errors.New("storage: key not found")

// Reader is the read side shared by databases and transactions.
type Reader interface {
	Get(key []byte) ([]byte, error)
	// Iterate visits keys under prefix in byte order (or reverse order),
	// starting strictly after cursor when cursor is non-empty. The callback
	// returns false to stop. Keys and values are only valid for the duration
	// of the callback.
	Iterate(prefix, cursor []byte, reverse bool, fn func(key, value []byte) (bool, error)) error
}

// Tx is a read-write view whose writes become visible atomically on commit.
type Tx interface {
	Reader
	Put(key, value []byte) error
	Delete(key []byte) error
}

// Database is a generic interface for an ordered key-value store with
// all-or-nothing update transactions.
type Database interface {
	Reader
	// Update runs fn inside a write transaction. The transaction commits when
	// fn returns nil and is discarded otherwise.
	Update(fn func(Tx) error) error
	// View runs fn against a consistent read-only view.
	View(fn func(Reader) error) error
	Close() error
}

// Open returns a database for the named backend ("leveldb", "bolt" or
// "memory").
func Open(backend, path string) (Database, error) {
	switch backend {
	case "", "leveldb":
		return NewLevelDB(path)
	case "bolt", "bbolt":
		return NewBoltDB(path)
	case "memory":
		return NewMemDB()
	default:
		return nil, errors.New("storage: unknown backend " + backend)
	}
}

func upperBound(prefix []byte) []byte {
	limit := append([]byte(nil), prefix...)
	for i := len(limit) - 1; i >= 0; i-- {
		limit[i]++
		if limit[i] != 0 {
			return limit[:i+1]
		}
	}
	return nil
}

func seekKey(prefix, cursor []byte) []byte {
	key := make([]byte, 0, len(prefix)+len(cursor))
	key = append(key, prefix...)
	return append(key, cursor...)
}
