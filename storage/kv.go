package storage

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// ErrReadOnly is returned when writing through a read-only KV view.
var ErrReadOnly = errors.New("kv: read-only view")

// KVReader decodes RLP values and scans ordered key ranges.
type KVReader interface {
	KVGet(key []byte, out interface{}) (bool, error)
	// KVScan visits the key suffixes found under prefix, starting strictly
	// after cursor when it is non-empty.
	KVScan(prefix, cursor []byte, reverse bool, fn func(suffix []byte) (bool, error)) error
}

// KVStore adds RLP writes to KVReader.
type KVStore interface {
	KVReader
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

// KV is a typed view over a transaction or read-only snapshot.
type KV struct {
	r Reader
	w Tx
}

// NewKV wraps a write transaction.
func NewKV(tx Tx) *KV {
	return &KV{r: tx, w: tx}
}

// NewReadKV wraps a read-only view.
func NewReadKV(r Reader) *KV {
	return &KV{r: r}
}

// KVPut stores the RLP encoding of value under key.
func (kv *KV) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	if kv.w == nil {
		return ErrReadOnly
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("kv: encode %x: %w", key, err)
	}
	return kv.w.Put(key, encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed.
func (kv *KV) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := kv.r.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("kv: decode %x: %w", key, err)
	}
	return true, nil
}

// KVDelete removes key. Missing keys are not an error.
func (kv *KV) KVDelete(key []byte) error {
	if kv.w == nil {
		return ErrReadOnly
	}
	return kv.w.Delete(key)
}

func (kv *KV) KVScan(prefix, cursor []byte, reverse bool, fn func(suffix []byte) (bool, error)) error {
	if len(prefix) == 0 {
		return fmt.Errorf("kv: scan prefix must not be empty")
	}
	return kv.r.Iterate(prefix, cursor, reverse, func(key, _ []byte) (bool, error) {
		return fn(append([]byte(nil), key[len(prefix):]...))
	})
}

// Store runs closures against a Database with typed KV access.
type Store struct {
	db Database
}

func NewStore(db Database) *Store {
	return &Store{db: db}
}

// Update runs fn in a single write transaction.
func (s *Store) Update(fn func(KVStore) error) error {
	return s.db.Update(func(tx Tx) error {
		return fn(NewKV(tx))
	})
}

// View runs fn against a consistent snapshot.
func (s *Store) View(fn func(KVReader) error) error {
	return s.db.View(func(r Reader) error {
		return fn(NewReadKV(r))
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}
