package features

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Bucket names used by the feature store.
var (
	bucketFeatures = []byte("features")
	bucketMeta     = []byte("meta")
)

var metaKeyInfo = []byte("info")

var ErrStoreNotInitialized = errors.New("feature store not initialized")

// StoreInfo is the metadata persisted alongside the feature records.
type StoreInfo struct {
	Dims        Dims        `json:"dims"`
	Encoding    Encoding    `json:"encoding"`
	Compression Compression `json:"compression"`
	Count       int         `json:"count"`
}

// StoreOptions configures how a store is opened.
type StoreOptions struct {
	ReadOnly bool
}

// Store is a bbolt-backed feature Reader.
type Store struct {
	db   *bolt.DB
	info StoreInfo
}

var _ Reader = (*Store)(nil)

// OpenStore opens or creates a bbolt feature database at the given path.
// A read-only store must already be initialized.
func OpenStore(dbPath string, opts StoreOptions) (*Store, error) {
	if !opts.ReadOnly {
		dir := filepath.Dir(dbPath)
		if dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create feature directory: %w", err)
			}
		}
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 1 * time.Second, ReadOnly: opts.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("open feature database: %w", err)
	}

	s := &Store{db: db}
	if err := s.loadInfo(); err != nil && !(errors.Is(err, ErrStoreNotInitialized) && !opts.ReadOnly) {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Initialize creates the buckets and records the store layout. Re-initializing
// with different dims is an error.
func (s *Store) Initialize(dims Dims, enc Encoding, comp Compression) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketFeatures, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}

		meta := tx.Bucket(bucketMeta)
		info := StoreInfo{Dims: dims, Encoding: enc, Compression: comp}
		if existing := meta.Get(metaKeyInfo); existing != nil {
			var prev StoreInfo
			if err := json.Unmarshal(existing, &prev); err != nil {
				return fmt.Errorf("parse store info: %w", err)
			}
			if prev.Dims != dims {
				return fmt.Errorf("feature store has dims %+v, cannot reinitialize with %+v", prev.Dims, dims)
			}
			info.Count = prev.Count
		}
		data, err := json.Marshal(info)
		if err != nil {
			return fmt.Errorf("marshal store info: %w", err)
		}
		return meta.Put(metaKeyInfo, data)
	})
	if err != nil {
		return err
	}
	return s.loadInfo()
}

func (s *Store) loadInfo() error {
	return s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if meta == nil {
			return ErrStoreNotInitialized
		}
		data := meta.Get(metaKeyInfo)
		if data == nil {
			return ErrStoreNotInitialized
		}
		return json.Unmarshal(data, &s.info)
	})
}

// Info returns the persisted store metadata.
func (s *Store) Info() StoreInfo {
	return s.info
}

// Dims returns the region widths of the stored records.
func (s *Store) Dims() Dims {
	return s.info.Dims
}

// Lookup decodes the record stored under key.
func (s *Store) Lookup(key string) (*Record, error) {
	var rec *Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFeatures)
		if b == nil {
			return ErrStoreNotInitialized
		}
		data := b.Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrFeatureNotFound, key)
		}
		var err error
		rec, err = DecodeRecord(data, s.info.Dims)
		if err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// PutBatch encodes and stores records in a single transaction.
func (s *Store) PutBatch(records map[string]*Record) error {
	if len(records) == 0 {
		return nil
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFeatures)
		if b == nil {
			return ErrStoreNotInitialized
		}
		added := 0
		for key, rec := range records {
			data, err := EncodeRecord(rec, s.info.Dims, s.info.Encoding, s.info.Compression)
			if err != nil {
				return fmt.Errorf("encode %s: %w", key, err)
			}
			if b.Get([]byte(key)) == nil {
				added++
			}
			if err := b.Put([]byte(key), data); err != nil {
				return fmt.Errorf("store %s: %w", key, err)
			}
		}
		return s.bumpCount(tx, added)
	})
	if err != nil {
		return err
	}
	return s.loadInfo()
}

func (s *Store) bumpCount(tx *bolt.Tx, added int) error {
	meta := tx.Bucket(bucketMeta)
	var info StoreInfo
	if err := json.Unmarshal(meta.Get(metaKeyInfo), &info); err != nil {
		return fmt.Errorf("parse store info: %w", err)
	}
	info.Count += added
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return meta.Put(metaKeyInfo, data)
}

// Keys returns every stored key in byte order.
func (s *Store) Keys() ([]string, error) {
	var keys []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFeatures)
		if b == nil {
			return ErrStoreNotInitialized
		}
		return b.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	return keys, err
}

// SizeBytes returns the total size of the stored record values.
func (s *Store) SizeBytes() (uint64, error) {
	var total uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketFeatures)
		if b == nil {
			return ErrStoreNotInitialized
		}
		return b.ForEach(func(_, v []byte) error {
			total += uint64(len(v))
			return nil
		})
	})
	return total, err
}
