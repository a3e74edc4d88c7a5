package history

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/live-labs/envsync/internal/codec"
)

// Bucket names
var (
	versionsBucket = []byte("versions")
	auditBucket    = []byte("audit")
	metaBucket     = []byte("meta")
)

var (
	ErrVersionNotFound = errors.New("version not found")
)

// Change types recorded on version records.
const (
	ChangePush     = "push"
	ChangePull     = "pull"
	ChangeSync     = "sync"
	ChangeRollback = "rollback"
)

// VersionRecord is an immutable historical snapshot plus metadata. Version
// numbers form a strictly increasing, gap-free sequence starting at 1.
type VersionRecord struct {
	Version    uint64          `json:"version"`
	Snapshot   *codec.Snapshot `json:"snapshot"`
	Author     string          `json:"author"`
	Message    string          `json:"message"`
	ChangeType string          `json:"changeType"`
	Timestamp  time.Time       `json:"timestamp"`
}

type envMeta struct {
	Inactive bool      `json:"inactive"`
	Modified time.Time `json:"modified"`
}

// Store provides per-environment version history and audit records backed
// by a single BBolt database file.
type Store struct {
	db     *bolt.DB
	logger *zap.Logger
}

// Open opens or creates a history database and ensures the bucket
// structure exists.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{versionsBucket, auditBucket, metaBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Append clones the snapshot and appends it as the next version for env.
// Versions are assigned inside one write transaction, so out-of-order or
// duplicate numbers cannot occur.
func (s *Store) Append(env string, snapshot *codec.Snapshot, author, message, changeType string) (*VersionRecord, error) {
	record := &VersionRecord{
		Snapshot:   snapshot.Clone(),
		Author:     author,
		Message:    message,
		ChangeType: changeType,
		Timestamp:  time.Now().UTC(),
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		envBucket, err := tx.Bucket(versionsBucket).CreateBucketIfNotExists([]byte(env))
		if err != nil {
			return fmt.Errorf("failed to create environment bucket: %w", err)
		}

		record.Version = lastVersion(envBucket) + 1
		record.Snapshot.Version = int(record.Version)
		record.Snapshot.LastModified = record.Timestamp

		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal version record: %w", err)
		}
		return envBucket.Put(itob(record.Version), data)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("version appended",
		zap.String("environment", env),
		zap.Uint64("version", record.Version),
		zap.String("changeType", changeType))
	return record, nil
}

// Current returns the latest version number for env, 0 when no versions
// have been recorded.
func (s *Store) Current(env string) (uint64, error) {
	var current uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		envBucket := tx.Bucket(versionsBucket).Bucket([]byte(env))
		if envBucket == nil {
			return nil
		}
		current = lastVersion(envBucket)
		return nil
	})
	return current, err
}

// Get retrieves a single version record for env.
func (s *Store) Get(env string, version uint64) (*VersionRecord, error) {
	var record *VersionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		envBucket := tx.Bucket(versionsBucket).Bucket([]byte(env))
		if envBucket == nil {
			return fmt.Errorf("%w: environment %s has no history", ErrVersionNotFound, env)
		}
		data := envBucket.Get(itob(version))
		if data == nil {
			return fmt.Errorf("%w: version %d", ErrVersionNotFound, version)
		}
		record = &VersionRecord{}
		return json.Unmarshal(data, record)
	})
	return record, err
}

// List returns all version records for env in ascending order.
func (s *Store) List(env string) ([]VersionRecord, error) {
	var records []VersionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		envBucket := tx.Bucket(versionsBucket).Bucket([]byte(env))
		if envBucket == nil {
			return nil
		}
		return envBucket.ForEach(func(k, v []byte) error {
			var record VersionRecord
			if err := json.Unmarshal(v, &record); err != nil {
				return err
			}
			records = append(records, record)
			return nil
		})
	})
	return records, err
}

// Rollback locates the record for targetVersion and appends a new record
// whose snapshot content equals the target's. History is never rewritten:
// rollback is forward-only in the log.
func (s *Store) Rollback(env string, targetVersion uint64, author string) (*VersionRecord, error) {
	target, err := s.Get(env, targetVersion)
	if err != nil {
		return nil, err
	}
	message := fmt.Sprintf("rollback to version %d", targetVersion)
	return s.Append(env, target.Snapshot, author, message, ChangeRollback)
}

// MarkInactive soft-deletes an environment. Its history stays intact.
func (s *Store) MarkInactive(env string) error {
	return s.setMeta(env, envMeta{Inactive: true, Modified: time.Now().UTC()})
}

// MarkActive reverses a soft delete.
func (s *Store) MarkActive(env string) error {
	return s.setMeta(env, envMeta{Inactive: false, Modified: time.Now().UTC()})
}

// IsActive reports whether an environment has not been soft-deleted.
// Environments without metadata are active.
func (s *Store) IsActive(env string) (bool, error) {
	active := true
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(metaBucket).Get([]byte(env))
		if data == nil {
			return nil
		}
		var meta envMeta
		if err := json.Unmarshal(data, &meta); err != nil {
			return err
		}
		active = !meta.Inactive
		return nil
	})
	return active, err
}

func (s *Store) setMeta(env string, meta envMeta) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		return tx.Bucket(metaBucket).Put([]byte(env), data)
	})
}

// lastVersion reads the highest version key of an environment bucket.
func lastVersion(envBucket *bolt.Bucket) uint64 {
	k, _ := envBucket.Cursor().Last()
	if k == nil {
		return 0
	}
	return btoi(k)
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func btoi(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
