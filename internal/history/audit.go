package history

import (
	"encoding/json"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// AuditCapacity bounds the per-environment audit ring. Once exceeded, the
// oldest entries are evicted first.
const AuditCapacity = 1000

// AuditEntry records one action taken against an environment.
type AuditEntry struct {
	Action    string            `json:"action"`
	Actor     string            `json:"actor"`
	Timestamp time.Time         `json:"timestamp"`
	Details   map[string]string `json:"details,omitempty"`
}

// AppendAudit pushes an entry onto the tail of the environment's audit ring
// and trims the head so at most AuditCapacity entries remain.
func (s *Store) AppendAudit(env string, entry AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		envBucket, err := tx.Bucket(auditBucket).CreateBucketIfNotExists([]byte(env))
		if err != nil {
			return err
		}

		seq, err := envBucket.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		if err := envBucket.Put(itob(seq), data); err != nil {
			return err
		}

		// Evict oldest entries beyond capacity. Keys are copied before
		// deleting; cursor slices are only valid during iteration.
		count := 0
		cursor := envBucket.Cursor()
		for k, _ := cursor.First(); k != nil; k, _ = cursor.Next() {
			count++
		}
		var evict [][]byte
		for k, _ := cursor.First(); k != nil && count-len(evict) > AuditCapacity; k, _ = cursor.Next() {
			evict = append(evict, append([]byte(nil), k...))
		}
		for _, k := range evict {
			if err := envBucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("audit entry appended",
		zap.String("environment", env),
		zap.String("action", entry.Action),
		zap.String("actor", entry.Actor))
	return nil
}

// ListAudit returns the environment's audit entries oldest to newest.
func (s *Store) ListAudit(env string) ([]AuditEntry, error) {
	var entries []AuditEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		envBucket := tx.Bucket(auditBucket).Bucket([]byte(env))
		if envBucket == nil {
			return nil
		}
		return envBucket.ForEach(func(k, v []byte) error {
			var entry AuditEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	})
	return entries, err
}
