package recycle

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const feedbackBucketName = "feedback"

// ErrNotFound is returned when a feedback record does not exist
var ErrNotFound = errors.New("feedback not found")

// DB defines the interface for feedback persistence
type DB interface {
	// SaveFeedback saves a feedback record
	SaveFeedback(feedback *Feedback) error

	// GetFeedback retrieves a feedback record by ID
	GetFeedback(id string) (*Feedback, error)

	// ListFeedback returns all feedback records, oldest first
	ListFeedback() ([]*Feedback, error)

	// DeleteFeedback removes a feedback record
	DeleteFeedback(id string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(feedbackBucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveFeedback saves a feedback record
func (b *BoltDB) SaveFeedback(feedback *Feedback) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(feedbackBucketName))
		data, err := json.Marshal(feedback)
		if err != nil {
			return fmt.Errorf("marshaling feedback: %w", err)
		}
		return bucket.Put([]byte(feedback.ID), data)
	})
}

// GetFeedback retrieves a feedback record by ID
func (b *BoltDB) GetFeedback(id string) (*Feedback, error) {
	var feedback *Feedback
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(feedbackBucketName)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &feedback)
	})
	if err != nil {
		return nil, err
	}
	return feedback, nil
}

// ListFeedback returns all feedback records. Keys are ULIDs, so bucket order is
// already creation order; records with foreign IDs are sorted by timestamp.
func (b *BoltDB) ListFeedback() ([]*Feedback, error) {
	records := make([]*Feedback, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(feedbackBucketName)).ForEach(func(k, v []byte) error {
			var feedback Feedback
			if err := json.Unmarshal(v, &feedback); err != nil {
				return fmt.Errorf("unmarshaling feedback: %w", err)
			}
			records = append(records, &feedback)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	return records, nil
}

// DeleteFeedback removes a feedback record
func (b *BoltDB) DeleteFeedback(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(feedbackBucketName)).Delete([]byte(id))
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
