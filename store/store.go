// Package store implements the tracker's durable state: a single bbolt
// database holding the notes, reserves, events, and meta partitions,
// adapted directly from channeldb's bucket-per-concern layout
// (channeldb/db.go) onto bbolt, the maintained fork of the boltdb/bolt the
// teacher embeds.
package store

import (
	"fmt"
	"os"
	"path/filepath"

	bbolt "go.etcd.io/bbolt"
)

const (
	dbFileName       = "tracker.db"
	dbFilePermission = 0600
)

var (
	notesBucket          = []byte("notes")
	notesByIssuerBucket  = []byte("notesByIssuer")
	notesByRecipBucket   = []byte("notesByRecipient")
	reservesBucket       = []byte("reserves")
	reservesByOwnerBucket = []byte("reservesByOwner")
	eventsBucket         = []byte("events")
	metaBucket           = []byte("meta")
)

var topLevelBuckets = [][]byte{
	notesBucket,
	notesByIssuerBucket,
	notesByRecipBucket,
	reservesBucket,
	reservesByOwnerBucket,
	eventsBucket,
	metaBucket,
}

// DB is the tracker's primary datastore. Every mutating operation funnels
// through the tracker core, which batches each command's store writes into
// a single bbolt transaction so the note table, AVL+ tree, and event log
// advance atomically.
type DB struct {
	bolt   *bbolt.DB
	dbPath string
}

// Open opens (creating if necessary) the tracker database at dataDir.
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("unable to create data dir: %w", err)
	}

	path := filepath.Join(dataDir, dbFileName)
	bdb, err := bbolt.Open(path, dbFilePermission, nil)
	if err != nil {
		return nil, fmt.Errorf("unable to open tracker db: %w", err)
	}

	db := &DB{bolt: bdb, dbPath: dataDir}
	if err := db.createBuckets(); err != nil {
		bdb.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) createBuckets() error {
	return d.bolt.Update(func(tx *bbolt.Tx) error {
		for _, name := range topLevelBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("unable to create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Close releases the underlying database file.
func (d *DB) Close() error {
	return d.bolt.Close()
}

// Update runs fn within a single read-write transaction spanning every
// partition, giving the tracker core the atomic multi-bucket write it
// needs per command.
func (d *DB) Update(fn func(tx *bbolt.Tx) error) error {
	return d.bolt.Update(fn)
}

// View runs fn within a read-only transaction.
func (d *DB) View(fn func(tx *bbolt.Tx) error) error {
	return d.bolt.View(fn)
}
