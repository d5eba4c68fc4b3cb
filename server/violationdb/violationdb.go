// Package violationdb persists sessions, violations and capture artifacts
// to sqlite, so the violation log survives the process and can be reviewed
// later. The engine's in-memory store remains authoritative for the live
// session; this is the durable copy.
package violationdb

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/azrihasin/proctoring/pkg/gen"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"
)

// Size of the async write queue. Lifecycle events are low-rate (a handful
// per violation), so this never fills in practice.
const writeQueueSize = 256

// VDB is the violation database
type VDB struct {
	log logs.Log
	db  *gorm.DB

	// Interval lifecycle writes are applied by a single write thread, in
	// arrival order, so EndTime updates never race each other.
	writes            chan func(db *gorm.DB) error
	shutdown          chan bool
	writeThreadClosed chan bool
}

// Open or create the violation DB
func Open(log logs.Log, dbPath string) (*VDB, error) {
	log = logs.NewPrefixLogger(log, "ViolationDB:")
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0770); err != nil {
			return nil, fmt.Errorf("Failed to create DB directory '%v': %w", dir, err)
		}
	}
	log.Infof("Opening violation DB at '%v'", dbPath)
	db, err := dbh.OpenDB(log, dbh.MakeSqliteConfig(dbPath), Migrations(log), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open violation database %v: %w", dbPath, err)
	}
	v := &VDB{
		log:               log,
		db:                db,
		writes:            make(chan func(db *gorm.DB) error, writeQueueSize),
		shutdown:          make(chan bool),
		writeThreadClosed: make(chan bool),
	}
	go v.writeThread()
	return v, nil
}

// Close flushes pending writes and shuts the write thread down
func (v *VDB) Close() {
	close(v.shutdown)
	<-v.writeThreadClosed
}

func (v *VDB) writeThread() {
	keepRunning := true
	for keepRunning {
		select {
		case <-v.shutdown:
			keepRunning = false
		case op := <-v.writes:
			v.apply(op)
		}
	}
	// Flush whatever arrived before shutdown
	for _, op := range gen.DrainChannelIntoSlice(v.writes) {
		v.apply(op)
	}
	close(v.writeThreadClosed)
}

func (v *VDB) apply(op func(db *gorm.DB) error) {
	if err := op(v.db); err != nil {
		v.log.Errorf("Write failed: %v", err)
	}
}

func (v *VDB) enqueue(op func(db *gorm.DB) error) {
	select {
	case v.writes <- op:
	default:
		// Dropping a lifecycle write would corrupt the persisted log, so
		// we block. The queue only fills if sqlite has stalled entirely.
		v.log.Warnf("Write queue full, blocking")
		v.writes <- op
	}
}

// BeginSession creates the session row and returns its ID. Synchronous,
// because every subsequent write references the ID.
func (v *VDB) BeginSession(externalID string, at time.Time) (int64, error) {
	session := &Session{
		ExternalID: externalID,
		StartedAt:  dbh.MakeIntTime(at),
	}
	if err := v.db.Create(session).Error; err != nil {
		return 0, err
	}
	return session.ID, nil
}

// EndSession stamps the end time and the final violation count
func (v *VDB) EndSession(sessionID int64, at time.Time) {
	v.enqueue(func(db *gorm.DB) error {
		count := int64(0)
		if err := db.Model(&Violation{}).Where("session = ?", sessionID).Count(&count).Error; err != nil {
			return err
		}
		return db.Model(&Session{}).Where("id = ?", sessionID).
			Updates(map[string]any{
				"ended_at":       dbh.MakeIntTime(at),
				"num_violations": count,
			}).Error
	})
}

// UpsertViolation writes the interval's current state, keyed on
// (session, interval_id). Called on open, and again on close with the final
// EndTime; the second write updates the first row.
func (v *VDB) UpsertViolation(rec *Violation) {
	v.enqueue(func(db *gorm.DB) error {
		existing := Violation{}
		err := db.First(&existing, "session = ? AND interval_id = ?", rec.Session, rec.IntervalID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return db.Create(rec).Error
		} else if err != nil {
			return err
		}
		rec.ID = existing.ID
		return db.Save(rec).Error
	})
}

// AddArtifact records a finished evidence capture
func (v *VDB) AddArtifact(rec *Artifact) {
	v.enqueue(func(db *gorm.DB) error {
		return db.Create(rec).Error
	})
}

// Sessions returns the most recent sessions, newest first
func (v *VDB) Sessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 100
	}
	sessions := []Session{}
	err := v.db.Order("id DESC").Limit(limit).Find(&sessions).Error
	return sessions, err
}

// Violations returns a session's violations in interval order
func (v *VDB) Violations(sessionID int64) ([]Violation, error) {
	violations := []Violation{}
	err := v.db.Where("session = ?", sessionID).Order("interval_id").Find(&violations).Error
	return violations, err
}

// Artifacts returns capture artifacts; sessionID 0 means all sessions
func (v *VDB) Artifacts(sessionID int64) ([]Artifact, error) {
	artifacts := []Artifact{}
	q := v.db.Order("id")
	if sessionID != 0 {
		q = q.Where("session = ?", sessionID)
	}
	err := q.Find(&artifacts).Error
	return artifacts, err
}

// ArtifactByID fetches one artifact
func (v *VDB) ArtifactByID(id int64) (*Artifact, error) {
	artifact := &Artifact{}
	if err := v.db.First(artifact, id).Error; err != nil {
		return nil, err
	}
	return artifact, nil
}
