// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianWatch/services/engine/datatypes"
)

const feedbackKeyPrefix = "feedback:"

// DismissSuggestThreshold is the number of dismissals after which the
// engine starts suggesting the operator move the entity to the ignore
// list.
const DismissSuggestThreshold = 3

// FeedbackStore persists per-entity learned operator preferences in an
// embedded BadgerDB so they survive engine restarts. Records are keyed
// by entity id (stable name preferred over pid) and never deleted
// automatically.
//
// RecordApply keeps the last explicit throttle value as-is, no
// smoothing: the operator's most recent choice is the strongest
// signal. An accepted fix also resets the dismiss count, since it
// proves the alert was useful.
type FeedbackStore struct {
	mu sync.Mutex
	db *badger.DB
}

// OpenFeedbackStore opens a persistent feedback store at path,
// creating the directory if needed.
func OpenFeedbackStore(path string, logger *slog.Logger) (*FeedbackStore, error) {
	if path == "" {
		return nil, errors.New("feedback store path is required")
	}
	if err := os.MkdirAll(path, 0750); err != nil {
		return nil, fmt.Errorf("create feedback store directory %s: %w", path, err)
	}
	opts := badger.DefaultOptions(path).WithNumVersionsToKeep(1)
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open feedback store: %w", err)
	}
	return &FeedbackStore{db: db}, nil
}

// OpenInMemoryFeedbackStore opens a throwaway in-memory store for
// tests. Data is lost on Close.
func OpenInMemoryFeedbackStore() (*FeedbackStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory feedback store: %w", err)
	}
	return &FeedbackStore{db: db}, nil
}

// Close releases the underlying database.
func (s *FeedbackStore) Close() error {
	return s.db.Close()
}

// RecordApply stores the operator's accepted throttle value for the
// entity and resets its dismiss count.
func (s *FeedbackStore) RecordApply(entityKey string, throttleValue float64) error {
	throttleValue = datatypes.ClampUnit(throttleValue)
	return s.update(entityKey, func(rec *datatypes.FeedbackRecord) {
		rec.UsualThrottleValue = &throttleValue
		rec.DismissCount = 0
		rec.LastAction = "throttle"
	})
}

// RecordKill notes that the operator chose to kill the entity. The
// usual throttle value is left intact; a kill says nothing about the
// preferred throttle level.
func (s *FeedbackStore) RecordKill(entityKey string) error {
	return s.update(entityKey, func(rec *datatypes.FeedbackRecord) {
		rec.DismissCount = 0
		rec.LastAction = "kill"
	})
}

// RecordDismiss increments the entity's dismiss count.
func (s *FeedbackStore) RecordDismiss(entityKey string) error {
	return s.update(entityKey, func(rec *datatypes.FeedbackRecord) {
		rec.DismissCount++
		rec.LastAction = "dismiss"
	})
}

// Lookup returns the record for the entity, or a zero-value default.
// Absence is not an error.
func (s *FeedbackStore) Lookup(entityKey string) (datatypes.FeedbackRecord, error) {
	rec := datatypes.FeedbackRecord{EntityKey: entityKey}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(feedbackKey(entityKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return datatypes.FeedbackRecord{EntityKey: entityKey}, fmt.Errorf("lookup feedback for %s: %w", entityKey, err)
	}
	rec.EntityKey = entityKey
	return rec, nil
}

// update runs a read-modify-write under the store mutex. Badger
// transactions alone would surface conflicts to the caller; the mutex
// keeps concurrent operator actions last-write-wins instead.
func (s *FeedbackStore) update(entityKey string, mutate func(*datatypes.FeedbackRecord)) error {
	if entityKey == "" {
		return errors.New("entity key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.Lookup(entityKey)
	if err != nil {
		return err
	}
	mutate(&rec)
	rec.UpdatedAt = time.Now().UTC()

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal feedback for %s: %w", entityKey, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(feedbackKey(entityKey), raw)
	})
	if err != nil {
		return fmt.Errorf("store feedback for %s: %w", entityKey, err)
	}
	return nil
}

func feedbackKey(entityKey string) []byte {
	return []byte(feedbackKeyPrefix + entityKey)
}

// badgerLogger adapts slog to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
