// Copyright (C) 2025 Zachary Marion
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package conversations persists chat transcripts in an embedded badger
// store so a session survives restarts.
package conversations

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// Message is one turn of a conversation.
type Message struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// Conversation is a titled transcript. Timestamp is the last-updated
// time in Unix milliseconds and orders List output.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Timestamp int64     `json:"timestamp"`
	Messages  []Message `json:"messages"`
}

// ErrNotFound means no conversation has the requested id.
var ErrNotFound = errors.New("conversation not found")

const keyPrefix = "conversation:"

// Store wraps badger with the conversation schema.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open opens (or creates) a store at path. With inMemory set, path is
// ignored and nothing touches disk; tests use this mode.
func Open(path string, inMemory bool, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := badger.DefaultOptions(path).
		WithInMemory(inMemory).
		WithLogger(nil)
	if inMemory {
		opts.Dir = ""
		opts.ValueDir = ""
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open conversation store: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save inserts or replaces a conversation by id.
func (s *Store) Save(c Conversation) error {
	if c.ID == "" {
		return errors.New("conversation id must not be empty")
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyPrefix+c.ID), data)
	})
	if err != nil {
		return fmt.Errorf("save conversation %s: %w", c.ID, err)
	}
	s.logger.Debug("conversation saved", "id", c.ID, "messages", len(c.Messages))
	return nil
}

// Get returns the conversation with the given id.
func (s *Store) Get(id string) (Conversation, error) {
	var c Conversation
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &c)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Conversation{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("load conversation %s: %w", id, err)
	}
	return c, nil
}

// List returns every conversation, newest first.
func (s *Store) List() ([]Conversation, error) {
	var out []Conversation
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var c Conversation
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &c)
			})
			if err != nil {
				key := string(it.Item().Key())
				s.logger.Warn("skipping undecodable conversation",
					"key", strings.TrimPrefix(key, keyPrefix), "error", err)
				continue
			}
			out = append(out, c)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	return out, nil
}

// Delete removes a conversation. Deleting a missing id is not an error.
func (s *Store) Delete(id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(keyPrefix + id))
	})
	if err != nil {
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}
	return nil
}
