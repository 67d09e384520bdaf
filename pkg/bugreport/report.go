// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bugreport archives every JSON-RPC message a client exchanges
// with a kore-rpc server so a failing session can be replayed offline.
//
// Messages are stored in an embedded BadgerDB under keys of the form
//
//	<session>/<id>_request.json
//	<session>/<id>_response.json
//
// where session is a UUID chosen when the report is opened and id is the
// JSON-RPC request id. Export writes the same layout to a directory tree,
// one file per key.
//
// A *Report implements jsonrpc.Recorder and can be passed to
// jsonrpc.WithRecorder.
package bugreport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

// ErrClosed is returned by operations on a closed Report.
var ErrClosed = errors.New("bugreport: report is closed")

// =============================================================================
// Configuration
// =============================================================================

// Config holds configuration for a bug report store.
type Config struct {
	// Path is the BadgerDB directory. Required unless InMemory is true.
	Path string

	// InMemory keeps the store in RAM. Export still writes files.
	InMemory bool

	// SyncWrites fsyncs every record. Default true so a crashing client
	// still leaves the last exchange on disk.
	SyncWrites bool

	// Session overrides the generated session UUID. It becomes a
	// directory name on Export, so it must not be "." or ".." or contain
	// a path separator.
	Session string

	// Logger receives BadgerDB's internal logs. Nil disables them.
	Logger *slog.Logger
}

// DefaultConfig returns a persistent configuration rooted at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
	}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// =============================================================================
// Report
// =============================================================================

// Kind distinguishes the two halves of an exchange.
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
)

// Entry is one archived message.
type Entry struct {
	Session string
	ID      int64
	Kind    Kind
	Body    []byte
}

// Key returns the storage key, which is also the export path relative to
// the export directory.
func (e Entry) Key() string {
	return fmt.Sprintf("%s/%d_%s.json", e.Session, e.ID, e.Kind)
}

// Report is a BadgerDB-backed message archive.
//
// Thread Safety: Safe for concurrent use.
type Report struct {
	db      *badger.DB
	session string
	path    string

	mu     sync.RWMutex
	closed bool
}

// Open opens or creates a bug report store.
//
// Description:
//
//	Opens BadgerDB at cfg.Path, creating the directory if needed, or in
//	memory when cfg.InMemory is set. Records written through the returned
//	Report belong to a fresh session unless cfg.Session names one.
//
// Inputs:
//
//	cfg - Store configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*Report - The open report. Caller must call Close() when done.
//	error - Non-nil if the configuration is invalid or the store cannot be opened.
//
// Thread Safety: The returned Report is safe for concurrent use.
func Open(cfg Config) (*Report, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("bugreport: path is required for a persistent report")
	}
	session := cfg.Session
	if session == "" {
		session = uuid.NewString()
	}
	if err := checkSession(session); err != nil {
		return nil, err
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("bugreport: create directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("bugreport: open badger database: %w", err)
	}
	return &Report{db: db, session: session, path: cfg.Path}, nil
}

// checkSession rejects names that would escape the export directory.
func checkSession(session string) error {
	if session == "." || session == ".." {
		return fmt.Errorf("bugreport: session %q is not a directory name", session)
	}
	if strings.ContainsAny(session, `/\`) {
		return fmt.Errorf("bugreport: session %q must not contain a path separator", session)
	}
	return nil
}

// Session returns the session this Report records into.
func (r *Report) Session() string {
	return r.session
}

// Path returns the database directory, or "" when in memory.
func (r *Report) Path() string {
	return r.path
}

// RecordRequest stores a request body under the current session.
func (r *Report) RecordRequest(id int64, body []byte) error {
	return r.put(Entry{Session: r.session, ID: id, Kind: KindRequest, Body: body})
}

// RecordResponse stores a response body under the current session.
func (r *Report) RecordResponse(id int64, body []byte) error {
	return r.put(Entry{Session: r.session, ID: id, Kind: KindResponse, Body: body})
}

func (r *Report) put(e Entry) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrClosed
	}
	value := append([]byte(nil), e.Body...)
	if err := r.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(e.Key()), value)
	}); err != nil {
		return fmt.Errorf("bugreport: store %s: %w", e.Key(), err)
	}
	return nil
}

// Entries returns every archived message, ordered by session, then id,
// with each request before its response.
//
// Description:
//
//	Scans the whole store. Keys that do not follow the archive layout
//	are skipped.
//
// Inputs:
//
//	ctx - Checked between keys so a long scan can be abandoned.
//
// Outputs:
//
//	[]Entry - Archived messages. Bodies are copies.
//	error - Non-nil if the store is closed, the scan fails, or ctx ends.
//
// Thread Safety: Safe for concurrent use.
func (r *Report) Entries(ctx context.Context) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrClosed
	}

	var entries []Entry
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			e, ok := parseKey(string(item.Key()))
			if !ok {
				continue
			}
			body, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			e.Body = body
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bugreport: scan: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Session != b.Session {
			return a.Session < b.Session
		}
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		return a.Kind == KindRequest && b.Kind == KindResponse
	})
	return entries, nil
}

// Sessions returns the distinct sessions present in the store, sorted.
func (r *Report) Sessions(ctx context.Context) ([]string, error) {
	entries, err := r.Entries(ctx)
	if err != nil {
		return nil, err
	}
	var sessions []string
	for _, e := range entries {
		if n := len(sessions); n == 0 || sessions[n-1] != e.Session {
			sessions = append(sessions, e.Session)
		}
	}
	return sessions, nil
}

// Export writes every archived message to dir as <session>/<id>_<kind>.json.
//
// Description:
//
//	Creates dir and one subdirectory per session. Existing files with the
//	same name are overwritten.
//
// Inputs:
//
//	ctx - Cancels the export between files.
//	dir - Destination directory.
//
// Outputs:
//
//	int - Number of files written.
//	error - Non-nil if the scan or any write fails.
//
// Thread Safety: Safe for concurrent use.
func (r *Report) Export(ctx context.Context, dir string) (int, error) {
	entries, err := r.Entries(ctx)
	if err != nil {
		return 0, err
	}
	written := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		if err := checkSession(e.Session); err != nil {
			return written, err
		}
		path := filepath.Join(dir, filepath.FromSlash(e.Key()))
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return written, fmt.Errorf("bugreport: create %s: %w", filepath.Dir(path), err)
		}
		if err := os.WriteFile(path, e.Body, 0640); err != nil {
			return written, fmt.Errorf("bugreport: write %s: %w", path, err)
		}
		written++
	}
	return written, nil
}

// Close flushes and closes the store. Safe to call multiple times.
func (r *Report) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	return r.db.Close()
}

// parseKey splits "<session>/<id>_<kind>.json".
func parseKey(key string) (Entry, bool) {
	session, name, ok := strings.Cut(key, "/")
	if !ok || session == "" {
		return Entry{}, false
	}
	name, ok = strings.CutSuffix(name, ".json")
	if !ok {
		return Entry{}, false
	}
	idText, kind, ok := strings.Cut(name, "_")
	if !ok {
		return Entry{}, false
	}
	id, err := strconv.ParseInt(idText, 10, 64)
	if err != nil {
		return Entry{}, false
	}
	switch Kind(kind) {
	case KindRequest, KindResponse:
	default:
		return Entry{}, false
	}
	return Entry{Session: session, ID: id, Kind: Kind(kind)}, true
}
