// Package catalog is the durable store of trace definitions.
//
// A single goroutine owns the badger handle. Every operation is a message on
// its mailbox and is answered on a private reply channel, so catalog
// mutations are totally ordered without locks around the data.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/majorcontext/girasol/internal/errdefs"
	"github.com/majorcontext/girasol/internal/log"
	"github.com/majorcontext/girasol/internal/metrics"
	"github.com/majorcontext/girasol/internal/model"
)

type opKind int

const (
	opQueryAll opKind = iota
	opGet
	opAdd
	opRemove
	opCount
	opShutdown
)

func (k opKind) String() string {
	switch k {
	case opQueryAll:
		return "query_all"
	case opGet:
		return "get"
	case opAdd:
		return "add"
	case opRemove:
		return "remove"
	case opCount:
		return "count"
	case opShutdown:
		return "shutdown"
	}
	return "unknown"
}

type request struct {
	kind  opKind
	name  string
	def   model.TraceDefinition
	reply chan response
}

type response struct {
	defs  []model.TraceDefinition
	def   model.TraceDefinition
	count int
	err   error
}

// Store is the catalog actor. Create one with Open or OpenInMemory and stop
// it with Shutdown.
type Store struct {
	db       *badger.DB
	inMemory bool
	logger   *slog.Logger

	mailbox chan request
	done    chan struct{}

	// count mirrors the number of keys. Owned by the loop goroutine.
	count int
	// syncs tracks background flushes so Shutdown never closes the DB
	// under one.
	syncs sync.WaitGroup
}

// Open opens the catalog at dir, creating it if needed.
func Open(dir string) (*Store, error) {
	return OpenWithConfig(Config{Path: dir, Logger: log.With("component", "badger")})
}

// OpenInMemory opens a catalog that is lost on Shutdown.
func OpenInMemory() (*Store, error) {
	return OpenWithConfig(Config{InMemory: true})
}

// OpenWithConfig opens the catalog and starts its goroutine.
func OpenWithConfig(cfg Config) (*Store, error) {
	db, err := openBadger(cfg)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrStorageIO, err, "catalog")
	}

	s := &Store{
		db:       db,
		inMemory: cfg.InMemory,
		logger:   log.With("component", "catalog"),
		mailbox:  make(chan request),
		done:     make(chan struct{}),
	}
	n, err := s.countKeys()
	if err != nil {
		db.Close()
		return nil, err
	}
	s.count = n
	metrics.SetCatalogDefinitions(n)

	go s.loop()
	return s, nil
}

// QueryAll returns every definition in key order. A record that does not
// decode aborts the whole query with an ErrSerialization error naming it.
func (s *Store) QueryAll(ctx context.Context) ([]model.TraceDefinition, error) {
	resp, err := s.call(ctx, request{kind: opQueryAll})
	return resp.defs, err
}

// Get returns the definition stored under name.
func (s *Store) Get(ctx context.Context, name string) (model.TraceDefinition, error) {
	resp, err := s.call(ctx, request{kind: opGet, name: name})
	return resp.def, err
}

// Add stores def. It fails with ErrConflict when the name is taken.
func (s *Store) Add(ctx context.Context, def model.TraceDefinition) error {
	_, err := s.call(ctx, request{kind: opAdd, def: def.Clone()})
	return err
}

// Remove deletes the definition stored under name.
func (s *Store) Remove(ctx context.Context, name string) error {
	_, err := s.call(ctx, request{kind: opRemove, name: name})
	return err
}

// Count returns the number of stored definitions.
func (s *Store) Count(ctx context.Context) (int, error) {
	resp, err := s.call(ctx, request{kind: opCount})
	return resp.count, err
}

// Shutdown flushes to stable storage, closes the database and stops the
// goroutine. It blocks until the flush completes. Later calls on the store
// fail with ErrUnavailable.
func (s *Store) Shutdown(ctx context.Context) error {
	_, err := s.call(ctx, request{kind: opShutdown})
	return err
}

// Done is closed once the store has shut down.
func (s *Store) Done() <-chan struct{} {
	return s.done
}

func (s *Store) call(ctx context.Context, req request) (response, error) {
	req.reply = make(chan response, 1)
	select {
	case s.mailbox <- req:
	case <-s.done:
		return response{}, fmt.Errorf("catalog closed: %w", errdefs.ErrUnavailable)
	case <-ctx.Done():
		return response{}, ctx.Err()
	}

	select {
	case resp := <-req.reply:
		metrics.RecordCatalogOp(req.kind.String(), resultCode(resp.err))
		return resp, resp.err
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

func resultCode(err error) string {
	if err == nil {
		return "ok"
	}
	return errdefs.Code(err)
}

func (s *Store) loop() {
	for req := range s.mailbox {
		var resp response
		switch req.kind {
		case opQueryAll:
			resp.defs, resp.err = s.queryAll()
		case opGet:
			resp.def, resp.err = s.get(req.name)
		case opAdd:
			resp.err = s.add(req.def)
		case opRemove:
			resp.err = s.remove(req.name)
		case opCount:
			resp.count = s.count
		case opShutdown:
			resp.err = s.shutdown()
			req.reply <- resp
			close(s.done)
			return
		}
		req.reply <- resp
	}
}

func (s *Store) queryAll() ([]model.TraceDefinition, error) {
	var defs []model.TraceDefinition
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			def, err := decodeItem(item)
			if err != nil {
				return err
			}
			defs = append(defs, def)
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return defs, nil
}

func (s *Store) get(name string) (model.TraceDefinition, error) {
	if name == "" {
		return model.TraceDefinition{}, errdefs.NotFound("%q does not exist", name)
	}
	var def model.TraceDefinition
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(name))
		if err != nil {
			return err
		}
		def, err = decodeItem(item)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return model.TraceDefinition{}, errdefs.NotFound("%s does not exist", name)
	}
	if err != nil {
		return model.TraceDefinition{}, classify(err)
	}
	return def, nil
}

func (s *Store) add(def model.TraceDefinition) error {
	if err := model.Validate(def); err != nil {
		return err
	}
	value, err := model.Encode(def)
	if err != nil {
		return errdefs.Wrap(errdefs.ErrSerialization, err, fmt.Sprintf("encoding %s", def.Name))
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(def.Name))
		switch {
		case err == nil:
			return errdefs.Conflict("%s exists", def.Name)
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return txn.Set([]byte(def.Name), value)
	})
	if err != nil {
		return classify(err)
	}

	s.count++
	metrics.SetCatalogDefinitions(s.count)
	s.logger.Debug("definition added", "name", def.Name, "method", def.Content.Method())
	s.flushAsync()
	return nil
}

func (s *Store) remove(name string) error {
	if name == "" {
		return errdefs.NotFound("%q does not exist", name)
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(name)); err != nil {
			return err
		}
		return txn.Delete([]byte(name))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return errdefs.NotFound("%s does not exist", name)
	}
	if err != nil {
		return classify(err)
	}

	s.count--
	metrics.SetCatalogDefinitions(s.count)
	s.logger.Debug("definition removed", "name", name)
	s.flushAsync()
	return nil
}

// flushAsync forces written data to disk without holding up the mailbox.
// A failure is only logged; the write is already readable.
func (s *Store) flushAsync() {
	if s.inMemory {
		return
	}
	s.syncs.Add(1)
	go func() {
		defer s.syncs.Done()
		if err := s.db.Sync(); err != nil {
			metrics.RecordCatalogSyncFailure()
			s.logger.Warn("background catalog flush failed", "error", err)
		}
	}()
}

func (s *Store) shutdown() error {
	s.syncs.Wait()
	var syncErr error
	if !s.inMemory {
		syncErr = s.db.Sync()
	}
	closeErr := s.db.Close()
	if err := errors.Join(syncErr, closeErr); err != nil {
		return errdefs.Wrap(errdefs.ErrStorageIO, err, "catalog shutdown")
	}
	s.logger.Debug("catalog flushed and closed")
	return nil
}

func (s *Store) countKeys() (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

func decodeItem(item *badger.Item) (model.TraceDefinition, error) {
	key := string(item.KeyCopy(nil))
	var def model.TraceDefinition
	err := item.Value(func(val []byte) error {
		var err error
		def, err = model.Decode(val)
		return err
	})
	if err != nil {
		return model.TraceDefinition{}, errdefs.Wrap(errdefs.ErrSerialization, err, fmt.Sprintf("record %q", key))
	}
	return def, nil
}

// classify tags errors that do not already carry a class as storage errors.
func classify(err error) error {
	if errdefs.Code(err) != errdefs.CodeInternal {
		return err
	}
	return errdefs.Wrap(errdefs.ErrStorageIO, err, "catalog")
}
