package odb

import (
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/stratumdb/stratum/pkg/events"
	"github.com/stratumdb/stratum/pkg/log"
	"github.com/stratumdb/stratum/pkg/metrics"
	"github.com/stratumdb/stratum/pkg/substrate"
)

// Database is a handle on one object database path. It hands out
// transactions and acts as the path's commit processor: every proposal
// committed to the path runs through the merge engine in the path's commit
// critical section.
type Database struct {
	store  *substrate.Store
	path   string
	broker *events.Broker
	logger zerolog.Logger
}

// Setup creates and initializes a new object database path and returns a
// handle on it.
func Setup(store *substrate.Store, path string) (*Database, error) {
	if err := store.CreatePath(path); err != nil {
		return nil, err
	}
	initial, err := store.CurrentSnapshot(path)
	if err != nil {
		return nil, err
	}
	t, err := store.CreateTransaction(initial)
	if err != nil {
		return nil, err
	}
	defer t.Close()
	magic, err := t.DataFile(keyMagic)
	if err != nil {
		return nil, err
	}
	magic.WriteAt(encodeProperties(map[string]string{
		magicTypeKey: magicTypeValue,
		magicVerKey:  magicVerValue,
	}), 0)
	counter, err := t.DataFile(keyAllocCounter)
	if err != nil {
		return nil, err
	}
	keyCounter{f: counter}.write(0, 1)
	addr, err := store.Flush(t)
	if err != nil {
		return nil, err
	}
	if _, err := store.Publish(path, addr); err != nil {
		return nil, err
	}
	db := newDatabase(store, path)
	db.emit(events.EventPathCreated, addr)
	return db, nil
}

// Open attaches to an existing object database path, verifying its magic
// record.
func Open(store *substrate.Store, path string) (*Database, error) {
	current, err := store.CurrentSnapshot(path)
	if err != nil {
		return nil, err
	}
	t, err := store.CreateTransaction(current)
	if err != nil {
		return nil, err
	}
	defer t.Close()
	magic, err := t.DataFile(keyMagic)
	if err != nil {
		return nil, err
	}
	props := parseProperties(magic.Bytes())
	if props[magicTypeKey] != magicTypeValue {
		return nil, fmt.Errorf("path %q is not an object database (ob_type %q)", path, props[magicTypeKey])
	}
	return newDatabase(store, path), nil
}

func newDatabase(store *substrate.Store, path string) *Database {
	db := &Database{
		store:  store,
		path:   path,
		logger: log.WithComponent("odb").With().Str("path", path).Logger(),
	}
	store.SetCommitProcessor(path, &consensus{db: db})
	return db
}

// Path returns the path name.
func (db *Database) Path() string { return db.path }

// SetBroker attaches an event broker; commit outcomes are published to it.
func (db *Database) SetBroker(b *events.Broker) { db.broker = b }

// Equal reports whether two handles address the same path of the same
// store.
func (db *Database) Equal(other *Database) bool {
	return other != nil && db.store == other.store && db.path == other.path
}

// Transaction opens a writable transaction on the current root.
func (db *Database) Transaction() (*Transaction, error) {
	current, err := db.store.CurrentSnapshot(db.path)
	if err != nil {
		return nil, err
	}
	return db.newTransaction(current, false)
}

// ReadTransaction opens a read-only transaction on the current root. Any
// mutation attempt is a read-only violation fatal to the transaction.
func (db *Database) ReadTransaction() (*Transaction, error) {
	current, err := db.store.CurrentSnapshot(db.path)
	if err != nil {
		return nil, err
	}
	return db.newTransaction(current, true)
}

// TransactionAt opens a read-only transaction on a historical root.
func (db *Database) TransactionAt(addr substrate.Address) (*Transaction, error) {
	return db.newTransaction(addr, true)
}

func (db *Database) newTransaction(base substrate.Address, readOnly bool) (*Transaction, error) {
	sub, err := db.store.CreateTransaction(base)
	if err != nil {
		return nil, err
	}
	t := &Transaction{db: db, sub: sub, baseRoot: base, readOnly: readOnly}
	if !readOnly {
		// The object log and proposal properties are per-transaction; the
		// inherited copies belong to the commit that produced the base.
		if err := t.resetJournal(); err != nil {
			sub.Close()
			return nil, err
		}
	}
	if t.log, err = openObjectLog(sub); err != nil {
		sub.Close()
		return nil, err
	}
	metrics.TransactionsActive.Inc()
	return t, nil
}

// IntroduceSnapshot publishes an already flushed snapshot to this path
// unconditionally, bypassing the merge checks. The address is published
// as given; any base-root property the snapshot carries is not consulted.
func (db *Database) IntroduceSnapshot(addr substrate.Address) (substrate.Address, error) {
	final, err := db.store.Publish(db.path, addr)
	if err != nil {
		return substrate.NilAddress, err
	}
	db.logger.Debug().Str("snapshot", final.String()).Msg("introduced snapshot published")
	db.emit(events.EventCommitPublished, final)
	metrics.CommitsTotal.WithLabelValues(db.path, "introduced").Inc()
	return final, nil
}

// RunTransaction runs fn in a fresh transaction and commits, retrying with
// exponential backoff while the commit faults on concurrent history. Any
// other error aborts the retry loop.
func (db *Database) RunTransaction(fn func(*Transaction) error) (substrate.Address, error) {
	var final substrate.Address
	op := func() error {
		t, err := db.Transaction()
		if err != nil {
			return backoff.Permanent(err)
		}
		defer t.Close()
		if err := fn(t); err != nil {
			return backoff.Permanent(err)
		}
		addr, err := t.Commit()
		if err != nil {
			if IsCommitFault(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		final = addr
		return nil
	}
	if err := backoff.Retry(op, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 16)); err != nil {
		return substrate.NilAddress, err
	}
	return final, nil
}

// CollectGarbage reclaims unreachable resources.
//
// TODO: implement reference tracing; until then references stay resident
// in the lookup table for the life of the path.
func (db *Database) CollectGarbage() error {
	return nil
}

func (db *Database) emit(kind events.EventType, addr substrate.Address) {
	if db.broker == nil {
		return
	}
	db.broker.Publish(&events.Event{
		Type: kind,
		Metadata: map[string]string{
			"path":     db.path,
			"snapshot": addr.String(),
		},
	})
}
