// Package repository owns the badger database behind the function registry.
package repository

import (
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/ignitionstack/ember/pkg/engine/logging"
)

type DBRepository interface {
	View(fn func(txn *badger.Txn) error) error
	Update(fn func(txn *badger.Txn) error) error
	Close() error
}

type BadgerDBRepository struct {
	db *badger.DB
}

func NewBadgerDBRepository(db *badger.DB) DBRepository {
	return &BadgerDBRepository{db: db}
}

// OpenBadger opens (creating if needed) the database in dir, logging through
// logger. A nil logger silences badger.
func OpenBadger(dir string, logger logging.Logger) (*BadgerDBRepository, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	if logger != nil {
		opts.Logger = badgerLogger{logger}
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &BadgerDBRepository{db: db}, nil
}

func (r *BadgerDBRepository) View(fn func(txn *badger.Txn) error) error {
	return r.db.View(fn)
}

func (r *BadgerDBRepository) Update(fn func(txn *badger.Txn) error) error {
	return r.db.Update(fn)
}

func (r *BadgerDBRepository) Close() error {
	return r.db.Close()
}

// badgerLogger adapts logging.Logger to badger.Logger. Badger's info output
// is chatty, so it goes to debug.
type badgerLogger struct {
	logging.Logger
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.Printf("badger: "+format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.Debugf("badger: "+format, args...)
}
