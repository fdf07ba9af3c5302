// Package history keeps a durable ledger of every successful publish, one record per application
// version, stored in an embedded badger database.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"reflect"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

type Config struct {
	// Path is the badger directory. An empty path disables the ledger.
	Path string `mapstructure:"path"`
	// InMemory keeps the ledger in memory only. Intended for testing.
	InMemory bool `mapstructure:"in-memory"`
}

// Record describes one published version.
type Record struct {
	App         string    `json:"appName"`
	Version     string    `json:"version"`
	Promoted    bool      `json:"promoted"`
	Files       int       `json:"files"`
	ContentSize int64     `json:"contentSize"`
	ArchiveSize int64     `json:"archiveSize"`
	Ignored     int       `json:"ignored"`
	PublishedAt time.Time `json:"publishedAt"`
	RequestID   string    `json:"requestId,omitempty"`
}

var ErrDisabled = errors.New("publish history is disabled")

type Store struct {
	log *zap.Logger
	db  *badger.DB
}

// Open opens (or creates) the ledger. When neither a path nor in-memory mode is configured it
// returns a nil Store, on which every method is a no-op or returns ErrDisabled.
func Open(log *zap.Logger, config Config) (*Store, error) {
	log = log.With(zap.String("component", path.Base(reflect.TypeOf(Store{}).PkgPath())))
	if config.Path == "" && !config.InMemory {
		log.Info("publish history is disabled")
		return nil, nil
	}
	opts := badger.DefaultOptions(config.Path).WithLogger(badgerLogger{log.Sugar()})
	if config.InMemory {
		opts = opts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("unable to open publish history at %q: %w", config.Path, err)
	}
	return &Store{log: log, db: db}, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// Append stores rec. Records of one application are kept in publish order.
func (s *Store) Append(rec Record) error {
	if s == nil {
		return nil
	}
	if rec.PublishedAt.IsZero() {
		rec.PublishedAt = time.Now()
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(rec.App, rec.PublishedAt, rec.Version), value)
	})
}

// List returns every record of app, oldest first. An application without history yields an empty
// list.
func (s *Store) List(app string) ([]Record, error) {
	if s == nil {
		return nil, ErrDisabled
	}
	records := []Record{}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(app + "/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("corrupt history record %q: %w", it.Item().Key(), err)
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// key orders records by application, then time. Application names never contain a slash.
func key(app string, at time.Time, version string) []byte {
	return fmt.Appendf(nil, "%s/%020d/%s", app, at.UnixNano(), version)
}

// badgerLogger routes badger's own logging through zap.
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.Warnf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...any) {
	// Badger is chatty at info level.
	l.Debugf(format, args...)
}
