package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/eleven-am/researchflow/internal/domain"
)

const flowKeyPrefix = "flow:"

func flowKey(id string) []byte {
	return []byte(flowKeyPrefix + id)
}

type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger
	stop   chan struct{}
	wg     sync.WaitGroup
}

// OpenBadger opens (or creates) a flow store at dir. An empty dir opens an
// in-memory database.
func OpenBadger(dir string, logger *slog.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, domain.NewInternalError("create data dir", err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts.Logger = &badgerLogger{logger: logger.With("component", "badger")}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, domain.NewInternalError("open badger at "+dir, err)
	}

	s := &BadgerStore{
		db:     db,
		logger: logger.With("component", "flow-store", "driver", "badger"),
		stop:   make(chan struct{}),
	}
	if dir != "" {
		s.wg.Add(1)
		go s.runGC(5 * time.Minute)
	}
	return s, nil
}

func (s *BadgerStore) Create(ctx context.Context, flow *domain.Flow) error {
	data, err := encodeFlow(flow)
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(flowKey(flow.ID)); err == nil {
			return flowExists(flow.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(flowKey(flow.ID), data)
	})
	if err != nil {
		return wrapStoreErr("create", flow.ID, err)
	}

	s.logger.Debug("flow created", "flow_id", flow.ID, "bytes", len(data))
	return nil
}

func (s *BadgerStore) Get(ctx context.Context, flowID string) (*domain.Flow, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(flowKey(flowID))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return domain.NewNotFoundError("flow", flowID)
			}
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, wrapStoreErr("get", flowID, err)
	}
	return decodeFlow(data)
}

func (s *BadgerStore) List(ctx context.Context) ([]*domain.Flow, error) {
	var flows []*domain.Flow
	prefix := []byte(flowKeyPrefix)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			value, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			flow, err := decodeFlow(value)
			if err != nil {
				s.logger.Warn("skipping undecodable flow", "key", string(it.Item().Key()), "error", err)
				continue
			}
			flows = append(flows, flow)
		}
		return nil
	})
	if err != nil {
		return nil, wrapStoreErr("list", "", err)
	}

	sortNewestFirst(flows)
	return flows, nil
}

func (s *BadgerStore) Update(ctx context.Context, flow *domain.Flow) error {
	data, err := encodeFlow(flow)
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(flowKey(flow.ID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return domain.NewNotFoundError("flow", flow.ID)
			}
			return err
		}
		return txn.Set(flowKey(flow.ID), data)
	})
	return wrapStoreErr("update", flow.ID, err)
}

func (s *BadgerStore) Delete(ctx context.Context, flowID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(flowKey(flowID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return domain.NewNotFoundError("flow", flowID)
			}
			return err
		}
		return txn.Delete(flowKey(flowID))
	})
	if err != nil {
		return wrapStoreErr("delete", flowID, err)
	}

	s.logger.Debug("flow deleted", "flow_id", flowID)
	return nil
}

func (s *BadgerStore) Close() error {
	close(s.stop)
	s.wg.Wait()
	return s.db.Close()
}

func (s *BadgerStore) runGC(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			lsm, vlog := s.db.Size()
			s.logger.Debug("running value log gc", "lsm_size", lsm, "vlog_size", vlog)
			if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Error("value log gc failed", "error", err)
			}
		}
	}
}

func wrapStoreErr(op, id string, err error) error {
	if err == nil {
		return nil
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return err
	}
	return domain.NewInternalError(fmt.Sprintf("store %s %s", op, id), err)
}

// badgerLogger routes badger's internal logging through slog. Info and
// debug chatter is dropped.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(f string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(f, v...))
}

func (l *badgerLogger) Warningf(f string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(f, v...))
}

func (l *badgerLogger) Infof(string, ...interface{}) {}

func (l *badgerLogger) Debugf(string, ...interface{}) {}
