// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

// Package pebble implements tables stored in a local pebble database.
//
// Rows of a table are stored under their own key. Writes through a
// ProducerTable also append the change to a per-table queue, which a
// ConsumerTable pops in write order.
package pebble

import (
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	cerrors "github.com/pingcap/rowactor/pkg/errors"
	"github.com/pingcap/rowactor/pkg/swss"
	"go.uber.org/zap"
)

// Config is the config of a DB.
type Config struct {
	// CacheSize is the size of the block cache in bytes. Zero uses the
	// pebble default.
	CacheSize int64 `toml:"cache-size" json:"cache-size"`
	// MemTableSize is the size of a memtable in bytes.
	MemTableSize uint64 `toml:"memtable-size" json:"memtable-size"`
	// SyncWrites makes every write durable before it returns.
	SyncWrites bool `toml:"sync-writes" json:"sync-writes"`
}

// DefaultConfig returns the default Config.
func DefaultConfig() Config {
	return Config{
		MemTableSize: 8 << 20, // 8 MB
		SyncWrites:   true,
	}
}

// DB is a pebble database holding any number of tables.
type DB struct {
	db        *pebble.DB
	dir       string
	writeOpts *pebble.WriteOptions

	mu       sync.Mutex
	seq      uint64
	watchers map[swss.TableID]chan struct{}

	// closeMu is held for reading by every operation on db, and for
	// writing while db is closed.
	closeMu   sync.RWMutex
	closeOnce sync.Once
	closed    chan struct{}
}

// Open opens or creates the database in dir.
func Open(dir string, cfg Config) (*DB, error) {
	opts := buildPebbleOption(cfg)
	if cfg.CacheSize > 0 {
		opts.Cache = pebble.NewCache(cfg.CacheSize)
		defer opts.Cache.Unref()
	}
	opts.Logger = &pebbleLogger{dir: dir}
	el := pebble.MakeLoggingEventListener(opts.Logger)
	opts.EventListener = &el

	db, err := pebble.Open(dir, opts)
	if err != nil {
		log.Error("open pebble fails", zap.String("dir", dir), zap.Error(err))
		return nil, errors.Trace(err)
	}
	seq, err := loadSeq(db)
	if err != nil {
		_ = db.Close()
		return nil, errors.Trace(err)
	}
	writeOpts := pebble.NoSync
	if cfg.SyncWrites {
		writeOpts = pebble.Sync
	}
	log.Info("pebble opened", zap.String("dir", dir), zap.Uint64("seq", seq))
	return &DB{
		db:        db,
		dir:       dir,
		writeOpts: writeOpts,
		seq:       seq,
		watchers:  make(map[swss.TableID]chan struct{}),
		closed:    make(chan struct{}),
	}, nil
}

func buildPebbleOption(cfg Config) (opts *pebble.Options) {
	opts = new(pebble.Options)
	opts.MemTableSize = cfg.MemTableSize
	opts.MemTableStopWritesThreshold = 4
	opts.MaxConcurrentCompactions = func() int { return 2 }
	opts.LBaseMaxBytes = 64 << 20 // 64 MB
	opts.Levels = make([]pebble.LevelOptions, 7)
	for i := 0; i < len(opts.Levels); i++ {
		l := &opts.Levels[i]
		l.BlockSize = 32 << 10 // 32 KB
		l.IndexBlockSize = 256 << 10 // 256 KB
		l.FilterPolicy = bloom.FilterPolicy(10)
		l.FilterType = pebble.TableFilter
		if i == 0 {
			l.TargetFileSize = 8 << 20 // 8 MB
		} else if i < 4 {
			l.TargetFileSize = opts.Levels[i-1].TargetFileSize * 2
		}
		l.EnsureDefaults()
	}
	opts.Levels[6].FilterPolicy = nil
	opts.FlushSplitBytes = opts.Levels[0].TargetFileSize
	opts.EnsureDefaults()
	return
}

// Close closes the database. Tables opened on it stop working.
func (d *DB) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.closeMu.Lock()
		defer d.closeMu.Unlock()
		close(d.closed)
		err = d.db.Close()
	})
	return errors.Trace(err)
}

// acquire keeps the database open until release is called. It returns
// false if the database is already closed.
func (d *DB) acquire() bool {
	d.closeMu.RLock()
	if d.isClosed() {
		d.closeMu.RUnlock()
		return false
	}
	return true
}

func (d *DB) release() {
	d.closeMu.RUnlock()
}

func (d *DB) isClosed() bool {
	select {
	case <-d.closed:
		return true
	default:
		return false
	}
}

// GetRow returns a row of table tid. It returns false if the row does
// not exist.
func (d *DB) GetRow(tid swss.TableID, row string) (swss.FieldValues, bool, error) {
	if !d.acquire() {
		return nil, false, cerrors.ErrTableClosed.GenWithStackByArgs(tid.String())
	}
	defer d.release()
	value, closer, err := d.db.Get(encodeRowKey(tid, row))
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, cerrors.ErrTableRead.Wrap(err).GenWithStackByArgs(tid.String())
	}
	defer closer.Close()
	fvs, err := decodeFieldValues(value)
	if err != nil {
		return nil, false, cerrors.ErrTableRead.Wrap(err).GenWithStackByArgs(tid.String())
	}
	return fvs, true, nil
}

// write applies a row change of table tid, and appends it to the queue
// of tid if enqueue is true.
func (d *DB) write(tid swss.TableID, kfv swss.KeyOpFieldValues, enqueue bool) error {
	if !d.acquire() {
		return cerrors.ErrTableClosed.GenWithStackByArgs(tid.String())
	}
	defer d.release()

	batch := d.db.NewBatch()
	defer batch.Close()

	rowKey := encodeRowKey(tid, kfv.Key)
	switch kfv.Operation {
	case swss.OpSet:
		value, err := encodeFieldValues(kfv.FieldValues)
		if err != nil {
			return cerrors.ErrTableWrite.Wrap(err).GenWithStackByArgs(tid.Key(kfv.Key).String())
		}
		if err := batch.Set(rowKey, value, nil); err != nil {
			return cerrors.ErrTableWrite.Wrap(err).GenWithStackByArgs(tid.Key(kfv.Key).String())
		}
	case swss.OpDel:
		if err := batch.Delete(rowKey, nil); err != nil {
			return cerrors.ErrTableWrite.Wrap(err).GenWithStackByArgs(tid.Key(kfv.Key).String())
		}
	default:
		log.Panic("unknown operation", zap.Stringer("op", kfv.Operation))
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if enqueue {
		value, err := encodeChange(kfv)
		if err != nil {
			return cerrors.ErrTableWrite.Wrap(err).GenWithStackByArgs(tid.Key(kfv.Key).String())
		}
		seq := d.seq + 1
		if err := batch.Set(encodeQueueKey(tid, seq), value, nil); err != nil {
			return cerrors.ErrTableWrite.Wrap(err).GenWithStackByArgs(tid.Key(kfv.Key).String())
		}
		if err := batch.Set(seqKey, encodeSeq(seq), nil); err != nil {
			return cerrors.ErrTableWrite.Wrap(err).GenWithStackByArgs(tid.Key(kfv.Key).String())
		}
		if err := batch.Commit(d.writeOpts); err != nil {
			return cerrors.ErrTableWrite.Wrap(err).GenWithStackByArgs(tid.Key(kfv.Key).String())
		}
		d.seq = seq
		d.notifyLocked(tid)
		return nil
	}
	if err := batch.Commit(d.writeOpts); err != nil {
		return cerrors.ErrTableWrite.Wrap(err).GenWithStackByArgs(tid.Key(kfv.Key).String())
	}
	return nil
}

// changed returns a channel that is closed at the next change enqueued
// for tid.
func (d *DB) changed(tid swss.TableID) <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch, ok := d.watchers[tid]
	if !ok {
		ch = make(chan struct{})
		d.watchers[tid.Owned()] = ch
	}
	return ch
}

func (d *DB) notifyLocked(tid swss.TableID) {
	if ch, ok := d.watchers[tid]; ok {
		close(ch)
		delete(d.watchers, tid)
	}
}

// hasPending returns true if the queue of tid is not empty.
func (d *DB) hasPending(tid swss.TableID) (bool, error) {
	if !d.acquire() {
		return false, cerrors.ErrTableClosed.GenWithStackByArgs(tid.String())
	}
	defer d.release()
	lower, upper := queueBounds(tid)
	iter, err := d.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return false, errors.Trace(err)
	}
	valid := iter.First()
	if err := iter.Close(); err != nil {
		return false, errors.Trace(err)
	}
	return valid, nil
}

// popQueue removes and returns at most limit changes from the queue of
// tid, oldest first.
func (d *DB) popQueue(tid swss.TableID, limit int) ([]swss.KeyOpFieldValues, error) {
	if !d.acquire() {
		return nil, cerrors.ErrTableClosed.GenWithStackByArgs(tid.String())
	}
	defer d.release()
	lower, upper := queueBounds(tid)
	iter, err := d.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, errors.Trace(err)
	}
	batch := d.db.NewBatch()
	defer batch.Close()

	var kfvs []swss.KeyOpFieldValues
	for iter.First(); iter.Valid() && len(kfvs) < limit; iter.Next() {
		kfv, err := decodeChange(iter.Value())
		if err != nil {
			_ = iter.Close()
			return nil, errors.Trace(err)
		}
		kfvs = append(kfvs, kfv)
		if err := batch.Delete(iter.Key(), nil); err != nil {
			_ = iter.Close()
			return nil, errors.Trace(err)
		}
	}
	if err := iter.Close(); err != nil {
		return nil, errors.Trace(err)
	}
	if len(kfvs) == 0 {
		return nil, nil
	}
	if err := batch.Commit(d.writeOpts); err != nil {
		return nil, errors.Trace(err)
	}
	return kfvs, nil
}

type pebbleLogger struct{ dir string }

var _ pebble.Logger = (*pebbleLogger)(nil)

func (logger *pebbleLogger) Infof(format string, args ...interface{}) {
	// Low-level pebble logs are only interesting when debugging.
	log.Debug(fmt.Sprintf(format, args...), zap.String("dir", logger.dir))
}

func (logger *pebbleLogger) Fatalf(format string, args ...interface{}) {
	log.Panic(fmt.Sprintf(format, args...), zap.String("dir", logger.dir))
}

func loadSeq(db *pebble.DB) (uint64, error) {
	value, closer, err := db.Get(seqKey)
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Trace(err)
	}
	defer closer.Close()
	return decodeSeq(value)
}
