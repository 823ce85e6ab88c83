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


// Package etcd implements tables stored in etcd.
//
// A row is stored under "<prefix>/<db>/<table>/<row>" and its value is the
// JSON encoded field values. A SubscriberTable watches the rows of a table
// and yields every change made by any writer.
package etcd

import (
	"context"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	cerrors "github.com/pingcap/rowactor/pkg/errors"
	"github.com/pingcap/rowactor/pkg/etcd"
	"github.com/pingcap/rowactor/pkg/swss"
	"github.com/pingcap/rowactor/pkg/table"
	"go.etcd.io/etcd/api/v3/mvccpb"
	clientV3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// DefaultKeyPrefix is the default prefix of all keys.
const DefaultKeyPrefix = "/rowactor"

var (
	_ table.OutputTable = (*Table)(nil)
	_ table.InputTable  = (*SubscriberTable)(nil)
)

// TablePrefix returns the prefix of all rows of table id.
func TablePrefix(keyPrefix string, id swss.TableID) string {
	return strings.TrimSuffix(keyPrefix, "/") + "/" + id.DB + "/" + id.Table + "/"
}

func encodeFieldValues(fvs swss.FieldValues) (string, error) {
	if fvs == nil {
		fvs = swss.FieldValues{}
	}
	value, err := json.Marshal(fvs)
	return string(value), errors.Trace(err)
}

func decodeFieldValues(value []byte) (swss.FieldValues, error) {
	fvs := swss.FieldValues{}
	if err := json.Unmarshal(value, &fvs); err != nil {
		return nil, errors.Trace(err)
	}
	return fvs, nil
}

// Table writes rows of a table to etcd.
type Table struct {
	client *etcd.Client
	id     swss.TableID
	prefix string
}

// NewTable creates a Table.
func NewTable(client *etcd.Client, keyPrefix string, id swss.TableID) *Table {
	return &Table{client: client, id: id.Owned(), prefix: TablePrefix(keyPrefix, id)}
}

// ID implements table.OutputTable.
func (t *Table) ID() swss.TableID { return t.id }

// Get returns a row. It returns false if the row does not exist.
func (t *Table) Get(ctx context.Context, row string) (swss.FieldValues, bool, error) {
	resp, err := t.client.Get(ctx, t.prefix+row)
	if err != nil {
		return nil, false, cerrors.ErrTableRead.Wrap(err).GenWithStackByArgs(t.id.String())
	}
	if len(resp.Kvs) == 0 {
		return nil, false, nil
	}
	fvs, err := decodeFieldValues(resp.Kvs[0].Value)
	if err != nil {
		return nil, false, cerrors.ErrTableRead.Wrap(err).GenWithStackByArgs(t.id.String())
	}
	return fvs, true, nil
}

// Set implements table.OutputTable.
func (t *Table) Set(ctx context.Context, row string, fvs swss.FieldValues) error {
	value, err := encodeFieldValues(fvs)
	if err != nil {
		return cerrors.ErrTableWrite.Wrap(err).GenWithStackByArgs(t.id.Key(row).String())
	}
	if _, err := t.client.Put(ctx, t.prefix+row, value); err != nil {
		return cerrors.ErrTableWrite.Wrap(err).GenWithStackByArgs(t.id.Key(row).String())
	}
	return nil
}

// Del implements table.OutputTable.
func (t *Table) Del(ctx context.Context, row string) error {
	if _, err := t.client.Delete(ctx, t.prefix+row); err != nil {
		return cerrors.ErrTableWrite.Wrap(err).GenWithStackByArgs(t.id.Key(row).String())
	}
	return nil
}

// SubscriberTable yields the changes of a table in etcd. The rows present
// when it is created are yielded first as sets.
type SubscriberTable struct {
	client *etcd.Client
	id     swss.TableID
	prefix string
	queue  *table.QueueTable

	cancel context.CancelFunc
	done   chan struct{}

	errMu sync.Mutex
	err   error
}

// NewSubscriberTable creates a SubscriberTable and starts watching.
func NewSubscriberTable(client *etcd.Client, keyPrefix string, id swss.TableID) *SubscriberTable {
	ctx, cancel := context.WithCancel(context.Background())
	s := &SubscriberTable{
		client: client,
		id:     id.Owned(),
		prefix: TablePrefix(keyPrefix, id),
		queue:  table.NewQueueTable(id),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		err := s.run(ctx)
		if err != nil && !cerrors.Is(err, context.Canceled) {
			log.Warn("etcd subscription stopped",
				zap.Stringer("table", s.id), zap.Error(err))
			s.errMu.Lock()
			s.err = err
			s.errMu.Unlock()
		}
		_ = s.queue.Close()
	}()
	return s
}

func (s *SubscriberTable) run(ctx context.Context) error {
	resp, err := s.client.Get(ctx, s.prefix, clientV3.WithPrefix())
	if err != nil {
		if ctx.Err() != nil {
			return errors.Trace(ctx.Err())
		}
		return errors.Trace(err)
	}
	kfvs := make([]swss.KeyOpFieldValues, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		if kfv, ok := s.decode(mvccpb.PUT, kv); ok {
			kfvs = append(kfvs, kfv)
		}
	}
	if len(kfvs) > 0 {
		if err := s.queue.Push(kfvs...); err != nil {
			return errors.Trace(err)
		}
	}

	wch := s.client.Watch(clientV3.WithRequireLeader(ctx), s.prefix,
		clientV3.WithPrefix(), clientV3.WithRev(resp.Header.Revision+1))
	for wresp := range wch {
		if err := wresp.Err(); err != nil {
			if ctx.Err() != nil {
				return errors.Trace(ctx.Err())
			}
			return errors.Trace(err)
		}
		kfvs = kfvs[:0]
		for _, ev := range wresp.Events {
			if kfv, ok := s.decode(ev.Type, ev.Kv); ok {
				kfvs = append(kfvs, kfv)
			}
		}
		if len(kfvs) > 0 {
			if err := s.queue.Push(kfvs...); err != nil {
				return errors.Trace(err)
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return errors.Trace(err)
	}
	return errors.New("etcd watch channel closed")
}

func (s *SubscriberTable) decode(typ mvccpb.Event_EventType, kv *mvccpb.KeyValue) (swss.KeyOpFieldValues, bool) {
	row := strings.TrimPrefix(string(kv.Key), s.prefix)
	if typ == mvccpb.DELETE {
		return swss.KeyOpFieldValues{Key: row, Operation: swss.OpDel}, true
	}
	fvs, err := decodeFieldValues(kv.Value)
	if err != nil {
		log.Warn("skip malformed row",
			zap.Stringer("table", s.id),
			zap.String("row", row),
			zap.ByteString("value", kv.Value),
			zap.Error(err))
		return swss.KeyOpFieldValues{}, false
	}
	return swss.KeyOpFieldValues{Key: row, Operation: swss.OpSet, FieldValues: fvs}, true
}

// ID implements table.InputTable.
func (s *SubscriberTable) ID() swss.TableID { return s.id }

// ReadData implements table.InputTable.
func (s *SubscriberTable) ReadData(ctx context.Context) error {
	err := s.queue.ReadData(ctx)
	if cerrors.Is(err, cerrors.ErrTableClosed) {
		s.errMu.Lock()
		defer s.errMu.Unlock()
		if s.err != nil {
			return cerrors.ErrTableRead.Wrap(s.err).GenWithStackByArgs(s.id.String())
		}
	}
	return err
}

// Pops implements table.InputTable.
func (s *SubscriberTable) Pops(ctx context.Context) ([]swss.KeyOpFieldValues, error) {
	return s.queue.Pops(ctx)
}

// Close implements table.InputTable. It stops watching.
func (s *SubscriberTable) Close() error {
	s.cancel()
	<-s.done
	return nil
}
