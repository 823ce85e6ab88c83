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


// Package server runs the bridges and mirrors of a rowactor process.
package server

import (
	"context"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/pingcap/rowactor/pkg/actor"
	"github.com/pingcap/rowactor/pkg/bridge"
	"github.com/pingcap/rowactor/pkg/bus"
	"github.com/pingcap/rowactor/pkg/config"
	"github.com/pingcap/rowactor/pkg/etcd"
	"github.com/pingcap/rowactor/pkg/mirror"
	"github.com/pingcap/rowactor/pkg/table"
	tableetcd "github.com/pingcap/rowactor/pkg/table/etcd"
	"github.com/pingcap/rowactor/pkg/table/pebble"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	pebbleDirName     = "pebble"
	statusReadTimeout = 10 * time.Second
)

type bridgeEntry struct {
	cfg    *config.TableConfig
	path   bus.ServicePath
	bridge *bridge.ConsumerBridge
}

type mirrorEntry struct {
	cfg    *config.MirrorConfig
	path   bus.ServicePath
	mirror *mirror.Mirror
}

// Server owns the bus, the table stores, and the actors of a process.
type Server struct {
	cfg      *config.ServerConfig
	router   *bus.Router
	runtime  *actor.Runtime
	registry *prometheus.Registry

	db      *pebble.DB
	etcdCli *etcd.Client

	bridges []*bridgeEntry
	mirrors []*mirrorEntry

	listener     net.Listener
	statusServer *http.Server
}

// New creates a server from a validated config. It opens the stores,
// creates the actors, and listens on cfg.Addr.
func New(cfg *config.ServerConfig) (s *Server, err error) {
	s = &Server{
		cfg:      cfg,
		router:   bus.NewRouter(),
		runtime:  actor.NewRuntime(),
		registry: prometheus.NewRegistry(),
	}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	s.registry.MustRegister(collectors.NewGoCollector())
	s.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	actor.InitMetrics(s.registry)
	bridge.InitMetrics(s.registry)
	bus.InitMetrics(s.registry)
	etcd.InitMetrics(s.registry)

	if cfg.HasTransport(config.TransportPebble) {
		s.db, err = pebble.Open(filepath.Join(cfg.Store.DataDir, pebbleDirName), cfg.Store.Pebble)
		if err != nil {
			return nil, errors.Trace(err)
		}
	}
	if cfg.HasTransport(config.TransportEtcd) {
		s.etcdCli, err = etcd.NewClient(cfg.Store.Etcd)
		if err != nil {
			return nil, errors.Trace(err)
		}
	}

	for _, t := range cfg.Bridges {
		if err := s.addBridge(t); err != nil {
			return nil, errors.Trace(err)
		}
	}
	for _, m := range cfg.Mirrors {
		if err := s.addMirror(m); err != nil {
			return nil, errors.Trace(err)
		}
	}

	s.listener, err = net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, errors.Trace(err)
	}
	s.statusServer = &http.Server{
		Handler:           newRouter(s),
		ReadHeaderTimeout: statusReadTimeout,
	}
	return s, nil
}

func (s *Server) addBridge(t *config.TableConfig) error {
	path, err := s.cfg.ServicePath(t.DB, t.Table)
	if err != nil {
		return errors.Trace(err)
	}
	client, err := s.router.Register(path, s.cfg.Actor.InboxSize)
	if err != nil {
		return errors.Trace(err)
	}

	var input table.InputTable
	switch t.Transport {
	case config.TransportPebble:
		input = pebble.NewConsumerTable(s.db, t.TableID(), s.cfg.Store.PopBatchSize)
	case config.TransportEtcd:
		input = tableetcd.NewSubscriberTable(s.etcdCli, s.cfg.Store.KeyPrefix, t.TableID())
	default:
		log.Panic("unknown transport", zap.String("transport", t.Transport))
	}
	b := bridge.NewConsumerBridge(input, s.cfg.Bridge.ControlChannelSize)
	s.bridges = append(s.bridges, &bridgeEntry{cfg: t, path: path, bridge: b})
	s.runtime.Add(actor.NewDriver(b, client, s.driverOptions()...))
	log.Info("bridge added",
		zap.Stringer("table", t.TableID()),
		zap.String("transport", t.Transport),
		zap.Stringer("path", path))
	return nil
}

func (s *Server) addMirror(m *config.MirrorConfig) error {
	path, err := s.cfg.MirrorServicePath(m.DB, m.Table)
	if err != nil {
		return errors.Trace(err)
	}
	source, err := s.cfg.ServicePath(m.SourceDB, m.SourceTable)
	if err != nil {
		return errors.Trace(err)
	}
	client, err := s.router.Register(path, s.cfg.Actor.InboxSize)
	if err != nil {
		return errors.Trace(err)
	}

	var output table.OutputTable
	switch m.Transport {
	case config.TransportPebble:
		output = pebble.NewProducerTable(s.db, m.TableID())
	case config.TransportEtcd:
		output = tableetcd.NewTable(s.etcdCli, s.cfg.Store.KeyPrefix, m.TableID())
	default:
		log.Panic("unknown transport", zap.String("transport", m.Transport))
	}
	mi := mirror.New(m.SourceTableID(), m.TableID())
	s.mirrors = append(s.mirrors, &mirrorEntry{cfg: m, path: path, mirror: mi})
	opts := append(s.driverOptions(),
		actor.WithSubscription(source, m.SourceTableID()),
		actor.WithOutput(output))
	s.runtime.Add(actor.NewDriver(mi, client, opts...))
	log.Info("mirror added",
		zap.Stringer("source", m.SourceTableID()),
		zap.Stringer("table", m.TableID()),
		zap.String("transport", m.Transport),
		zap.Stringer("path", path))
	return nil
}

func (s *Server) driverOptions() []actor.Option {
	return []actor.Option{
		actor.WithMaintenanceInterval(s.cfg.Actor.MaintenanceInterval),
		actor.WithResubscribeInterval(s.cfg.Actor.ResubscribeInterval),
		actor.WithResendConfig(*s.cfg.Resend),
	}
}

// Router returns the bus of the server. Actors of the same process
// register on it to talk to bridges.
func (s *Server) Router() *bus.Router {
	return s.router
}

// DB returns the pebble database, or nil if no table uses pebble.
func (s *Server) DB() *pebble.DB {
	return s.db
}

// Addr returns the address of the status API.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Run runs the actors and serves the status API until ctx is done or an
// actor or a bridged table fails.
func (s *Server) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return s.runtime.Run(ctx)
	})
	for _, e := range s.bridges {
		e := e
		eg.Go(func() error {
			select {
			case <-ctx.Done():
				return errors.Trace(ctx.Err())
			case <-e.bridge.Done():
				if err := e.bridge.Err(); err != nil {
					return errors.Annotatef(err, "bridge of %s", e.cfg.TableID())
				}
				return errors.Trace(ctx.Err())
			}
		})
	}
	eg.Go(func() error {
		log.Info("status server started", zap.Stringer("addr", s.listener.Addr()))
		err := s.statusServer.Serve(s.listener)
		if err != nil && err != http.ErrServerClosed {
			log.Error("status server error", zap.Error(err))
			return errors.Trace(err)
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		return errors.Trace(s.statusServer.Close())
	})
	return eg.Wait()
}

// Close releases all resources of the server. It must be called after
// Run returns.
func (s *Server) Close() error {
	var err error
	if s.statusServer != nil {
		err = multierr.Append(err, s.statusServer.Close())
	}
	if s.listener != nil {
		// Already closed if the status server was served.
		_ = s.listener.Close()
	}
	for _, e := range s.bridges {
		if cerr := e.bridge.Close(); cerr != nil {
			log.Warn("bridge stopped with error",
				zap.Stringer("table", e.cfg.TableID()), zap.Error(cerr))
		}
	}
	s.router.Close()
	if s.etcdCli != nil {
		err = multierr.Append(err, s.etcdCli.Close())
	}
	if s.db != nil {
		err = multierr.Append(err, s.db.Close())
	}
	return errors.Trace(err)
}
