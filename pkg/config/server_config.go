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


// Package config defines the config of the rowactor server.
package config

import (
	"bytes"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-json"
	"github.com/pingcap/log"
	"github.com/pingcap/rowactor/pkg/actor"
	"github.com/pingcap/rowactor/pkg/bridge"
	"github.com/pingcap/rowactor/pkg/bus"
	cerrors "github.com/pingcap/rowactor/pkg/errors"
	"github.com/pingcap/rowactor/pkg/etcd"
	"github.com/pingcap/rowactor/pkg/logutil"
	"github.com/pingcap/rowactor/pkg/swss"
	tableetcd "github.com/pingcap/rowactor/pkg/table/etcd"
	"github.com/pingcap/rowactor/pkg/table/pebble"
	"go.uber.org/zap"
)

// Transports of bridged tables.
const (
	TransportPebble = "pebble"
	TransportEtcd   = "etcd"
)

const (
	defaultAddr     = "127.0.0.1:8400"
	defaultLocation = "region-0.cluster-0.node-0"
	defaultDataDir  = "data"

	// BridgeServiceType is the service type of bridges on the bus.
	BridgeServiceType = "bridge"
	// MirrorServiceType is the service type of mirrors on the bus.
	MirrorServiceType = "mirror"
	// TableResourceType is the resource type of bridged tables on the bus.
	TableResourceType = "table"
)

// ServerConfig is the config of the rowactor server.
type ServerConfig struct {
	Log *logutil.Config `toml:"log" json:"log"`

	// Addr is the address serving the status and metrics API.
	Addr string `toml:"addr" json:"addr"`
	// Location is the "region.cluster.node" part of every bus address
	// served by this process.
	Location string `toml:"location" json:"location"`

	Actor   *ActorConfig   `toml:"actor" json:"actor"`
	Resend  *ResendConfig  `toml:"resend" json:"resend"`
	Bridge  *BridgeConfig  `toml:"bridge" json:"bridge"`
	Store   *StoreConfig   `toml:"store" json:"store"`
	Bridges []*TableConfig  `toml:"bridges" json:"bridges"`
	Mirrors []*MirrorConfig `toml:"mirrors" json:"mirrors"`
}

// ActorConfig is the config of actor drivers.
type ActorConfig struct {
	MaintenanceInterval time.Duration `toml:"maintenance-interval" json:"maintenance-interval"`
	// ResubscribeInterval is how often subscriptions are renewed. Zero only
	// renews a subscription after a delivery failure.
	ResubscribeInterval time.Duration `toml:"resubscribe-interval" json:"resubscribe-interval"`
	InboxSize           int           `toml:"inbox-size" json:"inbox-size"`
}

// ResendConfig is the resend policy of unacknowledged requests.
type ResendConfig = actor.ResendConfig

// BridgeConfig is the config shared by all bridges.
type BridgeConfig struct {
	ControlChannelSize int `toml:"control-channel-size" json:"control-channel-size"`
}

// StoreConfig is the config of table stores.
type StoreConfig struct {
	DataDir   string        `toml:"data-dir" json:"data-dir"`
	Pebble    pebble.Config `toml:"pebble" json:"pebble"`
	Etcd      etcd.Config   `toml:"etcd" json:"etcd"`
	KeyPrefix string        `toml:"key-prefix" json:"key-prefix"`
	// PopBatchSize is the max number of changes popped from a pebble
	// table at once.
	PopBatchSize int `toml:"pop-batch-size" json:"pop-batch-size"`
}

// TableConfig is a table exposed on the bus through a bridge.
type TableConfig struct {
	Transport string `toml:"transport" json:"transport"`
	DB        string `toml:"db" json:"db"`
	Table     string `toml:"table" json:"table"`
}

// MirrorConfig is a mirror copying a bridged table into another table.
type MirrorConfig struct {
	SourceDB    string `toml:"source-db" json:"source-db"`
	SourceTable string `toml:"source-table" json:"source-table"`
	TableConfig
}

// SourceTableID returns the id of the mirrored table.
func (c *MirrorConfig) SourceTableID() swss.TableID {
	return swss.NewTableID(c.SourceDB, c.SourceTable)
}

// TableID returns the id of the bridged table.
func (c *TableConfig) TableID() swss.TableID {
	return swss.NewTableID(c.DB, c.Table)
}

// GetDefaultServerConfig returns the default server config.
func GetDefaultServerConfig() *ServerConfig {
	resend := actor.DefaultResendConfig()
	return &ServerConfig{
		Log: &logutil.Config{
			Level: "info",
		},
		Addr:     defaultAddr,
		Location: defaultLocation,
		Actor: &ActorConfig{
			MaintenanceInterval: actor.DefaultMaintenanceInterval,
			ResubscribeInterval: actor.DefaultResubscribeInterval,
			InboxSize:           bus.DefaultInboxSize,
		},
		Resend: &resend,
		Bridge: &BridgeConfig{
			ControlChannelSize: bridge.DefaultControlChannelSize,
		},
		Store: &StoreConfig{
			DataDir:      defaultDataDir,
			Pebble:       pebble.DefaultConfig(),
			Etcd:         etcd.Config{DialTimeout: 5 * time.Second},
			KeyPrefix:    tableetcd.DefaultKeyPrefix,
			PopBatchSize: pebble.DefaultPopBatchSize,
		},
	}
}

// ValidateAndAdjust validates the config and fills in defaults.
func (c *ServerConfig) ValidateAndAdjust() error {
	defaultCfg := GetDefaultServerConfig()
	if c.Log == nil {
		c.Log = defaultCfg.Log
	}
	c.Log.Adjust()
	if c.Addr == "" {
		return cerrors.ErrInvalidConfig.GenWithStackByArgs("empty addr")
	}
	if _, err := c.ServicePath("x", "x"); err != nil {
		return cerrors.ErrInvalidConfig.Wrap(err).GenWithStackByArgs("invalid location " + c.Location)
	}

	if c.Actor == nil {
		c.Actor = defaultCfg.Actor
	}
	if c.Actor.MaintenanceInterval <= 0 {
		return cerrors.ErrInvalidConfig.GenWithStackByArgs("actor.maintenance-interval must be positive")
	}
	if c.Actor.ResubscribeInterval < 0 {
		return cerrors.ErrInvalidConfig.GenWithStackByArgs("actor.resubscribe-interval must not be negative")
	}
	if c.Actor.InboxSize <= 0 {
		return cerrors.ErrInvalidConfig.GenWithStackByArgs("actor.inbox-size must be positive")
	}

	if c.Resend == nil {
		c.Resend = defaultCfg.Resend
	}
	if c.Resend.MaxTries < 0 {
		return cerrors.ErrInvalidConfig.GenWithStackByArgs("resend.max-tries must not be negative")
	}
	if c.Resend.MaxTries > 0 {
		if c.Resend.Interval <= 0 {
			return cerrors.ErrInvalidConfig.GenWithStackByArgs("resend.interval must be positive")
		}
		if c.Resend.MaxInterval < c.Resend.Interval {
			c.Resend.MaxInterval = c.Resend.Interval
		}
		if c.Resend.Multiplier < 1 {
			return cerrors.ErrInvalidConfig.GenWithStackByArgs("resend.multiplier must be at least 1")
		}
	}

	if c.Bridge == nil {
		c.Bridge = defaultCfg.Bridge
	}
	if c.Bridge.ControlChannelSize <= 0 {
		return cerrors.ErrInvalidConfig.GenWithStackByArgs("bridge.control-channel-size must be positive")
	}

	if c.Store == nil {
		c.Store = defaultCfg.Store
	}
	if c.Store.KeyPrefix == "" {
		c.Store.KeyPrefix = tableetcd.DefaultKeyPrefix
	}
	if !strings.HasPrefix(c.Store.KeyPrefix, "/") {
		return cerrors.ErrInvalidConfig.GenWithStackByArgs("store.key-prefix must start with /")
	}
	if c.Store.PopBatchSize <= 0 {
		c.Store.PopBatchSize = pebble.DefaultPopBatchSize
	}

	bridged := make(map[swss.TableID]struct{}, len(c.Bridges))
	for _, t := range c.Bridges {
		if err := c.validateTable(t, "bridged"); err != nil {
			return err
		}
		if _, ok := bridged[t.TableID()]; ok {
			return cerrors.ErrInvalidConfig.GenWithStackByArgs("duplicated bridged table " + t.TableID().String())
		}
		bridged[t.TableID()] = struct{}{}
	}
	mirrored := make(map[swss.TableID]struct{}, len(c.Mirrors))
	for _, m := range c.Mirrors {
		if err := c.validateTable(&m.TableConfig, "mirror"); err != nil {
			return err
		}
		if _, ok := bridged[m.SourceTableID()]; !ok {
			return cerrors.ErrInvalidConfig.GenWithStackByArgs(
				"mirror source " + m.SourceTableID().String() + " is not bridged")
		}
		if m.SourceTableID() == m.TableID() {
			return cerrors.ErrInvalidConfig.GenWithStackByArgs("mirror into its source " + m.TableID().String())
		}
		if _, ok := mirrored[m.TableID()]; ok {
			return cerrors.ErrInvalidConfig.GenWithStackByArgs("duplicated mirror table " + m.TableID().String())
		}
		mirrored[m.TableID()] = struct{}{}
	}
	return nil
}

func (c *ServerConfig) validateTable(t *TableConfig, kind string) error {
	if t.DB == "" || t.Table == "" || strings.Contains(t.DB, "/") || strings.Contains(t.Table, "/") {
		return cerrors.ErrInvalidConfig.GenWithStackByArgs("invalid " + kind + " table " + t.TableID().String())
	}
	switch t.Transport {
	case TransportPebble:
		if c.Store.DataDir == "" {
			return cerrors.ErrInvalidConfig.GenWithStackByArgs("store.data-dir is required by pebble tables")
		}
	case TransportEtcd:
		if len(c.Store.Etcd.Endpoints) == 0 {
			return cerrors.ErrInvalidConfig.GenWithStackByArgs("store.etcd.endpoints is required by etcd tables")
		}
	default:
		return cerrors.ErrInvalidConfig.GenWithStackByArgs("unknown transport " + t.Transport)
	}
	return nil
}

// ServicePath returns the bus address of the bridge of table db:table.
func (c *ServerConfig) ServicePath(db, table string) (bus.ServicePath, error) {
	return c.servicePath(BridgeServiceType, db, table)
}

// MirrorServicePath returns the bus address of the mirror into table
// db:table.
func (c *ServerConfig) MirrorServicePath(db, table string) (bus.ServicePath, error) {
	return c.servicePath(MirrorServiceType, db, table)
}

func (c *ServerConfig) servicePath(serviceType, db, table string) (bus.ServicePath, error) {
	return bus.ParseServicePath(c.Location + "/" + serviceType + "/" + db +
		"/" + TableResourceType + "/" + table)
}

// HasTransport returns true if any bridged or mirror table uses transport.
func (c *ServerConfig) HasTransport(transport string) bool {
	for _, t := range c.Bridges {
		if t.Transport == transport {
			return true
		}
	}
	for _, m := range c.Mirrors {
		if m.Transport == transport {
			return true
		}
	}
	return false
}

// ConfigFromFile loads config from file and merges items into c.
func (c *ServerConfig) ConfigFromFile(path string) error {
	metaData, err := toml.DecodeFile(path, c)
	if err != nil {
		return cerrors.ErrInvalidConfig.Wrap(err).GenWithStackByArgs("decode " + path)
	}
	return checkUndecodedItems(metaData)
}

// ConfigFromString loads config from a toml string and merges items into c.
func (c *ServerConfig) ConfigFromString(data string) error {
	metaData, err := toml.Decode(data, c)
	if err != nil {
		return cerrors.ErrInvalidConfig.Wrap(err).GenWithStackByArgs("decode")
	}
	return checkUndecodedItems(metaData)
}

func checkUndecodedItems(metaData toml.MetaData) error {
	undecoded := metaData.Undecoded()
	if len(undecoded) > 0 {
		var undecodedItems []string
		for _, item := range undecoded {
			undecodedItems = append(undecodedItems, item.String())
		}
		return cerrors.ErrInvalidConfig.GenWithStackByArgs(
			"unknown items " + strings.Join(undecodedItems, ","))
	}
	return nil
}

func (c *ServerConfig) String() string {
	cfg, err := json.Marshal(c)
	if err != nil {
		log.Error("marshal server config to json", zap.Error(err))
	}
	return string(cfg)
}

// Toml returns TOML format representation of config.
func (c *ServerConfig) Toml() (string, error) {
	var b bytes.Buffer
	if err := toml.NewEncoder(&b).Encode(c); err != nil {
		return "", cerrors.ErrInvalidConfig.Wrap(err).GenWithStackByArgs("encode")
	}
	return b.String(), nil
}
