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


package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pingcap/rowactor/pkg/bus"
	cerrors "github.com/pingcap/rowactor/pkg/errors"
	"github.com/pingcap/rowactor/pkg/swss"
	"github.com/stretchr/testify/require"
)

const testConfig = `
addr = "0.0.0.0:9400"
location = "r1.c1.n1"

[log]
level = "warning"

[actor]
maintenance-interval = "500ms"

[resend]
interval = "1s"
max-interval = "10s"
multiplier = 2.0
max-tries = 5

[store]
data-dir = "/var/lib/rowactor"
key-prefix = "/ha"

[store.etcd]
endpoints = ["http://127.0.0.1:2379"]
dial-timeout = "3s"

[[bridges]]
transport = "pebble"
db = "APPL_DB"
table = "ROUTE_TABLE"

[[bridges]]
transport = "etcd"
db = "CONFIG_DB"
table = "PORT"

[[mirrors]]
source-db = "CONFIG_DB"
source-table = "PORT"
transport = "pebble"
db = "STATE_DB"
table = "PORT"
`

func TestDefaultServerConfig(t *testing.T) {
	t.Parallel()

	cfg := GetDefaultServerConfig()
	require.Nil(t, cfg.ValidateAndAdjust())
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, time.Second, cfg.Actor.MaintenanceInterval)
	require.Equal(t, 3*time.Second, cfg.Resend.Interval)
	require.Equal(t, 20, cfg.Resend.MaxTries)
	require.Empty(t, cfg.Bridges)
}

func TestConfigFromString(t *testing.T) {
	t.Parallel()

	cfg := GetDefaultServerConfig()
	require.Nil(t, cfg.ConfigFromString(testConfig))
	require.Nil(t, cfg.ValidateAndAdjust())

	require.Equal(t, "0.0.0.0:9400", cfg.Addr)
	require.Equal(t, "warn", cfg.Log.Level)
	require.Equal(t, 500*time.Millisecond, cfg.Actor.MaintenanceInterval)
	// Items not in the file keep their defaults.
	require.Equal(t, bus.DefaultInboxSize, cfg.Actor.InboxSize)
	require.Equal(t, ResendConfig{
		Interval:    time.Second,
		MaxInterval: 10 * time.Second,
		Multiplier:  2,
		MaxTries:    5,
	}, *cfg.Resend)
	require.Equal(t, "/var/lib/rowactor", cfg.Store.DataDir)
	require.Equal(t, []string{"http://127.0.0.1:2379"}, cfg.Store.Etcd.Endpoints)
	require.Equal(t, 3*time.Second, cfg.Store.Etcd.DialTimeout)
	require.True(t, cfg.Store.Pebble.SyncWrites)

	require.Len(t, cfg.Bridges, 2)
	require.Equal(t, swss.NewTableID("APPL_DB", "ROUTE_TABLE"), cfg.Bridges[0].TableID())
	require.True(t, cfg.HasTransport(TransportPebble))
	require.True(t, cfg.HasTransport(TransportEtcd))

	path, err := cfg.ServicePath("CONFIG_DB", "PORT")
	require.Nil(t, err)
	require.Equal(t, "r1.c1.n1/bridge/CONFIG_DB/table/PORT", path.String())

	require.Len(t, cfg.Mirrors, 1)
	require.Equal(t, swss.NewTableID("CONFIG_DB", "PORT"), cfg.Mirrors[0].SourceTableID())
	require.Equal(t, swss.NewTableID("STATE_DB", "PORT"), cfg.Mirrors[0].TableID())
	path, err = cfg.MirrorServicePath("STATE_DB", "PORT")
	require.Nil(t, err)
	require.Equal(t, "r1.c1.n1/mirror/STATE_DB/table/PORT", path.String())
}

func TestConfigFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "rowactor.toml")
	require.Nil(t, os.WriteFile(path, []byte(testConfig), 0o600))
	cfg := GetDefaultServerConfig()
	require.Nil(t, cfg.ConfigFromFile(path))
	require.Nil(t, cfg.ValidateAndAdjust())
	require.Equal(t, "r1.c1.n1", cfg.Location)

	err := cfg.ConfigFromFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.True(t, cerrors.Is(err, cerrors.ErrInvalidConfig))
}

func TestUnknownItems(t *testing.T) {
	t.Parallel()

	cfg := GetDefaultServerConfig()
	err := cfg.ConfigFromString(`
addr = "127.0.0.1:1"
unknown = 1
[actor]
typo = "1s"
`)
	require.True(t, cerrors.Is(err, cerrors.ErrInvalidConfig))
	require.Contains(t, err.Error(), "unknown")
	require.Contains(t, err.Error(), "actor.typo")
}

func TestValidateAndAdjust(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		modify func(*ServerConfig)
		errMsg string
	}{
		{
			name:   "empty addr",
			modify: func(c *ServerConfig) { c.Addr = "" },
			errMsg: "empty addr",
		},
		{
			name:   "bad location",
			modify: func(c *ServerConfig) { c.Location = "r1.c1" },
			errMsg: "invalid location",
		},
		{
			name:   "zero maintenance interval",
			modify: func(c *ServerConfig) { c.Actor.MaintenanceInterval = 0 },
			errMsg: "maintenance-interval",
		},
		{
			name:   "negative resubscribe interval",
			modify: func(c *ServerConfig) { c.Actor.ResubscribeInterval = -time.Second },
			errMsg: "resubscribe-interval",
		},
		{
			name:   "negative max tries",
			modify: func(c *ServerConfig) { c.Resend.MaxTries = -1 },
			errMsg: "max-tries",
		},
		{
			name:   "bad multiplier",
			modify: func(c *ServerConfig) { c.Resend.Multiplier = 0.5 },
			errMsg: "multiplier",
		},
		{
			name:   "bad key prefix",
			modify: func(c *ServerConfig) { c.Store.KeyPrefix = "ha" },
			errMsg: "key-prefix",
		},
		{
			name: "unknown transport",
			modify: func(c *ServerConfig) {
				c.Bridges = []*TableConfig{{Transport: "redis", DB: "A", Table: "T"}}
			},
			errMsg: "unknown transport",
		},
		{
			name: "duplicated table",
			modify: func(c *ServerConfig) {
				c.Bridges = []*TableConfig{
					{Transport: TransportPebble, DB: "A", Table: "T"},
					{Transport: TransportPebble, DB: "A", Table: "T"},
				}
			},
			errMsg: "duplicated",
		},
		{
			name: "slash in table",
			modify: func(c *ServerConfig) {
				c.Bridges = []*TableConfig{{Transport: TransportPebble, DB: "A", Table: "T/1"}}
			},
			errMsg: "invalid bridged table",
		},
		{
			name: "mirror of unbridged table",
			modify: func(c *ServerConfig) {
				c.Mirrors = []*MirrorConfig{{
					SourceDB: "A", SourceTable: "T",
					TableConfig: TableConfig{Transport: TransportPebble, DB: "B", Table: "T"},
				}}
			},
			errMsg: "is not bridged",
		},
		{
			name: "mirror into its source",
			modify: func(c *ServerConfig) {
				c.Bridges = []*TableConfig{{Transport: TransportPebble, DB: "A", Table: "T"}}
				c.Mirrors = []*MirrorConfig{{
					SourceDB: "A", SourceTable: "T",
					TableConfig: TableConfig{Transport: TransportPebble, DB: "A", Table: "T"},
				}}
			},
			errMsg: "into its source",
		},
		{
			name: "etcd without endpoints",
			modify: func(c *ServerConfig) {
				c.Bridges = []*TableConfig{{Transport: TransportEtcd, DB: "A", Table: "T"}}
			},
			errMsg: "endpoints",
		},
	}
	for _, tc := range testCases {
		cfg := GetDefaultServerConfig()
		tc.modify(cfg)
		err := cfg.ValidateAndAdjust()
		require.True(t, cerrors.Is(err, cerrors.ErrInvalidConfig), tc.name)
		require.Contains(t, err.Error(), tc.errMsg, tc.name)
	}
}

func TestValidateAndAdjustFillsSections(t *testing.T) {
	t.Parallel()

	cfg := &ServerConfig{Addr: "127.0.0.1:1", Location: "r.c.n"}
	require.Nil(t, cfg.ValidateAndAdjust())
	require.NotNil(t, cfg.Log)
	require.NotNil(t, cfg.Actor)
	require.NotNil(t, cfg.Resend)
	require.NotNil(t, cfg.Bridge)
	require.NotNil(t, cfg.Store)

	// Disabled resends need no interval.
	cfg.Resend.MaxTries = 0
	cfg.Resend.Interval = 0
	require.Nil(t, cfg.ValidateAndAdjust())
}

func TestToml(t *testing.T) {
	t.Parallel()

	cfg := GetDefaultServerConfig()
	require.Nil(t, cfg.ConfigFromString(testConfig))
	require.Nil(t, cfg.ValidateAndAdjust())
	data, err := cfg.Toml()
	require.Nil(t, err)
	require.Contains(t, data, `addr = "0.0.0.0:9400"`)
	require.Contains(t, data, "[[bridges]]")
	require.Contains(t, data, `transport = "pebble"`)
	require.Contains(t, cfg.String(), `"addr":"0.0.0.0:9400"`)
}
