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


package server

import (
	"context"
	"strings"

	"github.com/fatih/color"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/pingcap/rowactor/pkg/cmd/util"
	"github.com/pingcap/rowactor/pkg/config"
	cerrors "github.com/pingcap/rowactor/pkg/errors"
	"github.com/pingcap/rowactor/pkg/server"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// options defines flags for the `server` command.
type options struct {
	serverConfigFilePath string
	etcdEndpoints        string

	serverConfig *config.ServerConfig
}

// newOptions creates new options for the `server` command.
func newOptions() *options {
	return &options{
		serverConfig: config.GetDefaultServerConfig(),
	}
}

// addFlags receives a *cobra.Command reference and binds
// flags related to template printing to it.
func (o *options) addFlags(cmd *cobra.Command) {
	defaultServerConfig := config.GetDefaultServerConfig()
	cmd.Flags().StringVar(&o.serverConfig.Addr, "addr", defaultServerConfig.Addr, "Set the listening address of the status API")
	cmd.Flags().StringVar(&o.serverConfig.Location, "location", defaultServerConfig.Location, "Set the region.cluster.node location of bus addresses")
	cmd.Flags().StringVar(&o.serverConfig.Log.File, "log-file", defaultServerConfig.Log.File, "log file path")
	cmd.Flags().StringVar(&o.serverConfig.Log.Level, "log-level", defaultServerConfig.Log.Level, "log level (etc: debug|info|warn|error)")
	cmd.Flags().StringVar(&o.serverConfig.Store.DataDir, "data-dir", defaultServerConfig.Store.DataDir, "the path to the directory of pebble tables")
	cmd.Flags().StringVar(&o.etcdEndpoints, "etcd", "", "Set the etcd endpoints of etcd tables. Use ',' to separate multiple endpoints")
	cmd.Flags().DurationVar(&o.serverConfig.Actor.MaintenanceInterval, "maintenance-interval", defaultServerConfig.Actor.MaintenanceInterval, "interval of actor maintenance")

	cmd.Flags().StringVar(&o.serverConfigFilePath, "config", "", "Path of the configuration file")
}

// complete loads the config file and overrides it with the flags set on
// the command line.
func (o *options) complete(cmd *cobra.Command) error {
	cfg := config.GetDefaultServerConfig()
	if len(o.serverConfigFilePath) > 0 {
		if err := cfg.ConfigFromFile(o.serverConfigFilePath); err != nil {
			return errors.Trace(err)
		}
	}
	cmd.Flags().Visit(func(flag *pflag.Flag) {
		switch flag.Name {
		case "addr":
			cfg.Addr = o.serverConfig.Addr
		case "location":
			cfg.Location = o.serverConfig.Location
		case "log-file":
			cfg.Log.File = o.serverConfig.Log.File
		case "log-level":
			cfg.Log.Level = o.serverConfig.Log.Level
		case "data-dir":
			cfg.Store.DataDir = o.serverConfig.Store.DataDir
		case "etcd":
			cfg.Store.Etcd.Endpoints = strings.Split(o.etcdEndpoints, ",")
		case "maintenance-interval":
			cfg.Actor.MaintenanceInterval = o.serverConfig.Actor.MaintenanceInterval
		case "config":
			// do nothing
		default:
			log.Panic("unknown flag, please report a bug", zap.String("flagName", flag.Name))
		}
	})
	if err := cfg.ValidateAndAdjust(); err != nil {
		return errors.Trace(err)
	}
	if len(cfg.Bridges) == 0 {
		cmd.Printf(color.HiYellowString("[WARN] no table is bridged. " +
			"Please add [[bridges]] to the configuration file.\n"))
	}
	o.serverConfig = cfg
	return nil
}

func (o *options) run(cmd *cobra.Command) error {
	conf := o.serverConfig
	ctx, cancel := util.InitCmd(cmd, conf.Log)
	defer cancel()
	log.Info("rowactor server config", zap.Stringer("config", conf))

	srv, err := server.New(conf)
	if err != nil {
		return errors.Annotate(err, "new server")
	}
	done := make(chan struct{})
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	util.InitSignalHandling(func() <-chan struct{} {
		stop()
		return done
	}, cancel)

	err = srv.Run(runCtx)
	close(done)
	if closeErr := srv.Close(); closeErr != nil {
		log.Warn("close server failed", zap.Error(closeErr))
	}
	if err != nil && !cerrors.Is(err, context.Canceled) {
		log.Error("run server", zap.String("error", errors.ErrorStack(err)))
		return errors.Annotate(err, "run server")
	}
	log.Info("rowactor server exits successfully")
	return nil
}

// NewCmdServer creates the `server` command.
func NewCmdServer() *cobra.Command {
	o := newOptions()

	command := &cobra.Command{
		Use:   "server",
		Short: "Start a rowactor server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.complete(cmd); err != nil {
				return err
			}
			return o.run(cmd)
		},
	}
	o.addFlags(command)

	return command
}
