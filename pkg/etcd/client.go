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


// Package etcd wraps the etcd client used by etcd backed tables.
package etcd

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	cerrors "github.com/pingcap/rowactor/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	v3rpc "go.etcd.io/etcd/api/v3/v3rpc/rpctypes"
	clientV3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
)

// etcd operation names
const (
	EtcdPut = "Put"
	EtcdGet = "Get"
	EtcdDel = "Del"
)

const (
	backoffBaseDelay = 500 * time.Millisecond
	backoffMaxDelay  = 60 * time.Second
	// etcdClientTimeoutDuration represents the timeout duration for
	// etcd client to execute a remote call
	etcdClientTimeoutDuration = 30 * time.Second
	defaultDialTimeout        = 5 * time.Second
)

// set to var instead of const for mocking the value to speedup test
var maxTries uint64 = 12

// Config is the config of an etcd client.
type Config struct {
	Endpoints   []string      `toml:"endpoints" json:"endpoints"`
	DialTimeout time.Duration `toml:"dial-timeout" json:"dial-timeout"`
}

// NewClient creates a Client connected to cfg.Endpoints.
func NewClient(cfg Config) (*Client, error) {
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	cli, err := clientV3.New(clientV3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: dialTimeout,
		Logger:      log.L().With(zap.String("component", "etcd-client")),
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return Wrap(cli), nil
}

// Client is a simple wrapper that adds retry to etcd RPC
type Client struct {
	cli *clientV3.Client
}

// Wrap warps a clientV3.Client.
func Wrap(cli *clientV3.Client) *Client {
	return &Client{cli: cli}
}

// Unwrap returns a clientV3.Client
func (c *Client) Unwrap() *clientV3.Client {
	return c.cli
}

// Close closes the underlying client.
func (c *Client) Close() error {
	return errors.Trace(c.cli.Close())
}

func retryRPC(ctx context.Context, rpcName string, etcdRPC func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = backoffBaseDelay
	bo.MaxInterval = backoffMaxDelay
	bo.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(bo, maxTries), ctx)

	return backoff.RetryNotify(func() error {
		err := etcdRPC()
		rpcCounter.WithLabelValues(rpcName).Inc()
		if err != nil && !isRetryableError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, next time.Duration) {
		log.Warn("etcd RPC failed",
			zap.String("RPC", rpcName),
			zap.Duration("retryAfter", next),
			zap.Error(err))
	})
}

func isRetryableError(err error) bool {
	if cerrors.Is(err, context.Canceled) || cerrors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if etcdErr, ok := err.(v3rpc.EtcdError); ok {
		switch etcdErr.Code() {
		case codes.InvalidArgument, codes.FailedPrecondition, codes.NotFound, codes.OutOfRange,
			codes.PermissionDenied, codes.Unauthenticated:
			return false
		}
	}
	return true
}

// Put delegates request to clientV3.KV.Put
func (c *Client) Put(
	ctx context.Context, key, val string, opts ...clientV3.OpOption,
) (resp *clientV3.PutResponse, err error) {
	putCtx, cancel := context.WithTimeout(ctx, etcdClientTimeoutDuration)
	defer cancel()
	err = retryRPC(putCtx, EtcdPut, func() error {
		var inErr error
		resp, inErr = c.cli.Put(putCtx, key, val, opts...)
		return inErr
	})
	return
}

// Get delegates request to clientV3.KV.Get
func (c *Client) Get(
	ctx context.Context, key string, opts ...clientV3.OpOption,
) (resp *clientV3.GetResponse, err error) {
	getCtx, cancel := context.WithTimeout(ctx, etcdClientTimeoutDuration)
	defer cancel()
	err = retryRPC(getCtx, EtcdGet, func() error {
		var inErr error
		resp, inErr = c.cli.Get(getCtx, key, opts...)
		return inErr
	})
	return
}

// Delete delegates request to clientV3.KV.Delete
func (c *Client) Delete(
	ctx context.Context, key string, opts ...clientV3.OpOption,
) (resp *clientV3.DeleteResponse, err error) {
	delCtx, cancel := context.WithTimeout(ctx, etcdClientTimeoutDuration)
	defer cancel()
	err = retryRPC(delCtx, EtcdDel, func() error {
		var inErr error
		resp, inErr = c.cli.Delete(delCtx, key, opts...)
		return inErr
	})
	return
}

// Watch delegates request to clientV3.Watcher.Watch
func (c *Client) Watch(
	ctx context.Context, key string, opts ...clientV3.OpOption,
) clientV3.WatchChan {
	return c.cli.Watch(ctx, key, opts...)
}

var rpcCounter = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "rowactor",
		Subsystem: "etcd",
		Name:      "rpc_total",
		Help:      "Total number of etcd RPCs, retries included.",
	}, []string{"rpc"})

// InitMetrics registers all metrics in this file.
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(rpcCounter)
}
