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

package actor

import (
	"context"

	"github.com/pingcap/log"
	cerrors "github.com/pingcap/rowactor/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Runtime runs a set of drivers concurrently. Actors only interact
// through the bus.
type Runtime struct {
	drivers []*Driver
}

// NewRuntime creates an empty Runtime.
func NewRuntime() *Runtime {
	return &Runtime{}
}

// Add adds drivers to the runtime. It must be called before Run.
func (r *Runtime) Add(drivers ...*Driver) {
	r.drivers = append(r.drivers, drivers...)
}

// Run runs all drivers until ctx is done or one of them fails, in which
// case the others are stopped and its error is returned.
func (r *Runtime) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, d := range r.drivers {
		d := d
		eg.Go(func() error {
			err := d.Run(ctx)
			if err != nil && !cerrors.Is(err, context.Canceled) {
				log.Warn("actor stopped", zap.String("actor", d.ID()), zap.Error(err))
			}
			return err
		})
	}
	return eg.Wait()
}
