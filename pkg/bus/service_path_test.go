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

package bus

import (
	"testing"

	"github.com/goccy/go-json"
	cerrors "github.com/pingcap/rowactor/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestParseServicePath(t *testing.T) {
	t.Parallel()

	sp, err := ParseServicePath("region-a.cluster-a.10.0.0.1-dpu0/hamgrd/0/vdpu/vdpu0")
	require.Error(t, err)
	require.Equal(t, ServicePath{}, sp)

	sp, err = ParseServicePath("region-a.cluster-a.node0/hamgrd/0/vdpu/vdpu0")
	require.Nil(t, err)
	require.Equal(t, ServicePath{
		Region:       "region-a",
		Cluster:      "cluster-a",
		Node:         "node0",
		ServiceType:  "hamgrd",
		ServiceID:    "0",
		ResourceType: "vdpu",
		ResourceID:   "vdpu0",
	}, sp)
	require.Equal(t, "region-a.cluster-a.node0/hamgrd/0/vdpu/vdpu0", sp.String())

	sp, err = ParseServicePath("r.c.n/swss-common-bridge/DPU_STATE")
	require.Nil(t, err)
	require.Equal(t, "r.c.n/swss-common-bridge/DPU_STATE", sp.String())
	require.Equal(t, "r.c.n/swss-common-bridge/DPU_STATE/table/t1",
		sp.WithResource("table", "t1").String())

	for _, bad := range []string{"", "r.c.n", "r.c/s/i", "r.c.n/s", "r.c.n/s/i/t", "r..n/s/i", "r.c.n//i"} {
		_, err := ParseServicePath(bad)
		require.True(t, cerrors.Is(err, cerrors.ErrInvalidServicePath), bad)
	}
	require.Panics(t, func() { MustParseServicePath("bad") })
}

func TestServicePathJSON(t *testing.T) {
	t.Parallel()

	type wrapper struct {
		Subscriber ServicePath `json:"subscriber"`
	}
	in := wrapper{Subscriber: MustParseServicePath("r.c.n/actor/a1")}
	data, err := json.Marshal(in)
	require.Nil(t, err)
	require.JSONEq(t, `{"subscriber":"r.c.n/actor/a1"}`, string(data))

	var out wrapper
	require.Nil(t, json.Unmarshal(data, &out))
	require.Equal(t, in, out)

	require.Error(t, json.Unmarshal([]byte(`{"subscriber":"nope"}`), &out))
}
