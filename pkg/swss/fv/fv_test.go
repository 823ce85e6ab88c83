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

package fv

import (
	"strings"
	"testing"
	"time"

	"github.com/pingcap/errors"
	cerrors "github.com/pingcap/rowactor/pkg/errors"
	"github.com/pingcap/rowactor/pkg/swss"
	"github.com/stretchr/testify/require"
)

type planeState int

const (
	planeUnknown planeState = iota
	planeUp
	planeDown
)

var planeStateNames = []string{"unknown", "up", "down"}

func (s planeState) MarshalText() ([]byte, error) {
	return []byte(planeStateNames[s]), nil
}

func (s *planeState) UnmarshalText(text []byte) error {
	lower := strings.ToLower(string(text))
	for i, name := range planeStateNames {
		if name == lower {
			*s = planeState(i)
			return nil
		}
	}
	return errors.Errorf("invalid plane state %q", text)
}

type haScopeState struct {
	CreationTimeInMs uint64
	VipV4            string
	LocalHAState     string `fv:"local_ha_state"`
	LocalTerm        int32  `fv:"local_target_term"`
	Midplane         planeState
	UpBfdSessions    []string
	PendingOps       []planeState
	ProbeIP          *string `fv:"probe_ip"`
	Standalone       *uint64
	Heartbeat        time.Duration
	Ratio            float64
	Enabled          bool
	Ignored          string `fv:"-"`
	internal         int
}

func TestSnakeCase(t *testing.T) {
	t.Parallel()

	for in, out := range map[string]string{
		"X":                "x",
		"VipV4":            "vip_v4",
		"CreationTimeInMs": "creation_time_in_ms",
		"LocalHAState":     "local_ha_state",
		"ProbeIP":          "probe_ip",
	} {
		require.Equal(t, out, snakeCase(in), in)
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	probe := "10.0.0.1"
	standalone := uint64(2)
	cases := []haScopeState{
		{
			CreationTimeInMs: 1700000000000,
			VipV4:            "3.2.1.0",
			LocalHAState:     "active",
			LocalTerm:        -3,
			Midplane:         planeUp,
			UpBfdSessions:    []string{"10.1.0.1", "10.1.0.2"},
			PendingOps:       []planeState{planeDown, planeUnknown},
			ProbeIP:          &probe,
			Standalone:       &standalone,
			Heartbeat:        1500 * time.Millisecond,
			Ratio:            0.25,
			Enabled:          true,
		},
		{},
		{
			UpBfdSessions: []string{},
			PendingOps:    []planeState{},
		},
		{
			VipV4:         ",",
			UpBfdSessions: []string{"", "10.1.0.1", ""},
			ProbeIP:       &probe,
		},
	}
	for _, c := range cases {
		fvs, err := Marshal(&c)
		require.NoError(t, err)
		var decoded haScopeState
		require.NoError(t, Unmarshal(fvs, &decoded))
		require.Equal(t, c, decoded)
	}
}

func TestMarshalFields(t *testing.T) {
	t.Parallel()

	fvs, err := Marshal(haScopeState{
		VipV4:         "1.1.1.1",
		Midplane:      planeDown,
		UpBfdSessions: []string{"a", "b"},
		Heartbeat:     time.Second,
		Ignored:       "x",
	})
	require.NoError(t, err)
	require.Equal(t, "1.1.1.1", fvs["vip_v4"])
	require.Equal(t, "down", fvs["midplane"])
	require.Equal(t, "a,b", fvs["up_bfd_sessions"])
	require.Equal(t, "1s", fvs["heartbeat"])
	require.Equal(t, "0", fvs["local_target_term"])
	require.NotContains(t, fvs, "probe_ip")
	require.NotContains(t, fvs, "ignored")
	require.NotContains(t, fvs, "internal")

	_, err = Marshal(42)
	require.True(t, cerrors.Is(err, cerrors.ErrRowEncode))
	_, err = Marshal((*haScopeState)(nil))
	require.True(t, cerrors.Is(err, cerrors.ErrRowEncode))
	_, err = Marshal(struct{ M map[string]string }{M: map[string]string{}})
	require.True(t, cerrors.Is(err, cerrors.ErrUnsupportedFieldType))
}

func TestUnmarshalOptional(t *testing.T) {
	t.Parallel()

	type dpu struct {
		State   string
		ProbeIP *string `fv:"probe_ip"`
	}
	for _, fvs := range []swss.FieldValues{
		{"state": "up"},
		{"state": "up", "probe_ip": ""},
		{"state": "up", "probe_ip": "none"},
	} {
		var d dpu
		require.NoError(t, Unmarshal(fvs, &d))
		require.Equal(t, "up", d.State)
		require.Nil(t, d.ProbeIP)
	}

	var d dpu
	require.NoError(t, Unmarshal(swss.FieldValues{"state": "up", "probe_ip": "1.2.3.4"}, &d))
	require.Equal(t, "1.2.3.4", *d.ProbeIP)
}

func TestUnmarshalErrors(t *testing.T) {
	t.Parallel()

	type point struct {
		X int32
		Y []int
		S planeState
	}
	var p point
	err := Unmarshal(swss.FieldValues{"y": "", "s": "up"}, &p)
	require.True(t, cerrors.Is(err, cerrors.ErrFieldMissing))
	require.Contains(t, err.Error(), "x")

	err = Unmarshal(swss.FieldValues{"x": "abc", "y": "", "s": "up"}, &p)
	require.True(t, cerrors.Is(err, cerrors.ErrFieldInvalid))

	err = Unmarshal(swss.FieldValues{"x": "99999999999", "y": "", "s": "up"}, &p)
	require.True(t, cerrors.Is(err, cerrors.ErrFieldInvalid))

	err = Unmarshal(swss.FieldValues{"x": "1", "y": "1,b", "s": "up"}, &p)
	require.True(t, cerrors.Is(err, cerrors.ErrFieldInvalid))

	err = Unmarshal(swss.FieldValues{"x": "1", "y": "", "s": "sideways"}, &p)
	require.True(t, cerrors.Is(err, cerrors.ErrFieldInvalid))

	require.Error(t, Unmarshal(swss.FieldValues{}, p))
	require.Error(t, Unmarshal(swss.FieldValues{}, (*point)(nil)))

	require.NoError(t, Unmarshal(swss.FieldValues{"x": "1", "y": "", "s": "UP", "extra": "z"}, &p))
	require.Equal(t, point{X: 1, Y: []int{}, S: planeUp}, p)

	p = point{}
	require.NoError(t, Unmarshal(swss.FieldValues{"x": "2", "s": "down"}, &p))
	require.Equal(t, point{X: 2, S: planeDown}, p)
}

func TestMarshalLossyValues(t *testing.T) {
	t.Parallel()

	empty, none := "", "none"
	for _, c := range []haScopeState{
		{ProbeIP: &empty},
		{ProbeIP: &none},
		{UpBfdSessions: []string{"a,b"}},
		{UpBfdSessions: []string{""}},
	} {
		_, err := Marshal(&c)
		require.True(t, cerrors.Is(err, cerrors.ErrRowEncode), "%+v", c)
	}

	type optionalList struct {
		Peers *[]string
	}
	_, err := Marshal(&optionalList{Peers: &[]string{}})
	require.True(t, cerrors.Is(err, cerrors.ErrRowEncode))

	fvs, err := Marshal(&optionalList{Peers: &[]string{"a"}})
	require.NoError(t, err)
	require.Equal(t, swss.FieldValues{"peers": "a"}, fvs)
}
