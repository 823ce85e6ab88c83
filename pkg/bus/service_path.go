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
	"strings"

	cerrors "github.com/pingcap/rowactor/pkg/errors"
)

// ServicePath is the address of an endpoint on the bus. Its text form is
// "region.cluster.node/service_type/service_id[/resource_type/resource_id]".
type ServicePath struct {
	Region       string
	Cluster      string
	Node         string
	ServiceType  string
	ServiceID    string
	ResourceType string
	ResourceID   string
}

// ParseServicePath parses the text form of a ServicePath.
func ParseServicePath(s string) (ServicePath, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 && len(parts) != 5 {
		return ServicePath{}, cerrors.ErrInvalidServicePath.GenWithStackByArgs(s)
	}
	location := strings.Split(parts[0], ".")
	if len(location) != 3 {
		return ServicePath{}, cerrors.ErrInvalidServicePath.GenWithStackByArgs(s)
	}
	for _, p := range append(location, parts[1:]...) {
		if p == "" {
			return ServicePath{}, cerrors.ErrInvalidServicePath.GenWithStackByArgs(s)
		}
	}
	sp := ServicePath{
		Region:      location[0],
		Cluster:     location[1],
		Node:        location[2],
		ServiceType: parts[1],
		ServiceID:   parts[2],
	}
	if len(parts) == 5 {
		sp.ResourceType = parts[3]
		sp.ResourceID = parts[4]
	}
	return sp, nil
}

// MustParseServicePath is like ParseServicePath but panics on error.
func MustParseServicePath(s string) ServicePath {
	sp, err := ParseServicePath(s)
	if err != nil {
		panic(err)
	}
	return sp
}

// String implements fmt.Stringer.
func (sp ServicePath) String() string {
	var b strings.Builder
	b.WriteString(sp.Region)
	b.WriteByte('.')
	b.WriteString(sp.Cluster)
	b.WriteByte('.')
	b.WriteString(sp.Node)
	b.WriteByte('/')
	b.WriteString(sp.ServiceType)
	b.WriteByte('/')
	b.WriteString(sp.ServiceID)
	if sp.ResourceType != "" || sp.ResourceID != "" {
		b.WriteByte('/')
		b.WriteString(sp.ResourceType)
		b.WriteByte('/')
		b.WriteString(sp.ResourceID)
	}
	return b.String()
}

// WithResource returns a copy of sp addressing the given resource.
func (sp ServicePath) WithResource(resourceType, resourceID string) ServicePath {
	sp.ResourceType = resourceType
	sp.ResourceID = resourceID
	return sp
}

// IsZero returns true if sp is the zero value.
func (sp ServicePath) IsZero() bool {
	return sp == ServicePath{}
}

// MarshalText implements encoding.TextMarshaler.
func (sp ServicePath) MarshalText() ([]byte, error) {
	return []byte(sp.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (sp *ServicePath) UnmarshalText(text []byte) error {
	parsed, err := ParseServicePath(string(text))
	if err != nil {
		return err
	}
	*sp = parsed
	return nil
}
