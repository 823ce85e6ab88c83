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


package pebble

import (
	"encoding/binary"

	"github.com/pingcap/errors"
	"github.com/pingcap/rowactor/pkg/swss"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	rowPrefix   byte = 'r'
	queuePrefix byte = 'q'
)

var seqKey = []byte("m/seq")

// tablePrefix encodes tid as length-prefixed strings, so that no table
// prefix is a prefix of another.
func tablePrefix(kind byte, tid swss.TableID, extra int) []byte {
	buf := make([]byte, 0, 1+2*binary.MaxVarintLen64+len(tid.DB)+len(tid.Table)+extra)
	buf = append(buf, kind)
	buf = binary.AppendUvarint(buf, uint64(len(tid.DB)))
	buf = append(buf, tid.DB...)
	buf = binary.AppendUvarint(buf, uint64(len(tid.Table)))
	buf = append(buf, tid.Table...)
	return buf
}

func encodeRowKey(tid swss.TableID, row string) []byte {
	return append(tablePrefix(rowPrefix, tid, len(row)), row...)
}

func encodeQueueKey(tid swss.TableID, seq uint64) []byte {
	return binary.BigEndian.AppendUint64(tablePrefix(queuePrefix, tid, 8), seq)
}

func queueBounds(tid swss.TableID) (lower, upper []byte) {
	lower = tablePrefix(queuePrefix, tid, 0)
	return lower, keyUpperBound(lower)
}

func keyUpperBound(b []byte) []byte {
	end := append([]byte(nil), b...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func encodeSeq(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, seq)
}

func decodeSeq(value []byte) (uint64, error) {
	if len(value) != 8 {
		return 0, errors.Errorf("invalid sequence length %d", len(value))
	}
	return binary.BigEndian.Uint64(value), nil
}

func encodeFieldValues(fvs swss.FieldValues) ([]byte, error) {
	if fvs == nil {
		fvs = swss.FieldValues{}
	}
	value, err := msgpack.Marshal(fvs)
	return value, errors.Trace(err)
}

func decodeFieldValues(value []byte) (swss.FieldValues, error) {
	fvs := swss.FieldValues{}
	if err := msgpack.Unmarshal(value, &fvs); err != nil {
		return nil, errors.Trace(err)
	}
	return fvs, nil
}

func encodeChange(kfv swss.KeyOpFieldValues) ([]byte, error) {
	if kfv.Operation == swss.OpSet && kfv.FieldValues == nil {
		kfv.FieldValues = swss.FieldValues{}
	}
	value, err := msgpack.Marshal(&kfv)
	return value, errors.Trace(err)
}

func decodeChange(value []byte) (swss.KeyOpFieldValues, error) {
	var kfv swss.KeyOpFieldValues
	if err := msgpack.Unmarshal(value, &kfv); err != nil {
		return swss.KeyOpFieldValues{}, errors.Trace(err)
	}
	if kfv.Operation == swss.OpSet && kfv.FieldValues == nil {
		kfv.FieldValues = swss.FieldValues{}
	}
	return kfv, nil
}
