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

// Package fv maps between the raw FieldValues of a row and typed Go structs.
//
// A struct field is stored under the name given by its `fv` tag, or under
// the snake_case form of its Go name when untagged. A tag of "-" skips the
// field. Supported field types are strings, booleans, integers, floats,
// time.Duration, values implementing encoding.TextMarshaler and
// encoding.TextUnmarshaler, slices of those (stored as comma-separated
// lists) and pointers to those. Pointer fields are optional: a missing
// field, an empty value or "none" decodes to nil, and nil is not written.
// A nil slice is not written either and a missing slice field decodes to
// nil, while an empty value decodes to an empty slice.
//
// Marshal refuses values that would not decode back to themselves: an
// optional value encoding to "" or "none", or a list element that is
// empty on its own or contains a comma.
package fv

import (
	"encoding"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/pingcap/errors"
	cerrors "github.com/pingcap/rowactor/pkg/errors"
	"github.com/pingcap/rowactor/pkg/swss"
)

const (
	tagName       = "fv"
	listSeparator = ","
	noneValue     = "none"
)

var (
	durationType        = reflect.TypeOf(time.Duration(0))
	textMarshalerType   = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

type fieldInfo struct {
	index []int
	name  string
}

// fieldCache caches the field layout of each struct type.
var fieldCache sync.Map // map[reflect.Type][]fieldInfo

func fieldsOf(tp reflect.Type) []fieldInfo {
	if cached, ok := fieldCache.Load(tp); ok {
		return cached.([]fieldInfo)
	}
	var fields []fieldInfo
	for i := 0; i < tp.NumField(); i++ {
		sf := tp.Field(i)
		if !sf.IsExported() {
			continue
		}
		name := sf.Tag.Get(tagName)
		if name == "-" {
			continue
		}
		if name == "" {
			name = snakeCase(sf.Name)
		}
		fields = append(fields, fieldInfo{index: sf.Index, name: name})
	}
	cached, _ := fieldCache.LoadOrStore(tp, fields)
	return cached.([]fieldInfo)
}

// Marshal converts a struct, or a pointer to one, into FieldValues.
func Marshal(v any) (swss.FieldValues, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, cerrors.ErrRowEncode.GenWithStackByArgs(reflect.TypeOf(v).String())
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, cerrors.ErrRowEncode.GenWithStackByArgs(rv.Type().String())
	}

	fvs := make(swss.FieldValues)
	for _, f := range fieldsOf(rv.Type()) {
		field := rv.FieldByIndex(f.index)
		optional := field.Kind() == reflect.Pointer
		if optional {
			if field.IsNil() {
				continue
			}
			field = field.Elem()
		}
		if !optional && field.Kind() == reflect.Slice && field.IsNil() {
			continue
		}
		s, err := encodeValue(f.name, field)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if optional && (s == "" || s == noneValue) {
			return nil, cerrors.ErrRowEncode.GenWithStack(
				"optional field %s of %s cannot hold %q", f.name, rv.Type().String(), s)
		}
		fvs[f.name] = s
	}
	return fvs, nil
}

// Unmarshal decodes fvs into the struct pointed to by v.
// Fields present in fvs but unknown to the struct are ignored.
func Unmarshal(fvs swss.FieldValues, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return errors.Errorf("fv: Unmarshal needs a non-nil struct pointer, got %T", v)
	}
	rv = rv.Elem()

	for _, f := range fieldsOf(rv.Type()) {
		field := rv.FieldByIndex(f.index)
		raw, ok := fvs[f.name]

		if field.Kind() == reflect.Pointer {
			if !ok || raw == "" || raw == noneValue {
				field.Set(reflect.Zero(field.Type()))
				continue
			}
			elem := reflect.New(field.Type().Elem())
			if err := decodeValue(f.name, raw, elem.Elem()); err != nil {
				return errors.Trace(err)
			}
			field.Set(elem)
			continue
		}

		if !ok {
			if field.Kind() == reflect.Slice {
				field.Set(reflect.Zero(field.Type()))
				continue
			}
			return cerrors.ErrFieldMissing.GenWithStackByArgs(f.name)
		}
		if err := decodeValue(f.name, raw, field); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func encodeValue(name string, v reflect.Value) (string, error) {
	if v.Type().Implements(textMarshalerType) {
		text, err := v.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return "", cerrors.ErrRowEncode.Wrap(err).GenWithStackByArgs(v.Type().String())
		}
		return string(text), nil
	}
	if v.Type() == durationType {
		return time.Duration(v.Int()).String(), nil
	}

	switch v.Kind() {
	case reflect.String:
		return v.String(), nil
	case reflect.Bool:
		return strconv.FormatBool(v.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'g', -1, v.Type().Bits()), nil
	case reflect.Slice:
		items := make([]string, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			s, err := encodeValue(name, v.Index(i))
			if err != nil {
				return "", err
			}
			if strings.Contains(s, listSeparator) || (s == "" && v.Len() == 1) {
				return "", cerrors.ErrRowEncode.GenWithStack(
					"list field %s cannot hold element %q", name, s)
			}
			items = append(items, s)
		}
		return strings.Join(items, listSeparator), nil
	}
	return "", cerrors.ErrUnsupportedFieldType.GenWithStackByArgs(name, v.Type().String())
}

func decodeValue(name, raw string, v reflect.Value) error {
	if reflect.PointerTo(v.Type()).Implements(textUnmarshalerType) {
		if err := v.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(raw)); err != nil {
			return cerrors.ErrFieldInvalid.Wrap(err).GenWithStackByArgs(name, raw)
		}
		return nil
	}
	if v.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return cerrors.ErrFieldInvalid.Wrap(err).GenWithStackByArgs(name, raw)
		}
		v.SetInt(int64(d))
		return nil
	}

	var err error
	switch v.Kind() {
	case reflect.String:
		v.SetString(raw)
	case reflect.Bool:
		var b bool
		if b, err = strconv.ParseBool(raw); err == nil {
			v.SetBool(b)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		var i int64
		if i, err = strconv.ParseInt(raw, 10, v.Type().Bits()); err == nil {
			v.SetInt(i)
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		var u uint64
		if u, err = strconv.ParseUint(raw, 10, v.Type().Bits()); err == nil {
			v.SetUint(u)
		}
	case reflect.Float32, reflect.Float64:
		var f float64
		if f, err = strconv.ParseFloat(raw, v.Type().Bits()); err == nil {
			v.SetFloat(f)
		}
	case reflect.Slice:
		if raw == "" {
			v.Set(reflect.MakeSlice(v.Type(), 0, 0))
			return nil
		}
		items := strings.Split(raw, listSeparator)
		slice := reflect.MakeSlice(v.Type(), len(items), len(items))
		for i, item := range items {
			if err := decodeValue(name, item, slice.Index(i)); err != nil {
				return err
			}
		}
		v.Set(slice)
	default:
		return cerrors.ErrUnsupportedFieldType.GenWithStackByArgs(name, v.Type().String())
	}
	if err != nil {
		return cerrors.ErrFieldInvalid.Wrap(err).GenWithStackByArgs(name, raw)
	}
	return nil
}

// snakeCase converts a Go identifier such as "LocalHAState" into
// "local_ha_state".
func snakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) ||
				(i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
