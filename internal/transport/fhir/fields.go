package fhir

import (
	"bytes"
	"encoding/json"
	"reflect"
	"sort"
	"strings"
)

// extraFields holds the members of a JSON object that its Go type does not model.
type extraFields map[string]json.RawMessage

// decodeObject decodes data into v and returns the members v has no field for.
func decodeObject(data []byte, v any) (extraFields, error) {
	if err := json.Unmarshal(data, v); err != nil {
		return nil, err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	known := jsonNames(reflect.TypeOf(v).Elem())
	var extra extraFields
	for k, raw := range all {
		if _, ok := known[k]; ok {
			continue
		}
		if extra == nil {
			extra = make(extraFields)
		}
		extra[k] = raw
	}
	return extra, nil
}

// encodeObject encodes v and appends extra members after the modelled ones,
// in key order. Extra keys that v already encodes are skipped.
func encodeObject(v any, extra extraFields) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil || len(extra) == 0 {
		return data, err
	}

	known := jsonNames(reflect.TypeOf(v))
	keys := make([]string, 0, len(extra))
	for k := range extra {
		if _, ok := known[k]; !ok {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return data, nil
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.Write(data[:len(data)-1]) // drop the closing brace
	empty := len(bytes.TrimSpace(data[1:len(data)-1])) == 0
	for _, k := range keys {
		if !empty {
			buf.WriteByte(',')
		}
		empty = false
		name, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(extra[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// jsonNames lists the JSON member names of the exported fields of struct type t.
func jsonNames(t reflect.Type) map[string]struct{} {
	names := make(map[string]struct{}, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = f.Name
		}
		names[name] = struct{}{}
	}
	return names
}
