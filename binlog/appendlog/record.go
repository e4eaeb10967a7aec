// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package appendlog

import (
	"encoding/base64"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/StagsGit/td/errors"
)

// Update and snapshot records are encoded as a google.protobuf.Struct
// (proto.Marshal/Unmarshal, no code generation required) with a "kind"
// discriminator, following the same snapshot-interleaved-with-updates
// shape as stateio's log entries, but with binlog frames underneath
// instead of stateio's own chunked format.
const (
	kindUpdate   = "update"
	kindSnapshot = "snapshot"
)

type record struct {
	Kind  string
	Key   string
	Value []byte
	State map[string][]byte
}

func encodeUpdate(key string, value []byte) ([]byte, error) {
	st, err := structpb.NewStruct(map[string]interface{}{
		"kind":  kindUpdate,
		"key":   key,
		"value": base64.StdEncoding.EncodeToString(value),
	})
	if err != nil {
		return nil, errors.E(errors.Invalid, "appendlog: encode update", err)
	}
	return proto.Marshal(st)
}

func encodeSnapshot(state map[string][]byte) ([]byte, error) {
	encoded := make(map[string]interface{}, len(state))
	for k, v := range state {
		encoded[k] = base64.StdEncoding.EncodeToString(v)
	}
	st, err := structpb.NewStruct(map[string]interface{}{
		"kind":  kindSnapshot,
		"state": encoded,
	})
	if err != nil {
		return nil, errors.E(errors.Invalid, "appendlog: encode snapshot", err)
	}
	return proto.Marshal(st)
}

func decodeRecord(data []byte) (record, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return record{}, errors.E(errors.Corruption, "appendlog: decode record", err)
	}
	m := st.AsMap()
	kind, _ := m["kind"].(string)

	switch kind {
	case kindUpdate:
		key, _ := m["key"].(string)
		valueStr, _ := m["value"].(string)
		value, err := base64.StdEncoding.DecodeString(valueStr)
		if err != nil {
			return record{}, errors.E(errors.Corruption, "appendlog: decode update value", err)
		}
		return record{Kind: kindUpdate, Key: key, Value: value}, nil
	case kindSnapshot:
		state := make(map[string][]byte)
		if raw, ok := m["state"].(map[string]interface{}); ok {
			for k, v := range raw {
				valueStr, _ := v.(string)
				value, err := base64.StdEncoding.DecodeString(valueStr)
				if err != nil {
					return record{}, errors.E(errors.Corruption, "appendlog: decode snapshot value", err)
				}
				state[k] = value
			}
		}
		return record{Kind: kindSnapshot, State: state}, nil
	default:
		return record{}, errors.E(errors.Corruption, fmt.Sprintf("appendlog: unknown record kind %q", kind))
	}
}
