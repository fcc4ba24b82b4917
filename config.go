package rig

import (
	"bytes"
	"reflect"

	"github.com/ugorji/go/codec"
)

// MergeConfig recursively merges overrides into base (§6: "for each key
// in overrides, if both sides have a mapping, recurse; otherwise the
// override replaces the base"). Neither input is mutated — both are
// deep-copied through a msgpack round trip first, the same technique the
// teacher's Factory uses to copy its default context values onto every
// spawned Request without aliasing the original map.
func MergeConfig(base, overrides map[string]any) map[string]any {
	baseCopy := deepCopyMap(base)
	if overrides == nil {
		return baseCopy
	}
	return mergeInto(baseCopy, deepCopyMap(overrides))
}

func mergeInto(base, overrides map[string]any) map[string]any {
	if base == nil {
		base = make(map[string]any)
	}
	for key, overrideVal := range overrides {
		if baseVal, exists := base[key]; exists {
			baseMap, baseIsMap := baseVal.(map[string]any)
			overrideMap, overrideIsMap := overrideVal.(map[string]any)
			if baseIsMap && overrideIsMap {
				base[key] = mergeInto(baseMap, overrideMap)
				continue
			}
		}
		base[key] = overrideVal
	}
	return base
}

// msgpackHandle decodes nested maps as map[string]any and strings as
// string, so a copy has the same shape as its input and mergeInto can
// recurse into it.
var msgpackHandle = func() *codec.MsgpackHandle {
	h := &codec.MsgpackHandle{}
	h.MapType = reflect.TypeOf(map[string]any(nil))
	h.RawToString = true
	return h
}()

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return make(map[string]any)
	}
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, msgpackHandle)
	if err := enc.Encode(m); err != nil {
		// Config maps are always plain Go values (maps, slices, scalars)
		// and always round-trip; a failure here means a caller put
		// something msgpack cannot represent (e.g. a channel) into config.
		panic(err)
	}
	out := make(map[string]any, len(m))
	dec := codec.NewDecoder(&buf, msgpackHandle)
	if err := dec.Decode(&out); err != nil {
		panic(err)
	}
	return out
}
