// Package cdcvalue defines a recursive, JSON-compatible value tree used to
// represent row images pulled from a replication log before they've been
// shaped into an outgoing message.
package cdcvalue

import (
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"
)

// Kind tags the underlying representation held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindTime
	KindSeq
	KindMap
)

// Value is a recursive tagged variant covering everything a replication log
// row image can contain: scalars, byte strings, timestamps, and nested
// sequences/maps of the same.
type Value struct {
	kind  Kind
	b     bool
	i     int64
	f     float64
	s     string
	bytes []byte
	t     time.Time
	seq   []Value
	m     map[string]Value
	// keys records map insertion order, since Go map iteration order is
	// randomized. ToJSON returns a Go map, so this order is not carried
	// into its output.
	keys []string
}

func Null() Value                { return Value{kind: KindNull} }
func Bool(v bool) Value          { return Value{kind: KindBool, b: v} }
func Int(v int64) Value          { return Value{kind: KindInt, i: v} }
func Float(v float64) Value      { return Value{kind: KindFloat, f: v} }
func String(v string) Value      { return Value{kind: KindString, s: v} }
func Bytes(v []byte) Value       { return Value{kind: KindBytes, bytes: v} }
func Time(v time.Time) Value     { return Value{kind: KindTime, t: v} }
func Seq(items ...Value) Value   { return Value{kind: KindSeq, seq: items} }

// NewMapBuilder starts an ordered map value, recording the order keys are
// inserted via MapBuilder.
func NewMapBuilder() *MapBuilder {
	return &MapBuilder{m: make(map[string]Value)}
}

// MapBuilder accumulates key/value pairs in insertion order.
type MapBuilder struct {
	m    map[string]Value
	keys []string
}

func (b *MapBuilder) Set(key string, v Value) *MapBuilder {
	if _, ok := b.m[key]; !ok {
		b.keys = append(b.keys, key)
	}
	b.m[key] = v
	return b
}

func (b *MapBuilder) Build() Value {
	return Value{kind: KindMap, m: b.m, keys: append([]string(nil), b.keys...)}
}

func (v Value) Kind() Kind { return v.kind }

// From converts an arbitrary Go value (as produced by the replication
// driver) into a Value. Anything it doesn't recognize falls back to a
// string representation rather than panicking, per the serialization
// contract: the processor must never throw on unrepresentable inputs.
func From(raw any) Value {
	switch x := raw.(type) {
	case nil:
		return Null()
	case Value:
		return x
	case bool:
		return Bool(x)
	case int:
		return Int(int64(x))
	case int8:
		return Int(int64(x))
	case int16:
		return Int(int64(x))
	case int32:
		return Int(int64(x))
	case int64:
		return Int(x)
	case uint:
		return Int(int64(x))
	case uint8:
		return Int(int64(x))
	case uint16:
		return Int(int64(x))
	case uint32:
		return Int(int64(x))
	case uint64:
		return Int(int64(x))
	case float32:
		return Float(float64(x))
	case float64:
		return Float(x)
	case string:
		return String(x)
	case []byte:
		return Bytes(x)
	case time.Time:
		return Time(x)
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			items[i] = From(item)
		}
		return Value{kind: KindSeq, seq: items}
	case map[string]any:
		b := NewMapBuilder()
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.Set(k, From(x[k]))
		}
		return b.Build()
	default:
		log.WithField("go_type", fmt.Sprintf("%T", raw)).Debug("cdcvalue: unrepresentable type, falling back to string")
		return String(stringify(raw))
	}
}

func stringify(raw any) string {
	if b, ok := raw.([]byte); ok {
		// Byte strings decoded as UTF-8 where possible, else a debug
		// representation — same rule the EventProcessor applies to bytes
		// nested inside a value tree.
		if isValidUTF8(b) {
			return string(b)
		}
		return fmt.Sprintf("%q", b)
	}
	return fmt.Sprintf("%v", raw)
}

func isValidUTF8(b []byte) bool {
	return utf8.Valid(b)
}
