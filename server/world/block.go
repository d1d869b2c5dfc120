package world

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
)

// BlockState is a block identified by its name and the properties of its state, such as
// minecraft:chest[facing=north].
type BlockState struct {
	Name       string
	Properties map[string]any
}

// Air is the state of an air block. Positions that were never written hold Air.
var Air = BlockState{Name: "minecraft:air"}

// EncodeBlock returns the name and properties of the state.
func (b BlockState) EncodeBlock() (string, map[string]any) {
	return b.Name, b.Properties
}

// Equal checks if b and o have the same name and properties.
func (b BlockState) Equal(o BlockState) bool {
	if b.Name != o.Name || len(b.Properties) != len(o.Properties) {
		return false
	}
	for k, v := range b.Properties {
		if ov, ok := o.Properties[k]; !ok || fmt.Sprint(ov) != fmt.Sprint(v) {
			return false
		}
	}
	return true
}

// String returns the state in the name[key=value,...] form accepted by ParseBlockState. Properties are
// sorted by key.
func (b BlockState) String() string {
	if len(b.Properties) == 0 {
		return b.Name
	}
	keys := slices.Sorted(maps.Keys(b.Properties))
	var sb strings.Builder
	sb.WriteString(b.Name)
	sb.WriteByte('[')
	for i, k := range keys {
		if i != 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(fmt.Sprint(b.Properties[k]))
	}
	sb.WriteByte(']')
	return sb.String()
}

// ErrEmptyBlockState is returned by ParseBlockState when the string passed holds no block name.
var ErrEmptyBlockState = errors.New("empty block state")

// ParseBlockState parses a block state string such as minecraft:chest[facing=north,waterlogged=false].
// Names without a namespace are placed in the minecraft namespace. Property values of true and false are
// parsed as bools and integral values as int32, other values are kept as strings.
func ParseBlockState(s string) (BlockState, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return BlockState{}, ErrEmptyBlockState
	}
	name, props, hasProps := strings.Cut(s, "[")
	name, err := parseIdentifier(name)
	if err != nil {
		return BlockState{}, err
	}
	state := BlockState{Name: name}
	if !hasProps {
		return state, nil
	}
	props, ok := strings.CutSuffix(props, "]")
	if !ok {
		return BlockState{}, fmt.Errorf("block state %q: missing closing bracket", s)
	}
	state.Properties = make(map[string]any)
	if strings.TrimSpace(props) == "" {
		return state, nil
	}
	for _, prop := range strings.Split(props, ",") {
		k, v, ok := strings.Cut(prop, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			return BlockState{}, fmt.Errorf("block state %q: malformed property %q", s, prop)
		}
		if _, dup := state.Properties[k]; dup {
			return BlockState{}, fmt.Errorf("block state %q: duplicate property %q", s, k)
		}
		state.Properties[k] = parsePropertyValue(v)
	}
	return state, nil
}

// parseIdentifier validates a namespaced identifier and adds the minecraft namespace if it has none.
func parseIdentifier(s string) (string, error) {
	s = strings.TrimSpace(s)
	ns, path, ok := strings.Cut(s, ":")
	if !ok {
		ns, path = "minecraft", s
	}
	if ns == "" || path == "" {
		return "", fmt.Errorf("invalid identifier %q", s)
	}
	for _, r := range ns + path {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-', r == '.', r == '/':
		default:
			return "", fmt.Errorf("invalid character %q in identifier %q", r, s)
		}
	}
	if strings.Contains(ns, "/") {
		return "", fmt.Errorf("invalid namespace in identifier %q", s)
	}
	return ns + ":" + path, nil
}

func parsePropertyValue(v string) any {
	switch v {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(v, 10, 32); err == nil {
		return int32(n)
	}
	return v
}
