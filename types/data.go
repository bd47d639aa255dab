package types

import (
	"github.com/spf13/cast"

	"github.com/warriorguo/riskflow/utils"
)

// Data is a loosely typed map used for node config and result metadata.
// Typed getters coerce with cast and report false when the key is missing,
// null or not coercible, so callers can keep their defaults.
type Data map[string]any

func (d *Data) Get(key string) (any, bool) {
	if *d == nil {
		return nil, false
	}
	v, exists := (*d)[key]
	return v, exists
}

func (d *Data) GetString(key string) (string, bool) {
	v, exists := d.Get(key)
	if !exists || v == nil {
		return "", false
	}
	s, err := cast.ToStringE(v)
	return s, err == nil
}

func (d *Data) GetBool(key string) (bool, bool) {
	v, exists := d.Get(key)
	if !exists || v == nil {
		return false, false
	}
	b, err := cast.ToBoolE(v)
	return b, err == nil
}

func (d *Data) GetInt64(key string) (int64, bool) {
	v, exists := d.Get(key)
	if !exists || v == nil {
		return 0, false
	}
	n, err := cast.ToInt64E(v)
	return n, err == nil
}

// GetNumber reads any numeric value as float64; "n/a" is not read as zero.
func (d *Data) GetNumber(key string) (float64, bool) {
	v, exists := d.Get(key)
	if !exists || v == nil {
		return 0, false
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, false
	}
	return f, true
}

func (d *Data) GetStringSlice(key string) ([]string, bool) {
	v, exists := d.Get(key)
	if !exists || v == nil {
		return nil, false
	}
	s, err := cast.ToStringSliceE(v)
	return s, err == nil
}

func (d *Data) GetIntSlice(key string) ([]int, bool) {
	v, exists := d.Get(key)
	if !exists || v == nil {
		return nil, false
	}
	s, err := cast.ToIntSliceE(v)
	return s, err == nil
}

// Clone returns a shallow copy.
func (d Data) Clone() Data {
	if d == nil {
		return nil
	}
	return utils.CloneMap(d)
}
