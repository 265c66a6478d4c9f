// Package ctyutil converts between cty values, which type graph constants
// and pin schemas, and the native Go values block handlers work with.
package ctyutil

import (
	"fmt"
	"math/big"

	"github.com/zclconf/go-cty/cty"
)

// ToNative converts a cty.Value into the equivalent native Go value:
// strings, bools, float64/int64 numbers, []any, and map[string]any.
func ToNative(v cty.Value) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	t := v.Type()
	switch {
	case t == cty.String:
		return v.AsString(), nil
	case t == cty.Bool:
		return v.True(), nil
	case t == cty.Number:
		bf := v.AsBigFloat()
		if i, acc := bf.Int64(); acc == big.Exact {
			return i, nil
		}
		f, _ := bf.Float64()
		return f, nil
	case t.IsTupleType() || t.IsListType() || t.IsSetType():
		out := make([]any, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			nv, err := ToNative(ev)
			if err != nil {
				return nil, err
			}
			out = append(out, nv)
		}
		return out, nil
	case t.IsObjectType() || t.IsMapType():
		out := make(map[string]any, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			kv, ev := it.Element()
			nv, err := ToNative(ev)
			if err != nil {
				return nil, err
			}
			out[kv.AsString()] = nv
		}
		return out, nil
	}
	return nil, fmt.Errorf("ctyutil: unsupported type %s", t.FriendlyName())
}
