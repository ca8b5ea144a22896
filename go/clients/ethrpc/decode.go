package ethrpc

import (
	"fmt"
	"reflect"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// decodeOutputs unpacks result into out by position. Output and tuple component names
// in the ABI are ignored, so deployments may name them freely.
func decodeOutputs(method abi.Method, result []byte, out any) error {
	values, err := method.Outputs.Unpack(result)
	if err != nil {
		return err
	}
	dst := reflect.ValueOf(out)
	if dst.Kind() != reflect.Pointer || dst.IsNil() {
		return fmt.Errorf("decode target %T is not a non-nil pointer", out)
	}
	dst = dst.Elem()

	if len(values) == 1 {
		return assign(dst, reflect.ValueOf(values[0]))
	}
	if dst.Kind() != reflect.Struct || dst.NumField() != len(values) {
		return fmt.Errorf("%d outputs do not fit %s", len(values), dst.Type())
	}
	for i, v := range values {
		if err := assign(dst.Field(i), reflect.ValueOf(v)); err != nil {
			return fmt.Errorf("output %d: %w", i, err)
		}
	}
	return nil
}

func assign(dst, src reflect.Value) error {
	if !src.IsValid() {
		return fmt.Errorf("missing value for %s", dst.Type())
	}
	if src.Type().AssignableTo(dst.Type()) {
		dst.Set(src)
		return nil
	}
	switch {
	case dst.Kind() == reflect.Struct && src.Kind() == reflect.Struct:
		if dst.NumField() != src.NumField() {
			return fmt.Errorf("tuple has %d components, %s has %d fields", src.NumField(), dst.Type(), dst.NumField())
		}
		for i := 0; i < dst.NumField(); i++ {
			if err := assign(dst.Field(i), src.Field(i)); err != nil {
				return fmt.Errorf("component %d: %w", i, err)
			}
		}
		return nil
	case dst.Kind() == reflect.Slice && (src.Kind() == reflect.Slice || src.Kind() == reflect.Array):
		elems := reflect.MakeSlice(dst.Type(), src.Len(), src.Len())
		for i := 0; i < src.Len(); i++ {
			if err := assign(elems.Index(i), src.Index(i)); err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
		}
		dst.Set(elems)
		return nil
	}
	return fmt.Errorf("cannot assign %s to %s", src.Type(), dst.Type())
}
