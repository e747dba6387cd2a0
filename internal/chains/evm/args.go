package evm

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ErrInvalidArgs is returned when constructor arguments do not fit the ABI.
var ErrInvalidArgs = errors.New("invalid constructor arguments")

// EncodeConstructorArgs ABI-encodes args against the constructor declared in
// abiJSON. Values are coerced to the Go types the ABI packer expects, so
// JSON-decoded strings and numbers can be passed directly.
func EncodeConstructorArgs(abiJSON []byte, args []any) ([]byte, error) {
	if len(abiJSON) == 0 {
		if len(args) == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: no ABI to encode %d arguments against", ErrInvalidArgs, len(args))
	}

	parsed, err := abi.JSON(strings.NewReader(string(abiJSON)))
	if err != nil {
		return nil, fmt.Errorf("parsing ABI: %w", err)
	}

	inputs := parsed.Constructor.Inputs
	if len(inputs) != len(args) {
		return nil, fmt.Errorf("%w: constructor expects %d arguments, got %d", ErrInvalidArgs, len(inputs), len(args))
	}
	if len(inputs) == 0 {
		return nil, nil
	}

	values, err := CoerceArgs(inputs, args)
	if err != nil {
		return nil, err
	}

	packed, err := inputs.Pack(values...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	return packed, nil
}

// EncodeStringArgs encodes every argument as a Solidity string. It is the
// fallback when no ABI is available.
func EncodeStringArgs(args []any) ([]byte, error) {
	if len(args) == 0 {
		return nil, nil
	}

	stringTy, err := abi.NewType("string", "", nil)
	if err != nil {
		return nil, err
	}

	inputs := make(abi.Arguments, len(args))
	values := make([]any, len(args))
	for i, a := range args {
		inputs[i] = abi.Argument{Type: stringTy}
		values[i] = stringify(a)
	}
	return inputs.Pack(values...)
}

// CoerceArgs converts loosely typed values to the types inputs declare.
func CoerceArgs(inputs abi.Arguments, args []any) ([]any, error) {
	out := make([]any, len(args))
	for i, input := range inputs {
		v, err := coerce(input.Type, args[i])
		if err != nil {
			name := input.Name
			if name == "" {
				name = strconv.Itoa(i)
			}
			return nil, fmt.Errorf("%w: argument %s (%s): %v", ErrInvalidArgs, name, input.Type.String(), err)
		}
		out[i] = v
	}
	return out, nil
}

func coerce(t abi.Type, value any) (any, error) {
	switch t.T {
	case abi.AddressTy:
		return toAddress(value)

	case abi.IntTy, abi.UintTy:
		n, err := toBigInt(value)
		if err != nil {
			return nil, err
		}
		return fitInteger(t, n)

	case abi.BoolTy:
		switch v := value.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return nil, fmt.Errorf("invalid bool %q", v)
			}
			return b, nil
		}
		return nil, fmt.Errorf("unsupported bool value %T", value)

	case abi.StringTy:
		return stringify(value), nil

	case abi.BytesTy:
		return toBytes(value)

	case abi.FixedBytesTy:
		b, err := toBytes(value)
		if err != nil {
			return nil, err
		}
		if len(b) != t.Size {
			return nil, fmt.Errorf("expected %d bytes, got %d", t.Size, len(b))
		}
		arr := reflect.New(t.GetType()).Elem()
		reflect.Copy(arr, reflect.ValueOf(b))
		return arr.Interface(), nil

	case abi.SliceTy, abi.ArrayTy:
		items, err := toList(value)
		if err != nil {
			return nil, err
		}
		var out reflect.Value
		if t.T == abi.ArrayTy {
			if len(items) != t.Size {
				return nil, fmt.Errorf("expected %d elements, got %d", t.Size, len(items))
			}
			out = reflect.New(t.GetType()).Elem()
		} else {
			out = reflect.MakeSlice(t.GetType(), len(items), len(items))
		}
		for i, item := range items {
			v, err := coerce(*t.Elem, item)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out.Index(i).Set(reflect.ValueOf(v))
		}
		return out.Interface(), nil
	}

	return nil, fmt.Errorf("unsupported type %s", t.String())
}

func toAddress(value any) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case string:
		v = strings.TrimSpace(v)
		if !common.IsHexAddress(v) {
			return common.Address{}, fmt.Errorf("invalid address %q", v)
		}
		return common.HexToAddress(v), nil
	}
	return common.Address{}, fmt.Errorf("unsupported address value %T", value)
}

func toBigInt(value any) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case json.Number:
		return parseBigInt(v.String())
	case string:
		return parseBigInt(v)
	case int:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case float64:
		if v != math.Trunc(v) || math.Abs(v) > 1<<53 {
			return nil, fmt.Errorf("number %v cannot be represented exactly; pass it as a string", v)
		}
		return big.NewInt(int64(v)), nil
	}
	return nil, fmt.Errorf("unsupported integer value %T", value)
}

func parseBigInt(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	n, ok := new(big.Int).SetString(s, 0)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return n, nil
}

// fitInteger range-checks n against the ABI width and converts it to the
// exact Go type the packer expects (int8..int64, uint8..uint64 or *big.Int).
func fitInteger(t abi.Type, n *big.Int) (any, error) {
	if t.T == abi.UintTy {
		if n.Sign() < 0 {
			return nil, fmt.Errorf("negative value %s for unsigned type", n)
		}
		if n.BitLen() > t.Size {
			return nil, fmt.Errorf("value %s overflows uint%d", n, t.Size)
		}
	} else {
		limit := new(big.Int).Lsh(big.NewInt(1), uint(t.Size-1))
		minimum := new(big.Int).Neg(limit)
		if n.Cmp(minimum) < 0 || n.Cmp(limit) >= 0 {
			return nil, fmt.Errorf("value %s overflows int%d", n, t.Size)
		}
	}

	goType := t.GetType()
	if goType.Kind() == reflect.Ptr {
		return n, nil
	}
	if t.T == abi.UintTy {
		return reflect.ValueOf(n.Uint64()).Convert(goType).Interface(), nil
	}
	return reflect.ValueOf(n.Int64()).Convert(goType).Interface(), nil
}

func toBytes(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		s := strings.TrimPrefix(strings.TrimSpace(v), "0x")
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid hex %q", v)
		}
		return b, nil
	}
	return nil, fmt.Errorf("unsupported bytes value %T", value)
}

func toList(value any) ([]any, error) {
	switch v := value.(type) {
	case []any:
		return v, nil
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, nil
	case string:
		// CLI users pass arrays as JSON text
		var out []any
		dec := json.NewDecoder(strings.NewReader(v))
		dec.UseNumber()
		if err := dec.Decode(&out); err != nil {
			return nil, fmt.Errorf("expected array, got %q", v)
		}
		return out, nil
	}
	return nil, fmt.Errorf("expected array, got %T", value)
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return fmt.Sprint(value)
}
