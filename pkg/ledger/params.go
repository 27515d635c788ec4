package ledger

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// coerceParams converts loosely-typed parameters (JSON numbers, hex
// strings) into the Go representations the ABI encoder expects for the
// target method's inputs.
func coerceParams(method abi.Method, params []interface{}) ([]interface{}, error) {
	if len(params) != len(method.Inputs) {
		return nil, fmt.Errorf("%w: %s expects %d parameters, got %d",
			ErrBadParameter, method.Name, len(method.Inputs), len(params))
	}

	coerced := make([]interface{}, len(params))

	for i, input := range method.Inputs {
		value, err := coerceParam(params[i], input.Type)
		if err != nil {
			return nil, fmt.Errorf("%w: %s parameter %d (%s): %w",
				ErrBadParameter, method.Name, i, input.Type.String(), err)
		}

		coerced[i] = value
	}

	return coerced, nil
}

func coerceParam(value interface{}, typ abi.Type) (interface{}, error) {
	switch typ.T {
	case abi.UintTy, abi.IntTy:
		return coerceBigInt(value)
	case abi.AddressTy:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("address requires a hex string, got %T", value)
		}

		return common.HexToAddress(s), nil
	case abi.StringTy:
		return fmt.Sprintf("%v", value), nil
	case abi.BoolTy:
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("bool required, got %T", value)
		}

		return b, nil
	case abi.BytesTy:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("bytes require a hex string, got %T", value)
		}

		return common.FromHex(s), nil
	default:
		// Pass through and let the ABI encoder reject mismatches.
		return value, nil
	}
}

func coerceBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return v, nil
	case float64:
		result, _ := new(big.Float).SetFloat64(v).Int(nil)
		return result, nil
	case int:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case string:
		s := strings.TrimSpace(v)

		base := 10
		if strings.HasPrefix(s, "0x") {
			s = strings.TrimPrefix(s, "0x")
			base = 16
		}

		result, ok := new(big.Int).SetString(s, base)
		if !ok {
			return nil, fmt.Errorf("cannot parse %q as integer", v)
		}

		return result, nil
	default:
		return nil, fmt.Errorf("cannot coerce %T to integer", value)
	}
}
