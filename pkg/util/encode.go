package util

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// transferArguments is the ABI layout for treasury transfer params:
// (address to, uint256 amount)
func transferArguments() abi.Arguments {
	addressType, _ := abi.NewType("address", "", nil)
	uint256Type, _ := abi.NewType("uint256", "", nil)
	return abi.Arguments{{Type: addressType}, {Type: uint256Type}}
}

// EncodeTransferParams ABI-encodes treasury transfer parameters
func EncodeTransferParams(to common.Address, amount *big.Int) ([]byte, error) {
	if amount == nil {
		return nil, fmt.Errorf("amount cannot be nil")
	}

	encoded, err := transferArguments().Pack(to, amount)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transfer params: %w", err)
	}

	return encoded, nil
}

// DecodeTransferParams ABI-decodes treasury transfer parameters
func DecodeTransferParams(data []byte) (common.Address, *big.Int, error) {
	values, err := transferArguments().Unpack(data)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("failed to decode transfer params: %w", err)
	}
	if len(values) != 2 {
		return common.Address{}, nil, fmt.Errorf("expected 2 decoded values, got %d", len(values))
	}

	to, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, nil, fmt.Errorf("decoded recipient is not an address")
	}
	amount, ok := values[1].(*big.Int)
	if !ok {
		return common.Address{}, nil, fmt.Errorf("decoded amount is not an integer")
	}

	return to, amount, nil
}
