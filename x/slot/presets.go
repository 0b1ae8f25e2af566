package slot

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/params"
)

// ErrUnknownPreset is returned when a chain name or id has no known slot parameters.
var ErrUnknownPreset = errors.New("unknown slot preset")

// EthereumSlotDuration is the slot time of Ethereum and its testnets, in seconds.
const EthereumSlotDuration uint64 = 12

// PecorinoHostChainID is the chain id of the Pecorino host network.
const PecorinoHostChainID uint64 = 3151908

// Mainnet returns the calculator for Ethereum mainnet, anchored at the merge.
func Mainnet() Calculator {
	return MustCalculator(1663224179, 4700013, EthereumSlotDuration)
}

// Holesky returns the calculator for Holesky.
//
// Calculation begins at block 1, slot 2, timestamp 1695902424: the chain data
// records the 324 second gap between blocks 0 and 1 as 2 slots rather than 27.
func Holesky() Calculator {
	return MustCalculator(1695902424, 2, EthereumSlotDuration)
}

// Pecorino returns the calculator for the Pecorino host network.
func Pecorino() Calculator {
	return MustCalculator(1740681556, 0, EthereumSlotDuration)
}

var presets = map[string]func() Calculator{
	"mainnet":  Mainnet,
	"holesky":  Holesky,
	"pecorino": Pecorino,
}

// Preset looks up a calculator by chain name (case-insensitive).
func Preset(name string) (Calculator, error) {
	fn, ok := presets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Calculator{}, fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	return fn(), nil
}

// PresetNames lists the known preset names.
func PresetNames() []string {
	return []string{"mainnet", "holesky", "pecorino"}
}

// ForChainID looks up a calculator by host chain id.
func ForChainID(chainID uint64) (Calculator, error) {
	id := new(big.Int).SetUint64(chainID)
	switch {
	case id.Cmp(params.MainnetChainConfig.ChainID) == 0:
		return Mainnet(), nil
	case id.Cmp(params.HoleskyChainConfig.ChainID) == 0:
		return Holesky(), nil
	case chainID == PecorinoHostChainID:
		return Pecorino(), nil
	default:
		return Calculator{}, fmt.Errorf("%w: chain id %d", ErrUnknownPreset, chainID)
	}
}
