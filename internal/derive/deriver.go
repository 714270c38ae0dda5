// Package derive converts curtailed energy into the bitcoin a given miner
// fleet could have produced with it, using the network difficulty and block
// subsidy in effect on the settlement date.
package derive

import (
	"github.com/shopspring/decimal"
)

// Deriver is the pure derivation function: deterministic given its inputs,
// no I/O.
type Deriver interface {
	Derive(energyMWh decimal.Decimal, v Variant, p NetworkParams) decimal.Decimal
}

// hashesPerDifficulty is 2^32: expected hashes per unit of difficulty.
var hashesPerDifficulty = decimal.NewFromInt(1 << 32)

// terahash = 1e12 hashes.
var terahash = decimal.NewFromInt(1_000_000_000_000)

// StandardDeriver implements the expected-value mining model: the energy
// buys rig-hours, rig-hours buy hashes, and hashes buy an expected share of
// block rewards at the prevailing difficulty.
type StandardDeriver struct{}

// Derive returns the expected BTC mined by spending energyMWh on variant v
// under params p. Zero or negative energy, or a non-positive difficulty,
// derives to zero.
func (StandardDeriver) Derive(energyMWh decimal.Decimal, v Variant, p NetworkParams) decimal.Decimal {
	if energyMWh.Sign() <= 0 || p.Difficulty <= 0 || v.PowerKW.Sign() <= 0 {
		return decimal.Zero
	}

	// MWh -> kWh -> rig-hours -> rig-seconds of hashing.
	energyKWh := energyMWh.Mul(decimal.NewFromInt(1000))
	rigHours := energyKWh.Div(v.PowerKW)
	rigSeconds := rigHours.Mul(decimal.NewFromInt(3600))

	hashes := rigSeconds.Mul(v.HashrateTHs).Mul(terahash)

	difficulty := decimal.NewFromFloat(p.Difficulty)
	expectedBlocks := hashes.Div(difficulty.Mul(hashesPerDifficulty))

	return expectedBlocks.Mul(p.SubsidyBTC).Round(8)
}
