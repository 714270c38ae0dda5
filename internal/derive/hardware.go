package derive

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Variant is a named miner hardware profile. Each variant produces an
// independent column-family of derived output for the same source data.
type Variant struct {
	Name        string
	HashrateTHs decimal.Decimal // terahashes per second per unit
	PowerKW     decimal.Decimal // wall power draw per unit
}

// EfficiencyJPerTH returns joules per terahash, the usual datasheet figure.
func (v Variant) EfficiencyJPerTH() decimal.Decimal {
	if v.HashrateTHs.IsZero() {
		return decimal.Zero
	}
	// kW / (TH/s) = kJ/TH; *1000 -> J/TH
	return v.PowerKW.Div(v.HashrateTHs).Mul(decimal.NewFromInt(1000))
}

var builtinVariants = map[string]Variant{
	"S9": {
		Name:        "S9",
		HashrateTHs: decimal.NewFromFloat(13.5),
		PowerKW:     decimal.NewFromFloat(1.323),
	},
	"M20S": {
		Name:        "M20S",
		HashrateTHs: decimal.NewFromInt(68),
		PowerKW:     decimal.NewFromFloat(3.36),
	},
	"S19J_PRO": {
		Name:        "S19J_PRO",
		HashrateTHs: decimal.NewFromInt(104),
		PowerKW:     decimal.NewFromFloat(3.068),
	},
	"S19_XP": {
		Name:        "S19_XP",
		HashrateTHs: decimal.NewFromInt(140),
		PowerKW:     decimal.NewFromFloat(3.01),
	},
	"S21": {
		Name:        "S21",
		HashrateTHs: decimal.NewFromInt(200),
		PowerKW:     decimal.NewFromFloat(3.5),
	},
}

// VariantByName looks up a built-in hardware profile.
func VariantByName(name string) (Variant, error) {
	v, ok := builtinVariants[name]
	if !ok {
		return Variant{}, fmt.Errorf("unknown hardware variant %q (known: %v)", name, VariantNames())
	}
	return v, nil
}

// VariantNames returns the known variant names, sorted.
func VariantNames() []string {
	names := make([]string, 0, len(builtinVariants))
	for name := range builtinVariants {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveVariants maps names to profiles, defaulting to S19J_PRO when none
// are requested.
func ResolveVariants(names []string) (map[string]Variant, error) {
	if len(names) == 0 {
		names = []string{"S19J_PRO"}
	}
	out := make(map[string]Variant, len(names))
	for _, name := range names {
		v, err := VariantByName(name)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}
