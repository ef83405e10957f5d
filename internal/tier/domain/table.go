package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
)

var ErrConfiguration = errors.New("configuration_error")

var (
	minDiscount = decimal.Zero
	maxDiscount = decimal.NewFromInt(100)
)

// Definition is one bracket of the tier table.
type Definition struct {
	Code               string          `json:"code"`
	Name               string          `json:"name"`
	MinLifetimeEarned  int64           `json:"min_lifetime_earned"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
}

// Table is an immutable, validated tier table sorted by threshold.
type Table struct {
	tiers []Definition
}

func DefaultDefinitions() []Definition {
	return []Definition{
		{Name: "Bronze", MinLifetimeEarned: 0, DiscountPercentage: decimal.Zero},
		{Name: "Silver", MinLifetimeEarned: 1000, DiscountPercentage: decimal.NewFromInt(5)},
		{Name: "Gold", MinLifetimeEarned: 5000, DiscountPercentage: decimal.NewFromInt(10)},
	}
}

// NewTable validates defs and returns them as a table. Equal thresholds,
// negative thresholds, blank or repeated names and discounts outside
// [0, 100] are rejected with ErrConfiguration. Names are slugged into Code.
func NewTable(defs []Definition) (Table, error) {
	if len(defs) == 0 {
		return Table{}, fmt.Errorf("%w: tier table is empty", ErrConfiguration)
	}

	tiers := make([]Definition, len(defs))
	copy(tiers, defs)
	sort.SliceStable(tiers, func(i, j int) bool {
		return tiers[i].MinLifetimeEarned < tiers[j].MinLifetimeEarned
	})

	names := make(map[string]struct{}, len(tiers))
	for i, def := range tiers {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			return Table{}, fmt.Errorf("%w: tier at threshold %d has no name", ErrConfiguration, def.MinLifetimeEarned)
		}
		key := slug.Make(name)
		if key == "" {
			return Table{}, fmt.Errorf("%w: tier name %q has no usable characters", ErrConfiguration, name)
		}
		if _, dup := names[key]; dup {
			return Table{}, fmt.Errorf("%w: tier %q defined twice", ErrConfiguration, name)
		}
		names[key] = struct{}{}

		if def.MinLifetimeEarned < 0 {
			return Table{}, fmt.Errorf("%w: tier %q has a negative threshold", ErrConfiguration, name)
		}
		if i > 0 && def.MinLifetimeEarned == tiers[i-1].MinLifetimeEarned {
			return Table{}, fmt.Errorf("%w: tiers %q and %q share threshold %d", ErrConfiguration, tiers[i-1].Name, name, def.MinLifetimeEarned)
		}
		if def.DiscountPercentage.LessThan(minDiscount) || def.DiscountPercentage.GreaterThan(maxDiscount) {
			return Table{}, fmt.Errorf("%w: tier %q discount %s outside [0, 100]", ErrConfiguration, name, def.DiscountPercentage)
		}
		tiers[i].Name = name
		tiers[i].Code = key
	}

	return Table{tiers: tiers}, nil
}

// Resolve returns the tier with the greatest threshold not above
// lifetimeEarned, or the lowest tier when none qualifies.
func (t Table) Resolve(lifetimeEarned int64) Definition {
	if len(t.tiers) == 0 {
		return Definition{}
	}
	// first index whose threshold exceeds the input
	idx := sort.Search(len(t.tiers), func(i int) bool {
		return t.tiers[i].MinLifetimeEarned > lifetimeEarned
	})
	if idx == 0 {
		return t.tiers[0]
	}
	return t.tiers[idx-1]
}

// Next returns the tier after the one lifetimeEarned resolves to and the
// points still missing to reach it. ok is false at the top tier.
func (t Table) Next(lifetimeEarned int64) (Definition, int64, bool) {
	idx := sort.Search(len(t.tiers), func(i int) bool {
		return t.tiers[i].MinLifetimeEarned > lifetimeEarned
	})
	if idx == 0 && len(t.tiers) > 0 {
		// below the floor tier the floor applies, so skip to the tier after it
		idx = 1
	}
	if idx >= len(t.tiers) {
		return Definition{}, 0, false
	}
	next := t.tiers[idx]
	return next, next.MinLifetimeEarned - max(lifetimeEarned, 0), true
}

func (t Table) Definitions() []Definition {
	out := make([]Definition, len(t.tiers))
	copy(out, t.tiers)
	return out
}

func (t Table) Len() int { return len(t.tiers) }
