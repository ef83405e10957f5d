package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveIsMonotonic(t *testing.T) {
	table, err := NewTable(DefaultDefinitions())
	require.NoError(t, err)

	cases := []struct {
		lifetime int64
		want     string
	}{
		{-5, "Bronze"},
		{0, "Bronze"},
		{999, "Bronze"},
		{1000, "Silver"},
		{4999, "Silver"},
		{5000, "Gold"},
		{1 << 40, "Gold"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, table.Resolve(tc.lifetime).Name, "lifetime %d", tc.lifetime)
	}

	prev := table.Resolve(0).MinLifetimeEarned
	for lifetime := int64(0); lifetime <= 6000; lifetime += 7 {
		current := table.Resolve(lifetime).MinLifetimeEarned
		assert.GreaterOrEqual(t, current, prev)
		prev = current
	}
}

func TestResolveFloorsBelowLowestThreshold(t *testing.T) {
	table, err := NewTable([]Definition{
		{Name: "Member", MinLifetimeEarned: 100},
		{Name: "Plus", MinLifetimeEarned: 500, DiscountPercentage: decimal.NewFromInt(3)},
	})
	require.NoError(t, err)

	assert.Equal(t, "Member", table.Resolve(0).Name)

	next, missing, ok := table.Next(50)
	require.True(t, ok)
	assert.Equal(t, "Plus", next.Name)
	assert.Equal(t, int64(450), missing)
}

func TestNext(t *testing.T) {
	table, err := NewTable(DefaultDefinitions())
	require.NoError(t, err)

	next, missing, ok := table.Next(1200)
	require.True(t, ok)
	assert.Equal(t, "Gold", next.Name)
	assert.Equal(t, int64(3800), missing)

	_, _, ok = table.Next(5000)
	assert.False(t, ok)
}

func TestNewTableSortsInput(t *testing.T) {
	defs := DefaultDefinitions()
	defs[0], defs[2] = defs[2], defs[0]

	table, err := NewTable(defs)
	require.NoError(t, err)
	names := []string{}
	for _, d := range table.Definitions() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"Bronze", "Silver", "Gold"}, names)
}

func TestNewTableAssignsCodes(t *testing.T) {
	table, err := NewTable([]Definition{
		{Name: "Bronze", MinLifetimeEarned: 0},
		{Name: "Platinum Elite", MinLifetimeEarned: 20000},
	})
	require.NoError(t, err)

	defs := table.Definitions()
	assert.Equal(t, "bronze", defs[0].Code)
	assert.Equal(t, "platinum-elite", defs[1].Code)
	assert.Equal(t, "platinum-elite", table.Resolve(25000).Code)
}

func TestNewTableRejectsBadConfiguration(t *testing.T) {
	cases := map[string][]Definition{
		"empty": {},
		"equal thresholds": {
			{Name: "A", MinLifetimeEarned: 0},
			{Name: "B", MinLifetimeEarned: 0},
		},
		"negative threshold": {{Name: "A", MinLifetimeEarned: -1}},
		"blank name":         {{Name: "  ", MinLifetimeEarned: 0}},
		"duplicate name": {
			{Name: "Gold", MinLifetimeEarned: 0},
			{Name: "gold", MinLifetimeEarned: 10},
		},
		"names slug to the same code": {
			{Name: "Gold Plus", MinLifetimeEarned: 0},
			{Name: "gold-plus", MinLifetimeEarned: 10},
		},
		"name without letters": {{Name: "!!!", MinLifetimeEarned: 0}},
		"discount above 100":   {{Name: "A", DiscountPercentage: decimal.NewFromInt(101)}},
		"negative discount":    {{Name: "A", DiscountPercentage: decimal.NewFromInt(-1)}},
	}
	for name, defs := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewTable(defs)
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}
}
