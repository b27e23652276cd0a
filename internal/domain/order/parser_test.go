package order

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func qty(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestParse_ExplicitMultiplier(t *testing.T) {
	for _, n := range []string{"1", "2", "3.5", "10"} {
		t.Run(n, func(t *testing.T) {
			items := Parse(fmt.Sprintf("%s x bread", n))
			require.Len(t, items, 1)
			assert.Equal(t, "bread", items[0].Name)
			assert.True(t, qty(n).Equal(items[0].Quantity))
		})
	}
}

func TestParse_LoavesOf(t *testing.T) {
	items := Parse("2 loaves of bread")
	require.Len(t, items, 1)
	assert.Equal(t, "bread", items[0].Name)
	assert.True(t, qty("2").Equal(items[0].Quantity))
}

func TestParse_WeightUnit(t *testing.T) {
	items := Parse("1kg sugar")
	require.Len(t, items, 1)
	assert.Equal(t, "sugar", items[0].Name)
	assert.True(t, qty("1").Equal(items[0].Quantity))
}

func TestParse_VolumeUnit(t *testing.T) {
	items := Parse("2l of milk")
	require.Len(t, items, 1)
	assert.Equal(t, "milk", items[0].Name)
	assert.True(t, qty("2").Equal(items[0].Quantity))
}

func TestParse_GenericQuantity(t *testing.T) {
	items := Parse("3 eggs")
	require.Len(t, items, 1)
	assert.Equal(t, "eggs", items[0].Name)
	assert.True(t, qty("3").Equal(items[0].Quantity))
}

func TestParse_TrailingQuantity(t *testing.T) {
	items := Parse("bread 2")
	require.Len(t, items, 1)
	assert.Equal(t, "bread", items[0].Name)
	assert.True(t, qty("2").Equal(items[0].Quantity))
}

func TestParse_Conjunctions(t *testing.T) {
	items := Parse("2 loaves of bread and 1kg sugar, 3 eggs plus 1l milk")
	require.Len(t, items, 4)
	assert.Equal(t, "bread", items[0].Name)
	assert.Equal(t, "sugar", items[1].Name)
	assert.Equal(t, "eggs", items[2].Name)
	assert.Equal(t, "milk", items[3].Name)
}

func TestParse_DegradeToSingleUnit(t *testing.T) {
	// No quantity anywhere: the whole fragment becomes one unit of itself.
	items := Parse("some bread")
	require.Len(t, items, 1)
	assert.Equal(t, "some bread", items[0].Name)
	assert.True(t, one.Equal(items[0].Quantity))
}

func TestParse_FractionalQuantity(t *testing.T) {
	items := Parse("0.5 kg of rice")
	require.Len(t, items, 1)
	assert.Equal(t, "rice", items[0].Name)
	assert.True(t, qty("0.5").Equal(items[0].Quantity))
}

func TestParse_FillerWordsStripped(t *testing.T) {
	items := Parse("2 x the   bread")
	require.Len(t, items, 1)
	assert.Equal(t, "bread", items[0].Name)
}

func TestParse_BadFragmentDoesNotAbortUtterance(t *testing.T) {
	items := Parse("2 loaves of bread and ???")
	require.Len(t, items, 2)
	assert.Equal(t, "bread", items[0].Name)
	assert.Equal(t, "???", items[1].Name)
	assert.True(t, one.Equal(items[1].Quantity))
}

func TestParse_EmptyUtterance(t *testing.T) {
	assert.Empty(t, Parse(""))
	assert.Empty(t, Parse("   "))
}

func TestParse_CaseInsensitive(t *testing.T) {
	items := Parse("2 X Bread")
	require.Len(t, items, 1)
	assert.Equal(t, "bread", items[0].Name)
}
