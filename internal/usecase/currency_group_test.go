package usecase

import (
	"testing"

	"app/internal/domain/model"

	"github.com/stretchr/testify/assert"
)

func TestBuildCurrencyGroups_EmptyCart(t *testing.T) {
	_, err := BuildCurrencyGroups(nil)
	assert.ErrorIs(t, err, ErrEmptyCart)

	_, err = BuildCurrencyGroups([]model.CartItem{})
	assert.ErrorIs(t, err, ErrEmptyCart)
}

// グループは通貨の出現順で安定し、小計は明細の合算になる
func TestBuildCurrencyGroups_SplitsByCurrencyInFirstSeenOrder(t *testing.T) {
	items := []model.CartItem{
		{ID: 1, ProductID: 10, Quantity: 2, UnitPriceSnapshot: 500, CurrencySnapshot: "USD"},
		{ID: 2, ProductID: 11, Quantity: 1, UnitPriceSnapshot: 3000, CurrencySnapshot: "KES"},
		{ID: 3, ProductID: 12, Quantity: 3, UnitPriceSnapshot: 100, CurrencySnapshot: "USD"},
	}

	groups, err := BuildCurrencyGroups(items)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(groups))

	assert.Equal(t, "USD", groups[0].Currency)
	assert.Equal(t, int64(2*500+3*100), groups[0].Subtotal)
	assert.Equal(t, 2, len(groups[0].Items))
	assert.False(t, groups[0].HasNFT)
	assert.Equal(t, []PaymentRail{RailCard, RailMobileMoney}, groups[0].Rails)

	assert.Equal(t, "KES", groups[1].Currency)
	assert.Equal(t, int64(3000), groups[1].Subtotal)
}

// NFTを1つでも含むグループはオンチェーン専用になる
func TestBuildCurrencyGroups_NFTGroupIsOnChainOnly(t *testing.T) {
	items := []model.CartItem{
		{ID: 1, ProductID: 10, Quantity: 1, UnitPriceSnapshot: 900, CurrencySnapshot: "USDC", IsNFTSnapshot: true},
		{ID: 2, ProductID: 11, Quantity: 2, UnitPriceSnapshot: 50, CurrencySnapshot: "USDC"},
		{ID: 3, ProductID: 12, Quantity: 1, UnitPriceSnapshot: 700, CurrencySnapshot: "USD"},
	}

	groups, err := BuildCurrencyGroups(items)
	assert.NoError(t, err)
	assert.Equal(t, 2, len(groups))

	assert.True(t, groups[0].HasNFT)
	assert.Equal(t, []PaymentRail{RailOnChain}, groups[0].Rails)
	assert.Equal(t, int64(900+100), groups[0].Subtotal)

	assert.False(t, groups[1].HasNFT)
	assert.Equal(t, []PaymentRail{RailCard, RailMobileMoney}, groups[1].Rails)
}

func TestCurrencyGroup_AllowsProvider(t *testing.T) {
	g := CurrencyGroup{Rails: []PaymentRail{RailCard, RailMobileMoney}}
	assert.True(t, g.AllowsProvider(model.ProviderCard))
	assert.True(t, g.AllowsProvider(model.ProviderMobileMoney))
	assert.False(t, g.AllowsProvider(model.ProviderOnChain))

	nft := CurrencyGroup{Rails: []PaymentRail{RailOnChain}}
	assert.True(t, nft.AllowsProvider(model.ProviderOnChain))
	assert.False(t, nft.AllowsProvider(model.ProviderCard))
}

func TestFindGroup(t *testing.T) {
	groups := []CurrencyGroup{{Currency: "USD"}, {Currency: "SOL"}}

	g, ok := FindGroup(groups, "SOL")
	assert.True(t, ok)
	assert.Equal(t, "SOL", g.Currency)

	_, ok = FindGroup(groups, "EUR")
	assert.False(t, ok)
}
