package usecase

import (
	"app/internal/domain/model"
	"errors"
)

// 決済レール（通貨グループ単位で選ぶ）
type PaymentRail string

const (
	RailCard        PaymentRail = "CARD"
	RailMobileMoney PaymentRail = "MOBILE_MONEY"
	RailOnChain     PaymentRail = "ON_CHAIN"
)

var ErrEmptyCart = errors.New("empty cart")

// CurrencyGroup は同一通貨の明細のまとまり。1グループ=1回のプロバイダ決済。
// 永続化せず、毎回カート明細から計算し直す（価格・在庫が変わるため）。
type CurrencyGroup struct {
	Currency string
	Items    []model.CartItem
	Subtotal int64
	HasNFT   bool
	Rails    []PaymentRail
}

// BuildCurrencyGroups はカート明細を通貨で分割する。
// 規則: NFTを1つでも含むグループはON_CHAIN専用。含まなければCARD/MOBILE_MONEYの二択。
// グループの順序はカート内の出現順で安定。
func BuildCurrencyGroups(items []model.CartItem) ([]CurrencyGroup, error) {
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}

	index := make(map[string]int, len(items))
	groups := make([]CurrencyGroup, 0, 2)

	for _, it := range items {
		i, ok := index[it.CurrencySnapshot]
		if !ok {
			i = len(groups)
			index[it.CurrencySnapshot] = i
			groups = append(groups, CurrencyGroup{Currency: it.CurrencySnapshot})
		}

		g := &groups[i]
		g.Items = append(g.Items, it)
		g.Subtotal += it.UnitPriceSnapshot * it.Quantity
		if it.IsNFTSnapshot {
			g.HasNFT = true
		}
	}

	for i := range groups {
		if groups[i].HasNFT {
			groups[i].Rails = []PaymentRail{RailOnChain}
		} else {
			groups[i].Rails = []PaymentRail{RailCard, RailMobileMoney}
		}
	}

	return groups, nil
}

// AllowsProvider は指定プロバイダがこのグループで使えるか
func (g CurrencyGroup) AllowsProvider(p model.PaymentProvider) bool {
	for _, r := range g.Rails {
		if string(r) == string(p) {
			return true
		}
	}
	return false
}

// FindGroup は通貨コードでグループを探す
func FindGroup(groups []CurrencyGroup, currency string) (CurrencyGroup, bool) {
	for _, g := range groups {
		if g.Currency == currency {
			return g, true
		}
	}
	return CurrencyGroup{}, false
}
