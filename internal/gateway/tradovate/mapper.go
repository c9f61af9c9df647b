package tradovate

import (
	"strings"

	"ftbridge/internal/gateway/broker"
	"ftbridge/internal/pkg/convert"
)

// Order payloads shape-shift depending on the enrichment stage the
// upstream serves them from: price fields, link fields and annotations
// appear under different names. mapOrder flattens every variant into
// the one normalized broker.Order here, so nothing downstream ever
// falls back on optional-field probing.

func mapAccount(dto accountDTO) broker.Account {
	return broker.Account{
		ID:     dto.ID,
		Name:   strings.TrimSpace(dto.Name),
		Active: dto.Active && !dto.Archived,
	}
}

func mapBalance(dto cashBalanceDTO) broker.Balance {
	return broker.Balance{
		Balance:        dto.TotalCashValue,
		Equity:         dto.NetLiq,
		Margin:         dto.InitialMargin,
		AvailableFunds: dto.AvailableForTrading,
		DayPnL:         dto.TotalPnL,
	}
}

func mapPosition(dto positionDTO) broker.Position {
	return broker.Position{
		ContractID:    dto.ContractID,
		Symbol:        strings.TrimSpace(dto.Symbol),
		NetPos:        dto.NetPos,
		NetPrice:      dto.NetPrice,
		UnrealizedPnL: dto.OpenPnL,
	}
}

func mapOrder(raw map[string]any, accountID int64) broker.Order {
	o := broker.Order{
		ID:         convert.ToInt64(raw["id"]),
		AccountID:  accountID,
		ContractID: convert.ToInt64(firstPresent(raw, "contractId", "contractID")),
		Symbol:     asString(firstPresent(raw, "symbol", "contractName")),
		Action:     asString(raw["action"]),
		OrderType:  asString(firstPresent(raw, "orderType", "ordType", "type")),
		Status:     asString(firstPresent(raw, "ordStatus", "status")),
		Quantity:   int(convert.ToInt64(firstPresent(raw, "qty", "orderQty", "quantity"))),
		Price:      convert.ToFloatPtr(raw["price"]),
		LimitPrice: convert.ToFloatPtr(firstPresent(raw, "limitPrice", "lmtPrice")),
		StopPrice:  convert.ToFloatPtr(firstPresent(raw, "stopPrice", "stpPrice")),
		Text:       asString(firstPresent(raw, "text", "customTag50", "comment")),
	}
	if v := firstPresent(raw, "linkedId", "linkedOrderId"); v != nil {
		id := convert.ToInt64(v)
		o.LinkedID = &id
	}
	if v := firstPresent(raw, "parentId", "parentOrderId"); v != nil {
		id := convert.ToInt64(v)
		o.ParentID = &id
	}
	if v := firstPresent(raw, "ocoId", "ocoOrderId"); v != nil {
		id := convert.ToInt64(v)
		o.OCOID = &id
	}
	if v := firstPresent(raw, "accountId"); v != nil {
		o.AccountID = convert.ToInt64(v)
	}
	return o
}

// firstPresent returns the first non-nil value among the given keys.
func firstPresent(raw map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := raw[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func asString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
