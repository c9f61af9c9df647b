package bracket

import (
	"testing"

	"ftbridge/internal/gateway/broker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }
func i(v int64) *int64     { return &v }

func bracketOrders() []broker.Order {
	// Classic OSO bracket: market entry, stop and target both linked
	// to the entry and OCO-linked to each other.
	entry := broker.Order{
		ID: 1, AccountID: 7, Symbol: "ESZ6", Action: "Buy",
		OrderType: "Market", Status: "Filled", Quantity: 1,
	}
	stop := broker.Order{
		ID: 2, AccountID: 7, Symbol: "ESZ6", Action: "Sell",
		OrderType: "Stop", Status: "Working", Quantity: 1,
		StopPrice: f(5080.00), ParentID: i(1), OCOID: i(3),
	}
	target := broker.Order{
		ID: 3, AccountID: 7, Symbol: "ESZ6", Action: "Sell",
		OrderType: "Limit", Status: "Working", Quantity: 1,
		LimitPrice: f(5150.00), ParentID: i(1), OCOID: i(2),
	}
	return []broker.Order{stop, target, entry}
}

func TestReconcile_EmptyInput(t *testing.T) {
	assert.Nil(t, Reconcile(nil))
	assert.Nil(t, Reconcile([]broker.Order{}))
}

func TestReconcile_StandaloneOrdersStaySingle(t *testing.T) {
	orders := []broker.Order{
		{ID: 1, Action: "Buy", OrderType: "Limit", Status: "Working", LimitPrice: f(5100)},
		{ID: 2, Action: "Sell", OrderType: "Market", Status: "Working"},
	}
	groups := Reconcile(orders)
	require.Len(t, groups, 2)
	for _, g := range groups {
		assert.False(t, g.IsGroup)
		assert.Equal(t, "Single", g.GroupType)
		assert.Nil(t, g.Details)
		assert.Empty(t, g.Members)
	}
	assert.Equal(t, int64(1), groups[0].Primary.ID)
	assert.Equal(t, int64(2), groups[1].Primary.ID)
}

func TestReconcile_ThreeLegBracket(t *testing.T) {
	groups := Reconcile(bracketOrders())
	require.Len(t, groups, 1)

	g := groups[0]
	assert.True(t, g.IsGroup)
	assert.Equal(t, "Bracket", g.GroupType)
	require.Len(t, g.Members, 3)

	// The entry leads the sorted member list and becomes primary.
	assert.Equal(t, int64(1), g.Primary.ID)

	require.NotNil(t, g.Details)
	require.NotNil(t, g.Details.Entry)
	require.NotNil(t, g.Details.StopLoss)
	require.NotNil(t, g.Details.TakeProfit)
	assert.Equal(t, int64(1), g.Details.Entry.ID)
	assert.Equal(t, int64(2), g.Details.StopLoss.ID)
	assert.Equal(t, int64(3), g.Details.TakeProfit.ID)

	require.NotNil(t, g.Details.StopLoss.Price)
	assert.Equal(t, 5080.00, *g.Details.StopLoss.Price)
	require.NotNil(t, g.Details.TakeProfit.Price)
	assert.Equal(t, 5150.00, *g.Details.TakeProfit.Price)
}

func TestReconcile_TransitiveChainJoinsOneGroup(t *testing.T) {
	// A links to B, B links to C; A and C share no direct relation
	// but must land in the same group.
	orders := []broker.Order{
		{ID: 1, Action: "Buy", OrderType: "Market", Status: "Filled"},
		{ID: 2, Action: "Sell", OrderType: "Stop", Status: "Working", StopPrice: f(99), LinkedID: i(1)},
		{ID: 3, Action: "Sell", OrderType: "Limit", Status: "Working", LimitPrice: f(105), OCOID: i(2)},
	}
	groups := Reconcile(orders)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].Members, 3)
}

func TestReconcile_SharedParentAndSharedLink(t *testing.T) {
	t.Run("sibling parentId", func(t *testing.T) {
		orders := []broker.Order{
			{ID: 10, Action: "Sell", OrderType: "Stop", Status: "Working", StopPrice: f(1), ParentID: i(999)},
			{ID: 11, Action: "Sell", OrderType: "Limit", Status: "Working", LimitPrice: f(2), ParentID: i(999)},
		}
		groups := Reconcile(orders)
		require.Len(t, groups, 1)
		assert.True(t, groups[0].IsGroup)
	})

	t.Run("shared linkedId", func(t *testing.T) {
		orders := []broker.Order{
			{ID: 20, Action: "Sell", OrderType: "Stop", Status: "Working", StopPrice: f(1), LinkedID: i(999)},
			{ID: 21, Action: "Sell", OrderType: "Limit", Status: "Working", LimitPrice: f(2), LinkedID: i(999)},
		}
		groups := Reconcile(orders)
		require.Len(t, groups, 1)
		assert.True(t, groups[0].IsGroup)
	})
}

func TestReconcile_MixedGroupsAndSingles(t *testing.T) {
	orders := append(bracketOrders(),
		broker.Order{ID: 50, Action: "Buy", OrderType: "Limit", Status: "Working", LimitPrice: f(4900)},
	)
	groups := Reconcile(orders)
	require.Len(t, groups, 2)
	assert.True(t, groups[0].IsGroup)
	assert.False(t, groups[1].IsGroup)
	assert.Equal(t, int64(50), groups[1].Primary.ID)
}

func TestInferRole(t *testing.T) {
	cases := []struct {
		name  string
		order broker.Order
		want  Role
	}{
		{"market entry", broker.Order{OrderType: "Market"}, RoleEntry},
		{"plain limit entry", broker.Order{OrderType: "Limit", LimitPrice: f(1)}, RoleEntry},
		{"stop order type", broker.Order{OrderType: "Stop"}, RoleStop},
		{"stop limit order type", broker.Order{OrderType: "StopLimit"}, RoleStop},
		{"stop by price", broker.Order{OrderType: "Limit", StopPrice: f(1)}, RoleStop},
		{"stop by annotation", broker.Order{OrderType: "Limit", Text: "stoploss leg"}, RoleStop},
		{"stop by sl code", broker.Order{OrderType: "Limit", Text: "auto-sl"}, RoleStop},
		{"target by annotation", broker.Order{OrderType: "Limit", Text: "take profit"}, RoleTarget},
		{"target by tp code", broker.Order{OrderType: "Limit", Text: "tp leg"}, RoleTarget},
		{"target by link", broker.Order{OrderType: "Limit", LinkedID: i(1)}, RoleTarget},
		{"unclassifiable", broker.Order{OrderType: "TrailingStopLimit"}, RoleStop},
		{"unknown type", broker.Order{OrderType: "MIT"}, RoleOther},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, InferRole(tc.order))
		})
	}
}

func TestReconcile_DuplicateRolesKeepFirst(t *testing.T) {
	// Two stops in one group: the first by sorted order wins the
	// details slot, both stay members.
	orders := []broker.Order{
		{ID: 1, Action: "Sell", OrderType: "Stop", Status: "Working", StopPrice: f(10), ParentID: i(99)},
		{ID: 2, Action: "Sell", OrderType: "Stop", Status: "Working", StopPrice: f(11), ParentID: i(99)},
	}
	groups := Reconcile(orders)
	require.Len(t, groups, 1)
	require.NotNil(t, groups[0].Details.StopLoss)
	assert.Len(t, groups[0].Members, 2)
	assert.Nil(t, groups[0].Details.Entry)
	assert.Nil(t, groups[0].Details.TakeProfit)
}
