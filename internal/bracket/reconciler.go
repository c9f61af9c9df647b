// Package bracket reconstructs logical bracket trade groups (entry +
// stop + target) from the flat, loosely linked order list the
// brokerage returns. Grouping is a pure function over the input list:
// no state, no I/O, recomputed fresh on every call.
package bracket

import (
	"sort"
	"strings"

	"ftbridge/internal/gateway/broker"
)

// Role is the inferred semantic role of one order inside a bracket.
type Role string

const (
	RoleEntry  Role = "entry"
	RoleStop   Role = "stop"
	RoleTarget Role = "target"
	RoleOther  Role = "other"
)

var roleRank = map[Role]int{RoleEntry: 0, RoleStop: 1, RoleTarget: 2, RoleOther: 3}

// Leg summarizes one member of a bracket group.
type Leg struct {
	ID       int64    `json:"id"`
	Action   string   `json:"action"`
	Quantity int      `json:"qty"`
	Price    *float64 `json:"price,omitempty"`
	Status   string   `json:"status"`
}

// Details summarizes the entry/stop/target legs of a bracket group. A
// leg is nil when no member carries that role.
type Details struct {
	Entry      *Leg `json:"entry"`
	StopLoss   *Leg `json:"stopLoss"`
	TakeProfit *Leg `json:"takeProfit"`
}

// Group is one reconciled order group. Standalone orders become a
// group of one with GroupType "Single" and no bracket details.
type Group struct {
	IsGroup   bool           `json:"isGroup"`
	GroupType string         `json:"groupType"`
	Primary   broker.Order   `json:"order"`
	Members   []broker.Order `json:"members,omitempty"`
	Details   *Details       `json:"bracketDetails,omitempty"`
}

// Reconcile groups related orders and assigns roles. Relations are
// closed transitively (union-find): two orders related only through a
// third still land in the same group. Output group order follows the
// input order of each group's first member.
func Reconcile(orders []broker.Order) []Group {
	n := len(orders)
	if n == 0 {
		return nil
	}
	uf := newUnionFind(n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if related(orders[i], orders[j]) {
				uf.union(i, j)
			}
		}
	}

	members := make(map[int][]int, n)
	var roots []int
	for i := 0; i < n; i++ {
		root := uf.find(i)
		if _, seen := members[root]; !seen {
			roots = append(roots, root)
		}
		members[root] = append(members[root], i)
	}

	groups := make([]Group, 0, len(roots))
	for _, root := range roots {
		idxs := members[root]
		if len(idxs) == 1 {
			groups = append(groups, Group{
				IsGroup:   false,
				GroupType: "Single",
				Primary:   orders[idxs[0]],
			})
			continue
		}
		groups = append(groups, buildBracket(orders, idxs))
	}
	return groups
}

func buildBracket(orders []broker.Order, idxs []int) Group {
	sorted := make([]broker.Order, 0, len(idxs))
	for _, i := range idxs {
		sorted = append(sorted, orders[i])
	}
	sort.SliceStable(sorted, func(a, b int) bool {
		return roleRank[InferRole(sorted[a])] < roleRank[InferRole(sorted[b])]
	})

	details := &Details{}
	for _, o := range sorted {
		switch InferRole(o) {
		case RoleEntry:
			if details.Entry == nil {
				details.Entry = legOf(o, RoleEntry)
			}
		case RoleStop:
			if details.StopLoss == nil {
				details.StopLoss = legOf(o, RoleStop)
			}
		case RoleTarget:
			if details.TakeProfit == nil {
				details.TakeProfit = legOf(o, RoleTarget)
			}
		}
	}
	return Group{
		IsGroup:   true,
		GroupType: "Bracket",
		Primary:   sorted[0],
		Members:   sorted,
		Details:   details,
	}
}

// InferRole classifies one order independently of grouping.
func InferRole(o broker.Order) Role {
	orderType := strings.ToLower(strings.TrimSpace(o.OrderType))
	text := strings.ToLower(o.Text)

	// Short codes (sl/tp) match whole annotation words only, longer
	// keywords match as substrings ("stoploss", "take-profit").
	if strings.Contains(orderType, "stop") || o.StopPrice != nil ||
		strings.Contains(text, "stop") || containsWord(text, "sl") {
		return RoleStop
	}

	isLimit := strings.Contains(orderType, "limit")
	if isLimit {
		if strings.Contains(text, "profit") || strings.Contains(text, "target") || containsWord(text, "tp") {
			return RoleTarget
		}
		// OSO profit legs are typically limit orders carrying a parent
		// link and no stop price.
		if o.LinkedID != nil && o.StopPrice == nil {
			return RoleTarget
		}
		if o.LinkedID == nil && o.StopPrice == nil {
			return RoleEntry
		}
		return RoleOther
	}

	if strings.Contains(orderType, "market") {
		return RoleEntry
	}
	return RoleOther
}

// related tests the pairwise relation predicate. Any single link form
// is sufficient.
func related(a, b broker.Order) bool {
	if ptrEq(a.LinkedID, b.ID) || ptrEq(b.LinkedID, a.ID) {
		return true
	}
	if ptrEq(a.OCOID, b.ID) || ptrEq(b.OCOID, a.ID) {
		return true
	}
	if ptrEq(a.ParentID, b.ID) || ptrEq(b.ParentID, a.ID) {
		return true
	}
	if a.ParentID != nil && b.ParentID != nil && *a.ParentID == *b.ParentID {
		return true
	}
	if a.LinkedID != nil && b.LinkedID != nil && *a.LinkedID == *b.LinkedID {
		return true
	}
	return false
}

func legOf(o broker.Order, role Role) *Leg {
	return &Leg{
		ID:       o.ID,
		Action:   o.Action,
		Quantity: o.Quantity,
		Price:    legPrice(o, role),
		Status:   o.Status,
	}
}

func legPrice(o broker.Order, role Role) *float64 {
	if role == RoleStop && o.StopPrice != nil {
		return o.StopPrice
	}
	return o.EffectiveLimit()
}

func ptrEq(p *int64, v int64) bool {
	return p != nil && *p == v
}

func containsWord(text, word string) bool {
	if text == "" {
		return false
	}
	for _, field := range strings.FieldsFunc(text, func(r rune) bool {
		return r == ' ' || r == ',' || r == ';' || r == '/' || r == '-' || r == '_' || r == ':'
	}) {
		if field == word {
			return true
		}
	}
	return false
}

type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if uf.rank[ra] < uf.rank[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	if uf.rank[ra] == uf.rank[rb] {
		uf.rank[ra]++
	}
}
