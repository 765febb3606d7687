package services

import (
	"database/sql"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// accumulator collects one group's running spend sum and turnout samples.
type accumulator struct {
	spend     decimal.Decimal
	polledSum float64
	polledN   int
}

func (a *accumulator) addSpend(d decimal.NullDecimal) {
	if d.Valid {
		a.spend = a.spend.Add(d.Decimal)
	}
}

func (a *accumulator) addPolled(f sql.NullFloat64) {
	if f.Valid {
		a.polledSum += f.Float64
		a.polledN++
	}
}

func (a *accumulator) meanPolled() sql.NullFloat64 {
	if a.polledN == 0 {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: a.polledSum / float64(a.polledN), Valid: true}
}

// grouping is a hash map from group key to accumulator that remembers its
// keys. Rows with a null key are skipped.
type grouping struct {
	groups map[string]*accumulator
	keys   []string
}

func newGrouping() *grouping {
	return &grouping{groups: make(map[string]*accumulator)}
}

func (g *grouping) at(key sql.NullString) *accumulator {
	if !key.Valid {
		return nil
	}
	acc, ok := g.groups[key.String]
	if !ok {
		acc = &accumulator{}
		g.groups[key.String] = acc
		g.keys = append(g.keys, key.String)
	}
	return acc
}

// sortedKeys returns the group keys in ascending order. When every key is a
// number they are ordered by value, so phase 10 follows phase 2.
func (g *grouping) sortedKeys() []string {
	out := append([]string(nil), g.keys...)

	nums := make(map[string]float64, len(out))
	for _, k := range out {
		f, err := strconv.ParseFloat(strings.TrimSpace(k), 64)
		if err != nil {
			sort.Strings(out)
			return out
		}
		nums[k] = f
	}

	sort.Slice(out, func(i, j int) bool {
		if nums[out[i]] != nums[out[j]] {
			return nums[out[i]] < nums[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}
