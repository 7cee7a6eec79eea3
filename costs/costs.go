// Package costs maps priced actions to fractional credit costs and
// computes the integer charge for a batch of actions.
//
// Costs are decimals so that cheap actions can be priced below one
// credit. A charge is always computed over the whole batch and then
// truncated toward zero, so five actions at 0.1 cost nothing while ten
// cost one credit. Per-action rounding would overcharge.
package costs

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"
)

// DefaultCost is charged for any action missing from the table.
var DefaultCost = decimal.NewFromInt(1)

// Table is an immutable action-to-cost mapping. The zero value is not
// usable; construct one with New, Defaults, or Load.
type Table struct {
	costs map[string]decimal.Decimal
}

// New builds a table from an explicit cost map. Negative costs are
// rejected; a zero cost is legal and marks a free action.
func New(costs map[string]decimal.Decimal) (Table, error) {
	m := make(map[string]decimal.Decimal, len(costs))
	for action, cost := range costs {
		if action == "" {
			return Table{}, fmt.Errorf("costs: empty action name")
		}
		if cost.IsNegative() {
			return Table{}, fmt.Errorf("costs: action %q has negative cost %s", action, cost)
		}
		m[action] = cost
	}
	return Table{costs: m}, nil
}

// Defaults returns the built-in cost table for the content generation
// actions.
func Defaults() Table {
	t, _ := New(map[string]decimal.Decimal{
		"generate_outline":     decimal.Zero,
		"generate_description": decimal.RequireFromString("0.1"),
		"generate_image":       decimal.NewFromInt(1),
		"edit_image":           decimal.RequireFromString("0.5"),
		"export_pptx":          decimal.RequireFromString("0.2"),
		"export_editable_pptx": decimal.RequireFromString("0.5"),
	})
	return t
}

// Load reads a table from a TOML file of the form:
//
//	[costs]
//	generate_image = "1"
//	export_pptx = "0.2"
//
// Costs are strings so they parse as exact decimals, never floats.
func Load(path string) (Table, error) {
	var file struct {
		Costs map[string]string `toml:"costs"`
	}
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return Table{}, fmt.Errorf("costs: decode %s: %w", path, err)
	}
	if len(file.Costs) == 0 {
		return Table{}, fmt.Errorf("costs: %s has no [costs] section", path)
	}

	m := make(map[string]decimal.Decimal, len(file.Costs))
	for action, raw := range file.Costs {
		cost, err := decimal.NewFromString(raw)
		if err != nil {
			return Table{}, fmt.Errorf("costs: action %q: %w", action, err)
		}
		m[action] = cost
	}
	return New(m)
}

// LoadOrDefaults loads path if it exists, falling back to the built-in
// table when it does not.
func LoadOrDefaults(path string) (Table, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Defaults(), nil
	}
	return Load(path)
}

// Cost returns the per-unit cost for an action, or DefaultCost for an
// unknown one.
func (t Table) Cost(action string) decimal.Decimal {
	if cost, ok := t.costs[action]; ok {
		return cost
	}
	return DefaultCost
}

// Known reports whether the action has an explicit entry.
func (t Table) Known(action string) bool {
	_, ok := t.costs[action]
	return ok
}

// Charge computes the credits to debit for count units of an action:
// the exact decimal product, truncated toward zero.
func (t Table) Charge(action string, count int64) int64 {
	return t.Cost(action).Mul(decimal.NewFromInt(count)).IntPart()
}

// Actions returns the explicitly priced action names, in no particular
// order.
func (t Table) Actions() []string {
	actions := make([]string, 0, len(t.costs))
	for action := range t.costs {
		actions = append(actions, action)
	}
	return actions
}
