package costs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChargeTruncates(t *testing.T) {
	table := Defaults()

	tests := []struct {
		name   string
		action string
		count  int64
		want   int64
	}{
		{"fractional below one unit", "generate_description", 5, 0},
		{"fractional reaches one unit", "generate_description", 10, 1},
		{"fractional partial", "generate_description", 19, 1},
		{"half cost truncates", "edit_image", 3, 1},
		{"whole cost", "generate_image", 3, 3},
		{"free action", "generate_outline", 100, 0},
		{"zero count", "generate_image", 0, 0},
		{"unknown action uses default", "summon_dragon", 4, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, table.Charge(tt.action, tt.count))
		})
	}
}

func TestNewRejectsNegativeCost(t *testing.T) {
	_, err := New(map[string]decimal.Decimal{
		"bad": decimal.RequireFromString("-0.1"),
	})
	require.Error(t, err)
}

func TestKnown(t *testing.T) {
	table := Defaults()
	assert.True(t, table.Known("generate_image"))
	assert.False(t, table.Known("summon_dragon"))
	// Unknown actions still get the default cost.
	assert.True(t, table.Cost("summon_dragon").Equal(DefaultCost))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "costs.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[costs]
generate_image = "2"
export_pptx = "0.25"
`), 0o600))

	table, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, int64(2), table.Charge("generate_image", 1))
	assert.Equal(t, int64(1), table.Charge("export_pptx", 4))
	assert.Equal(t, int64(0), table.Charge("export_pptx", 3))
}

func TestLoadRejectsBadDecimal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "costs.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[costs]
generate_image = "lots"
`), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadOrDefaults(t *testing.T) {
	table, err := LoadOrDefaults(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), table.Charge("generate_image", 1))
}
