package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/slidecraft/quota/types"
)

func TestNewNumber(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)
	assert.Equal(t, "ORD20260314092653589", NewNumber(at))
}

func TestNewNumberConvertsToUTC(t *testing.T) {
	loc := time.FixedZone("CST", 8*3600)
	at := time.Date(2026, 3, 14, 17, 26, 53, 589_000_000, loc)
	assert.Equal(t, "ORD20260314092653589", NewNumber(at))
}

func TestPackages(t *testing.T) {
	pkgs := Packages()

	tests := []struct {
		key     string
		credits int64
		price   types.Money
	}{
		{"10_pack", 10, types.CNY(1800)},
		{"50_pack", 50, types.CNY(8000)},
		{"100_pack", 100, types.CNY(15000)},
		{"500_pack", 500, types.CNY(70000)},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			pkg, ok := pkgs[tt.key]
			assert.True(t, ok)
			assert.Equal(t, tt.credits, pkg.QuotaAmount)
			assert.True(t, pkg.Price.Equal(tt.price))
		})
	}
}

func TestListOptsOffset(t *testing.T) {
	assert.Equal(t, 0, ListOpts{Page: 0, PerPage: 10}.Offset())
	assert.Equal(t, 0, ListOpts{Page: 1, PerPage: 10}.Offset())
	assert.Equal(t, 10, ListOpts{Page: 2, PerPage: 10}.Offset())
}
