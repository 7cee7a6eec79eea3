package types

import (
	"encoding/json"
	"testing"
)

func TestMoneyConstructors(t *testing.T) {
	tests := []struct {
		name     string
		money    Money
		amount   int64
		currency string
		display  string
	}{
		{"CNY", CNY(1800), 1800, "cny", "¥18.00"},
		{"USD", USD(4900), 4900, "usd", "$49.00"},
		{"Zero CNY", Zero("CNY"), 0, "cny", "¥0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.money.Amount != tt.amount {
				t.Errorf("Amount: got %d, want %d", tt.money.Amount, tt.amount)
			}
			if tt.money.Currency != tt.currency {
				t.Errorf("Currency: got %s, want %s", tt.money.Currency, tt.currency)
			}
			if tt.money.String() != tt.display {
				t.Errorf("Display: got %s, want %s", tt.money.String(), tt.display)
			}
		})
	}
}

func TestMoneyArithmetic(t *testing.T) {
	tests := []struct {
		name     string
		op       func() Money
		expected Money
	}{
		{"Add", func() Money { return CNY(100).Add(CNY(200)) }, CNY(300)},
		{"Subtract", func() Money { return CNY(500).Subtract(CNY(200)) }, CNY(300)},
		{"Multiply", func() Money { return CNY(100).Multiply(3) }, CNY(300)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.op()
			if !result.Equal(tt.expected) {
				t.Errorf("Got %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestMoneyCurrencyMismatch(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for currency mismatch")
		}
	}()

	_ = CNY(100).Add(USD(100))
}

func TestMoneyFormatNegative(t *testing.T) {
	if got := CNY(-1850).FormatMajor(); got != "-18.50" {
		t.Errorf("FormatMajor: got %s, want -18.50", got)
	}
}

func TestMoneyJSON(t *testing.T) {
	data, err := json.Marshal(CNY(8000))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Display  string `json:"display"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Amount != 8000 || decoded.Currency != "cny" || decoded.Display != "¥80.00" {
		t.Errorf("unexpected JSON payload: %+v", decoded)
	}
}
