package price

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name         string
		text         string
		wantAmount   string // "" = nil
		wantCurrency string
	}{
		{"euro symbol", "Сдам квартиру, 500€ в месяц", "500", "EUR"},
		{"euro word", "Продам диван IKEA, 150 EUR, почти новый", "150", "EUR"},
		{"euro russian", "Цена 1200 евро", "1200", "EUR"},
		{"dinar", "Велосипед, 15000 RSD", "15000", "RSD"},
		{"dinar russian", "Аренда 45000 динар", "45000", "RSD"},
		{"dollar symbol", "MacBook 800$", "800", "USD"},
		{"dollar russian", "Ноутбук за 650 долларов", "650", "USD"},
		{"space separated thousands", "Автомобиль 12 500 €", "12500", "EUR"},
		{"comma separated thousands", "Машина 1,500 евро", "1500", "EUR"},
		{"decimal point kept", "Кофе 2.5 EUR", "2.5", "EUR"},
		{"trailing dot dropped", "Цена 100. EUR", "100", "EUR"},
		{"euro wins over dinar", "100 EUR или 12000 RSD", "100", "EUR"},
		{"no price", "Отдам даром", "", "EUR"},
		{"zero rejected", "0 EUR", "", "EUR"},
		{"over ceiling rejected", "99999999 EUR", "", "EUR"},
		{"empty text", "", "", "EUR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount, currency := Extract(tt.text)
			if currency != tt.wantCurrency {
				t.Errorf("currency = %q, want %q", currency, tt.wantCurrency)
			}
			if tt.wantAmount == "" {
				if amount != nil {
					t.Errorf("amount = %v, want nil", amount)
				}
				return
			}
			if amount == nil {
				t.Fatalf("amount = nil, want %s", tt.wantAmount)
			}
			want := decimal.RequireFromString(tt.wantAmount)
			if !amount.Equal(want) {
				t.Errorf("amount = %s, want %s", amount, want)
			}
		})
	}
}
