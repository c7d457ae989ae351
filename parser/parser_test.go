package parser

import (
	"testing"

	"github.com/aluiziolira/martprice/models"
)

func TestValidateEntry(t *testing.T) {
	tests := []struct {
		name    string
		entry   *models.PriceEntry
		wantErr bool
	}{
		{
			name: "valid entry",
			entry: &models.PriceEntry{
				Item:          "Shin Ramyun",
				Price:         "3,49",
				Link:          "https://shop.example/shin",
				Mart:          "REWE",
				SearchKeyword: "신라면",
			},
			wantErr: false,
		},
		{name: "nil entry", entry: nil, wantErr: true},
		{name: "missing item", entry: &models.PriceEntry{Item: "", Price: "3,49"}, wantErr: true},
		{name: "blank item", entry: &models.PriceEntry{Item: "   ", Price: "3,49"}, wantErr: true},
		{name: "missing price", entry: &models.PriceEntry{Item: "Kimchi", Price: ""}, wantErr: true},
		{name: "zero price", entry: &models.PriceEntry{Item: "Kimchi", Price: "0"}, wantErr: true},
		{name: "zero with decimals is kept", entry: &models.PriceEntry{Item: "Kimchi", Price: "0,00"}, wantErr: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEntry(tt.entry)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEntry() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNormalizePrice(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   float64
		wantOK bool
	}{
		{name: "comma decimal with euro", input: "5,99 €", want: 5.99, wantOK: true},
		{name: "euro prefix", input: "€ 12.50", want: 12.50, wantOK: true},
		{name: "empty string", input: "", want: 0, wantOK: false},
		{name: "plain integer", input: "3", want: 3, wantOK: true},
		{name: "only symbols", input: "€", want: 0, wantOK: false},
		{name: "thousands separator keeps leading prefix", input: "1.299,00", want: 1.299, wantOK: true},
		{name: "leading fraction", input: ",50", want: 0.5, wantOK: true},
		{name: "trailing separator", input: "7,", want: 7, wantOK: true},
		{name: "text around", input: "ab 2,49 EUR/Stk", want: 2.49, wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizePrice(tt.input)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("NormalizePrice(%q) = (%v, %v), want (%v, %v)", tt.input, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestDisplayItem(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: `"Shin Ramyun"`, want: "Shin Ramyun"},
		{input: `  'Bibigo Kimchi' `, want: "Bibigo Kimchi"},
		{input: "Nongshim", want: "Nongshim"},
		{input: "", want: ""},
	}

	for _, tt := range tests {
		if got := DisplayItem(tt.input); got != tt.want {
			t.Errorf("DisplayItem(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
