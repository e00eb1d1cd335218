package normalize

import (
	"testing"
	"time"
)

func TestDate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"slash dmy", "15/03/2024", "2024-03-15"},
		{"dash dmy", "15-03-2024", "2024-03-15"},
		{"iso", "2024-03-15", "2024-03-15"},
		{"month name", "15 March 2024", "2024-03-15"},
		{"short month", "15 Mar 2024", "2024-03-15"},
		{"unpadded", "5/3/2024", "2024-03-05"},
		{"with time", "2024-03-15T10:30:00", "2024-03-15"},
		{"garbage", "not a date", ""},
		{"empty", "", ""},
		{"impossible day", "32/01/2024", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Date(tt.input)
			if tt.want == "" {
				if got != nil {
					t.Fatalf("Date(%q) = %v, want nil", tt.input, got)
				}
				return
			}
			if got == nil {
				t.Fatalf("Date(%q) = nil, want %s", tt.input, tt.want)
			}
			if got.Format(time.DateOnly) != tt.want {
				t.Errorf("Date(%q) = %s, want %s", tt.input, got.Format(time.DateOnly), tt.want)
			}
		})
	}
}

func TestCurrency(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  float64
		ok    bool
	}{
		{"plain", "450000", 450000, true},
		{"dollar commas", "$1,250,000", 1250000, true},
		{"aud prefix", "AUD 500000", 500000, true},
		{"k suffix", "$450K", 450000, true},
		{"m suffix", "$2.5M", 2500000, true},
		{"b suffix", "$1B", 1e9, true},
		{"over cap", "$15B", 0, false},
		{"negative", "-5000", 0, false},
		{"garbage", "priceless", 0, false},
		{"empty", "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Currency(tt.input)
			if !tt.ok {
				if got != nil {
					t.Fatalf("Currency(%q) = %v, want nil", tt.input, *got)
				}
				return
			}
			if got == nil || *got != tt.want {
				t.Errorf("Currency(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestAddress(t *testing.T) {
	parts := Address("12 Smith Street, Parramatta NSW 2150")
	if parts.Postcode != "2150" {
		t.Errorf("postcode = %q, want 2150", parts.Postcode)
	}
	if parts.Suburb != "Parramatta" {
		t.Errorf("suburb = %q, want Parramatta", parts.Suburb)
	}
	if parts.State != "NSW" {
		t.Errorf("state = %q, want NSW", parts.State)
	}

	bare := Address("12 Smith Street")
	if bare.Postcode != "" || bare.Suburb != "" {
		t.Errorf("bare address yielded postcode=%q suburb=%q", bare.Postcode, bare.Suburb)
	}
}

func TestPostcode(t *testing.T) {
	tests := []struct{ input, want string }{
		{"2150", "2150"},
		{" 2150 ", "2150"},
		{"0200", "0200"},
		{"199", ""},
		{"10000", ""},
		{"abcd", ""},
	}
	for _, tt := range tests {
		if got := Postcode(tt.input); got != tt.want {
			t.Errorf("Postcode(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestState(t *testing.T) {
	tests := []struct{ input, want string }{
		{"nsw", "NSW"},
		{"New South Wales", "NSW"},
		{"Victoria", "VIC"},
		{"qld", "QLD"},
		{"unknown place", ""},
	}
	for _, tt := range tests {
		if got := State(tt.input); got != tt.want {
			t.Errorf("State(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestDANumber(t *testing.T) {
	tests := []struct{ input, want string }{
		{"DA-2024/0123", "2024/0123"},
		{"DA2024/0123", "2024/0123"},
		{"CDC:2024-55", "2024-55"},
		{"MOD-1/2024", "1/2024"},
		{"2024/0123", "2024/0123"},
		{"  DA- 2024/0123  ", "2024/0123"},
	}
	for _, tt := range tests {
		if got := DANumber(tt.input); got != tt.want {
			t.Errorf("DANumber(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestInteger(t *testing.T) {
	if got := Integer("approx 12 units", 1, 1000); got == nil || *got != 12 {
		t.Errorf("Integer = %v, want 12", got)
	}
	if got := Integer("2000 units", 1, 1000); got != nil {
		t.Errorf("Integer above max = %v, want nil", got)
	}
	if got := Integer("none", 1, 1000); got != nil {
		t.Errorf("Integer without digits = %v, want nil", got)
	}
}
