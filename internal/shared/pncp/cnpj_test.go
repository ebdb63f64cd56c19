package pncp

import "testing"

func TestFormatCNPJ(t *testing.T) {
	if got := FormatCNPJ("11222333000181"); got != "11.222.333/0001-81" {
		t.Fatalf("unexpected format %q", got)
	}
	if got := FormatCNPJ("123"); got != "123" {
		t.Fatalf("short input must be returned unchanged, got %q", got)
	}
}

func TestValidCNPJ(t *testing.T) {
	tests := map[string]bool{
		"11.222.333/0001-81": true,
		"11222333000181":     true,
		"11222333000182":     false,
		"00000000000000":     false,
		"1122233300018":      false,
	}
	for in, want := range tests {
		if got := ValidCNPJ(in); got != want {
			t.Fatalf("ValidCNPJ(%q) = %v, want %v", in, got, want)
		}
	}
}
