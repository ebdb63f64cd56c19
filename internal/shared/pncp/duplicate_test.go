package pncp

import "testing"

func TestRegexDuplicateParser(t *testing.T) {
	p := RegexDuplicateParser{CNPJ: "11.222.333/0001-81"}
	tests := []struct {
		name string
		msg  string
		want Identifier
		ok   bool
	}{
		{
			name: "control number",
			msg:  "Compra já existe no PNCP: 11222333000181-1-000042/2025",
			want: Identifier{CNPJ: "11222333000181", Year: 2025, Sequence: 42},
			ok:   true,
		},
		{
			name: "year and sequence words",
			msg:  "Registro duplicado. anoCompra: 2025, sequencialCompra: 7",
			want: Identifier{CNPJ: "11222333000181", Year: 2025, Sequence: 7},
			ok:   true,
		},
		{name: "not a duplicate", msg: "objetoCompra obrigatório 11222333000181-1-000042/2025"},
		{name: "duplicate without identifier", msg: "Compra já existe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := p.Parse(tt.msg)
			if ok != tt.ok {
				t.Fatalf("Parse(%q) ok = %v, want %v", tt.msg, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Fatalf("Parse(%q) = %+v, want %+v", tt.msg, got, tt.want)
			}
		})
	}
}

func TestControlNumber(t *testing.T) {
	id := Identifier{CNPJ: "11222333000181", Year: 2025, Sequence: 42}
	if got := id.ControlNumber(); got != "11222333000181-1-000042/2025" {
		t.Fatalf("unexpected control number %q", got)
	}
}
