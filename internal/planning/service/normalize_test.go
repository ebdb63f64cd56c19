package service

import "testing"

func TestNormalizeDescription(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Papel A4 – Resma 500 folhas", "papela4resma500folhas"},
		{"AÇÚCAR CRISTAL, pacote 5kg", "acucarcristalpacote5kg"},
		{"  Serviço de manutenção predial  ", "servicodemanutencaopredial"},
		{"Café (torrado & moído)", "cafetorradomoido"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeDescription(tt.in); got != tt.want {
			t.Fatalf("NormalizeDescription(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeDescriptionTruncates(t *testing.T) {
	long := ""
	for i := 0; i < 30; i++ {
		long += "abcde "
	}
	got := NormalizeDescription(long)
	if len(got) != normalizedDescriptionLength {
		t.Fatalf("len = %d, want %d", len(got), normalizedDescriptionLength)
	}
}

func TestDuplicateIndex(t *testing.T) {
	idx := NewDuplicateIndex()
	idx.Add("100844", "Papel sulfite A4")

	if dup, _ := idx.Check("100844", "outra coisa"); !dup {
		t.Fatal("same catalog code should be a duplicate")
	}
	if dup, _ := idx.Check("", "PAPEL SULFITE a-4"); !dup {
		t.Fatal("case and punctuation should not defeat duplicate detection")
	}
	if dup, _ := idx.Check("", "Papel Sulfite, A4"); !dup {
		t.Fatal("same normalized description should be a duplicate")
	}
	if dup, _ := idx.Check("200000", "Caneta esferográfica azul"); dup {
		t.Fatal("different line reported as duplicate")
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("ação", 2); got != "aç" {
		t.Fatalf("truncateRunes = %q", got)
	}
	if got := truncateRunes("abc", 10); got != "abc" {
		t.Fatalf("truncateRunes = %q", got)
	}
}
