package scope

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "empty", raw: "", want: ""},
		{name: "single", raw: "read", want: "read"},
		{name: "multiple", raw: "read write", want: "read write"},
		{name: "duplicates dropped", raw: "read write read", want: "read write"},
		{name: "punctuation tokens", raw: "api:read urn:example#x", want: "api:read urn:example#x"},
		{name: "double delimiter", raw: "read  write", wantErr: true},
		{name: "leading delimiter", raw: " read", wantErr: true},
		{name: "trailing delimiter", raw: "read ", wantErr: true},
		{name: "backslash", raw: `re\ad`, wantErr: true},
		{name: "double quote", raw: `re"ad`, wantErr: true},
		{name: "control character", raw: "re\tad", wantErr: true},
		{name: "non-ascii", raw: "réad", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Parse(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) expected error, got %q", tt.raw, s)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) unexpected error: %v", tt.raw, err)
			}
			if s.String() != tt.want {
				t.Errorf("Parse(%q) = %q, want %q", tt.raw, s, tt.want)
			}
		})
	}
}

func TestSubsetOf(t *testing.T) {
	ab := MustParse("a b")

	tests := []struct {
		name  string
		left  string
		right string
		want  bool
	}{
		{name: "subset", left: "a", right: "a b", want: true},
		{name: "equal", left: "a b", right: "a b", want: true},
		{name: "order irrelevant", left: "b a", right: "a b", want: true},
		{name: "not subset", left: "a c", right: "a b", want: false},
		{name: "empty is subset", left: "", right: "a b", want: true},
		{name: "nothing subsets empty", left: "a", right: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MustParse(tt.left).SubsetOf(MustParse(tt.right))
			if got != tt.want {
				t.Errorf("%q.SubsetOf(%q) = %v, want %v", tt.left, tt.right, got, tt.want)
			}
		})
	}

	if !ab.Equal(MustParse("b a")) {
		t.Error("Equal should ignore token order")
	}
	if ab.Equal(MustParse("a")) {
		t.Error("Equal should require identical token sets")
	}
}

func TestContains(t *testing.T) {
	s := MustParse("read write")
	if !s.Contains("read") || !s.Contains("write") {
		t.Error("Contains should find present tokens")
	}
	if s.Contains("admin") {
		t.Error("Contains should not find absent tokens")
	}
	if s.Contains("rea") {
		t.Error("Contains must match whole tokens, not prefixes")
	}
}

func TestTokensCopy(t *testing.T) {
	s := MustParse("a b")
	toks := s.Tokens()
	toks[0] = "mutated"
	if s.String() != "a b" {
		t.Error("Tokens must return a copy, not the backing slice")
	}
}
