package pattern

import "testing"

func TestRegexp(t *testing.T) {
	tests := []struct {
		pat, want string
	}{
		{``, ``},
		{`foo`, `foo`},
		{`.`, `(?s)\.`},
		{`foo*`, `(?s)foo.*`},
		{`*foo`, `(?s).*foo`},
		{`fo?`, `(?s)fo.`},
		{`[abc]`, `(?s)[abc]`},
		{`[!abc]`, `(?s)[^abc]`},
		{`[[:digit:]]`, `(?s)[[:digit:]]`},
	}
	for _, tc := range tests {
		got, err := Regexp(tc.pat, 0)
		if err != nil {
			t.Errorf("Regexp(%q) error: %v", tc.pat, err)
			continue
		}
		if got != tc.want {
			t.Errorf("Regexp(%q) = %q, want %q", tc.pat, got, tc.want)
		}
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		pat, name string
		want      bool
	}{
		{"foo", "foo", true},
		{"foo", "foobar", false},
		{"foo*", "foobar", true},
		{"*.txt", "report.txt", true},
		{"*.txt", "report.txt.bak", false},
		{"[abc]", "a", true},
		{"[abc]", "d", false},
		{"[!abc]", "d", true},
		{"file?.go", "file1.go", true},
		{"file?.go", "file12.go", false},
	}
	for _, tc := range tests {
		got, err := Match(tc.pat, tc.name)
		if err != nil {
			t.Fatalf("Match(%q, %q) error: %v", tc.pat, tc.name, err)
		}
		if got != tc.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tc.pat, tc.name, got, tc.want)
		}
	}
}

func TestHasMeta(t *testing.T) {
	if HasMeta(`foo`) {
		t.Error("foo should have no meta")
	}
	if !HasMeta(`foo*`) {
		t.Error("foo* should have meta")
	}
	if HasMeta(`foo\*`) {
		t.Error("foo\\* has its meta escaped")
	}
}

func TestQuoteMeta(t *testing.T) {
	if got, want := QuoteMeta(`foo*bar?`), `foo\*bar\?`; got != want {
		t.Errorf("QuoteMeta = %q, want %q", got, want)
	}
	if got, want := QuoteMeta(`plain`), `plain`; got != want {
		t.Errorf("QuoteMeta = %q, want %q", got, want)
	}
}
