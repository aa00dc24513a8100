package pattern

import "testing"

func TestExact(t *testing.T) {
	var m Exact
	if !m.IsPattern("anything, even (unbalanced") {
		t.Fatal("exact matcher must accept every string")
	}
	ok, err := m.Match("job-1", "job-1")
	if err != nil || !ok {
		t.Fatalf("literal match failed: %v %v", ok, err)
	}
	ok, _ = m.Match("job", "job-1")
	if ok {
		t.Fatal("exact matcher matched a prefix")
	}
}

func TestRegexpAnchored(t *testing.T) {
	var m Regexp
	cases := []struct {
		pattern, id string
		want        bool
	}{
		{"a|b", "a", true},
		{"a|b", "b", true},
		{"a|b", "ab", false},
		{"a|b", "xa", false},
		{"job-.*", "job-1", true},
		{"job-.*", "myjob-1", false},
		{"job-1", "job-1", true},
	}
	for _, tc := range cases {
		got, err := m.Match(tc.pattern, tc.id)
		if err != nil {
			t.Fatalf("Match(%q, %q): %v", tc.pattern, tc.id, err)
		}
		if got != tc.want {
			t.Fatalf("Match(%q, %q) = %v, want %v", tc.pattern, tc.id, got, tc.want)
		}
	}
}

func TestRegexpInvalid(t *testing.T) {
	var m Regexp
	if m.IsPattern("(unclosed") {
		t.Fatal("invalid regex accepted")
	}
	if _, err := m.Match("(unclosed", "x"); err == nil {
		t.Fatal("Match with invalid regex returned no error")
	}
}
