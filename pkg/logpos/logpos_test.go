package logpos

import "testing"

func TestNameAndParseRoundTrip(t *testing.T) {
	pos := Position{Index: 1048576, Term: 7}
	name := pos.Name("snapshot")
	if name != "snapshot.1048576.7" {
		t.Fatalf("unexpected name: %s", name)
	}

	got, ok := Parse("snapshot", name)
	if !ok {
		t.Fatalf("Parse failed on %q", name)
	}
	if got != pos {
		t.Errorf("got %v, want %v", got, pos)
	}
}

func TestParseRejectsWrongPrefix(t *testing.T) {
	if _, ok := Parse("snapshot", "other.1.2"); ok {
		t.Error("expected Parse to reject a mismatched prefix")
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := []string{
		"snapshot.1",
		"snapshot.abc.2",
		"snapshot.1.abc",
		"snapshot.",
	}
	for _, c := range cases {
		if _, ok := Parse("snapshot", c); ok {
			t.Errorf("expected Parse(%q) to fail", c)
		}
	}
}

func TestLessComparesIndexOnly(t *testing.T) {
	a := Position{Index: 1, Term: 9}
	b := Position{Index: 2, Term: 0}
	if !a.Less(b) {
		t.Error("expected a < b by index")
	}
	if b.Less(a) {
		t.Error("expected b to not be less than a")
	}
}

func TestEqual(t *testing.T) {
	a := Position{Index: 5, Term: 2}
	b := Position{Index: 5, Term: 2}
	c := Position{Index: 5, Term: 3}
	if !a.Equal(b) {
		t.Error("expected equal positions to compare equal")
	}
	if a.Equal(c) {
		t.Error("expected differing terms to compare unequal")
	}
}
