package router

import "testing"

func TestRules_FirstMatchWins(t *testing.T) {
	r := MustRules(
		Rule{Pattern: "com.acme.*", Index: 1},
		Rule{Pattern: "com.*", Index: 2},
		Rule{Index: 0},
	)

	cases := map[string]int{
		"com.acme.Widget":      1,
		"com.acme.impl.Widget": 1,
		"com.other.Thing":      2,
		"org.other.Thing":      0,
	}
	for name, want := range cases {
		got, ok := r.Route(name)
		if !ok {
			t.Fatalf("Route(%q): expected a match", name)
		}
		if got != want {
			t.Fatalf("Route(%q) = %d, want %d", name, got, want)
		}
	}
}

func TestRules_NoFallbackReportsNoMatch(t *testing.T) {
	r := MustRules(Rule{Pattern: "com.acme.*", Index: 1})
	if _, ok := r.Route("org.other.Thing"); ok {
		t.Fatalf("expected no match for org.other.Thing")
	}
}

func TestRules_Deterministic(t *testing.T) {
	r := MustRules(Rule{Pattern: "com.acme.*", Index: 3}, Rule{Index: 0})
	first, _ := r.Route("com.acme.Widget")
	for i := 0; i < 100; i++ {
		got, _ := r.Route("com.acme.Widget")
		if got != first {
			t.Fatalf("iteration %d: got %d, want %d", i, got, first)
		}
	}
}

func TestNewRules_InvalidPattern(t *testing.T) {
	if _, err := NewRules(Rule{Pattern: "com.[acme", Index: 1}); err == nil {
		t.Fatalf("expected compile error")
	}
}

func TestTable_DefaultOnlyWhenConfigured(t *testing.T) {
	tbl := NewTable(map[string]int{"a/b/C.class": 2})
	if idx, ok := tbl.Route("a/b/C.class"); !ok || idx != 2 {
		t.Fatalf("Route exact = %d,%v", idx, ok)
	}
	if _, ok := tbl.Route("missing"); ok {
		t.Fatalf("expected no match without default")
	}
	withDefault := tbl.WithDefault(7)
	if idx, ok := withDefault.Route("missing"); !ok || idx != 7 {
		t.Fatalf("Route default = %d,%v", idx, ok)
	}
	if _, ok := tbl.Route("missing"); ok {
		t.Fatalf("WithDefault must not mutate the receiver")
	}
}

func TestClasses_ConvertsNames(t *testing.T) {
	tbl := NewTable(map[string]int{"a/b/C.class": 4, "a/b/C$D.class": 5})
	classes := Classes(tbl)

	if idx, ok := classes.Route("a.b.C"); !ok || idx != 4 {
		t.Fatalf("Route(a.b.C) = %d,%v", idx, ok)
	}
	if idx, ok := classes.Route("a.b.C$D"); !ok || idx != 5 {
		t.Fatalf("Route(a.b.C$D) = %d,%v", idx, ok)
	}
	if _, ok := classes.Route("a.b.E"); ok {
		t.Fatalf("expected no route for a.b.E")
	}
}

func TestClasses_FixedPassthrough(t *testing.T) {
	got := Classes(Fixed(0))
	if _, ok := got.(Fixed); !ok {
		t.Fatalf("expected Fixed router, got %T", got)
	}
}
