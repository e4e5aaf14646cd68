package arena

import "testing"

func TestFreeAreaRunsCleanupsAboveTag(t *testing.T) {
	a := New()
	var freed []string

	base := a.Current()
	h1, err := a.Tag(func() { freed = append(freed, "h1") })
	if err != nil {
		t.Fatal(err)
	}

	deeper := a.Enter()
	h2, err := a.Alloc(deeper, func() { freed = append(freed, "h2") })
	if err != nil {
		t.Fatal(err)
	}

	a.FreeArea(deeper)

	if _, ok := a.AreaOf(h2); ok {
		t.Fatal("h2 should have been freed")
	}
	if _, ok := a.AreaOf(h1); !ok {
		t.Fatal("h1 tagged with an outer area must survive FreeArea(deeper)")
	}
	if len(freed) != 1 || freed[0] != "h2" {
		t.Fatalf("expected only h2's cleanup to run, got %v", freed)
	}

	a.FreeArea(base)
	if len(freed) != 2 {
		t.Fatalf("expected h1's cleanup to run too, got %v", freed)
	}
	if a.LiveCount(base) != 0 {
		t.Fatalf("expected no live allocations after FreeArea(base), got %d", a.LiveCount(base))
	}
}

func TestAllocFailsPastMaxLive(t *testing.T) {
	a := New()
	a.SetMaxLive(2)
	if _, err := a.Tag(nil); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Tag(nil); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Tag(nil); err != ErrTooComplicated {
		t.Fatalf("expected ErrTooComplicated, got %v", err)
	}
}

func TestEnterAdvancesCurrentArea(t *testing.T) {
	a := New()
	start := a.Current()
	next := a.Enter()
	if next <= start {
		t.Fatalf("Enter must strictly increase the area number: %d -> %d", start, next)
	}
}
