package util

import (
	"strings"
	"testing"
)

func TestSetKeyIgnoresOrderAndDuplicates(t *testing.T) {
	k1 := SetKey("batch:product", []string{"p3", "p1", "p4"})
	k2 := SetKey("batch:product", []string{"p1", "p3", "p3", "p4"})
	if k1 != k2 {
		t.Fatalf("set keys differ for equivalent sets: %q vs %q", k1, k2)
	}
	if !strings.HasPrefix(k1, "batch:product:") || len(k1) != len("batch:product:")+16 {
		t.Fatalf("unexpected key shape %q", k1)
	}
	if SetKey("batch:product", []string{"p1"}) == k1 {
		t.Fatalf("different sets must not collide")
	}
}

func TestUniqSortedDoesNotMutateInput(t *testing.T) {
	in := []string{"b", "a", "b"}
	got := UniqSorted(in)
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("got %v", got)
	}
	if in[0] != "b" || in[1] != "a" || in[2] != "b" {
		t.Fatalf("input mutated: %v", in)
	}
	if UniqSorted(nil) != nil {
		t.Fatalf("nil input should give nil")
	}
}
