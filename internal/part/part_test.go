package part

import "testing"

func TestPartContains(t *testing.T) {
	cases := []struct {
		name     string
		outer    Part
		inner    Part
		expected bool
	}{
		{"exact match", Part{Left: 0, Right: 10}, Part{Left: 0, Right: 10}, true},
		{"strictly inside", Part{Left: 0, Right: 10}, Part{Left: 2, Right: 8}, true},
		{"left overhang", Part{Left: 1, Right: 10}, Part{Left: 0, Right: 10}, false},
		{"right overhang", Part{Left: 0, Right: 9}, Part{Left: 0, Right: 10}, false},
		{"disjoint", Part{Left: 0, Right: 5}, Part{Left: 6, Right: 10}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.outer.Contains(c.inner); got != c.expected {
				t.Errorf("%v.Contains(%v) = %v, want %v", c.outer, c.inner, got, c.expected)
			}
		})
	}
}

func TestParsePartName(t *testing.T) {
	left, right, err := ParsePartName("20210101_0_0_0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if left != 0 || right != 0 {
		t.Errorf("got (%d, %d), want (0, 0)", left, right)
	}

	left, right, err = ParsePartName("20210101_3_7_1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if left != 3 || right != 7 {
		t.Errorf("got (%d, %d), want (3, 7)", left, right)
	}

	// GreedyMerger's output names must round-trip through ParsePartName.
	left, right, err = ParsePartName("3_7_1")
	if err != nil {
		t.Fatalf("unexpected error parsing merged name: %v", err)
	}
	if left != 3 || right != 7 {
		t.Errorf("got (%d, %d), want (3, 7)", left, right)
	}

	if _, _, err := ParsePartName("nonsense"); err == nil {
		t.Error("expected error for a name with too few fields")
	}
	if _, _, err := ParsePartName("20210101_x_0_0"); err == nil {
		t.Error("expected error for a non-numeric left field")
	}
}
