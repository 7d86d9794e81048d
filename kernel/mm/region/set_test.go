package region

import "testing"

func TestSetInsertCoalesces(t *testing.T) {
	specs := []struct {
		insert []r32
		exp    []r32
	}{
		// disjoint members stay sorted
		{
			[]r32{New[uint32](0x5000, 0x6000), New[uint32](0x1000, 0x2000)},
			[]r32{New[uint32](0x1000, 0x2000), New[uint32](0x5000, 0x6000)},
		},
		// adjacent members merge
		{
			[]r32{New[uint32](0x1000, 0x2000), New[uint32](0x2000, 0x3000)},
			[]r32{New[uint32](0x1000, 0x3000)},
		},
		// a region bridging two members merges all three
		{
			[]r32{New[uint32](0x1000, 0x2000), New[uint32](0x3000, 0x4000), New[uint32](0x1800, 0x3800)},
			[]r32{New[uint32](0x1000, 0x4000)},
		},
		// a region touching both members merges all three
		{
			[]r32{New[uint32](0x1000, 0x2000), New[uint32](0x3000, 0x4000), New[uint32](0x2000, 0x3000)},
			[]r32{New[uint32](0x1000, 0x4000)},
		},
		// a covering region swallows every member
		{
			[]r32{New[uint32](0x1000, 0x2000), New[uint32](0x3000, 0x4000), New[uint32](0x6000, 0x7000), ToEnd[uint32](0x800)},
			[]r32{ToEnd[uint32](0x800)},
		},
		// empty regions are ignored
		{
			[]r32{New[uint32](0x1000, 0x1000)},
			nil,
		},
	}

	for specIndex, spec := range specs {
		var s Set[uint32]
		for _, r := range spec.insert {
			s.Insert(r)
		}

		if got := s.Regions(); !regionsEqual(got, spec.exp) {
			t.Errorf("[spec %d] expected %v; got %v", specIndex, spec.exp, got)
		}
	}
}

func TestSetInsertKeepsInvariant(t *testing.T) {
	var s Set[uint32]
	for i := uint32(0); i < 64; i++ {
		start := (i * 0x7919) % 0x40000
		s.Insert(New(start&^0xfff, (start&^0xfff)+0x1000*(1+i%3)))
	}

	for i := 1; i < s.Len(); i++ {
		prev, cur := s.At(i-1), s.At(i)
		if !prev.Less(cur) {
			t.Fatalf("members %s and %s are out of order", prev, cur)
		}
		if prev.Overlaps(cur) || prev.IsAdjacent(cur) {
			t.Fatalf("members %s and %s were not coalesced", prev, cur)
		}
	}
}

func TestSetRemove(t *testing.T) {
	s := NewSet(New[uint32](0x1000, 0x4000), New[uint32](0x6000, 0x8000))
	s.Remove(New[uint32](0x2000, 0x7000))

	exp := []r32{New[uint32](0x1000, 0x2000), New[uint32](0x7000, 0x8000)}
	if got := s.Regions(); !regionsEqual(got, exp) {
		t.Fatalf("expected %v; got %v", exp, got)
	}

	s.Remove(New[uint32](0x0, 0x10000))
	if !s.IsEmpty() {
		t.Fatalf("expected set to be empty; got %s", s)
	}
}

func TestSetContains(t *testing.T) {
	s := NewSet(New[uint32](0x1000, 0x2000), New[uint32](0x4000, 0x5000), ToEnd[uint32](0xf0000000))
	specs := []struct {
		addr uint32
		exp  bool
	}{
		{0x0, false},
		{0x1000, true},
		{0x2000, false},
		{0x4fff, true},
		{0x5000, false},
		{0xffffffff, true},
	}

	for specIndex, spec := range specs {
		if got := s.Contains(spec.addr); got != spec.exp {
			t.Errorf("[spec %d] expected Contains(0x%x) to return %t", specIndex, spec.addr, spec.exp)
		}
	}

	if !s.Overlaps(New[uint32](0x1800, 0x4800)) || s.Overlaps(New[uint32](0x2000, 0x4000)) {
		t.Error("unexpected Overlaps result")
	}
}

func TestSetAlgebra(t *testing.T) {
	a := NewSet(New[uint32](0x1000, 0x3000), New[uint32](0x5000, 0x7000))
	b := NewSet(New[uint32](0x2000, 0x6000))

	specs := []struct {
		got Set[uint32]
		exp []r32
	}{
		{a.Union(b), []r32{New[uint32](0x1000, 0x7000)}},
		{a.Intersect(b), []r32{New[uint32](0x2000, 0x3000), New[uint32](0x5000, 0x6000)}},
		{a.Difference(b), []r32{New[uint32](0x1000, 0x2000), New[uint32](0x6000, 0x7000)}},
		{a.Complement(), []r32{New[uint32](0, 0x1000), New[uint32](0x3000, 0x5000), ToEnd[uint32](0x7000)}},
		{a.IntersectRegion(New[uint32](0x2800, 0x5800)), []r32{New[uint32](0x2800, 0x3000), New[uint32](0x5000, 0x5800)}},
		{Set[uint32]{}.Complement(), []r32{Full[uint32]()}},
	}

	for specIndex, spec := range specs {
		if got := spec.got.Regions(); !regionsEqual(got, spec.exp) {
			t.Errorf("[spec %d] expected %v; got %v", specIndex, spec.exp, got)
		}
	}

	// Neither operand is modified.
	if a.Len() != 2 || b.Len() != 1 {
		t.Fatal("set algebra modified its operands")
	}

	if got := a.Complement().Complement(); !got.Equal(a) {
		t.Fatalf("expected double complement to yield %s; got %s", a, got)
	}
}

func TestSetString(t *testing.T) {
	s := NewSet(New[uint32](0x1000, 0x2000), ToEnd[uint32](0x8000))
	if got, exp := s.String(), "{[0x1000, 0x2000), [0x8000, top]}"; got != exp {
		t.Fatalf("expected %q; got %q", exp, got)
	}
}

func regionsEqual(a, b []r32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
