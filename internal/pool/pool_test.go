package pool

import "testing"

func TestGetAllocatesWhenEmpty(t *testing.T) {
	p := New(2, 16)
	b := p.Get()
	if len(b) != 0 || cap(b) != 16 {
		t.Fatalf("expected len 0 cap 16, got len=%d cap=%d", len(b), cap(b))
	}
}

func TestPutReuse(t *testing.T) {
	p := New(2, 16)
	b := p.Get()
	b = append(b, 1, 2, 3)
	p.Put(b)
	if p.Len() != 1 {
		t.Fatalf("expected 1 retained buffer, got %d", p.Len())
	}
	b2 := p.Get()
	if len(b2) != 0 {
		t.Fatalf("expected reused buffer to be cleared, got len=%d", len(b2))
	}
	if p.Len() != 0 {
		t.Fatalf("expected pool drained after Get, got %d", p.Len())
	}
}

func TestPutDropsWhenFull(t *testing.T) {
	p := New(1, 16)
	p.Put(make([]byte, 4))
	p.Put(make([]byte, 4))
	if p.Len() != 1 {
		t.Fatalf("expected pool capped at 1, got %d", p.Len())
	}
}

func TestSetMaxTrims(t *testing.T) {
	p := New(4, 16)
	p.Put(make([]byte, 4))
	p.Put(make([]byte, 4))
	p.Put(make([]byte, 4))
	p.SetMax(1)
	if p.Len() != 1 {
		t.Fatalf("expected pool trimmed to 1, got %d", p.Len())
	}
}

func TestMaxReflectsSetMax(t *testing.T) {
	p := New(4, 16)
	if p.Max() != 4 {
		t.Fatalf("expected initial max 4, got %d", p.Max())
	}
	p.SetMax(10)
	if p.Max() != 10 {
		t.Fatalf("expected max 10 after SetMax, got %d", p.Max())
	}
}

func TestGetNeverBlocksOnEmptyPool(t *testing.T) {
	p := New(0, 8)
	for i := 0; i < 100; i++ {
		b := p.Get()
		p.Put(b)
	}
	if p.Len() != 0 {
		t.Fatalf("expected zero-cap pool to retain nothing, got %d", p.Len())
	}
}
