package uvloop

import "testing"

func TestSlabPool_GetReusesReturnedBuffer(t *testing.T) {
	p := NewSlabPool(64)
	b := p.Get(10)
	b.Data = append(b.Data, []byte("hi")...)
	p.Put(b)
	got := p.Get(10)
	if got != b {
		t.Fatal("expected Get to reuse the returned buffer")
	}
	if len(got.Data) != 0 {
		t.Fatalf("expected reused buffer to be reset, got len %d", len(got.Data))
	}
}

func TestSlabPool_GetOversizeAllocatesLargerBlock(t *testing.T) {
	p := NewSlabPool(16)
	b := p.Get(100)
	if cap(b.Data) < 100 {
		t.Fatalf("expected capacity >= 100, got %d", cap(b.Data))
	}
}

func TestSlabPool_DisposeDropsFreeList(t *testing.T) {
	p := NewSlabPool(16)
	p.Put(p.Get(8))
	if err := p.Dispose(); err != nil {
		t.Fatal(err)
	}
	b := p.Get(8)
	if cap(b.Data) < 8 {
		t.Fatalf("expected a fresh buffer after dispose, got cap %d", cap(b.Data))
	}
}
