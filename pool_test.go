package uvloop

import "testing"

func TestWriteRequestPool_ReuseAndCap(t *testing.T) {
	p := newWriteRequestPool()
	reqs := make([]*writeRequest, 0, MaxPooledWriteReqs+10)
	for i := 0; i < MaxPooledWriteReqs+10; i++ {
		reqs = append(reqs, p.take())
	}
	for _, r := range reqs {
		p.put(r)
	}
	if got := p.size(); got != MaxPooledWriteReqs {
		t.Fatalf("expected pool capped at %d, got %d", MaxPooledWriteReqs, got)
	}
}

func TestWriteRequestPool_TakeReusesReturnedRequest(t *testing.T) {
	p := newWriteRequestPool()
	req := p.take()
	req.inFlight = true
	p.put(req)
	got := p.take()
	if got != req {
		t.Fatal("expected take() to return the most recently returned request")
	}
	if got.inFlight {
		t.Fatal("expected put() to clear inFlight")
	}
}

func TestWriteRequestPool_DisposeDropsFreeList(t *testing.T) {
	p := newWriteRequestPool()
	p.put(p.take())
	p.dispose()
	if got := p.size(); got != 0 {
		t.Fatalf("expected size 0 after dispose, got %d", got)
	}
	p.put(&writeRequest{})
	if got := p.size(); got != 0 {
		t.Fatalf("expected put after dispose to be a no-op, got size %d", got)
	}
}
