package event

import "testing"

type recorder struct {
	fired     []int64
	aborted   int
	deletable bool
	abort     bool
}

func (r *recorder) OnExecute(diff int64) { r.fired = append(r.fired, diff) }
func (r *recorder) IsDeletable() bool    { return r.deletable }
func (r *recorder) ToAbort() bool        { return r.abort }
func (r *recorder) OnAbort()             { r.aborted++ }

// seqRecorder additionally appends its id to a shared log when it fires,
// so tests can check the firing order across events.
type seqRecorder struct {
	recorder
	id  int
	log *[]int
}

func (s *seqRecorder) OnExecute(diff int64) {
	s.recorder.OnExecute(diff)
	*s.log = append(*s.log, s.id)
}

func TestUpdateFiresDueBucketOnce(t *testing.T) {
	p := New(0)
	r := &recorder{deletable: true}
	p.Add(r, 500)

	p.Update(400)
	if len(r.fired) != 0 {
		t.Fatalf("expected no fire before due time, got %v", r.fired)
	}

	p.Update(500)
	if len(r.fired) != 1 || r.fired[0] != 500 {
		t.Fatalf("expected single fire with diff=500, got %v", r.fired)
	}

	p.Update(600)
	if len(r.fired) != 1 {
		t.Fatalf("deletable event fired again: %v", r.fired)
	}
	if !p.IsEmpty() {
		t.Fatal("expected processor empty after deletable event fires")
	}
}

func TestUpdateReArmsNonDeletableEvent(t *testing.T) {
	p := New(0)
	r := &recorder{deletable: false}
	p.Add(r, 100)

	p.Update(100)
	if len(r.fired) != 1 {
		t.Fatalf("expected one fire, got %d", len(r.fired))
	}
	if p.IsEmpty() {
		t.Fatal("expected re-armed event to remain scheduled")
	}

	// Re-armed at 100+100=200; a jump straight to 250 yields diff=(250-200)+100=150.
	p.Update(250)
	if len(r.fired) != 2 {
		t.Fatalf("expected second fire, got %d", len(r.fired))
	}
	if r.fired[1] != 150 {
		t.Fatalf("expected re-arm diff 150, got %d", r.fired[1])
	}
}

func TestUpdateAbortsInsteadOfFiring(t *testing.T) {
	p := New(0)
	r := &recorder{deletable: true, abort: true}
	p.Add(r, 10)

	p.Update(10)
	if len(r.fired) != 0 {
		t.Fatalf("expected no OnExecute call, got %v", r.fired)
	}
	if r.aborted != 1 {
		t.Fatalf("expected OnAbort called once, got %d", r.aborted)
	}
	if !p.IsEmpty() {
		t.Fatal("expected aborted event dropped from schedule")
	}
}

func TestUpdateFiresMultipleDueBucketsInOrder(t *testing.T) {
	p := New(0)
	var order []int
	first := &seqRecorder{recorder: recorder{deletable: true}, id: 1, log: &order}
	second := &seqRecorder{recorder: recorder{deletable: true}, id: 2, log: &order}
	p.Add(first, 10)
	p.Add(second, 20)

	p.Update(100)
	if len(first.fired) != 1 || len(second.fired) != 1 {
		t.Fatalf("expected both buckets to fire, got first=%v second=%v", first.fired, second.fired)
	}
	// diff = (now - key) + delay: (100-10)+10 and (100-20)+20.
	if first.fired[0] != 100 || second.fired[0] != 100 {
		t.Fatalf("unexpected diffs: first=%d second=%d", first.fired[0], second.fired[0])
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected bucket 10 to fire before bucket 20, got order %v", order)
	}
}

func TestUpdateFifoWithinBucket(t *testing.T) {
	p := New(0)
	var order []int
	mk := func(id int) *seqRecorder {
		return &seqRecorder{recorder: recorder{deletable: true}, id: id, log: &order}
	}
	a, b, c := mk(1), mk(2), mk(3)
	p.Add(a, 50)
	p.Add(b, 50)
	p.Add(c, 50)

	p.Update(50)
	for i, r := range []*seqRecorder{a, b, c} {
		if len(r.fired) != 1 {
			t.Fatalf("event %d did not fire", i)
		}
	}
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected FIFO order [1 2 3], got %v", order)
	}
}

func TestRemoveAllWithoutAbort(t *testing.T) {
	p := New(0)
	r := &recorder{deletable: false}
	p.Add(r, 10)

	p.RemoveAll(false)
	if !p.IsEmpty() {
		t.Fatal("expected processor empty after RemoveAll")
	}
	if r.aborted != 0 {
		t.Fatal("expected no OnAbort calls when abort=false")
	}
}

func TestRemoveAllWithAbort(t *testing.T) {
	p := New(0)
	r := &recorder{deletable: false}
	p.Add(r, 10)

	p.RemoveAll(true)
	if r.aborted != 1 {
		t.Fatalf("expected OnAbort called once, got %d", r.aborted)
	}
	if !p.IsEmpty() {
		t.Fatal("expected processor empty after RemoveAll")
	}
}

func TestIsEmptyOnFreshProcessor(t *testing.T) {
	p := New(1000)
	if !p.IsEmpty() {
		t.Fatal("expected fresh processor to be empty")
	}
}
