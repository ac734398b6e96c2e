package dos

import "testing"

// Mirrors rollo's dos_protection.rs test_evaluate_cmd table exactly.
func TestAdmitCmdSlidingWindow(t *testing.T) {
	a := New()
	cases := []struct {
		now  int64
		want bool
	}{
		{0, true},
		{900, false},
		{1900, true},
		{1901, false},
		{2901, true},
		{2905, false},
		{10000, true},
		{10001, false},
	}
	for _, c := range cases {
		got := a.AdmitCmd(10, 1, c.now)
		if got != c.want {
			t.Fatalf("AdmitCmd(now=%d) = %v, want %v", c.now, got, c.want)
		}
	}
}

func TestAdmitCmdFirstSightAlwaysAdmits(t *testing.T) {
	a := New()
	if !a.AdmitCmd(99, 0, 0) {
		t.Fatal("expected first sight of a cmd to always admit")
	}
}

// P4: at most amount_limit frames of one cmd accepted in any 1000ms window.
func TestAdmitCmdRateLimit(t *testing.T) {
	a := New()
	admitted := 0
	for i := 0; i < 8; i++ {
		if a.AdmitCmd(5, 5, 100) {
			admitted++
		}
	}
	if admitted != 5 {
		t.Fatalf("expected 5 admitted out of 8 back-to-back frames, got %d", admitted)
	}
}

// P5: global admission bounds both count and size within a 1000ms window.
func TestAdmitGlobalRateLimit(t *testing.T) {
	a := New()
	admitted := 0
	for i := 0; i < 16; i++ {
		if a.AdmitGlobal(100, 100, 5000, 10) {
			admitted++
		}
	}
	if admitted != 10 {
		t.Fatalf("expected 10 admitted out of 16 frames (amount limit), got %d", admitted)
	}
}

func TestAdmitGlobalSizeLimit(t *testing.T) {
	a := New()
	if !a.AdmitGlobal(0, 400, 500, 100) {
		t.Fatal("expected first frame within size limit to admit")
	}
	if a.AdmitGlobal(100, 400, 500, 100) {
		t.Fatal("expected second frame to exceed byte budget and be rejected")
	}
}

func TestAdmitGlobalWindowReset(t *testing.T) {
	a := New()
	for i := 0; i < 5; i++ {
		a.AdmitGlobal(0, 10, 100, 5)
	}
	if a.AdmitGlobal(0, 10, 100, 5) {
		t.Fatal("expected window to be exhausted")
	}
	if !a.AdmitGlobal(1001, 10, 100, 5) {
		t.Fatal("expected a fresh window 1001ms later to admit again")
	}
}
