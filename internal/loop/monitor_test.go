package loop

import "testing"

func TestMonitorFiresOncePerCrossing(t *testing.T) {
	var m Monitor
	samples := []struct {
		pos  float64
		want bool
	}{
		{9.0, false},
		{9.85, false},
		{9.91, true},
		{9.95, false},
		{10.0, false},
		{2.0, false},
		{9.92, true},
		{9.99, false},
	}
	for i, s := range samples {
		if got := m.Observe(s.pos, 10); got != s.want {
			t.Errorf("sample %d (pos %f): got %v, want %v", i, s.pos, got, s.want)
		}
	}
}

func TestMonitorReset(t *testing.T) {
	var m Monitor
	if !m.Observe(10, 10) {
		t.Fatal("first crossing should fire")
	}
	m.Reset()
	if !m.Observe(10, 10) {
		t.Errorf("crossing after Reset should fire again")
	}
}
