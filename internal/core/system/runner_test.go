package system

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stepFunc struct {
	phase Phase
	fn    func() error
}

func (s stepFunc) Phase() Phase { return s.phase }
func (s stepFunc) Update(context.Context, time.Duration) error {
	return s.fn()
}

func TestTickRunsInPhaseOrder(t *testing.T) {
	var order []Phase
	r := NewRunner()
	for _, p := range []Phase{PhaseReload, PhaseInput, PhaseRender, PhaseSimulate, PhaseUpload} {
		r.Register(stepFunc{p, func() error { order = append(order, p); return nil }})
	}
	if err := r.Tick(context.Background(), time.Millisecond); err != nil {
		t.Fatal(err)
	}
	for i, p := range order {
		if p != Phase(i) {
			t.Fatalf("order = %v", order)
		}
	}
}

func TestTickStopsAtFirstError(t *testing.T) {
	boom := errors.New("boom")
	ran := false
	r := NewRunner()
	r.Register(stepFunc{PhaseRender, func() error { ran = true; return nil }})
	r.Register(stepFunc{PhaseSimulate, func() error { return boom }})
	err := r.Tick(context.Background(), 0)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if ran {
		t.Fatal("later phase ran after error")
	}
}

func TestTickPhase(t *testing.T) {
	n := 0
	r := NewRunner()
	r.Register(stepFunc{PhaseInput, func() error { n++; return nil }})
	r.Register(stepFunc{PhaseRender, func() error { n += 10; return nil }})
	if err := r.TickPhase(context.Background(), PhaseInput, 0); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("n = %d", n)
	}
}
