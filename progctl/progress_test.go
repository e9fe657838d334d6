package progctl

import (
	"testing"
	"time"
)

func TestProgressInfoPercent(t *testing.T) {
	p := ProgressInfo{CurrentBytes: 50, TotalBytes: 200}
	if got := p.Percent(); got != 25 {
		t.Fatalf("Percent() = %v, want 25", got)
	}
	zero := ProgressInfo{}
	if got := zero.Percent(); got != 100 {
		t.Fatalf("Percent() of zero-length op = %v, want 100", got)
	}
}

func TestSinkEmitOrderAndUnsubscribe(t *testing.T) {
	var s Sink
	var seen []uint64
	unsub := s.OnProgress(func(p ProgressInfo) { seen = append(seen, p.CurrentBytes) })

	s.EmitProgress(ProgressInfo{CurrentBytes: 1})
	s.EmitProgress(ProgressInfo{CurrentBytes: 2})
	unsub()
	s.EmitProgress(ProgressInfo{CurrentBytes: 3})

	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Fatalf("seen = %v, want [1 2]", seen)
	}
}

func TestSinkStatusTerminal(t *testing.T) {
	var s Sink
	var transitions []Status
	s.OnStatus(func(st Status) { transitions = append(transitions, st) })
	s.EmitStatus(StatusRunning)
	s.EmitStatus(StatusCompleted)
	if len(transitions) != 2 || transitions[1] != StatusCompleted {
		t.Fatalf("transitions = %v", transitions)
	}
}

func TestProgressInfoSpeed(t *testing.T) {
	p := ProgressInfo{CurrentBytes: 1000, Elapsed: time.Second}
	if got := p.SpeedBytesPerSec(); got != 1000 {
		t.Fatalf("SpeedBytesPerSec() = %v, want 1000", got)
	}
}
