package audio

import "testing"

func TestPlayerOnSamplesDrainsQueueThenSilence(t *testing.T) {
	p := NewPlayer(16000, 1)
	p.queue = [][]int16{{1, 2, 3, 4}}

	out := make([]byte, 12) // 6 samples requested, only 4 buffered
	p.onSamples(out, nil, 6)

	got := bytesToInt16(out)
	want := []int16{1, 2, 3, 4, 0, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("sample %d: got %d want %d (full=%v)", i, got[i], want[i], got)
		}
	}
	if len(p.queue) != 0 || len(p.tail) != 0 {
		t.Fatalf("expected queue drained, got queue=%v tail=%v", p.queue, p.tail)
	}
}

func TestPlayerOnSamplesSplitsAcrossFrames(t *testing.T) {
	p := NewPlayer(16000, 1)
	p.queue = [][]int16{{1, 2}, {3, 4, 5}}

	out := make([]byte, 6) // 3 samples: all of frame 1, 1 of frame 2
	p.onSamples(out, nil, 3)

	got := bytesToInt16(out)
	if got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("unexpected samples: %v", got)
	}
	if len(p.tail) != 2 || p.tail[0] != 4 {
		t.Fatalf("expected remaining tail [4 5], got %v", p.tail)
	}
}

func TestPlayerBufferedCountsQueuedFrames(t *testing.T) {
	p := NewPlayer(16000, 1)
	p.queue = append(p.queue, []int16{1})
	if p.Buffered() != 1 {
		t.Fatalf("expected 1 buffered frame, got %d", p.Buffered())
	}
}

func TestPlayerStopWithoutDeviceDoesNotEmitStopped(t *testing.T) {
	p := NewPlayer(16000, 1)
	p.Stop() // never started; must be a no-op, not a spurious PlaybackStopped

	select {
	case <-p.Stopped():
		t.Fatal("expected no PlaybackStopped notification for a device that never started")
	default:
	}
}

func TestPlayerFlushClearsQueue(t *testing.T) {
	p := NewPlayer(16000, 1)
	p.queue = [][]int16{{1, 2}, {3, 4}}
	p.tail = []int16{5}

	p.Flush()

	if p.Buffered() != 0 || len(p.tail) != 0 {
		t.Fatal("expected flush to clear queue and tail")
	}
}
