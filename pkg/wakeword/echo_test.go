package wakeword

import "testing"

func TestEchoGuardDetectsRecentlyPlayedAudio(t *testing.T) {
	g := NewEchoGuard(16000, 2)
	tone := sineFrame(960, 5000)

	g.RecordPlayed(tone)

	if !g.IsEcho(tone) {
		t.Fatal("expected identical recently-played audio to be classified as echo")
	}
}

func TestEchoGuardIgnoresUnrelatedAudio(t *testing.T) {
	g := NewEchoGuard(16000, 2)
	g.RecordPlayed(sineFrame(960, 5000))

	unrelated := make([]int16, 960)
	for i := range unrelated {
		if i%7 == 0 {
			unrelated[i] = 3000
		} else if i%5 == 0 {
			unrelated[i] = -2000
		}
	}

	if g.IsEcho(unrelated) {
		t.Fatal("expected uncorrelated audio not to be classified as echo")
	}
}

func TestEchoGuardSilenceGateExpires(t *testing.T) {
	g := NewEchoGuard(16000, 2)
	tone := sineFrame(960, 5000)
	g.RecordPlayed(tone)
	g.silenceGate = 0 // force immediate expiry without sleeping in the test

	if g.IsEcho(tone) {
		t.Fatal("expected echo classification to expire once the silence gate has passed")
	}
}

func TestEchoGuardClearResetsWindow(t *testing.T) {
	g := NewEchoGuard(16000, 2)
	tone := sineFrame(960, 5000)
	g.RecordPlayed(tone)
	g.Clear()

	if g.IsEcho(tone) {
		t.Fatal("expected no echo detection after Clear")
	}
}

func TestEchoGuardDisabled(t *testing.T) {
	g := NewEchoGuard(16000, 2)
	tone := sineFrame(960, 5000)
	g.RecordPlayed(tone)
	g.SetEnabled(false)

	if g.IsEcho(tone) {
		t.Fatal("expected disabled guard never to report echo")
	}
}
