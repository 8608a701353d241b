package wakeword

import "testing"

func sineFrame(n int, amplitude int16) []int16 {
	out := make([]int16, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = amplitude
		} else {
			out[i] = -amplitude
		}
	}
	return out
}

func TestVADInertWhenInactive(t *testing.T) {
	v := DefaultVAD()
	loud := sineFrame(SubFrameSamples(16000), 1000)

	for i := 0; i < 10; i++ {
		if v.Process(loud) {
			t.Fatal("expected no interrupt while inactive")
		}
	}
}

func TestVADEmitsExactlyOncePerActivePeriod(t *testing.T) {
	v := DefaultVAD()
	v.SetActive(true)

	loud := sineFrame(SubFrameSamples(16000), 1000)

	triggered := 0
	for i := 0; i < DefaultSpeechWindow+10; i++ {
		if v.Process(loud) {
			triggered++
		}
	}
	if triggered != 1 {
		t.Fatalf("expected exactly one interrupt, got %d", triggered)
	}
}

func TestVADSilenceResetsCounter(t *testing.T) {
	v := DefaultVAD()
	v.SetActive(true)

	loud := sineFrame(SubFrameSamples(16000), 1000)
	silence := make([]int16, SubFrameSamples(16000))

	for i := 0; i < DefaultSpeechWindow-1; i++ {
		if v.Process(loud) {
			t.Fatal("should not trigger before the window is full")
		}
	}
	v.Process(silence) // resets the run

	for i := 0; i < DefaultSpeechWindow-1; i++ {
		if v.Process(loud) {
			t.Fatal("should not trigger again before a fresh full window")
		}
	}
	if !v.Process(loud) {
		t.Fatal("expected trigger once the window fills after reset")
	}
}

func TestVADStateChangeResetsLatch(t *testing.T) {
	v := DefaultVAD()
	v.SetActive(true)
	loud := sineFrame(SubFrameSamples(16000), 1000)

	for i := 0; i < DefaultSpeechWindow; i++ {
		v.Process(loud)
	}

	v.SetActive(false)
	v.SetActive(true)

	if v.Process(loud) {
		t.Fatal("first sub-frame after reactivation should not immediately trigger")
	}
	for i := 1; i < DefaultSpeechWindow-1; i++ {
		v.Process(loud)
	}
	if !v.Process(loud) {
		t.Fatal("expected a fresh trigger once the window fills after reactivation")
	}
}

func TestVADQuietNeverTriggers(t *testing.T) {
	v := DefaultVAD()
	v.SetActive(true)
	quiet := sineFrame(SubFrameSamples(16000), 10)

	for i := 0; i < 50; i++ {
		if v.Process(quiet) {
			t.Fatal("expected no interrupt for low-energy audio")
		}
	}
}
