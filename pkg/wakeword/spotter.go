package wakeword

import (
	"fmt"
	"sync"
	"time"
)

// MinRestartGap is the minimum time between successive recognizer
// restarts after a detection (spec §4.9: "restarts are rate-limited (>=
// 50 ms gap)").
const MinRestartGap = 50 * time.Millisecond

// RecognizerErrorBackoff is the delay before retrying a Recognizer that
// failed with an error, distinct from the post-detection MinRestartGap
// (spec §7: "recognizer is paused, delayed for 300ms, restarted").
const RecognizerErrorBackoff = 300 * time.Millisecond

// MaxConsecutiveFailures is how many rebuild attempts in a row may fail
// before keyword spotting disables itself (spec §7: "if three consecutive
// restarts fail, keyword spotting is disabled").
const MaxConsecutiveFailures = 3

// Recognizer is one keyword-spotting engine instance. Feed submits a
// capture frame for evaluation; typical SDKs terminate (become unusable)
// after a single match, which is why Spotter discards and rebuilds the
// Recognizer via Factory rather than calling Feed again after a hit.
type Recognizer interface {
	Feed(frame []int16) (detected bool, err error)
}

// Factory constructs a fresh Recognizer, called once at startup and again
// after every detection or recoverable error.
type Factory func() (Recognizer, error)

// Spotter is the wake-word coordinator of spec §4.9: it owns a capture
// subscription, feeds frames to the current Recognizer, and on every
// detection or error discards it and builds a replacement — serialized by
// a single-permit semaphore and rate-limited to MinRestartGap — so a
// crashed or exhausted recognizer handle is never reused.
type Spotter struct {
	mu                  sync.Mutex
	factory             Factory
	recognizer          Recognizer
	paused              bool
	disabled            bool
	lastRestart         time.Time
	consecutiveFailures int
	onError             func(error)

	frames      <-chan []int16
	unsubscribe func()

	restartSem chan struct{}
	detected   chan struct{}
	stop       chan struct{}
	wg         sync.WaitGroup
}

// NewSpotter builds and starts a Spotter reading frames from the given
// subscription, using factory to create recognizer instances. onError is
// called at most once, the moment MaxConsecutiveFailures consecutive
// rebuilds fail (including the very first one); it may be nil. A failing
// initial build does not fail construction: the spotter starts disarmed
// and retries itself through the same error-recovery path as a runtime
// failure.
func NewSpotter(factory Factory, frames <-chan []int16, unsubscribe func(), onError func(error)) (*Spotter, error) {
	s := &Spotter{
		factory:     factory,
		frames:      frames,
		unsubscribe: unsubscribe,
		onError:     onError,
		restartSem:  make(chan struct{}, 1),
		detected:    make(chan struct{}, 1),
		stop:        make(chan struct{}),
	}

	s.wg.Add(1)
	go s.run()

	if rec, err := factory(); err != nil {
		s.mu.Lock()
		s.consecutiveFailures = 1
		s.mu.Unlock()
		s.restart(true, err)
	} else {
		s.recognizer = rec
	}

	return s, nil
}

// Detected signals KeywordDetected; one pending notification is retained
// if the consumer is slow (non-blocking send).
func (s *Spotter) Detected() <-chan struct{} {
	return s.detected
}

// Pause idempotently stops feeding frames to the recognizer.
func (s *Spotter) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

// Resume idempotently resumes feeding frames to the recognizer.
func (s *Spotter) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
}

// Paused reports the current pause state.
func (s *Spotter) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused
}

// UpdateAudioSource swaps the underlying capture subscription without
// losing position: the run loop picks up the new channel on its next
// iteration, the old subscription's unsubscribe func is invoked, and no
// frames already queued in the new channel are discarded.
func (s *Spotter) UpdateAudioSource(frames <-chan []int16, unsubscribe func()) {
	s.mu.Lock()
	old := s.unsubscribe
	s.frames = frames
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	if old != nil {
		old()
	}
}

func (s *Spotter) currentFrames() <-chan []int16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

func (s *Spotter) run() {
	defer s.wg.Done()

	for {
		ch := s.currentFrames()
		select {
		case <-s.stop:
			return
		case frame, ok := <-ch:
			if !ok {
				if s.currentFrames() != ch {
					continue // the source was swapped by UpdateAudioSource
				}
				return
			}
			s.handleFrame(frame)
		}
	}
}

func (s *Spotter) handleFrame(frame []int16) {
	s.mu.Lock()
	paused := s.paused
	rec := s.recognizer
	s.mu.Unlock()

	if paused || rec == nil {
		return
	}

	detected, err := rec.Feed(frame)
	if err != nil {
		s.restart(true, err)
		return
	}
	if detected {
		select {
		case s.detected <- struct{}{}:
		default:
		}
		s.restart(false, nil)
	}
}

// restart discards the current recognizer and schedules a replacement,
// serialized through restartSem so at most one rebuild is ever in flight
// (spec §4.9: "serialized by a single-permit semaphore to avoid handle
// exhaustion"). isError distinguishes a Recognizer.Feed failure (spec §7's
// RecognizerError policy: RecognizerErrorBackoff delay, counted toward
// MaxConsecutiveFailures) from a plain post-detection rebuild (spec
// §4.9's MinRestartGap, never counted as a failure).
func (s *Spotter) restart(isError bool, cause error) {
	s.mu.Lock()
	if s.disabled {
		s.mu.Unlock()
		return
	}
	s.recognizer = nil
	s.mu.Unlock()

	select {
	case s.restartSem <- struct{}{}:
	default:
		// A rebuild is already in flight; it will pick up the latest state.
		return
	}

	go func() {
		defer func() { <-s.restartSem }()
		s.rebuildLoop(isError, cause)
	}()
}

// rebuildLoop retries factory() until it succeeds, the spotter disables
// itself after MaxConsecutiveFailures, or Close stops the spotter.
func (s *Spotter) rebuildLoop(isError bool, cause error) {
	for {
		s.mu.Lock()
		wait := MinRestartGap - time.Since(s.lastRestart)
		if isError {
			wait = RecognizerErrorBackoff
		}
		s.mu.Unlock()
		if wait > 0 {
			select {
			case <-time.After(wait):
			case <-s.stop:
				return
			}
		}

		rec, err := s.factory()

		s.mu.Lock()
		s.lastRestart = time.Now()
		if err == nil {
			s.recognizer = rec
			s.consecutiveFailures = 0
			s.mu.Unlock()
			return
		}

		s.consecutiveFailures++
		failures := s.consecutiveFailures
		cause = err
		if failures >= MaxConsecutiveFailures {
			s.disabled = true
			onError := s.onError
			s.mu.Unlock()
			if onError != nil {
				onError(fmt.Errorf("wakeword: recognizer disabled after %d consecutive failures: %w", failures, cause))
			}
			return
		}
		isError = true
		s.mu.Unlock()
	}
}

// Close stops the run loop and releases the capture subscription.
func (s *Spotter) Close() {
	close(s.stop)
	s.wg.Wait()

	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}
