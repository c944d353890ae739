package debounce

import (
	"sync"
	"testing"
	"time"
)

func concat(acc, fragment string) string { return acc + fragment }

func TestAggregator(t *testing.T) {
	t.Run("flushes after quiet period", func(t *testing.T) {
		var mu sync.Mutex
		var gotKey, gotValue string

		a := New(20*time.Millisecond, concat, func(key, value string) {
			mu.Lock()
			gotKey, gotValue = key, value
			mu.Unlock()
		})
		defer a.Stop()

		a.Add("call-1", "hel")
		a.Add("call-1", "lo")

		time.Sleep(60 * time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		if gotKey != "call-1" || gotValue != "hello" {
			t.Errorf("flushed (%q, %q), want (call-1, hello)", gotKey, gotValue)
		}
	})

	t.Run("arrival resets the timer", func(t *testing.T) {
		var mu sync.Mutex
		flushes := 0

		a := New(40*time.Millisecond, concat, func(string, string) {
			mu.Lock()
			flushes++
			mu.Unlock()
		})
		defer a.Stop()

		for i := 0; i < 4; i++ {
			a.Add("k", "x")
			time.Sleep(15 * time.Millisecond) // inside the window
		}

		mu.Lock()
		early := flushes
		mu.Unlock()
		if early != 0 {
			t.Errorf("flushed %d times while fragments kept arriving", early)
		}

		time.Sleep(80 * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		if flushes != 1 {
			t.Errorf("expected exactly one flush, got %d", flushes)
		}
	})

	t.Run("keys are independent", func(t *testing.T) {
		var mu sync.Mutex
		got := map[string]string{}

		a := New(20*time.Millisecond, concat, func(key, value string) {
			mu.Lock()
			got[key] = value
			mu.Unlock()
		})
		defer a.Stop()

		a.Add("a", "1")
		a.Add("b", "2")
		time.Sleep(60 * time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		if got["a"] != "1" || got["b"] != "2" {
			t.Errorf("per-key values wrong: %v", got)
		}
	})

	t.Run("clear cancels pending flush", func(t *testing.T) {
		var mu sync.Mutex
		flushed := false

		a := New(20*time.Millisecond, concat, func(string, string) {
			mu.Lock()
			flushed = true
			mu.Unlock()
		})
		defer a.Stop()

		a.Add("k", "stale")
		a.Clear("k")
		time.Sleep(60 * time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		if flushed {
			t.Error("cleared key still flushed")
		}
	})

	t.Run("stop silences everything", func(t *testing.T) {
		var mu sync.Mutex
		flushed := false

		a := New(20*time.Millisecond, concat, func(string, string) {
			mu.Lock()
			flushed = true
			mu.Unlock()
		})

		a.Add("k", "x")
		a.Stop()
		a.Add("k", "y") // ignored after Stop
		time.Sleep(60 * time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		if flushed {
			t.Error("flush fired after Stop")
		}
		if a.Pending("k") {
			t.Error("pending state survived Stop")
		}
	})

	t.Run("stale timer cannot flush a rearmed key", func(t *testing.T) {
		var mu sync.Mutex
		flushes := 0

		a := New(20*time.Millisecond, concat, func(string, string) {
			mu.Lock()
			flushes++
			mu.Unlock()
		})
		defer a.Stop()

		// Simulate a timer that fired just as Add rearmed the key: the
		// fired callback runs with the old generation and must not
		// deliver the new fragment early.
		a.Add("k", "fresh")
		a.flush("k", 0)

		mu.Lock()
		early := flushes
		mu.Unlock()
		if early != 0 {
			t.Errorf("stale flush delivered %d times", early)
		}
		if !a.Pending("k") {
			t.Error("stale flush consumed the pending value")
		}

		time.Sleep(60 * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		if flushes != 1 {
			t.Errorf("expected one flush after the full window, got %d", flushes)
		}
	})

	t.Run("byte slices accumulate in order", func(t *testing.T) {
		var mu sync.Mutex
		var got []byte

		a := New(20*time.Millisecond,
			func(acc, fragment []byte) []byte { return append(acc, fragment...) },
			func(_ string, value []byte) {
				mu.Lock()
				got = value
				mu.Unlock()
			})
		defer a.Stop()

		a.Add("k", []byte{1, 2})
		a.Add("k", []byte{3})
		time.Sleep(60 * time.Millisecond)

		mu.Lock()
		defer mu.Unlock()
		if string(got) != string([]byte{1, 2, 3}) {
			t.Errorf("accumulated %v, want [1 2 3]", got)
		}
	})
}
