package ids

import (
	"sync"
	"testing"
)

func TestNewEventIDOrdering(t *testing.T) {
	const total = 100
	generated := make([]string, total)
	for i := 0; i < total; i++ {
		generated[i] = NewEventID()
	}

	for i := 0; i < total; i++ {
		if len(generated[i]) != 26 {
			t.Fatalf("expected ULID length 26, got %d", len(generated[i]))
		}
		if !Valid(generated[i]) {
			t.Fatalf("expected valid ULID, got %q", generated[i])
		}
	}

	for i := 1; i < total; i++ {
		if generated[i-1] >= generated[i] {
			t.Fatalf("expected IDs to be strictly increasing, %s >= %s", generated[i-1], generated[i])
		}
	}
}

func TestNewNotificationIDConcurrentUniqueness(t *testing.T) {
	const goroutines = 10
	const perGoroutine = 20

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]struct{})
	)

	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				id := NewNotificationID()
				if !Valid(id) {
					t.Errorf("expected valid ULID, got %q", id)
				}
				mu.Lock()
				if _, ok := seen[id]; ok {
					t.Errorf("duplicate ID generated: %s", id)
				} else {
					seen[id] = struct{}{}
				}
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	expected := goroutines * perGoroutine
	if len(seen) != expected {
		t.Fatalf("expected %d unique IDs, got %d", expected, len(seen))
	}
}

func TestValidRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "not-a-ulid", "0000000000000000000000000"} {
		if Valid(s) {
			t.Errorf("expected %q to be rejected", s)
		}
	}
}
