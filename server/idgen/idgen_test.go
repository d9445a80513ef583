package idgen

import (
	"regexp"
	"sync"
	"testing"
)

func TestNewFormat(t *testing.T) {
	id := New()

	if len(id) != 20 {
		t.Errorf("expected ID length 20, got %d (%s)", len(id), id)
	}

	matched, err := regexp.MatchString(`^[a-z2-7]+$`, id)
	if err != nil {
		t.Fatalf("error matching regex: %v", err)
	}
	if !matched {
		t.Errorf("ID is not lowercase base32: %s", id)
	}
}

func TestUniqueness(t *testing.T) {
	count := 10000
	ids := make(map[string]struct{}, count)

	for i := 0; i < count; i++ {
		id := New()
		if _, exists := ids[id]; exists {
			t.Errorf("duplicate ID: %s", id)
		}
		ids[id] = struct{}{}
	}
}

func TestConcurrentGeneration(t *testing.T) {
	const workers = 8
	const perWorker = 500

	var mu sync.Mutex
	seen := make(map[string]struct{}, workers*perWorker)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				id := New()
				mu.Lock()
				seen[id] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker {
		t.Errorf("expected %d unique IDs, got %d", workers*perWorker, len(seen))
	}
}
