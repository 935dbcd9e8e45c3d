package dedup

import (
	"sync"
	"testing"
	"time"
)

func TestKeyFoldsAccentsAndCase(t *testing.T) {
	date := time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)

	a := Key("Société Générale", "FAC-2026-001", 129.9, date)
	b := Key("societe  GENERALE", "fac-2026-001", 129.90, date)
	if a != b {
		t.Fatalf("keys differ:\n%s\n%s", a, b)
	}
}

func TestKeyRoundsTotal(t *testing.T) {
	date := time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)
	if Key("Acme", "A-1", 42.004, date) != Key("Acme", "A-1", 41.999, date) {
		t.Fatal("totals within a cent produce different keys")
	}
	if Key("Acme", "A-1", 42.00, date) == Key("Acme", "A-1", 42.01, date) {
		t.Fatal("distinct cent values collide")
	}
}

func TestKeyZeroDate(t *testing.T) {
	k := Key("Acme", "A-1", 42, time.Time{})
	if k != "acme|a-1|42.00|" {
		t.Fatalf("key = %q", k)
	}
}

func TestKeyConcurrentCallsAgree(t *testing.T) {
	date := time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC)
	want := Key("Société Générale", "FAC-2026-001", 129.9, date)

	const workers = 16
	var wg sync.WaitGroup
	bad := make(chan string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if got := Key("Société Générale", "FAC-2026-001", 129.9, date); got != want {
					bad <- got
					return
				}
			}
		}()
	}
	wg.Wait()
	close(bad)

	if got, ok := <-bad; ok {
		t.Fatalf("concurrent Key produced %q, want %q", got, want)
	}
}

func TestRegisterAndRelease(t *testing.T) {
	idx := NewIndex()
	if idx.Register("k1") {
		t.Fatal("first Register reported duplicate")
	}
	if !idx.Register("k1") {
		t.Fatal("second Register did not report duplicate")
	}
	idx.Release("k1")
	if idx.Register("k1") {
		t.Fatal("Register after Release reported duplicate")
	}
	if idx.Len() != 1 {
		t.Fatalf("Len = %d, want 1", idx.Len())
	}
}

func TestRegisterConcurrentSingleWinner(t *testing.T) {
	idx := NewIndex()
	const workers = 32

	var wg sync.WaitGroup
	winners := make(chan int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !idx.Register("same-key") {
				winners <- 1
			}
		}()
	}
	wg.Wait()
	close(winners)

	count := 0
	for range winners {
		count++
	}
	if count != 1 {
		t.Fatalf("winners = %d, want exactly 1", count)
	}
}
