package tacho

import (
	"sync"
	"testing"
)

func TestReadAndResetLosesNoPulses(t *testing.T) {
	var c Counter
	const writers, pulsesEach = 8, 5000

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < pulsesEach; j++ {
				c.Pulse()
			}
		}()
	}

	done := make(chan struct{})
	var total uint64
	go func() {
		defer close(done)
		for total < writers*pulsesEach {
			total += uint64(c.ReadAndReset())
		}
	}()
	wg.Wait()
	<-done
	total += uint64(c.ReadAndReset())

	if total != writers*pulsesEach {
		t.Fatalf("counted %d pulses, want %d", total, writers*pulsesEach)
	}
}

func TestAddAndPeek(t *testing.T) {
	var c Counter
	c.Add(7)
	c.Pulse()
	if c.Peek() != 8 {
		t.Fatalf("peek = %d", c.Peek())
	}
	if c.ReadAndReset() != 8 || c.ReadAndReset() != 0 {
		t.Fatal("read-and-reset should return the count once")
	}
}
