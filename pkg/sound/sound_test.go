package sound

import (
	"testing"

	"github.com/edaniels/golog"

	"github.com/lawndon/go-controller/pkg/lawndon"
)

func TestSoundFor(t *testing.T) {
	a := New("/sounds", golog.NewTestLogger(t))
	if got := a.SoundFor(lawndon.LocateFind); got != "/sounds/locate-find.wav" {
		t.Fatalf("got %q", got)
	}
}

func TestOnTransitionNeverBlocks(t *testing.T) {
	a := New("/sounds", golog.NewTestLogger(t))
	for i := 0; i < queueLen*3; i++ {
		a.OnTransition(lawndon.Off, lawndon.Remote)
	}
	if len(a.sounds) != queueLen {
		t.Fatalf("queued %d sounds", len(a.sounds))
	}
	if got := <-a.sounds; got != "/sounds/remote.wav" {
		t.Fatalf("got %q", got)
	}
}
