// Package sound announces state changes through the speaker.
package sound

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/edaniels/golog"
	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"

	"github.com/lawndon/go-controller/pkg/lawndon"
)

const queueLen = 4

// Annunciator plays <dir>/<state>.wav when the controller enters a state.  Sounds that
// arrive while the queue is full are dropped.
type Annunciator struct {
	dir    string
	logger golog.Logger
	sounds chan string
}

var _ lawndon.Observer = (*Annunciator)(nil)

func New(dir string, logger golog.Logger) *Annunciator {
	return &Annunciator{
		dir:    dir,
		logger: logger,
		sounds: make(chan string, queueLen),
	}
}

func (a *Annunciator) SoundFor(s lawndon.State) string {
	return filepath.Join(a.dir, s.String()+".wav")
}

func (a *Annunciator) OnTransition(from, to lawndon.State) {
	select {
	case a.sounds <- a.SoundFor(to):
	default:
		a.logger.Debugw("sound queue full, dropping", "state", to)
	}
}

// Loop plays queued sounds until ctx is done.  A newer sound cuts off the one playing.
func (a *Annunciator) Loop(ctx context.Context) {
	sampleRate := beep.SampleRate(44100)
	if err := speaker.Init(sampleRate, sampleRate.N(time.Second/5)); err != nil {
		a.logger.Warnw("failed to open speaker, sounds disabled", "error", err)
		a.drain(ctx)
		return
	}

	var ctrl *beep.Ctrl
	var s beep.StreamSeekCloser
	defer func() {
		if s != nil {
			s.Close()
		}
	}()
	for {
		var path string
		select {
		case <-ctx.Done():
			return
		case path = <-a.sounds:
		}
		if ctrl != nil {
			speaker.Lock()
			ctrl.Paused = true
			ctrl.Streamer = nil
			speaker.Unlock()
			ctrl = nil
		}
		if s != nil {
			s.Close()
			s = nil
		}

		f, err := os.Open(path)
		if err != nil {
			a.logger.Debugw("no sound", "path", path, "error", err)
			continue
		}
		s, _, err = wav.Decode(f)
		if err != nil {
			f.Close()
			a.logger.Warnw("failed to decode sound", "path", path, "error", err)
			continue
		}
		ctrl = &beep.Ctrl{Streamer: s}
		speaker.Play(ctrl)
	}
}

func (a *Annunciator) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-a.sounds:
			a.logger.Debugw("unable to play", "path", path)
		}
	}
}
