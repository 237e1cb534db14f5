// Package uwb receives anchor ranges from the UWB tag bridge.  The bridge connects over
// TCP and sends one JSON object per line: {"links":[{"A":"1786","R":"3.2"}]}.
package uwb

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
)

const DefaultAddr = ":8080"

// Range is the latest distance to one anchor.
type Range struct {
	Anchor     string
	Distance   float64
	ReceivedAt time.Time
}

type report struct {
	Links []link `json:"links"`
}

type link struct {
	Anchor string `json:"A"`
	Range  string `json:"R"`
}

// Parse decodes one report line.
func Parse(line []byte, at time.Time) ([]Range, error) {
	var r report
	if err := json.Unmarshal(line, &r); err != nil {
		return nil, errors.Wrap(err, "uwb report")
	}
	ranges := make([]Range, 0, len(r.Links))
	for _, l := range r.Links {
		d, err := strconv.ParseFloat(l.Range, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "uwb range for anchor %q", l.Anchor)
		}
		if l.Anchor == "" || d < 0 {
			return nil, errors.Errorf("uwb bad link %+v", l)
		}
		ranges = append(ranges, Range{Anchor: l.Anchor, Distance: d, ReceivedAt: at})
	}
	return ranges, nil
}

// Listener accepts bridge connections and keeps the latest range per anchor.
type Listener struct {
	logger golog.Logger
	now    func() time.Time

	lock   sync.Mutex
	latest map[string]Range

	// Called with every good report, from the connection's goroutine.
	onReport func([]Range)

	ln     net.Listener
	stopWG sync.WaitGroup
	cancel context.CancelFunc
}

func New(logger golog.Logger) *Listener {
	return &Listener{
		logger: logger,
		now:    time.Now,
		latest: map[string]Range{},
	}
}

// Start listens on addr and serves connections until Stop.
func (l *Listener) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "uwb listen on %s", addr)
	}
	l.ln = ln
	var loopCtx context.Context
	loopCtx, l.cancel = context.WithCancel(ctx)
	l.stopWG.Add(1)
	go l.acceptLoop(loopCtx)
	go func() {
		<-loopCtx.Done()
		ln.Close()
	}()
	l.logger.Infow("uwb listening", "addr", ln.Addr().String())
	return nil
}

// OnReport sets a function to receive every report as it arrives.  Call it before Start.
func (l *Listener) OnReport(f func([]Range)) {
	l.onReport = f
}

func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *Listener) Stop() {
	if l.cancel == nil {
		return
	}
	l.cancel()
	l.stopWG.Wait()
}

func (l *Listener) acceptLoop(ctx context.Context) {
	defer l.stopWG.Done()
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() == nil {
				l.logger.Errorw("uwb accept failed", "error", err)
			}
			return
		}
		l.logger.Infow("uwb bridge connected", "remote", conn.RemoteAddr().String())
		l.stopWG.Add(1)
		go l.serve(ctx, conn)
	}
}

func (l *Listener) serve(ctx context.Context, conn net.Conn) {
	defer l.stopWG.Done()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		ranges, err := Parse(scanner.Bytes(), l.now())
		if err != nil {
			l.logger.Debugw("uwb bad report", "error", err)
			continue
		}
		l.Record(ranges)
		if l.onReport != nil {
			l.onReport(ranges)
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		l.logger.Warnw("uwb bridge read failed", "error", err)
	}
	l.logger.Infow("uwb bridge disconnected")
}

// Record stores ranges as the latest for their anchors.
func (l *Listener) Record(ranges []Range) {
	l.lock.Lock()
	defer l.lock.Unlock()
	for _, r := range ranges {
		l.latest[r.Anchor] = r
	}
}

// Ranges returns the latest range for every anchor heard from.
func (l *Listener) Ranges() []Range {
	l.lock.Lock()
	defer l.lock.Unlock()
	out := make([]Range, 0, len(l.latest))
	for _, r := range l.latest {
		out = append(out, r)
	}
	return out
}
