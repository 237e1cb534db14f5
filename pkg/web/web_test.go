package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/edaniels/golog"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/pkg/errors"

	"github.com/lawndon/go-controller/pkg/faults"
	"github.com/lawndon/go-controller/pkg/hub"
	"github.com/lawndon/go-controller/pkg/lawndon"
	"github.com/lawndon/go-controller/pkg/locate"
	"github.com/lawndon/go-controller/pkg/uwb"
)

var t0 = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func newServer(t *testing.T) *Server {
	return New(DefaultConfig(), locate.DefaultConfig(), golog.NewTestLogger(t))
}

func get(t *testing.T, s *Server, path string, into interface{}) int {
	t.Helper()
	resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, path, nil))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if into != nil && resp.StatusCode == fiber.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
			t.Fatal(err)
		}
	}
	return resp.StatusCode
}

func TestConfigServesAnchors(t *testing.T) {
	s := newServer(t)
	var site siteView
	if code := get(t, s, "/api/config", &site); code != fiber.StatusOK {
		t.Fatalf("status %d", code)
	}
	if len(site.Anchors) != 2 || site.Anchors["1783"] != (point{X: 18.4}) {
		t.Fatalf("anchors = %+v", site.Anchors)
	}
	if site.Home != (point{X: 0.5, Y: 1}) {
		t.Fatalf("home = %+v", site.Home)
	}
}

func TestSocketsNeedUpgrade(t *testing.T) {
	s := newServer(t)
	if code := get(t, s, "/ws/status", nil); code != fiber.StatusUpgradeRequired {
		t.Fatalf("status %d", code)
	}
}

func TestStatus(t *testing.T) {
	s := newServer(t)
	if code := get(t, s, "/api/status", nil); code != fiber.StatusServiceUnavailable {
		t.Fatalf("status before publish = %d", code)
	}

	s.PublishStatus(t0, lawndon.Status{State: lawndon.Forward, Errors: []faults.Kind{faults.Battery}, BatVoltage: 21})
	expectStatus(t, s, "forward")

	// Within the interval the old status stands.
	s.PublishStatus(t0.Add(50*time.Millisecond), lawndon.Status{State: lawndon.Reverse})
	st := expectStatus(t, s, "forward")
	if len(st.Errors) != 1 || st.Errors[0] != "battery" || st.BatVoltage != 21 {
		t.Fatalf("status = %+v", st)
	}

	s.PublishStatus(t0.Add(DefaultConfig().StatusInterval), lawndon.Status{State: lawndon.Reverse})
	expectStatus(t, s, "reverse")
}

func expectStatus(t *testing.T, s *Server, state string) statusView {
	t.Helper()
	var st statusView
	if code := get(t, s, "/api/status", &st); code != fiber.StatusOK {
		t.Fatalf("status %d", code)
	}
	if st.State != state {
		t.Fatalf("state = %q, want %q", st.State, state)
	}
	return st
}

func TestRangesBroadcast(t *testing.T) {
	s := newServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.ranges.Run(ctx)

	conn := newFakeConn()
	go s.ranges.Serve(conn)
	waitForClients(t, s.ranges, 1)

	s.PublishRanges([]uwb.Range{
		{Anchor: "1786", Distance: 2.5, ReceivedAt: t0},
		{Anchor: "1783", Distance: 16, ReceivedAt: t0},
	})
	var got []rangeView
	decode(t, conn, &got)
	if len(got) != 2 || got[0].Anchor != "1783" || got[1].Distance != 2.5 {
		t.Fatalf("ranges = %+v", got)
	}
}

func TestFixGreetsAndSkipsRepeats(t *testing.T) {
	s := newServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.fixes.Run(ctx)

	fix := locate.Fix{Position: locate.Point{X: 3, Y: 4}, At: t0, Bearing: 90, Distance: 5}
	s.PublishFix(fix)

	conn := newFakeConn()
	go s.fixes.Serve(conn, s.latest(&s.lastFix)...)
	var got fixView
	decode(t, conn, &got)
	if got.Position != (point{X: 3, Y: 4}) || got.Heading != nil || got.Bearing != 90 {
		t.Fatalf("greeting = %+v", got)
	}
	waitForClients(t, s.fixes, 1)

	s.PublishFix(fix)
	fix.At = t0.Add(time.Second)
	fix.Heading, fix.HaveHeading = 45, true
	s.PublishFix(fix)
	decode(t, conn, &got)
	if got.Heading == nil || *got.Heading != 45 || !got.At.Equal(fix.At) {
		t.Fatalf("fix = %+v", got)
	}
}

type fakeConn struct {
	written chan []byte
	closed  chan struct{}
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{written: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *fakeConn) SetReadLimit(int64) {}
func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (c *fakeConn) SetPongHandler(func(string) error) {}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	<-c.closed
	return 0, nil, errors.New("closed")
}

func (c *fakeConn) WriteMessage(kind int, data []byte) error {
	if kind == websocket.TextMessage {
		c.written <- data
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func decode(t *testing.T, c *fakeConn, into interface{}) {
	t.Helper()
	select {
	case data := <-c.written:
		if err := json.Unmarshal(data, into); err != nil {
			t.Fatalf("%s: %v", data, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("nothing written")
	}
}

func waitForClients(t *testing.T, h *hub.Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", h.ClientCount(), want)
		}
		time.Sleep(time.Millisecond)
	}
}
