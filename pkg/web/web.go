// Package web serves the mower dashboard: the anchor layout over HTTP and live data over
// websockets.
package web

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/pkg/errors"

	"github.com/lawndon/go-controller/pkg/hub"
	"github.com/lawndon/go-controller/pkg/lawndon"
	"github.com/lawndon/go-controller/pkg/locate"
	"github.com/lawndon/go-controller/pkg/uwb"
)

type Config struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	// Directory of the built dashboard UI; empty serves only the API.
	UIDir string `yaml:"uiDir"`
	// Status is broadcast at most this often.
	StatusInterval time.Duration `yaml:"statusInterval"`
}

func DefaultConfig() Config {
	return Config{
		Addr:           ":5000",
		StatusInterval: 200 * time.Millisecond,
	}
}

func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Addr == "" {
		return errors.New("web addr must be set")
	}
	if c.StatusInterval <= 0 {
		return errors.New("web statusInterval must be positive")
	}
	return nil
}

type Server struct {
	cfg    Config
	logger golog.Logger
	app    *fiber.App
	site   siteView

	ranges *hub.Hub
	fixes  *hub.Hub
	status *hub.Hub

	lock       sync.Mutex
	lastStatus []byte
	statusAt   time.Time
	lastFix    []byte
	fixAt      time.Time

	ln     net.Listener
	stopWG sync.WaitGroup
	cancel context.CancelFunc
}

// New builds the dashboard for the anchors and home position in site.
func New(cfg Config, site locate.Config, logger golog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logger,
		site:   newSiteView(site),
		ranges: hub.New("uwb", logger),
		fixes:  hub.New("fix", logger),
		status: hub.New("status", logger),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Lawndon",
		DisableStartupMessage: true,
	})
	app.Use(cors.New())
	if cfg.UIDir != "" {
		app.Static("/", cfg.UIDir)
	}

	api := app.Group("/api")
	api.Get("/config", s.handleConfig)
	api.Get("/status", s.handleStatus)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/uwb", websocket.New(func(c *websocket.Conn) { s.ranges.Serve(c) }))
	app.Get("/ws/fix", websocket.New(func(c *websocket.Conn) { s.fixes.Serve(c, s.latest(&s.lastFix)...) }))
	app.Get("/ws/status", websocket.New(func(c *websocket.Conn) { s.status.Serve(c, s.latest(&s.lastStatus)...) }))

	s.app = app
	return s
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return errors.Wrapf(err, "web listen on %s", s.cfg.Addr)
	}
	s.ln = ln
	var loopCtx context.Context
	loopCtx, s.cancel = context.WithCancel(ctx)
	for _, h := range []*hub.Hub{s.ranges, s.fixes, s.status} {
		s.stopWG.Add(1)
		go func(h *hub.Hub) {
			defer s.stopWG.Done()
			h.Run(loopCtx)
		}(h)
	}

	s.stopWG.Add(1)
	go func() {
		defer s.stopWG.Done()
		if err := s.app.Listener(ln); err != nil && loopCtx.Err() == nil {
			s.logger.Errorw("web server failed", "error", err)
		}
	}()
	s.logger.Infow("dashboard listening", "addr", ln.Addr().String())
	return nil
}

func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

func (s *Server) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	if err := s.app.Shutdown(); err != nil {
		s.logger.Warnw("web shutdown", "error", err)
	}
	s.stopWG.Wait()
}

// PublishRanges forwards one bridge report to every UWB client.
func (s *Server) PublishRanges(ranges []uwb.Range) {
	if err := s.ranges.BroadcastJSON(newRangeViews(ranges)); err != nil {
		s.logger.Warnw("publish ranges", "error", err)
	}
}

// PublishFix forwards f unless it was already sent.
func (s *Server) PublishFix(f locate.Fix) {
	s.lock.Lock()
	if f.At.Equal(s.fixAt) {
		s.lock.Unlock()
		return
	}
	s.fixAt = f.At
	s.lock.Unlock()
	s.publish(s.fixes, &s.lastFix, newFixView(f))
}

// PublishStatus forwards st, at most once per StatusInterval.
func (s *Server) PublishStatus(now time.Time, st lawndon.Status) {
	s.lock.Lock()
	if !s.statusAt.IsZero() && now.Sub(s.statusAt) < s.cfg.StatusInterval {
		s.lock.Unlock()
		return
	}
	s.statusAt = now
	s.lock.Unlock()
	s.publish(s.status, &s.lastStatus, newStatusView(st))
}

func (s *Server) publish(h *hub.Hub, last *[]byte, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warnw("publish", "error", err)
		return
	}
	s.lock.Lock()
	*last = data
	s.lock.Unlock()
	h.Broadcast(data)
}

// latest returns the stored message, if any, for greeting a new client.
func (s *Server) latest(last *[]byte) [][]byte {
	s.lock.Lock()
	defer s.lock.Unlock()
	if *last == nil {
		return nil
	}
	return [][]byte{*last}
}

func (s *Server) handleConfig(c *fiber.Ctx) error {
	return c.JSON(s.site)
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	data := s.latest(&s.lastStatus)
	if data == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "no status yet"})
	}
	c.Type("json")
	return c.Send(data[0])
}
