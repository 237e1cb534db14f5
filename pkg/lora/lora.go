// Package lora talks to a UART LoRa module using the RYLR AT command set.  Frames travel
// hex encoded in the ASCII data field:
//
//	AT+SEND=<address>,<length>,<data>
//	+RCV=<address>,<length>,<data>,<rssi>,<snr>
package lora

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.bug.st/serial"

	"github.com/lawndon/go-controller/pkg/link"
)

const (
	DefaultBaud = 115200

	// Receive queue depth; the control loop drains it every tick.
	queueLen = 16
)

var ErrNotReceive = errors.New("not a +RCV line")

// Dialer opens the module connection.
type Dialer func() (io.ReadWriteCloser, error)

// SerialDialer opens device at baud.
func SerialDialer(device string, baud int) Dialer {
	return func() (io.ReadWriteCloser, error) {
		port, err := serial.Open(device, &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "open lora serial port %s", device)
		}
		return port, nil
	}
}

type Radio struct {
	dial   Dialer
	logger golog.Logger
	now    func() time.Time

	messages chan link.Message

	lock sync.Mutex
	conn io.ReadWriteCloser

	cancel context.CancelFunc
	stopWG sync.WaitGroup
}

func New(dial Dialer, logger golog.Logger) *Radio {
	return &Radio{
		dial:     dial,
		logger:   logger,
		now:      time.Now,
		messages: make(chan link.Message, queueLen),
	}
}

// Messages delivers every received frame.  When the queue is full the oldest is dropped.
func (r *Radio) Messages() <-chan link.Message {
	return r.messages
}

func (r *Radio) Start(ctx context.Context) {
	var loopCtx context.Context
	loopCtx, r.cancel = context.WithCancel(ctx)
	r.stopWG.Add(1)
	go r.loop(loopCtx)
}

func (r *Radio) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.closeConn()
	r.stopWG.Wait()
}

func (r *Radio) loop(ctx context.Context) {
	defer r.stopWG.Done()
	for ctx.Err() == nil {
		err := r.openAndLoop(ctx)
		if ctx.Err() != nil {
			return
		}
		r.logger.Warnw("lora loop stopped; will retry", "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (r *Radio) openAndLoop(ctx context.Context) error {
	conn, err := r.dial()
	if err != nil {
		return err
	}
	r.lock.Lock()
	r.conn = conn
	r.lock.Unlock()
	defer r.closeConn()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		msg, err := ParseReceive(line, r.now())
		if err != nil {
			// Command responses (+OK, +ERR=..) land here too.
			r.logger.Debugw("lora line", "line", line)
			continue
		}
		r.deliver(msg)
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "lora read")
	}
	return io.EOF
}

func (r *Radio) deliver(msg link.Message) {
	for {
		select {
		case r.messages <- msg:
			return
		default:
		}
		select {
		case <-r.messages:
		default:
		}
	}
}

func (r *Radio) closeConn() {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}

// Send transmits payload to the module at address.
func (r *Radio) Send(address int, payload []byte) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.conn == nil {
		return errors.New("lora not connected")
	}
	_, err := io.WriteString(r.conn, FormatSend(address, payload))
	return errors.Wrap(err, "lora send")
}

func FormatSend(address int, payload []byte) string {
	data := hex.EncodeToString(payload)
	return fmt.Sprintf("AT+SEND=%d,%d,%s\r\n", address, len(data), data)
}

// ParseReceive decodes a +RCV line.  A data field that is not valid hex is passed on as
// raw bytes so that it is reported as an invalid frame.
func ParseReceive(line string, at time.Time) (link.Message, error) {
	rest, ok := strings.CutPrefix(line, "+RCV=")
	if !ok {
		return link.Message{}, ErrNotReceive
	}
	// The data may itself contain commas, so take the fixed fields from each end.
	head := strings.SplitN(rest, ",", 3)
	if len(head) != 3 {
		return link.Message{}, errors.Errorf("short +RCV line %q", line)
	}
	from, err := strconv.Atoi(head[0])
	if err != nil {
		return link.Message{}, errors.Errorf("bad +RCV address in %q", line)
	}
	length, err := strconv.Atoi(head[1])
	if err != nil || length < 0 || length > len(head[2]) {
		return link.Message{}, errors.Errorf("bad +RCV length in %q", line)
	}
	data, tail := head[2][:length], strings.TrimPrefix(head[2][length:], ",")
	fields := strings.Split(tail, ",")
	if len(fields) != 2 {
		return link.Message{}, errors.Errorf("bad +RCV trailer in %q", line)
	}
	rssi, err := strconv.Atoi(fields[0])
	if err != nil {
		return link.Message{}, errors.Wrapf(err, "bad +RCV rssi in %q", line)
	}

	payload, err := hex.DecodeString(data)
	if err != nil {
		payload = []byte(data)
	}
	return link.Message{From: from, ReceivedAt: at, Payload: payload, RSSI: rssi}, nil
}
