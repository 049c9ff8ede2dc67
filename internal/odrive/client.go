// Package odrive talks to the motor controller over its ASCII line protocol.
//
// Commands are single lines terminated by '\n'. Reads ("r ...") are
// answered with exactly one line; writes ("w ...", "v ...") are not
// acknowledged. A Client is owned by one goroutine.
package odrive

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Default timing for the controller's ASCII protocol.
const (
	DefaultReadTimeout  = time.Second
	DefaultPollInterval = 100 * time.Millisecond
)

// Transport is the byte stream to the controller. Read must return within
// the duration passed to SetReadTimeout, with n == 0 and a nil error if
// nothing arrived.
type Transport interface {
	io.ReadWriter
	SetReadTimeout(t time.Duration) error
}

// inputResetter is implemented by transports that can drop unread input.
type inputResetter interface {
	ResetInputBuffer() error
}

// Interlock gates motion and state commands.
type Interlock interface {
	IsSafe() bool
}

// Options configures a Client. Zero values select defaults.
type Options struct {
	ReadTimeout  time.Duration
	PollInterval time.Duration
	Parse        ParsePolicy
	Interlock    Interlock
	Sleep        func(time.Duration)
	Now          func() time.Time
}

// Stats counts protocol-level outcomes since the client was created.
type Stats struct {
	Commands   uint64
	Queries    uint64
	Timeouts   uint64
	Malformed  uint64
	Suppressed uint64
}

// Client is a protocol client for one controller.
type Client struct {
	t            Transport
	readTimeout  time.Duration
	pollInterval time.Duration
	parse        ParsePolicy
	interlock    Interlock
	sleep        func(time.Duration)
	now          func() time.Time

	rx  []byte
	buf []byte

	commands   atomic.Uint64
	queries    atomic.Uint64
	timeouts   atomic.Uint64
	malformed  atomic.Uint64
	suppressed atomic.Uint64
}

// NewClient returns a Client over t.
func NewClient(t Transport, opts Options) *Client {
	c := &Client{
		t:            t,
		readTimeout:  opts.ReadTimeout,
		pollInterval: opts.PollInterval,
		parse:        opts.Parse,
		interlock:    opts.Interlock,
		sleep:        opts.Sleep,
		now:          opts.Now,
		buf:          make([]byte, 64),
	}
	if c.readTimeout <= 0 {
		c.readTimeout = DefaultReadTimeout
	}
	if c.pollInterval <= 0 {
		c.pollInterval = DefaultPollInterval
	}
	if c.sleep == nil {
		c.sleep = time.Sleep
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// SendCommand writes cmd, appending the line terminator if missing.
func (c *Client) SendCommand(cmd string) error {
	if !strings.HasSuffix(cmd, "\n") {
		cmd += "\n"
	}
	n, err := c.t.Write([]byte(cmd))
	if err != nil {
		return fmt.Errorf("odrive: write %q: %w", strings.TrimSpace(cmd), err)
	}
	if n != len(cmd) {
		return fmt.Errorf("odrive: short write %q: %d of %d bytes", strings.TrimSpace(cmd), n, len(cmd))
	}
	c.commands.Add(1)
	return nil
}

// Query sends cmd and reads one reply line. Input left over from earlier
// exchanges is dropped before sending. The timeout budget starts when the
// command has been written. On timeout any partial line is discarded and
// ErrTimeout returned.
func (c *Client) Query(cmd string, timeout time.Duration) (string, error) {
	if len(c.rx) > 0 {
		log.Printf("odrive: dropping unsolicited input %q", c.rx)
	}
	c.discardInput()
	if err := c.SendCommand(cmd); err != nil {
		return "", err
	}
	c.queries.Add(1)
	deadline := c.now().Add(timeout)

	for {
		if i := bytes.IndexByte(c.rx, '\n'); i >= 0 {
			line := string(bytes.TrimRight(c.rx[:i], "\r"))
			c.rx = append(c.rx[:0], c.rx[i+1:]...)
			return line, nil
		}

		remaining := deadline.Sub(c.now())
		if remaining <= 0 {
			c.discardInput()
			c.timeouts.Add(1)
			return "", fmt.Errorf("%w: %s", ErrTimeout, strings.TrimSpace(cmd))
		}
		if err := c.t.SetReadTimeout(remaining); err != nil {
			return "", fmt.Errorf("odrive: set read timeout: %w", err)
		}
		n, err := c.t.Read(c.buf)
		c.rx = append(c.rx, c.buf[:n]...)
		if err != nil {
			c.rx = c.rx[:0]
			return "", fmt.Errorf("odrive: read: %w", err)
		}
	}
}

// discardInput drops buffered bytes and, when the transport supports it,
// anything still queued so a late reply is not taken as the next answer.
func (c *Client) discardInput() {
	c.rx = c.rx[:0]
	if r, ok := c.t.(inputResetter); ok {
		if err := r.ResetInputBuffer(); err != nil {
			log.Printf("odrive: reset input buffer: %v", err)
		}
	}
}

// ReadString queries cmd with the default read timeout.
func (c *Client) ReadString(cmd string) (string, error) {
	return c.Query(cmd, c.readTimeout)
}

// ReadFloat queries cmd and parses the reply as a float under the client's
// ParsePolicy. NaN and infinities count as malformed.
func (c *Client) ReadFloat(cmd string) (float64, error) {
	s, err := c.ReadString(cmd)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, c.malformedReply(cmd, s)
	}
	return v, nil
}

// ReadInt queries cmd and parses the reply as an integer under the client's
// ParsePolicy.
func (c *Client) ReadInt(cmd string) (int64, error) {
	s, err := c.ReadString(cmd)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, c.malformedReply(cmd, s)
	}
	return v, nil
}

func (c *Client) malformedReply(cmd, reply string) error {
	c.malformed.Add(1)
	if c.parse == ParseStrict {
		return fmt.Errorf("%w: %s: %q", ErrMalformed, cmd, reply)
	}
	return nil
}

// gate reports ErrSuppressed when the interlock forbids commands.
func (c *Client) gate(what string) error {
	if c.interlock == nil || c.interlock.IsSafe() {
		return nil
	}
	c.suppressed.Add(1)
	log.Printf("odrive: %s suppressed: estop asserted", what)
	return ErrSuppressed
}

// SetAxisState requests state on axis. With waitForIdle it then polls the
// axis state every PollInterval, at least once and at most
// timeout/PollInterval times, and reports whether Idle was observed.
// Without waitForIdle it reports true once the command is written.
func (c *Client) SetAxisState(axis int, state AxisState, waitForIdle bool, timeout time.Duration) (bool, error) {
	if err := c.gate("set_axis_state"); err != nil {
		return false, err
	}
	if err := c.SendCommand(cmdRequestState(axis, state)); err != nil {
		return false, err
	}
	if !waitForIdle {
		return true, nil
	}

	attempts := int(timeout / c.pollInterval)
	if attempts < 1 {
		attempts = 1
	}
	for ; attempts > 0; attempts-- {
		c.sleep(c.pollInterval)
		cur, err := c.ReadInt(cmdCurrentState(axis))
		if err != nil {
			continue
		}
		if AxisState(cur) == StateIdle {
			return true, nil
		}
	}
	return false, nil
}

// SetVelocity commands a velocity setpoint on axis with zero feed-forward.
// No confirmation is read back.
func (c *Client) SetVelocity(axis int, velocity float64) error {
	if err := c.gate("set_velocity"); err != nil {
		return err
	}
	return c.SendCommand(cmdVelocity(axis, velocity))
}

// CurrentState reads the axis state.
func (c *Client) CurrentState(axis int) (AxisState, error) {
	v, err := c.ReadInt(cmdCurrentState(axis))
	return AxisState(v), err
}

// VelocityEstimate reads the encoder velocity estimate for axis.
func (c *Client) VelocityEstimate(axis int) (float64, error) {
	return c.ReadFloat(cmdVelEstimate(axis))
}

// BusVoltage reads the DC bus voltage.
func (c *Client) BusVoltage() (float64, error) {
	return c.ReadFloat(cmdBusVoltage)
}

// BusCurrent reads the DC bus current.
func (c *Client) BusCurrent() (float64, error) {
	return c.ReadFloat(cmdBusCurrent)
}

// DumpErrors reads the system error register and each axis' error
// registers into a report. Unanswered registers read "timeout"; the dump
// itself only fails on a write error.
func (c *Client) DumpErrors(axes []int) (string, error) {
	var b strings.Builder

	read := func(cmd string) error {
		s, err := c.ReadString(cmd)
		switch {
		case err == nil:
			b.WriteString(s)
		case IsTimeout(err):
			b.WriteString("timeout")
		default:
			return err
		}
		return nil
	}

	b.WriteString("system: ")
	if err := read(cmdSystemError); err != nil {
		return b.String(), err
	}
	for _, axis := range axes {
		fmt.Fprintf(&b, "\naxis%d", axis)
		for _, src := range errorSources {
			fmt.Fprintf(&b, "\n  %s: ", src)
			if err := read(cmdAxisError(axis, src)); err != nil {
				return b.String(), err
			}
		}
	}
	return b.String(), nil
}

// Stats returns protocol counters. Safe to call from any goroutine.
func (c *Client) Stats() Stats {
	return Stats{
		Commands:   c.commands.Load(),
		Queries:    c.queries.Load(),
		Timeouts:   c.timeouts.Load(),
		Malformed:  c.malformed.Load(),
		Suppressed: c.suppressed.Load(),
	}
}

// ReadTimeout returns the default read timeout.
func (c *Client) ReadTimeout() time.Duration { return c.readTimeout }

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
