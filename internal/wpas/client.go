package wpas

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"strings"
	"time"
)

// DefaultCtrlDir is wpa_supplicant's default ctrl_interface directory.
const DefaultCtrlDir = "/var/run/wpa_supplicant"

const defaultRequestTimeout = 10 * time.Second

// Opt is a configuration option for NewClient.
type Opt func(*Client)

// WithCtrlDir sets the directory holding the per-interface control
// sockets. Defaults to DefaultCtrlDir.
func WithCtrlDir(dir string) Opt {
	return func(c *Client) {
		c.ctrlDir = dir
	}
}

// WithGlobalIface sets the path of the device-level (global) control
// socket. When set, P2P device operations and global event waits use it.
func WithGlobalIface(sock string) Opt {
	return func(c *Client) {
		c.globalIface = sock
	}
}

// WithLocalSockDir sets the directory for the client's local socket files.
// Defaults to os.TempDir().
func WithLocalSockDir(dir string) Opt {
	return func(c *Client) {
		c.localSockDir = dir
	}
}

// WithLogger is optional and defines a logger for the client to use.
func WithLogger(l *log.Logger) Opt {
	return func(c *Client) {
		c.logger = l
	}
}

// WithRequestTimeout sets the read and write deadline applied to each
// control request.
func WithRequestTimeout(d time.Duration) Opt {
	return func(c *Client) {
		c.reqTimeout = d
	}
}

// Client drives a single wpa_supplicant interface. It holds a command
// channel and an event monitor for the interface, plus a second pair for
// the global control interface if one was configured.
//
// Client methods are meant to be called sequentially.
type Client struct {
	ifname       string
	groupIfname  string
	ctrlDir      string
	globalIface  string
	localSockDir string
	reqTimeout   time.Duration
	logger       *log.Logger

	ctrl *ctrl
	mon  *monitor

	globalCtrl *ctrl
	globalMon  *monitor

	pin string
}

// NewClient connects to the control interface of ifname and attaches to
// its events.
func NewClient(ifname string, opts ...Opt) (*Client, error) {
	if ifname == "" {
		return nil, errors.New("interface name cannot be blank")
	}
	c := &Client{
		ifname:     ifname,
		ctrlDir:    DefaultCtrlDir,
		reqTimeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.New(io.Discard, "", 0)
	}

	sock := path.Join(c.ctrlDir, ifname)
	var err error
	if c.ctrl, c.mon, err = c.open(ifname, sock); err != nil {
		return nil, err
	}

	if c.globalIface != "" {
		if c.globalCtrl, c.globalMon, err = c.open(ifname, c.globalIface); err != nil {
			c.Close()
			return nil, fmt.Errorf("global control interface: %w", err)
		}
	}

	return c, nil
}

// open creates a command channel and an attached monitor to sock.
func (c *Client) open(name, sock string) (*ctrl, *monitor, error) {
	cn, err := dialCtrlSocket(c.localSockDir, sock)
	if err != nil {
		return nil, nil, err
	}
	ctrl, err := newCtrl(cn, c.reqTimeout, c.reqTimeout)
	if err != nil {
		cn.Close()
		return nil, nil, err
	}

	mcn, err := dialCtrlSocket(c.localSockDir, sock)
	if err != nil {
		ctrl.close()
		return nil, nil, fmt.Errorf("unable to create monitor socket: %w", err)
	}
	mon, err := newMonitor(name, mcn, c.logger, c.reqTimeout, c.reqTimeout)
	if err != nil {
		mcn.Close()
		ctrl.close()
		return nil, nil, err
	}

	return ctrl, mon, nil
}

// Close detaches the monitors and closes all sockets. The client
// is no longer usable after closing.
func (c *Client) Close() error {
	var errs []error
	if c.globalMon != nil {
		errs = append(errs, c.globalMon.close())
	}
	if c.globalCtrl != nil {
		errs = append(errs, c.globalCtrl.close())
	}
	if c.mon != nil {
		errs = append(errs, c.mon.close())
	}
	if c.ctrl != nil {
		errs = append(errs, c.ctrl.close())
	}
	return errors.Join(errs...)
}

// Ifname returns the interface the client controls.
func (c *Client) Ifname() string {
	return c.ifname
}

// GroupIfname returns the interface of the most recently formed P2P group,
// or "" if there is none.
func (c *Client) GroupIfname() string {
	return c.groupIfname
}

// Request sends cmd on the interface's command channel and returns the
// raw reply.
func (c *Client) Request(cmd string) (string, error) {
	c.logger.Printf("%s: CTRL: %s", c.ifname, cmd)
	return c.ctrl.request(cmd)
}

// GlobalRequest sends cmd to the global control interface, or to the
// interface's command channel if no global interface was configured.
func (c *Client) GlobalRequest(cmd string) (string, error) {
	if c.globalCtrl == nil {
		return c.Request(cmd)
	}
	c.logger.Printf("%s: CTRL(global): %s", c.ifname, cmd)
	return c.globalCtrl.request(cmd)
}

// GroupRequest sends cmd to the P2P group interface, if one has been
// formed on a separate interface, otherwise to the interface's command
// channel.
func (c *Client) GroupRequest(cmd string) (string, error) {
	if c.groupIfname == "" || c.groupIfname == c.ifname {
		return c.Request(cmd)
	}

	c.logger.Printf("%s: CTRL: %s", c.groupIfname, cmd)
	cn, err := dialCtrlSocket(c.localSockDir, path.Join(c.ctrlDir, c.groupIfname))
	if err != nil {
		return "", err
	}
	defer cn.Close()
	gctrl, err := newCtrl(cn, c.reqTimeout, c.reqTimeout)
	if err != nil {
		return "", err
	}
	return gctrl.request(cmd)
}

// requestCheck sends cmd and returns a CommandError if the reply
// contains FAIL.
func (c *Client) requestCheck(send func(string) (string, error), cmd, msg string) (string, error) {
	reply, err := send(cmd)
	if err != nil {
		return "", err
	}
	if strings.Contains(reply, respFail) {
		return reply, &CommandError{Cmd: cmdName(cmd), Reply: strings.TrimSpace(reply), Msg: msg}
	}
	return reply, nil
}

// requestOK sends cmd and returns a CommandError unless the reply
// contains OK.
func (c *Client) requestOK(send func(string) (string, error), cmd, msg string) error {
	reply, err := send(cmd)
	if err != nil {
		return err
	}
	if !strings.Contains(reply, respOK) {
		return &CommandError{Cmd: cmdName(cmd), Reply: strings.TrimSpace(reply), Msg: msg}
	}
	return nil
}

// cmdName returns the first word of cmd.
func cmdName(cmd string) string {
	name, _, _ := strings.Cut(cmd, " ")
	return name
}

// Ping reports whether the interface answers PING with PONG.
func (c *Client) Ping() bool {
	reply, err := c.Request(cmdPing)
	return err == nil && strings.Contains(reply, respPong)
}

// Reset returns the interface to a clean state between test cases.
func (c *Client) Reset() error {
	for _, cmd := range []string{
		"FLUSH",
		"SET ignore_old_scan_res 0",
		"P2P_SET per_sta_psk 0",
	} {
		if _, err := c.Request(cmd); err != nil {
			return err
		}
	}
	c.groupIfname = ""
	c.DumpMonitor()
	return nil
}

// Status returns the interface's STATUS.
func (c *Client) Status() (Status, error) {
	return c.status(c.Request)
}

// StatusField returns a single STATUS value, or "" if not present.
func (c *Client) StatusField(field string) (string, error) {
	s, err := c.Status()
	if err != nil {
		return "", err
	}
	v, _ := s.Field(field)
	return v, nil
}

// GroupStatus returns the STATUS of the P2P group interface.
func (c *Client) GroupStatus() (Status, error) {
	return c.status(c.GroupRequest)
}

// GroupStatusField returns a single group STATUS value, or "" if not present.
func (c *Client) GroupStatusField(field string) (string, error) {
	s, err := c.GroupStatus()
	if err != nil {
		return "", err
	}
	v, _ := s.Field(field)
	return v, nil
}

func (c *Client) status(send func(string) (string, error)) (Status, error) {
	reply, err := send("STATUS")
	if err != nil {
		return nil, err
	}
	return parseStatus(reply)
}

// WaitEvent waits up to timeout for an event on the interface monitor
// containing any of the given strings and returns it. Non-matching events
// received in the meantime are logged and discarded. The bool is false if
// no event matched before timeout, ctx was done, or the monitor stopped.
func (c *Client) WaitEvent(ctx context.Context, timeout time.Duration, events ...string) (string, bool) {
	return c.mon.wait(ctx, timeout, events)
}

// WaitGlobalEvent is WaitEvent on the global monitor. Without a global
// control interface it is the same as WaitEvent.
func (c *Client) WaitGlobalEvent(ctx context.Context, timeout time.Duration, events ...string) (string, bool) {
	if c.globalMon == nil {
		return c.WaitEvent(ctx, timeout, events...)
	}
	return c.globalMon.wait(ctx, timeout, events)
}

// Listen calls fn with every event received on the interface monitor. It
// blocks until ctx is done, fn returns an error, or the monitor stops, in
// which case the monitor's error is returned (e.g. ErrTerminating).
func (c *Client) Listen(ctx context.Context, fn func(Event) error) error {
	return c.mon.listen(ctx, fn)
}

// DumpMonitor discards all pending events so that a stale event is not
// mistaken for the result of the next operation.
func (c *Client) DumpMonitor() {
	c.mon.drain()
	if c.globalMon != nil {
		c.globalMon.drain()
	}
}

// Pending reports whether events are queued on the interface monitor.
func (c *Client) Pending() bool {
	return c.mon.pending()
}

// MonitorErr returns why the interface monitor stopped, or nil if it
// is still receiving events.
func (c *Client) MonitorErr() error {
	return c.mon.Err()
}

// waitEvent calls WaitEvent and converts a miss into a TimeoutError.
func (c *Client) waitEvent(ctx context.Context, waiting string, timeout time.Duration, events ...string) (string, error) {
	return waitOrTimeout(ctx, waiting, func() (string, bool) {
		return c.WaitEvent(ctx, timeout, events...)
	})
}

func (c *Client) waitGlobalEvent(ctx context.Context, waiting string, timeout time.Duration, events ...string) (string, error) {
	return waitOrTimeout(ctx, waiting, func() (string, bool) {
		return c.WaitGlobalEvent(ctx, timeout, events...)
	})
}

func waitOrTimeout(ctx context.Context, waiting string, wait func() (string, bool)) (string, error) {
	ev, ok := wait()
	if ok {
		return ev, nil
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%s: %w", waiting, err)
	}
	return "", &TimeoutError{Waiting: waiting}
}
