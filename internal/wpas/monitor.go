package wpas

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// Number of received events buffered by a monitor before its reader
// stops pulling datagrams off the socket.
const monitorQueueSize = 256

// newMonitor attaches the connection to the daemon's event stream and
// starts reading events in the background. The monitor takes ownership
// of cn.
func newMonitor(name string, cn *conn, logger *log.Logger, rTimeout, wTimeout time.Duration) (*monitor, error) {
	c, err := newCtrl(cn, rTimeout, wTimeout)
	if err != nil {
		return nil, err
	}
	if err := c.attach(); err != nil {
		return nil, err
	}

	m := &monitor{
		name:         name,
		logger:       logger,
		conn:         cn,
		readTimeout:  rTimeout,
		writeTimeout: wTimeout,
		events:       make(chan string, monitorQueueSize),
		done:         make(chan struct{}),
		exited:       make(chan struct{}),
	}
	if err := cn.unsetReadDeadline(); err != nil {
		return nil, err
	}
	go m.read()

	return m, nil
}

// monitor receives unsolicited events from an attached control socket.
type monitor struct {
	name   string
	logger *log.Logger
	conn   *conn

	readTimeout, writeTimeout time.Duration

	events chan string   // Closed when read returns.
	done   chan struct{} // Closed by close.
	exited chan struct{} // Closed when read returns.

	mu  sync.Mutex // Protects following.
	err error

	closeOnce sync.Once
	closeErr  error
}

// read forwards each received datagram to the events channel until the
// socket fails, the daemon terminates, or the monitor is closed.
func (m *monitor) read() {
	defer close(m.exited)
	defer close(m.events)

	buf := make([]byte, ctrlBufSize)
	for {
		n, err := m.conn.Read(buf)
		if err != nil {
			select {
			case <-m.done:
			default:
				m.setErr(err)
			}
			return
		}

		msg := strings.TrimSpace(string(buf[:n]))
		if msg == respDetach {
			select {
			case <-m.done:
			default:
				m.setErr(fmt.Errorf("unexpected message while attached: %q", msg))
			}
			return
		}

		select {
		case m.events <- msg:
		case <-m.done:
			return
		}

		if strings.Contains(msg, eventTerminating) {
			m.setErr(ErrTerminating)
			return
		}
	}
}

func (m *monitor) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Err returns why the monitor stopped receiving events, if it has.
func (m *monitor) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// wait blocks until an event containing one of the given substrings is
// received, timeout elapses, or ctx is done. Events that don't match are
// logged and discarded.
func (m *monitor) wait(ctx context.Context, timeout time.Duration, events []string) (string, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", false

		case <-timer.C:
			// Events that already arrived still count.
			return m.scanPending(events)

		case ev, ok := <-m.events:
			if !ok {
				m.logger.Printf("%s: monitor stopped: %v", m.name, m.Err())
				return "", false
			}
			m.logger.Printf("%s: %s", m.name, ev)
			if matchEvent(ev, events) {
				return ev, true
			}
		}
	}
}

// scanPending consumes queued events without blocking, returning the first
// that matches.
func (m *monitor) scanPending(events []string) (string, bool) {
	for {
		select {
		case ev, ok := <-m.events:
			if !ok {
				return "", false
			}
			m.logger.Printf("%s: %s", m.name, ev)
			if matchEvent(ev, events) {
				return ev, true
			}
		default:
			return "", false
		}
	}
}

// listen passes every received event to fn until ctx is done, fn returns
// an error, or the monitor stops. Events that fail to parse are passed as
// EventUnrecognized.
func (m *monitor) listen(ctx context.Context, fn func(Event) error) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case msg, ok := <-m.events:
			if !ok {
				return m.Err()
			}
			ev, err := ParseEvent(msg)
			if err != nil {
				m.logger.Printf("%s: unable to parse event %q: %v", m.name, msg, err)
				ev = EventUnrecognized(msg)
			}
			if err := fn(ev); err != nil {
				return err
			}
		}
	}
}

// drain consumes and logs every queued event.
func (m *monitor) drain() {
	m.scanPending(nil)
}

// pending reports whether any events are queued.
func (m *monitor) pending() bool {
	return len(m.events) > 0
}

// close detaches from the event stream and closes the socket. It is safe
// to call more than once.
func (m *monitor) close() error {
	m.closeOnce.Do(func() {
		close(m.done)

		// Ignore errors from detaching, since there's no recourse.
		// The reader exits either on the DETACH reply or the deadline.
		_ = m.conn.setWriteDeadline(m.writeTimeout)
		_, _ = m.conn.Write([]byte(cmdDetach))
		_ = m.conn.setReadDeadline(m.readTimeout)

		<-m.exited
		m.closeErr = m.conn.Close()
	})
	return m.closeErr
}

func matchEvent(ev string, events []string) bool {
	for _, e := range events {
		if strings.Contains(ev, e) {
			return true
		}
	}
	return false
}
