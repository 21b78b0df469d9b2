package wpas

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"time"
)

// wpa_supplicant control interface command and response strings.
const (
	cmdPing        = "PING"
	respPong       = "PONG"
	cmdAttach      = "ATTACH"
	respAttach     = "OK"
	cmdDetach      = "DETACH"
	respDetach     = "OK"
	respOK         = "OK"
	respFail       = "FAIL"
	unknownCommand = "UNKNOWN COMMAND"
)

// Replies such as P2P_PEER or BSS can be several kilobytes.
const ctrlBufSize = 8 * 1024

// newCtrl returns a new ctrl using the given connection.
func newCtrl(cn *conn, rTimeout, wTimeout time.Duration) (*ctrl, error) {
	c := &ctrl{
		readTimeout:  rTimeout,
		writeTimeout: wTimeout,
		conn:         cn,
		buf:          make([]byte, ctrlBufSize),
	}
	if err := c.ping(); err != nil {
		return nil, fmt.Errorf("ping error: %w", err)
	}

	return c, nil
}

// ctrl manages request/response communication with a wpa_supplicant
// control socket.
type ctrl struct {
	readTimeout, writeTimeout time.Duration

	mu   sync.Mutex // Protects following.
	conn *conn
	buf  []byte
}

// cmd sends the given command and waits for the response. On success, the
// response's data is given to the resp function. Any error returned from
// the resp function is returned by this method. This method is threadsafe.
// The resp function should not retain p.
func (c *ctrl) cmd(cmd string, resp func(p []byte) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.setWriteDeadline(c.writeTimeout); err != nil {
			return err
		}
	}
	if _, err := c.conn.Write([]byte(cmd)); err != nil {
		return fmt.Errorf("write error from %q command: %w", cmd, err)
	}

	if c.readTimeout > 0 {
		if err := c.conn.setReadDeadline(c.readTimeout); err != nil {
			return err
		}
	}

	n, err := c.conn.Read(c.buf)
	if err != nil {
		return fmt.Errorf("read error from %q command: %w", cmd, err)
	}

	if bytes.HasPrefix(c.buf[:n], []byte(unknownCommand)) {
		return ErrUnknownCmd(cmd)
	}

	return resp(c.buf[:n])
}

// request sends cmd and returns the raw reply.
func (c *ctrl) request(cmd string) (string, error) {
	var reply string
	return reply, c.cmd(cmd, func(p []byte) error {
		reply = string(p)
		return nil
	})
}

// ping tests whether the control interface is responding
// to requests.
func (c *ctrl) ping() error {
	return c.cmd(cmdPing, func(resp []byte) error {
		if s := strings.TrimSpace(string(resp)); s != respPong {
			return fmt.Errorf("unexpected response to %s: %q", cmdPing, s)
		}
		return nil
	})
}

// attach requests that the control interface send unsolicited
// event messages to this socket. Once attached the socket should only be
// read by a monitor.
func (c *ctrl) attach() error {
	return c.cmd(cmdAttach, func(resp []byte) error {
		if s := strings.TrimSpace(string(resp)); s != respAttach {
			return fmt.Errorf("unexpected response to %s: %q", cmdAttach, s)
		}
		return nil
	})
}

func (c *ctrl) close() error {
	return c.conn.Close()
}
