package wpas

import (
	"fmt"
	"net"
	"os"
	"path"
	"runtime"
	"time"

	"github.com/google/uuid"
)

// dialCtrlSocket opens a datagram connection to the control socket at
// remotePath. The local end is bound inside localDir using a name that is
// unique per call, since a client opens several sockets to the same daemon.
func dialCtrlSocket(localDir, remotePath string) (*conn, error) {
	if localDir == "" {
		localDir = os.TempDir()
	}
	lpath := path.Join(
		localDir,
		fmt.Sprintf("wpas.%s.%s", path.Base(remotePath), uuid.NewString()[:8]),
	)
	if err := isValidSocketPath(lpath); err != nil {
		return nil, err
	}
	return newUnixSocketConn(lpath, remotePath)
}

// newUnixSocketConn creates a connection with a Unix domain socket at
// remotePath. The localPath is used for the local Unix socket file and
// is typically in a temporary directory.
func newUnixSocketConn(localPath, remotePath string) (*conn, error) {
	laddr, err := net.ResolveUnixAddr("unixgram", localPath)
	if err != nil {
		return nil, err
	}

	raddr, err := net.ResolveUnixAddr("unixgram", remotePath)
	if err != nil {
		return nil, err
	}

	c, err := net.DialUnix("unixgram", laddr, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial %q: %w", remotePath, err)
	}

	return &conn{
		localSock: laddr.String(),
		UnixConn:  c,
	}, nil
}

// conn is a connection to a wpa_supplicant control interface.
type conn struct {
	localSock string
	*net.UnixConn
}

func (c *conn) setReadDeadline(timeout time.Duration) error {
	return c.SetReadDeadline(time.Now().Add(timeout))
}

func (c *conn) unsetReadDeadline() error {
	return c.SetReadDeadline(time.Time{})
}

func (c *conn) setWriteDeadline(timeout time.Duration) error {
	return c.SetWriteDeadline(time.Now().Add(timeout))
}

// Close closes the connection and deletes the local
// socket file.
func (c *conn) Close() error {
	cErr := c.UnixConn.Close()
	fErr := os.Remove(c.localSock)

	if cErr != nil {
		return cErr
	}
	return fErr
}

// isValidSocketPath returns an error if the given path is invalid for a
// Unix socket.
func isValidSocketPath(p string) error {
	// https://github.com/golang/go/issues/6895
	if runtime.GOOS == "darwin" && len(p) > 104 {
		return fmt.Errorf("socket path (%q) too long", p)
	}
	if len(p) > 108 {
		return fmt.Errorf("socket path (%q) too long", p)
	}
	return nil
}
