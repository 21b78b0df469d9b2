package wpastest

import (
	"fmt"
	"net"
	"sync"
)

// NewSupplicant creates a mock wpa_supplicant control interface listening
// on sockPath.
func NewSupplicant(sockPath string) (*Supplicant, error) {
	sockAddr, err := net.ResolveUnixAddr("unixgram", sockPath)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUnixgram("unixgram", sockAddr)
	if err != nil {
		return nil, err
	}

	return &Supplicant{
		Addr:     sockAddr.String(),
		conn:     conn,
		buf:      make([]byte, 4096),
		attached: make(map[string]net.Addr),
	}, nil
}

// Supplicant mocks a wpa_supplicant control socket. Any number of
// clients may send requests; clients that sent ATTACH receive the
// messages passed to Emit.
type Supplicant struct {
	Addr string
	conn *net.UnixConn
	buf  []byte

	mu       sync.Mutex // Protects following.
	closed   bool
	attached map[string]net.Addr
}

// Close the socket.
func (s *Supplicant) Close() error {
	s.mu.Lock()
	alreadyClosed := s.closed
	s.closed = true
	s.mu.Unlock()
	if alreadyClosed {
		return nil
	}
	return s.conn.Close()
}

// WriteTo writes the message to the given address.
func (s *Supplicant) WriteTo(msg string, addr net.Addr) error {
	if _, err := s.conn.WriteTo([]byte(msg), addr); err != nil {
		return fmt.Errorf("WriteTo(%q) err: %w", msg, err)
	}
	return nil
}

// ReadFrom reads a message and returns it as a string along with the
// remote address. Must not be used after calling Serve.
func (s *Supplicant) ReadFrom() (string, net.Addr, error) {
	n, raddr, err := s.conn.ReadFrom(s.buf)
	if err != nil {
		return "", nil, err
	}
	return string(s.buf[:n]), raddr, nil
}

// Emit sends an unsolicited event to every attached client.
func (s *Supplicant) Emit(event string) error {
	s.mu.Lock()
	addrs := make([]net.Addr, 0, len(s.attached))
	for _, a := range s.attached {
		addrs = append(addrs, a)
	}
	s.mu.Unlock()

	for _, a := range addrs {
		if err := s.WriteTo(event, a); err != nil {
			return err
		}
	}
	return nil
}

// Attached returns the number of attached clients.
func (s *Supplicant) Attached() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attached)
}

// Serve uses the handler to serve requests. This method
// blocks until the socket is closed or an error is encountered.
func (s *Supplicant) Serve(handler *Handler) error {
	for {
		msg, raddr, err := s.ReadFrom()
		if err != nil {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.closed {
				return nil
			}
			return err
		}

		handler.handleMessage(msg)

		var resp string
		switch msg {
		case "PING":
			if !handler.handlePing() {
				continue
			}
			resp = "PONG\n"

		case "ATTACH":
			s.mu.Lock()
			s.attached[raddr.String()] = raddr
			s.mu.Unlock()
			resp = "OK\n"

		case "DETACH":
			s.mu.Lock()
			delete(s.attached, raddr.String())
			s.mu.Unlock()
			handler.handleDetach()
			resp = "OK\n"

		default:
			resp = handler.handleCommand(msg)
		}

		// Ignore write errors, the client may already be gone.
		_ = s.WriteTo(resp, raddr)
	}
}
