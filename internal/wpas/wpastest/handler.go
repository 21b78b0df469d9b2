package wpastest

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Handler is a collection of user-definable functions
// used for handling wpa_supplicant control messages.
type Handler struct {
	sync.Mutex // Protects following.
	received   []string
	onMessage  func(msg string)
	onPing     func() bool // Reply to PING with PONG unless onPing is defined and returns false.
	onDetach   func()
	onUndef    func(msg string) string
	commands   map[string]func(args string) string
}

// Reply returns a command callback that always responds with resp.
func Reply(resp string) func(string) string {
	return func(string) string { return resp }
}

// DefaultHandler is a convenience function to define a Handler that
// accepts the commands used to reset and configure an interface, and
// responds to STATUS with the given values.
func DefaultHandler(status map[string]string) *Handler {
	var h Handler
	for _, cmd := range []string{
		"FLUSH", "SET", "P2P_SET",
		"SET_NETWORK", "SELECT_NETWORK", "REMOVE_NETWORK",
		"SET_CRED", "REMOVE_CRED",
		"SCAN", "ROAM",
	} {
		h.OnCommand(cmd, Reply("OK\n"))
	}

	var networks, creds int
	h.OnCommand("ADD_NETWORK", func(string) string {
		id := networks
		networks++
		return strconv.Itoa(id) + "\n"
	})
	h.OnCommand("ADD_CRED", func(string) string {
		id := creds
		creds++
		return strconv.Itoa(id) + "\n"
	})
	h.OnCommand("STATUS", func(string) string {
		return EncodeStatus(status)
	})
	return &h
}

// EncodeStatus formats values as a STATUS reply, sorted by name.
func EncodeStatus(values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, values[k])
	}
	return b.String()
}

// OnMessage registers a callback that will be called
// with every message received after calling Serve.
func (h *Handler) OnMessage(f func(msg string)) {
	h.Lock()
	h.onMessage = f
	h.Unlock()
}

func (h *Handler) handleMessage(msg string) {
	h.Lock()
	defer h.Unlock()
	h.received = append(h.received, msg)
	if h.onMessage == nil {
		return
	}
	h.onMessage(msg)
}

// Received returns every message received so far, in order.
func (h *Handler) Received() []string {
	h.Lock()
	defer h.Unlock()
	return append([]string(nil), h.received...)
}

// OnPing registers a callback that will be called
// with every ping message. If false is returned, then
// no PONG reply is sent. If this callback isn't set, then
// PONG will be sent.
func (h *Handler) OnPing(f func() bool) {
	h.Lock()
	h.onPing = f
	h.Unlock()
}

func (h *Handler) handlePing() bool {
	h.Lock()
	defer h.Unlock()
	if h.onPing == nil {
		return true
	}
	return h.onPing()
}

// OnDetach registers a callback for when a DETACH message is received.
func (h *Handler) OnDetach(f func()) {
	h.Lock()
	h.onDetach = f
	h.Unlock()
}

func (h *Handler) handleDetach() {
	h.Lock()
	defer h.Unlock()
	if h.onDetach != nil {
		h.onDetach()
	}
}

// OnCommand registers a callback for messages whose first word is name.
// The callback receives the rest of the message and returns the reply.
func (h *Handler) OnCommand(name string, f func(args string) string) {
	h.Lock()
	if h.commands == nil {
		h.commands = make(map[string]func(string) string)
	}
	h.commands[name] = f
	h.Unlock()
}

// OnUndef registers a callback that will be called
// with every otherwise unhandled message received after calling Serve.
// Without it, such messages are answered with "UNKNOWN COMMAND".
func (h *Handler) OnUndef(f func(msg string) string) {
	h.Lock()
	h.onUndef = f
	h.Unlock()
}

func (h *Handler) handleCommand(msg string) string {
	h.Lock()
	defer h.Unlock()

	name, args, _ := strings.Cut(msg, " ")
	if f, ok := h.commands[name]; ok {
		return f(args)
	}
	if h.onUndef != nil {
		return h.onUndef(msg)
	}
	return "UNKNOWN COMMAND\n"
}
