package wpas

import (
	"errors"
	"fmt"
)

// ErrTerminating is returned by a monitor once wpa_supplicant reports
// that it is exiting.
var ErrTerminating = errors.New("wpa_supplicant is exiting")

// ErrUnknownCmd is returned when the control socket returns an
// "UNKNOWN COMMAND" response.
type ErrUnknownCmd string

func (e ErrUnknownCmd) Error() string {
	return fmt.Sprintf("sent command %q, received unknown command response", string(e))
}

// CommandError is returned when wpa_supplicant rejects a command, either
// by replying FAIL or by not replying OK to a command that requires it.
type CommandError struct {
	Cmd   string // Command name, e.g. "ADD_NETWORK"
	Reply string // Raw reply, trimmed
	Msg   string // Optional description of the failed operation
}

func (e *CommandError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("%s: %s failed (reply %q)", e.Msg, e.Cmd, e.Reply)
	}
	return fmt.Sprintf("%s failed (reply %q)", e.Cmd, e.Reply)
}

// TimeoutError is returned when an expected event was not received
// within its window.
type TimeoutError struct {
	Waiting string // Awaited condition, e.g. "association with the AP"
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out", e.Waiting)
}
