package wpas

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Event names used by the wpa_supplicant control interface. Source for
// these, and others, is the wpa_supplicant documentation and source code:
// https://w1.fi/wpa_supplicant/devel/ctrl_iface_page.html.
const (
	eventConnected       = "CTRL-EVENT-CONNECTED"
	eventScanResults     = "CTRL-EVENT-SCAN-RESULTS"
	eventTerminating     = "CTRL-EVENT-TERMINATING"
	eventGroupStarted    = "P2P-GROUP-STARTED"
	eventGroupRemoved    = "P2P-GROUP-REMOVED"
	eventGoNegFailure    = "P2P-GO-NEG-FAILURE"
	eventWPSCredReceived = "WPS-CRED-RECEIVED"
	eventWPSSuccess      = "WPS-SUCCESS"
	eventWPSFail         = "WPS-FAIL"
)

// Event is an unsolicited message received from the control interface.
type Event interface {
	// Raw returns the string used by the control interface
	// to represent this event.
	Raw() string
}

// ParseEvent parses a received event line into an Event. Lines that are
// not one of the recognized events become EventUnrecognized.
func ParseEvent(msg string) (Event, error) {
	if len(msg) == 0 {
		return nil, errors.New("empty message")
	}

	raw := msg
	msg = stripPriority(msg)
	name, rest, _ := strings.Cut(msg, " ")

	switch name {
	case eventConnected:
		// "<3>CTRL-EVENT-CONNECTED - Connection to 02:00:00:00:03:00 completed [id=0 id_str=]"
		e := EventConnected{raw: raw}
		for _, f := range strings.Fields(rest) {
			if isMAC(f) {
				e.BSSID = f
				break
			}
		}
		return e, nil

	case eventScanResults:
		return EventScanResults(raw), nil

	case eventTerminating:
		return EventTerminating(raw), nil

	case eventGroupStarted:
		return parseGroupStarted(raw, rest)

	case eventGoNegFailure:
		// "<3>P2P-GO-NEG-FAILURE status=2"
		fields := eventFields(rest)
		v, ok := fields.get("status")
		if !ok {
			return nil, fmt.Errorf("%s: missing status", eventGoNegFailure)
		}
		status, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid status %q", eventGoNegFailure, v)
		}
		return EventGoNegFailure{raw: raw, Status: status}, nil

	case eventGroupRemoved:
		// "<3>P2P-GROUP-REMOVED wlan0-p2p-0 GO reason=GO_ENDING_SESSION"
		fields := eventFields(rest)
		e := EventGroupRemoved{raw: raw}
		e.Ifname, _ = fields.positional(0)
		e.Role, _ = fields.positional(1)
		e.Reason, _ = fields.get("reason")
		return e, nil

	case eventWPSCredReceived, eventWPSSuccess, eventWPSFail:
		return EventWPS{raw: raw, Name: name}, nil

	default:
		return EventUnrecognized(raw), nil
	}
}

// stripPriority removes the "<N>" level prefix, if present.
func stripPriority(msg string) string {
	if len(msg) >= 3 && msg[0] == '<' && msg[2] == '>' {
		return msg[3:]
	}
	return msg
}

// parseGroupStarted parses the fields following P2P-GROUP-STARTED:
//
//	<ifname> <GO|client> ssid="<ssid>" freq=<MHz> (psk=<hex>|passphrase="<text>") go_dev_addr=<mac> [PERSISTENT] ...
func parseGroupStarted(raw, rest string) (EventGroupStarted, error) {
	e := EventGroupStarted{raw: raw}

	var ok bool
	if e.SSID, rest, ok = cutSSID(rest); !ok {
		return e, fmt.Errorf("%s: missing ssid", eventGroupStarted)
	}
	fields := eventFields(rest)

	if e.Ifname, ok = fields.positional(0); !ok {
		return e, fmt.Errorf("%s: missing interface name", eventGroupStarted)
	}
	if e.Role, ok = fields.positional(1); !ok {
		return e, fmt.Errorf("%s: missing role", eventGroupStarted)
	}
	if e.Role != RoleGO && e.Role != RoleClient {
		return e, fmt.Errorf("%s: invalid role %q", eventGroupStarted, e.Role)
	}
	freq, ok := fields.get("freq")
	if !ok {
		return e, fmt.Errorf("%s: missing freq", eventGroupStarted)
	}
	var err error
	if e.Freq, err = strconv.Atoi(freq); err != nil {
		return e, fmt.Errorf("%s: invalid freq %q", eventGroupStarted, freq)
	}

	psk, hasPSK := fields.get("psk")
	passphrase, hasPassphrase := fields.get("passphrase")
	switch {
	case hasPSK && hasPassphrase:
		return e, fmt.Errorf("%s: both psk and passphrase present", eventGroupStarted)
	case hasPSK:
		if !isHex(psk) {
			return e, fmt.Errorf("%s: invalid psk %q", eventGroupStarted, psk)
		}
		e.PSK = psk
	case hasPassphrase:
		e.Passphrase = passphrase
	default:
		return e, fmt.Errorf("%s: missing psk or passphrase", eventGroupStarted)
	}

	if e.GODevAddr, ok = fields.get("go_dev_addr"); !ok {
		return e, fmt.Errorf("%s: missing go_dev_addr", eventGroupStarted)
	}
	if !isMAC(e.GODevAddr) {
		return e, fmt.Errorf("%s: invalid go_dev_addr %q", eventGroupStarted, e.GODevAddr)
	}

	e.Persistent = fields.flag("[PERSISTENT]")

	return e, nil
}

// cutSSID removes the ssid="..." field from s, returning its value. The
// SSID may contain quotes and spaces, so it runs up to the last `" freq=`.
func cutSSID(s string) (ssid, rest string, ok bool) {
	const prefix, suffix = `ssid="`, `" freq=`
	start := strings.Index(s, prefix)
	end := strings.LastIndex(s, suffix)
	if start < 0 || end < start+len(prefix) {
		return "", s, false
	}
	return s[start+len(prefix) : end], s[:start] + s[end+1:], true
}

// Group roles reported in P2P-GROUP-STARTED.
const (
	RoleGO     = "GO"
	RoleClient = "client"
)

// EventConnected is received once the interface completes association
// (and key negotiation, if any) with an AP.
type EventConnected struct {
	raw   string
	BSSID string
}

// Raw returns event as given by wpa_supplicant. Satisifes
// the Event interface.
func (e EventConnected) Raw() string {
	return e.raw
}

// EventScanResults is received when a scan completes.
type EventScanResults string

// Raw returns event as given by wpa_supplicant. Satisifes
// the Event interface.
func (e EventScanResults) Raw() string {
	return string(e)
}

// EventGroupStarted is received when a P2P group has been formed, either
// as group owner or as client.
type EventGroupStarted struct {
	raw        string
	Ifname     string
	Role       string
	SSID       string
	Freq       int
	PSK        string // Set if the group uses a raw PSK; exclusive with Passphrase.
	Passphrase string
	GODevAddr  string
	Persistent bool
}

// Raw returns event as given by wpa_supplicant. Satisifes
// the Event interface.
func (e EventGroupStarted) Raw() string {
	return e.raw
}

// EventGoNegFailure is received when GO negotiation fails.
type EventGoNegFailure struct {
	raw    string
	Status int
}

// Raw returns event as given by wpa_supplicant. Satisifes
// the Event interface.
func (e EventGoNegFailure) Raw() string {
	return e.raw
}

// EventGroupRemoved is received when a P2P group is removed.
type EventGroupRemoved struct {
	raw    string
	Ifname string
	Role   string
	Reason string
}

// Raw returns event as given by wpa_supplicant. Satisifes
// the Event interface.
func (e EventGroupRemoved) Raw() string {
	return e.raw
}

// EventWPS is one of the WPS-CRED-RECEIVED, WPS-SUCCESS or WPS-FAIL events.
type EventWPS struct {
	raw  string
	Name string
}

// Raw returns event as given by wpa_supplicant. Satisifes
// the Event interface.
func (e EventWPS) Raw() string {
	return e.raw
}

// EventTerminating is received when wpa_supplicant is exiting.
type EventTerminating string

// Raw returns event as given by wpa_supplicant. Satisifes
// the Event interface.
func (e EventTerminating) Raw() string {
	return string(e)
}

// EventUnrecognized is a catch-all event for unrecognized
// events. Its Raw method returns the contents of the message.
type EventUnrecognized string

// Raw returns event as given by wpa_supplicant. Satisifes
// the Event interface.
func (e EventUnrecognized) Raw() string {
	return string(e)
}

// EventName returns the event's name without priority prefix or arguments,
// e.g. "P2P-GROUP-STARTED".
func EventName(e Event) string {
	name, _, _ := strings.Cut(stripPriority(e.Raw()), " ")
	return name
}

// fieldList holds the space separated tokens of an event line. Tokens of
// the form key=value are split; a value starting with a double quote runs
// until the next quote that ends a token, so it may contain spaces.
type fieldList []field

type field struct {
	key, val string
	hasVal   bool
}

func eventFields(s string) fieldList {
	var fields fieldList
	for {
		s = strings.TrimLeft(s, " ")
		if s == "" {
			return fields
		}

		end := strings.IndexByte(s, ' ')
		if end < 0 {
			end = len(s)
		}
		tok := s[:end]

		eq := strings.IndexByte(tok, '=')
		if eq < 0 {
			fields = append(fields, field{key: tok})
			s = s[end:]
			continue
		}

		key, val := tok[:eq], s[eq+1:]
		if strings.HasPrefix(val, `"`) {
			closing := quotedEnd(val)
			if closing > 0 {
				fields = append(fields, field{key: key, val: val[1:closing], hasVal: true})
				s = val[closing+1:]
				continue
			}
		}
		fields = append(fields, field{key: key, val: tok[eq+1:], hasVal: true})
		s = s[end:]
	}
}

// quotedEnd returns the index of the quote closing v, which must start
// with a quote. The closing quote is the first one followed by a space or
// the end of the string. Returns -1 if there is none.
func quotedEnd(v string) int {
	for i := 1; i < len(v); i++ {
		if v[i] == '"' && (i == len(v)-1 || v[i+1] == ' ') {
			return i
		}
	}
	return -1
}

func (f fieldList) get(key string) (string, bool) {
	for _, fl := range f {
		if fl.hasVal && fl.key == key {
			return fl.val, true
		}
	}
	return "", false
}

// positional returns the i'th token that is not a key=value pair.
func (f fieldList) positional(i int) (string, bool) {
	for _, fl := range f {
		if fl.hasVal {
			continue
		}
		if i == 0 {
			return fl.key, true
		}
		i--
	}
	return "", false
}

func (f fieldList) flag(name string) bool {
	for _, fl := range f {
		if !fl.hasVal && fl.key == name {
			return true
		}
	}
	return false
}
