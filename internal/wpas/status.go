package wpas

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Status holds the name=value pairs returned by the STATUS command.
// More info:
// https://w1.fi/wpa_supplicant/devel/ctrl_iface_page.html#ctrl_iface_STATUS
type Status map[string]string

// parseStatus parses a STATUS reply. Every line must be in
// name=value format.
func parseStatus(p string) (Status, error) {
	s := make(Status)

	scanner := bufio.NewScanner(strings.NewReader(p))
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		key, val, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("invalid status response line %q", line)
		}
		s[key] = val
	}

	return s, scanner.Err()
}

// Field returns the named value and whether it was present.
func (s Status) Field(name string) (string, bool) {
	v, ok := s[name]
	return v, ok
}

// SSID returns the decoded "ssid" value. wpa_supplicant escapes
// non-printable characters in the SSID.
func (s Status) SSID() (string, error) {
	v, ok := s["ssid"]
	if !ok {
		return "", nil
	}
	return decodeSSID([]byte(v))
}

// PeerInfo holds the name=value pairs returned by P2P_PEER.
type PeerInfo map[string]string

// parsePeer parses a P2P_PEER reply. The first line is the peer's
// address; it and any other line without '=' are skipped.
func parsePeer(p string) PeerInfo {
	info := make(PeerInfo)

	scanner := bufio.NewScanner(strings.NewReader(p))
	for scanner.Scan() {
		key, val, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		info[key] = val
	}

	return info
}

// decodeSSID converts the printf_encode encoding of an SSID into a string,
// respecting the special escape sequences for hex and other characters.
// See printf_encode for more encoding info:
// https://w1.fi/cgit/hostap/tree/src/utils/common.c?id=b20991da6936a1baae9f2239ee127610a6f5335d#n477
func decodeSSID(v []byte) (string, error) {
	r := bytes.NewReader(v)
	var s strings.Builder
	s.Grow(len(v))

	for {
		c, err := r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", err
		}
		if c != '\\' {
			s.WriteByte(c)
			continue
		}

		c, err = r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return "", fmt.Errorf("dangling escape: %w", err)
		}

		switch c {
		case '"':
			s.WriteRune('"')
		case '\\':
			s.WriteRune('\\')
		case 'e':
			s.WriteRune('\033')
		case 'n':
			s.WriteRune('\n')
		case 'r':
			s.WriteRune('\r')
		case 't':
			s.WriteRune('\t')
		case 'x': // Hex
			if _, err = io.Copy(&s, hex.NewDecoder(io.LimitReader(r, 2))); err != nil {
				return "", err
			}
		default:
			// Invalid or unknown escape char.
			s.WriteByte(c)
		}
	}

	return s.String(), nil
}
