package wpas

import (
	"regexp"
)

var (
	macRegexp = regexp.MustCompile(`^([0-9A-Fa-f]{2}:){5}([0-9A-Fa-f]{2})$`)
	hexRegexp = regexp.MustCompile(`^[0-9A-Fa-f]+$`)
)

// isMAC returns false if v is not a valid MAC address
// in XX:XX:XX:XX:XX:XX format.
func isMAC(v string) bool {
	return macRegexp.MatchString(v)
}

func isHex(v string) bool {
	return hexRegexp.MatchString(v)
}
