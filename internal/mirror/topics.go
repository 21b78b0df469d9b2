package mirror

import (
	"regexp"
	"strings"
)

// Topics configures MQTT topic generation. All topics are rooted at
// <Prefix>/<Name>.
type Topics struct {
	Name   string
	Prefix string
}

// Will topic for the overall wpas-ctrl status.
func (t Topics) Will() string {
	return mkTopic(t.Prefix, sanitizeTopic(t.Name), "status")
}

// Event topic for events received on an interface.
func (t Topics) Event(ifname string) string {
	return mkTopic(t.Prefix, sanitizeTopic(t.Name), sanitizeTopic(ifname), "event")
}

// IfaceStatus topic for an interface's last known STATUS.
func (t Topics) IfaceStatus(ifname string) string {
	return mkTopic(t.Prefix, sanitizeTopic(t.Name), sanitizeTopic(ifname), "status")
}

// Request topic for control commands sent to wpas-ctrl.
func (t Topics) Request() string {
	return mkTopic(t.Prefix, sanitizeTopic(t.Name), "request")
}

// Reply topic for the results of commands received on the Request topic.
func (t Topics) Reply() string {
	return mkTopic(t.Prefix, sanitizeTopic(t.Name), "reply")
}

func mkTopic(parts ...string) string {
	return strings.Join(parts, "/")
}

var topicRe = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

func sanitizeTopic(v string) string {
	return strings.ToLower(topicRe.ReplaceAllString(v, ""))
}
