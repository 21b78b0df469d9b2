package mirror

import (
	"time"

	"github.com/awilliams/wpas-ctrl/internal/wpas"
)

// EventMessage is the JSON payload published to the Event topic.
type EventMessage struct {
	Ifname string    `json:"ifname"`
	Name   string    `json:"name"`
	Raw    string    `json:"raw"`
	Time   time.Time `json:"time"`

	BSSID  string     `json:"bssid,omitempty"`  // CTRL-EVENT-CONNECTED
	Group  *GroupInfo `json:"group,omitempty"`  // P2P-GROUP-STARTED, P2P-GROUP-REMOVED
	Status *int       `json:"status,omitempty"` // P2P-GO-NEG-FAILURE
}

// GroupInfo describes a P2P group. The group's PSK and passphrase are
// not published.
type GroupInfo struct {
	Ifname     string `json:"ifname"`
	Role       string `json:"role"`
	SSID       string `json:"ssid,omitempty"`
	Freq       int    `json:"freq,omitempty"`
	GODevAddr  string `json:"go_dev_addr,omitempty"`
	Persistent bool   `json:"persistent,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// NewEventMessage returns the message mirroring ev, received on ifname
// at time at.
func NewEventMessage(ifname string, ev wpas.Event, at time.Time) EventMessage {
	msg := EventMessage{
		Ifname: ifname,
		Name:   wpas.EventName(ev),
		Raw:    ev.Raw(),
		Time:   at,
	}

	switch e := ev.(type) {
	case wpas.EventConnected:
		msg.BSSID = e.BSSID
	case wpas.EventGroupStarted:
		msg.Group = &GroupInfo{
			Ifname:     e.Ifname,
			Role:       e.Role,
			SSID:       e.SSID,
			Freq:       e.Freq,
			GODevAddr:  e.GODevAddr,
			Persistent: e.Persistent,
		}
	case wpas.EventGroupRemoved:
		msg.Group = &GroupInfo{
			Ifname: e.Ifname,
			Role:   e.Role,
			Reason: e.Reason,
		}
	case wpas.EventGoNegFailure:
		status := e.Status
		msg.Status = &status
	}

	return msg
}

// Request is the JSON payload expected on the Request topic. Cmd is sent
// as is to the control interface of Ifname.
type Request struct {
	ID     string `json:"id"`
	Ifname string `json:"ifname"`
	Cmd    string `json:"cmd"`
}

// Reply is the JSON payload published to the Reply topic for each Request.
type Reply struct {
	ID     string `json:"id"`
	Ifname string `json:"ifname"`
	Cmd    string `json:"cmd"`
	Reply  string `json:"reply,omitempty"`
	Error  string `json:"error,omitempty"`
}
