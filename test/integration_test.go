package integration_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awilliams/wpas-ctrl/internal/mirror"
	"github.com/awilliams/wpas-ctrl/internal/wpas"
	"github.com/awilliams/wpas-ctrl/internal/wpas/wpastest"
)

const (
	bssid   = "02:00:00:00:03:00"
	peer    = "02:00:00:00:01:00"
	started = `<3>P2P-GROUP-STARTED p2p-wlan1-0 GO ssid="DIRECT-ab" freq=2437 passphrase="secret" go_dev_addr=02:00:00:00:00:00`
)

func TestMonitor(t *testing.T) {
	it := newIntTest(t, map[string]*wpastest.Handler{
		"wlan0": wpastest.DefaultHandler(nil),
		"wlan1": wpastest.DefaultHandler(nil),
	}, false)

	it.startMonitor()

	it.emit("wlan0", "<3>CTRL-EVENT-CONNECTED - Connection to "+bssid+" completed [id=0 id_str=]")
	it.waitOutput("wlan0: <3>CTRL-EVENT-CONNECTED - Connection to " + bssid)

	it.emit("wlan1", started)
	it.waitOutput("wlan1: " + started)

	// Unparsable events are still printed.
	it.emit("wlan1", "<3>P2P-GO-NEG-FAILURE")
	it.waitOutput("wlan1: <3>P2P-GO-NEG-FAILURE")

	it.emit("wlan0", "<3>CTRL-EVENT-TERMINATING")
	err := it.waitExit()
	if !errors.Is(err, wpas.ErrTerminating) {
		t.Fatal(err)
	}
	t.Logf("wpas-ctrl exited with expected error: %v", err)
}

func TestMirror(t *testing.T) {
	if *mqttAddr == "" {
		t.Skip("skipping since no -mqttAddr is set")
	}

	h := wpastest.DefaultHandler(map[string]string{
		"wpa_state": "COMPLETED",
		"bssid":     bssid,
		"ssid":      "test-net",
	})
	h.OnCommand("P2P_PEER", wpastest.Reply(peer+"\ndevice_name=Device A\n"))

	it := newIntTest(t, map[string]*wpastest.Handler{"wlan0": h}, true)

	var (
		statusSub = it.subTopic(it.topics.Will(), true)
		ifaceSub  = it.subTopic(it.topics.IfaceStatus("wlan0"), true)
		eventSub  = it.subTopic(it.topics.Event("wlan0"), true)
		replySub  = it.subTopic(it.topics.Reply(), true)
	)

	// Start wpas-ctrl only after subscriptions have been made.
	it.startMonitor()

	msg := it.waitMessage(statusSub)
	require.Equal(t, mirror.StatusOnline, string(msg.Payload()))

	msg = it.waitMessage(ifaceSub)
	var status map[string]string
	require.NoError(t, json.Unmarshal(msg.Payload(), &status))
	assert.Equal(t, "COMPLETED", status["wpa_state"])
	assert.Equal(t, "test-net", status["ssid"])

	it.emit("wlan0", started)
	msg = it.waitMessage(eventSub)
	var ev mirror.EventMessage
	require.NoError(t, json.Unmarshal(msg.Payload(), &ev))
	assert.Equal(t, "wlan0", ev.Ifname)
	assert.Equal(t, "P2P-GROUP-STARTED", ev.Name)
	require.NotNil(t, ev.Group)
	assert.Equal(t, "p2p-wlan1-0", ev.Group.Ifname)
	assert.Equal(t, 2437, ev.Group.Freq)
	assert.NotContains(t, string(msg.Payload()), "secret")

	// A connection event republishes the interface status.
	it.emit("wlan0", "<3>CTRL-EVENT-CONNECTED - Connection to "+bssid+" completed [id=0 id_str=]")
	msg = it.waitMessage(eventSub)
	require.NoError(t, json.Unmarshal(msg.Payload(), &ev))
	assert.Equal(t, bssid, ev.BSSID)
	it.waitMessage(ifaceSub)

	it.pubTopic(it.topics.Request(), mirror.Request{ID: "1", Ifname: "wlan0", Cmd: "P2P_PEER " + peer})
	msg = it.waitMessage(replySub)
	var reply mirror.Reply
	require.NoError(t, json.Unmarshal(msg.Payload(), &reply))
	assert.Equal(t, "1", reply.ID)
	assert.Contains(t, reply.Reply, "device_name=Device A")
	assert.Empty(t, reply.Error)

	it.pubTopic(it.topics.Request(), mirror.Request{ID: "2", Ifname: "wlan9", Cmd: "PING"})
	msg = it.waitMessage(replySub)
	require.NoError(t, json.Unmarshal(msg.Payload(), &reply))
	assert.Equal(t, "2", reply.ID)
	assert.Contains(t, reply.Error, "wlan9")

	it.emit("wlan0", "<3>CTRL-EVENT-TERMINATING")
	err := it.waitExit()
	if !errors.Is(err, wpas.ErrTerminating) {
		t.Fatal(err)
	}

	// The terminating event is mirrored before exiting.
	msg = it.waitMessage(eventSub)
	require.NoError(t, json.Unmarshal(msg.Payload(), &ev))
	assert.Equal(t, "CTRL-EVENT-TERMINATING", ev.Name)

	msg = it.waitMessage(statusSub)
	assert.Equal(t, mirror.StatusOffline, string(msg.Payload()))
}
