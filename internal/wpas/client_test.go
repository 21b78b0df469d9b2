package wpas

import (
	"context"
	"errors"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/awilliams/wpas-ctrl/internal/wpas/wpastest"
)

// startSupplicant creates a mock wpa_supplicant at sockPath. setup, if
// given, is called before serving so that handler callbacks can emit
// events on the returned Supplicant.
func startSupplicant(t *testing.T, sockPath string, h *wpastest.Handler, setup func(*wpastest.Supplicant, *wpastest.Handler)) *wpastest.Supplicant {
	t.Helper()

	sup, err := wpastest.NewSupplicant(sockPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { sup.Close() })

	if setup != nil {
		setup(sup, h)
	}
	go func() {
		if err := sup.Serve(h); err != nil {
			t.Errorf("supplicant %q: %v", sockPath, err)
		}
	}()
	return sup
}

// newTestClient connects a Client to the interface wlan0, whose control
// socket must already exist in dir.
func newTestClient(t *testing.T, dir string, opts ...Opt) *Client {
	t.Helper()

	opts = append([]Opt{
		WithCtrlDir(dir),
		WithLocalSockDir(t.TempDir()),
		WithRequestTimeout(time.Second),
	}, opts...)
	c, err := NewClient("wlan0", opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// hasMessage reports whether h received msg.
func hasMessage(h *wpastest.Handler, msg string) bool {
	for _, m := range h.Received() {
		if m == msg {
			return true
		}
	}
	return false
}

func TestNewClient(t *testing.T) {
	if _, err := NewClient(""); err == nil {
		t.Fatal("expected error for blank interface name")
	}

	dir := t.TempDir()
	if _, err := NewClient("wlan0", WithCtrlDir(dir), WithLocalSockDir(t.TempDir())); err == nil {
		t.Fatal("expected error for missing control socket")
	}

	h := wpastest.DefaultHandler(nil)
	sup := startSupplicant(t, path.Join(dir, "wlan0"), h, nil)

	c := newTestClient(t, dir)
	if c.Ifname() != "wlan0" {
		t.Fatalf("got ifname %q", c.Ifname())
	}
	if got := sup.Attached(); got != 1 {
		t.Fatalf("got %d attached monitors; want 1", got)
	}
	if !c.Ping() {
		t.Fatal("Ping() = false")
	}
	if c.Pending() {
		t.Fatal("unexpected pending events")
	}
	if err := c.MonitorErr(); err != nil {
		t.Fatal(err)
	}

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if !hasMessage(h, cmdDetach) {
		t.Fatal("DETACH not received on close")
	}
}

func TestClient_requestCheck(t *testing.T) {
	dir := t.TempDir()
	h := wpastest.DefaultHandler(nil)
	h.OnCommand("REMOVE_NETWORK", wpastest.Reply("FAIL\n"))
	startSupplicant(t, path.Join(dir, "wlan0"), h, nil)

	c := newTestClient(t, dir)

	err := c.RemoveNetwork(3)
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("got error %v; want %T", err, cmdErr)
	}
	if cmdErr.Cmd != "REMOVE_NETWORK" || cmdErr.Reply != "FAIL" {
		t.Fatalf("unexpected error contents: %#v", cmdErr)
	}
	if !hasMessage(h, "REMOVE_NETWORK 3") {
		t.Fatalf("REMOVE_NETWORK not received; got %q", h.Received())
	}

	var unknown ErrUnknownCmd
	if _, err := c.Request("BOGUS"); !errors.As(err, &unknown) {
		t.Fatalf("got error %v; want %T", err, unknown)
	}
}

func TestClient_globalRequest(t *testing.T) {
	dir := t.TempDir()
	h := wpastest.DefaultHandler(nil)
	startSupplicant(t, path.Join(dir, "wlan0"), h, nil)

	var gh wpastest.Handler
	gh.OnCommand("P2P_FIND", wpastest.Reply("OK\n"))
	global := startSupplicant(t, path.Join(dir, "global"), &gh, nil)

	c := newTestClient(t, dir, WithGlobalIface(global.Addr))
	if _, err := c.P2PFind(true); err != nil {
		t.Fatal(err)
	}
	if !hasMessage(&gh, "P2P_FIND type=social") {
		t.Fatalf("global interface did not receive P2P_FIND; got %q", gh.Received())
	}
	if hasMessage(h, "P2P_FIND type=social") {
		t.Fatal("P2P_FIND sent to interface instead of global interface")
	}

	if err := global.Emit("<3>P2P-DEVICE-FOUND 02:00:00:00:01:00"); err != nil {
		t.Fatal(err)
	}
	ev, ok := c.WaitGlobalEvent(context.Background(), time.Second, "P2P-DEVICE-FOUND")
	if !ok {
		t.Fatal("global event not received")
	}
	t.Logf("got global event %q", ev)
}

func TestClient_DumpMonitor(t *testing.T) {
	dir := t.TempDir()
	sup := startSupplicant(t, path.Join(dir, "wlan0"), wpastest.DefaultHandler(nil), nil)
	global := startSupplicant(t, path.Join(dir, "global"), wpastest.DefaultHandler(nil), nil)

	c := newTestClient(t, dir, WithGlobalIface(global.Addr))
	if err := sup.Emit("<3>CTRL-EVENT-SCAN-RESULTS "); err != nil {
		t.Fatal(err)
	}
	if err := global.Emit("<3>P2P-DEVICE-FOUND 02:00:00:00:01:00"); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(time.Second)
	for !c.Pending() || !c.globalMon.pending() {
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for queued events")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Both monitors are drained.
	c.DumpMonitor()
	if c.Pending() {
		t.Fatal("interface events still queued after DumpMonitor")
	}
	if c.globalMon.pending() {
		t.Fatal("global events still queued after DumpMonitor")
	}
	if ev, ok := c.WaitGlobalEvent(context.Background(), 0, "P2P-DEVICE-FOUND"); ok {
		t.Fatalf("stale global event received: %q", ev)
	}
}

func TestClient_noGlobalIface(t *testing.T) {
	dir := t.TempDir()
	h := wpastest.DefaultHandler(nil)
	h.OnCommand("P2P_LISTEN", wpastest.Reply("OK\n"))
	sup := startSupplicant(t, path.Join(dir, "wlan0"), h, nil)

	c := newTestClient(t, dir)

	reply, err := c.P2PListen()
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(reply) != "OK" {
		t.Fatalf("got reply %q; want OK", reply)
	}
	if !hasMessage(h, "P2P_LISTEN") {
		t.Fatal("P2P_LISTEN not sent to interface")
	}

	// Without a global interface, global waits use the interface monitor.
	if err := sup.Emit("<3>P2P-DEVICE-FOUND 02:00:00:00:01:00"); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.WaitGlobalEvent(context.Background(), time.Second, "P2P-DEVICE-FOUND"); !ok {
		t.Fatal("event not received")
	}
}

func TestClient_Reset(t *testing.T) {
	dir := t.TempDir()
	h := wpastest.DefaultHandler(nil)
	sup := startSupplicant(t, path.Join(dir, "wlan0"), h, nil)

	c := newTestClient(t, dir)
	c.groupIfname = "p2p-wlan0-0"

	if err := sup.Emit("<3>CTRL-EVENT-SCAN-STARTED"); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !c.Pending() {
		if time.Now().After(deadline) {
			t.Fatal("event never queued")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := c.Reset(); err != nil {
		t.Fatal(err)
	}
	for _, cmd := range []string{"FLUSH", "SET ignore_old_scan_res 0", "P2P_SET per_sta_psk 0"} {
		if !hasMessage(h, cmd) {
			t.Errorf("%q not received", cmd)
		}
	}
	if c.GroupIfname() != "" {
		t.Errorf("group interface not cleared: %q", c.GroupIfname())
	}
	if c.Pending() {
		t.Error("events still pending after Reset")
	}
}

func TestClient_Status(t *testing.T) {
	dir := t.TempDir()
	h := wpastest.DefaultHandler(map[string]string{
		"wpa_state":          "COMPLETED",
		"ssid":               "test",
		"p2p_device_address": "02:00:00:00:00:00",
	})
	startSupplicant(t, path.Join(dir, "wlan0"), h, nil)

	c := newTestClient(t, dir)

	s, err := c.Status()
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := s.Field("wpa_state"); v != "COMPLETED" {
		t.Fatalf("got wpa_state %q", v)
	}
	if v, err := c.StatusField("ssid"); err != nil || v != "test" {
		t.Fatalf("StatusField(ssid) = %q, %v", v, err)
	}
	if v, err := c.StatusField("missing"); err != nil || v != "" {
		t.Fatalf("StatusField(missing) = %q, %v", v, err)
	}
	if v, err := c.P2PDevAddr(); err != nil || v != "02:00:00:00:00:00" {
		t.Fatalf("P2PDevAddr() = %q, %v", v, err)
	}

	// Without a group, group requests use the interface.
	if v, err := c.GroupStatusField("wpa_state"); err != nil || v != "COMPLETED" {
		t.Fatalf("GroupStatusField(wpa_state) = %q, %v", v, err)
	}
}

func TestClient_Connect(t *testing.T) {
	dir := t.TempDir()
	h := wpastest.DefaultHandler(nil)
	startSupplicant(t, path.Join(dir, "wlan0"), h, func(sup *wpastest.Supplicant, h *wpastest.Handler) {
		h.OnCommand("SELECT_NETWORK", func(string) string {
			_ = sup.Emit("<3>CTRL-EVENT-CONNECTED - Connection to 02:00:00:00:03:00 completed [id=0 id_str=]")
			return "OK\n"
		})
	})

	c := newTestClient(t, dir)

	err := c.Connect(context.Background(), NetworkConfig{
		SSID:    "test-wpa2-psk",
		PSK:     "12345678",
		Proto:   "WPA2",
		KeyMgmt: "WPA-PSK",
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, cmd := range []string{
		"ADD_NETWORK",
		`SET_NETWORK 0 ssid "test-wpa2-psk"`,
		`SET_NETWORK 0 psk "12345678"`,
		"SET_NETWORK 0 proto WPA2",
		"SET_NETWORK 0 key_mgmt WPA-PSK",
		"SELECT_NETWORK 0",
	} {
		if !hasMessage(h, cmd) {
			t.Errorf("%q not received", cmd)
		}
	}
	for _, m := range h.Received() {
		if strings.Contains(m, "ieee80211w") || strings.Contains(m, "wep_key0") {
			t.Errorf("unexpected empty field sent: %q", m)
		}
	}
}

func TestClient_ConnectCanceled(t *testing.T) {
	dir := t.TempDir()
	h := wpastest.DefaultHandler(nil)
	startSupplicant(t, path.Join(dir, "wlan0"), h, nil)

	c := newTestClient(t, dir)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := c.Connect(ctx, NetworkConfig{SSID: "open"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got error %v; want %v", err, context.DeadlineExceeded)
	}
}

func TestClient_Scan(t *testing.T) {
	dir := t.TempDir()
	h := wpastest.DefaultHandler(nil)
	startSupplicant(t, path.Join(dir, "wlan0"), h, func(sup *wpastest.Supplicant, h *wpastest.Handler) {
		h.OnCommand("SCAN", func(args string) string {
			if args == "TYPE=BUSY" {
				return "FAIL-BUSY\n"
			}
			_ = sup.Emit("<3>CTRL-EVENT-SCAN-RESULTS ")
			return "OK\n"
		})
	})

	c := newTestClient(t, dir)

	if err := c.Scan(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	if err := c.Scan(context.Background(), "ONLY"); err != nil {
		t.Fatal(err)
	}
	if !hasMessage(h, "SCAN TYPE=ONLY") {
		t.Fatal("SCAN TYPE=ONLY not received")
	}

	var cmdErr *CommandError
	if err := c.Scan(context.Background(), "BUSY"); !errors.As(err, &cmdErr) {
		t.Fatalf("got error %v; want %T", err, cmdErr)
	}
}

func TestClient_Roam(t *testing.T) {
	dir := t.TempDir()
	h := wpastest.DefaultHandler(nil)
	startSupplicant(t, path.Join(dir, "wlan0"), h, func(sup *wpastest.Supplicant, h *wpastest.Handler) {
		h.OnCommand("ROAM", func(bssid string) string {
			_ = sup.Emit("<3>CTRL-EVENT-CONNECTED - Connection to " + bssid + " completed [id=0 id_str=]")
			return "OK\n"
		})
	})

	c := newTestClient(t, dir)

	if err := c.Roam(context.Background(), "02:00:00:00:04:00"); err != nil {
		t.Fatal(err)
	}
	if !hasMessage(h, "ROAM 02:00:00:00:04:00") {
		t.Fatal("ROAM not received")
	}
}

func TestClient_Creds(t *testing.T) {
	dir := t.TempDir()
	h := wpastest.DefaultHandler(nil)
	startSupplicant(t, path.Join(dir, "wlan0"), h, nil)

	c := newTestClient(t, dir)

	id, err := c.AddCred()
	if err != nil {
		t.Fatal(err)
	}
	if err := c.SetCredQuoted(id, "realm", "example.com"); err != nil {
		t.Fatal(err)
	}
	if err := c.SetCred(id, "priority", "1"); err != nil {
		t.Fatal(err)
	}
	if err := c.RemoveCred(id); err != nil {
		t.Fatal(err)
	}
	for _, cmd := range []string{
		"ADD_CRED",
		`SET_CRED 0 realm "example.com"`,
		"SET_CRED 0 priority 1",
		"REMOVE_CRED 0",
	} {
		if !hasMessage(h, cmd) {
			t.Errorf("%q not received", cmd)
		}
	}

	h.OnCommand("ADD_NETWORK", wpastest.Reply("garbage\n"))
	if _, err := c.AddNetwork(); err == nil {
		t.Fatal("expected error for invalid network id")
	}
}

func TestClient_WPSReg(t *testing.T) {
	const (
		bssid     = "02:00:00:00:03:00"
		connected = "<3>CTRL-EVENT-CONNECTED - Connection to 02:00:00:00:03:00 completed [id=0 id_str=]"
	)

	dir := t.TempDir()
	h := wpastest.DefaultHandler(nil)
	startSupplicant(t, path.Join(dir, "wlan0"), h, func(sup *wpastest.Supplicant, h *wpastest.Handler) {
		h.OnCommand("WPS_REG", func(args string) string {
			if strings.Count(args, " ") == 1 {
				_ = sup.Emit("<3>WPS-CRED-RECEIVED ")
				_ = sup.Emit("<3>WPS-FAIL msg=8 config_error=0")
			} else {
				_ = sup.Emit("<3>WPS-SUCCESS ")
			}
			_ = sup.Emit(connected)
			return "OK\n"
		})
	})

	c := newTestClient(t, dir)
	pin := c.WPSReadPIN()
	if pin != "12345670" {
		t.Fatalf("got PIN %q", pin)
	}

	if err := c.WPSReg(context.Background(), bssid, pin, nil); err != nil {
		t.Fatal(err)
	}

	cfg := &WPSRegConfig{
		SSID:       "test",
		KeyMgmt:    "WPA2PSK",
		Cipher:     "CCMP",
		Passphrase: "12345678",
	}
	if err := c.WPSReg(context.Background(), bssid, pin, cfg); err != nil {
		t.Fatal(err)
	}

	for _, cmd := range []string{
		"WPS_REG 02:00:00:00:03:00 12345670",
		"WPS_REG 02:00:00:00:03:00 12345670 74657374 WPA2PSK CCMP 3132333435363738",
	} {
		if !hasMessage(h, cmd) {
			t.Errorf("%q not received; got %q", cmd, h.Received())
		}
	}
}

func TestClient_TDLS(t *testing.T) {
	dir := t.TempDir()
	h := wpastest.DefaultHandler(nil)
	h.OnCommand("TDLS_SETUP", wpastest.Reply("OK\n"))
	h.OnCommand("TDLS_TEARDOWN", wpastest.Reply("FAIL\n"))
	startSupplicant(t, path.Join(dir, "wlan0"), h, nil)

	c := newTestClient(t, dir)

	if err := c.TDLSSetup("02:00:00:00:01:00"); err != nil {
		t.Fatal(err)
	}
	var cmdErr *CommandError
	if err := c.TDLSTeardown("02:00:00:00:01:00"); !errors.As(err, &cmdErr) {
		t.Fatalf("got error %v; want %T", err, cmdErr)
	}
	if cmdErr.Msg != "request TDLS teardown" {
		t.Fatalf("got message %q", cmdErr.Msg)
	}
}

func TestClient_terminating(t *testing.T) {
	dir := t.TempDir()
	h := wpastest.DefaultHandler(nil)
	sup := startSupplicant(t, path.Join(dir, "wlan0"), h, nil)

	c := newTestClient(t, dir)

	if err := sup.Emit("<3>" + eventTerminating); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.WaitEvent(context.Background(), time.Second, eventTerminating); !ok {
		t.Fatal("terminating event not received")
	}
	if _, ok := c.WaitEvent(context.Background(), time.Second, eventConnected); ok {
		t.Fatal("unexpected event after termination")
	}
	if err := c.MonitorErr(); !errors.Is(err, ErrTerminating) {
		t.Fatalf("got monitor error %v; want %v", err, ErrTerminating)
	}
}
