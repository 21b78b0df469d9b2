package wpas

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Event wait windows used by the station workflows.
const (
	connectTimeout = 10 * time.Second
	scanTimeout    = 15 * time.Second
)

// NetworkConfig holds the network block fields set by Connect. Empty
// fields are not sent.
type NetworkConfig struct {
	SSID       string
	PSK        string
	Proto      string
	KeyMgmt    string
	IEEE80211w string
	WEPKey0    string
}

// AddNetwork creates an empty network block and returns its id.
func (c *Client) AddNetwork() (int, error) {
	return c.addBlock("ADD_NETWORK")
}

// RemoveNetwork removes the network block with the given id.
func (c *Client) RemoveNetwork(id int) error {
	_, err := c.requestCheck(c.Request, fmt.Sprintf("REMOVE_NETWORK %d", id), "")
	return err
}

// SetNetwork sets a network block field. The value is sent unquoted.
func (c *Client) SetNetwork(id int, field, value string) error {
	_, err := c.requestCheck(c.Request, fmt.Sprintf("SET_NETWORK %d %s %s", id, field, value), "")
	return err
}

// SetNetworkQuoted sets a network block field to a string value,
// wrapping it in double quotes.
func (c *Client) SetNetworkQuoted(id int, field, value string) error {
	return c.SetNetwork(id, field, `"`+value+`"`)
}

// AddCred creates an empty credential block and returns its id.
func (c *Client) AddCred() (int, error) {
	return c.addBlock("ADD_CRED")
}

// RemoveCred removes the credential block with the given id.
func (c *Client) RemoveCred(id int) error {
	_, err := c.requestCheck(c.Request, fmt.Sprintf("REMOVE_CRED %d", id), "")
	return err
}

// SetCred sets a credential block field. The value is sent unquoted.
func (c *Client) SetCred(id int, field, value string) error {
	_, err := c.requestCheck(c.Request, fmt.Sprintf("SET_CRED %d %s %s", id, field, value), "")
	return err
}

// SetCredQuoted sets a credential block field to a string value,
// wrapping it in double quotes.
func (c *Client) SetCredQuoted(id int, field, value string) error {
	return c.SetCred(id, field, `"`+value+`"`)
}

func (c *Client) addBlock(cmd string) (int, error) {
	reply, err := c.requestCheck(c.Request, cmd, "")
	if err != nil {
		return 0, err
	}
	id, err := strconv.Atoi(strings.TrimSpace(reply))
	if err != nil {
		return 0, fmt.Errorf("%s: invalid id %q", cmd, strings.TrimSpace(reply))
	}
	return id, nil
}

// SelectNetwork selects the network block with the given id, disabling
// all others.
func (c *Client) SelectNetwork(id int) error {
	_, err := c.requestCheck(c.Request, fmt.Sprintf("SELECT_NETWORK %d", id), "")
	return err
}

// ConnectNetwork selects the network block and waits for association.
func (c *Client) ConnectNetwork(ctx context.Context, id int) error {
	c.DumpMonitor()
	if err := c.SelectNetwork(id); err != nil {
		return err
	}
	if _, err := c.waitEvent(ctx, "association with the AP", connectTimeout, eventConnected); err != nil {
		return err
	}
	c.DumpMonitor()
	return nil
}

// Connect adds a network block for cfg and waits for association.
func (c *Client) Connect(ctx context.Context, cfg NetworkConfig) error {
	c.logger.Printf("Connect STA %s to AP %q", c.ifname, cfg.SSID)

	id, err := c.AddNetwork()
	if err != nil {
		return err
	}
	if err := c.SetNetworkQuoted(id, "ssid", cfg.SSID); err != nil {
		return err
	}
	if cfg.PSK != "" {
		if err := c.SetNetworkQuoted(id, "psk", cfg.PSK); err != nil {
			return err
		}
	}
	for _, f := range []struct{ name, val string }{
		{"proto", cfg.Proto},
		{"key_mgmt", cfg.KeyMgmt},
		{"ieee80211w", cfg.IEEE80211w},
		{"wep_key0", cfg.WEPKey0},
	} {
		if f.val == "" {
			continue
		}
		if err := c.SetNetwork(id, f.name, f.val); err != nil {
			return err
		}
	}

	return c.ConnectNetwork(ctx, id)
}

// Scan triggers a scan and waits for its results. scanType is optional,
// e.g. "ONLY".
func (c *Client) Scan(ctx context.Context, scanType string) error {
	cmd := "SCAN"
	if scanType != "" {
		cmd += " TYPE=" + scanType
	}
	c.DumpMonitor()
	if err := c.requestOK(c.Request, cmd, "trigger scan"); err != nil {
		return err
	}
	_, err := c.waitEvent(ctx, "scan", scanTimeout, eventScanResults)
	return err
}

// Roam requests a roam to bssid and waits for reassociation.
func (c *Client) Roam(ctx context.Context, bssid string) error {
	c.DumpMonitor()
	if _, err := c.Request("ROAM " + bssid); err != nil {
		return err
	}
	if _, err := c.waitEvent(ctx, "roaming with the AP", connectTimeout, eventConnected); err != nil {
		return err
	}
	c.DumpMonitor()
	return nil
}
