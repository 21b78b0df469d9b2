package wpas

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"
)

const wpsTimeout = 15 * time.Second

// Default WPS PIN. The last digit is the checksum.
const defaultWPSPIN = "12345670"

// WPSReadPIN returns the PIN the client uses for WPS.
func (c *Client) WPSReadPIN() string {
	c.pin = defaultWPSPIN
	return c.pin
}

// WPSRegConfig holds the new AP settings sent when WPSReg configures the
// AP as an external registrar.
type WPSRegConfig struct {
	SSID       string
	KeyMgmt    string // e.g. "WPA2PSK"
	Cipher     string // e.g. "CCMP"
	Passphrase string
}

// WPSReg runs WPS as an external registrar against the AP at bssid using
// the AP's pin. With cfg, the AP is configured with the new settings and
// WPS-SUCCESS is expected. Without cfg, the AP's current credentials are
// learned: WPS-CRED-RECEIVED followed by WPS-FAIL is expected. Either way
// the client then associates.
func (c *Client) WPSReg(ctx context.Context, bssid, pin string, cfg *WPSRegConfig) error {
	c.DumpMonitor()

	if cfg != nil {
		cmd := fmt.Sprintf("WPS_REG %s %s %s %s %s %s",
			bssid, pin,
			hex.EncodeToString([]byte(cfg.SSID)),
			cfg.KeyMgmt, cfg.Cipher,
			hex.EncodeToString([]byte(cfg.Passphrase)),
		)
		if _, err := c.Request(cmd); err != nil {
			return err
		}
		if _, err := c.waitEvent(ctx, "WPS", wpsTimeout, eventWPSSuccess); err != nil {
			return err
		}
	} else {
		if _, err := c.Request(fmt.Sprintf("WPS_REG %s %s", bssid, pin)); err != nil {
			return err
		}
		if _, err := c.waitEvent(ctx, "WPS cred", wpsTimeout, eventWPSCredReceived); err != nil {
			return err
		}
		if _, err := c.waitEvent(ctx, "WPS", wpsTimeout, eventWPSFail); err != nil {
			return err
		}
	}

	_, err := c.waitEvent(ctx, "association with the AP", wpsTimeout, eventConnected)
	return err
}
