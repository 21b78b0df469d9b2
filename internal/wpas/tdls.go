package wpas

// TDLSSetup requests a TDLS direct link with peer.
func (c *Client) TDLSSetup(peer string) error {
	_, err := c.requestCheck(c.GroupRequest, "TDLS_SETUP "+peer, "request TDLS setup")
	return err
}

// TDLSTeardown tears down the TDLS direct link with peer.
func (c *Client) TDLSTeardown(peer string) error {
	_, err := c.requestCheck(c.GroupRequest, "TDLS_TEARDOWN "+peer, "request TDLS teardown")
	return err
}
