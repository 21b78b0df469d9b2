package wpas

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultDiscoverTimeout = 15 * time.Second
	defaultAuthTimeout     = time.Second
	startGOTimeout         = 5 * time.Second
	groupRemovedTimeout    = 3 * time.Second
)

// Possible GroupResult.Result values.
const (
	ResultSuccess     = "success"
	ResultGoNegFailed = "go-neg-failed"
)

// GroupResult is the outcome of a P2P group formation attempt.
type GroupResult struct {
	Result string // ResultSuccess or ResultGoNegFailed

	// Set when Result is ResultGoNegFailed.
	Status int

	// Set when Result is ResultSuccess.
	Ifname     string
	Role       string
	SSID       string
	Freq       int
	Persistent bool
	PSK        string
	Passphrase string
	GODevAddr  string
}

// groupFormResult builds a GroupResult from the event that ended a group
// formation wait. With expectFailure, a GO negotiation failure is the
// expected outcome, group start is an error, and any other event yields
// a nil result. Otherwise the event must be P2P-GROUP-STARTED, and its
// interface becomes the client's group interface.
func (c *Client) groupFormResult(ev string, expectFailure bool) (*GroupResult, error) {
	if expectFailure {
		if strings.Contains(ev, eventGroupStarted) {
			return nil, errors.New("group formation succeeded when expecting failure")
		}
		if !strings.Contains(ev, eventGoNegFailure) {
			return nil, nil
		}
		// A failure without a usable status yields no result.
		e, err := ParseEvent(ev)
		if err != nil {
			return nil, nil
		}
		failure, ok := e.(EventGoNegFailure)
		if !ok {
			return nil, nil
		}
		return &GroupResult{Result: ResultGoNegFailed, Status: failure.Status}, nil
	}

	if !strings.Contains(ev, eventGroupStarted) {
		return nil, fmt.Errorf("no %s event seen: %q", eventGroupStarted, ev)
	}

	e, err := ParseEvent(ev)
	if err != nil {
		return nil, fmt.Errorf("could not parse %s: %w", eventGroupStarted, err)
	}
	started, ok := e.(EventGroupStarted)
	if !ok {
		return nil, fmt.Errorf("could not parse %s: %q", eventGroupStarted, ev)
	}

	c.groupIfname = started.Ifname
	return &GroupResult{
		Result:     ResultSuccess,
		Ifname:     started.Ifname,
		Role:       started.Role,
		SSID:       started.SSID,
		Freq:       started.Freq,
		Persistent: started.Persistent,
		PSK:        started.PSK,
		Passphrase: started.Passphrase,
		GODevAddr:  started.GODevAddr,
	}, nil
}

// P2PDevAddr returns the interface's P2P device address.
func (c *Client) P2PDevAddr() (string, error) {
	return c.StatusField("p2p_device_address")
}

// P2PInterfaceAddr returns the address of the P2P group interface.
func (c *Client) P2PInterfaceAddr() (string, error) {
	return c.GroupStatusField("address")
}

// P2PListen starts listen-only P2P discovery.
func (c *Client) P2PListen() (string, error) {
	return c.GlobalRequest("P2P_LISTEN")
}

// P2PFind starts P2P device discovery. With social, only the social
// channels are searched.
func (c *Client) P2PFind(social bool) (string, error) {
	if social {
		return c.GlobalRequest("P2P_FIND type=social")
	}
	return c.GlobalRequest("P2P_FIND")
}

// P2PStopFind stops P2P device discovery.
func (c *Client) P2PStopFind() (string, error) {
	return c.GlobalRequest("P2P_STOP_FIND")
}

// PeerKnown reports whether peer is in the P2P peer table. With full, a
// peer only seen through Probe Request frames is not considered known.
func (c *Client) PeerKnown(peer string, full bool) (bool, error) {
	reply, err := c.GlobalRequest("P2P_PEER " + peer)
	if err != nil {
		return false, err
	}
	if !strings.Contains(strings.ToLower(reply), strings.ToLower(peer)) {
		return false, nil
	}
	if !full {
		return true, nil
	}
	return !strings.Contains(reply, "[PROBE_REQ_ONLY]"), nil
}

// DiscoverOpts configures DiscoverPeer.
type DiscoverOpts struct {
	Timeout      time.Duration // Defaults to 15s.
	ProbeReqOnly bool          // Accept peers only seen through Probe Request frames.
	AllChannels  bool          // Search all channels instead of only the social channels.
}

// DiscoverPeer returns true once peer is known, starting P2P_FIND if it
// isn't already. The peer table is re-queried once per second until the
// timeout.
func (c *Client) DiscoverPeer(ctx context.Context, peer string, opts DiscoverOpts) (bool, error) {
	if opts.Timeout == 0 {
		opts.Timeout = defaultDiscoverTimeout
	}
	full := !opts.ProbeReqOnly

	c.logger.Printf("%s: Trying to discover peer %s", c.ifname, peer)
	if known, err := c.PeerKnown(peer, full); err != nil || known {
		return known, err
	}
	if _, err := c.P2PFind(!opts.AllChannels); err != nil {
		return false, err
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	deadline := time.Now().Add(opts.Timeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
		if known, err := c.PeerKnown(peer, full); err != nil || known {
			return known, err
		}
	}
	return false, nil
}

// GetPeer returns the P2P peer table entry for peer.
func (c *Client) GetPeer(peer string) (PeerInfo, error) {
	reply, err := c.GlobalRequest("P2P_PEER " + peer)
	if err != nil {
		return nil, err
	}
	if !strings.Contains(strings.ToLower(reply), strings.ToLower(peer)) {
		return nil, fmt.Errorf("peer %s information not available", peer)
	}
	return parsePeer(reply), nil
}

// GoNegOpts configures GO negotiation.
type GoNegOpts struct {
	GoIntent   *int // GO intent 0-15; not sent if nil.
	Persistent bool

	// Timeout to wait for the group formation result. With 0,
	// P2PGoNegInit returns as soon as P2P_CONNECT is accepted.
	Timeout time.Duration

	// The negotiation is expected to fail.
	ExpectFailure bool
}

func (o GoNegOpts) args() string {
	var b strings.Builder
	if o.GoIntent != nil {
		fmt.Fprintf(&b, " go_intent=%d", *o.GoIntent)
	}
	if o.Persistent {
		b.WriteString(" persistent")
	}
	return b.String()
}

// discover wraps DiscoverPeer with the error returned by the P2P workflows.
func (c *Client) discover(ctx context.Context, peer, who string, opts DiscoverOpts) error {
	found, err := c.DiscoverPeer(ctx, peer, opts)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%s %s not found", who, peer)
	}
	return nil
}

// P2PGoNegAuth authorizes GO negotiation initiated by peer.
func (c *Client) P2PGoNegAuth(ctx context.Context, peer, pin, method string, opts GoNegOpts) error {
	if err := c.discover(ctx, peer, "peer", DiscoverOpts{}); err != nil {
		return err
	}
	c.DumpMonitor()
	cmd := fmt.Sprintf("P2P_CONNECT %s %s %s auth%s", peer, pin, method, opts.args())
	return c.requestOK(c.GlobalRequest, cmd, "authorize GO negotiation")
}

// P2PGoNegAuthResult waits for the result of a negotiation authorized
// with P2PGoNegAuth. A timeout of 0 waits one second. With expectFailure,
// a timeout is not an error and yields a nil result.
func (c *Client) P2PGoNegAuthResult(ctx context.Context, timeout time.Duration, expectFailure bool) (*GroupResult, error) {
	if timeout == 0 {
		timeout = defaultAuthTimeout
	}
	return c.waitGroupFormation(ctx, timeout, expectFailure)
}

// P2PGoNegInit starts GO negotiation with peer. pin may be empty for
// methods that don't use one, e.g. "pbc".
func (c *Client) P2PGoNegInit(ctx context.Context, peer, pin, method string, opts GoNegOpts) (*GroupResult, error) {
	if err := c.discover(ctx, peer, "peer", DiscoverOpts{}); err != nil {
		return nil, err
	}
	c.DumpMonitor()

	cmd := "P2P_CONNECT " + peer
	if pin != "" {
		cmd += " " + pin
	}
	cmd += " " + method + opts.args()
	if err := c.requestOK(c.GlobalRequest, cmd, "start GO negotiation"); err != nil {
		return nil, err
	}

	if opts.Timeout == 0 {
		c.DumpMonitor()
		return nil, nil
	}
	return c.waitGroupFormation(ctx, opts.Timeout, opts.ExpectFailure)
}

func (c *Client) waitGroupFormation(ctx context.Context, timeout time.Duration, expectFailure bool) (*GroupResult, error) {
	ev, ok := c.WaitGlobalEvent(ctx, timeout, eventGroupStarted, eventGoNegFailure)
	if !ok {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if expectFailure {
			return nil, nil
		}
		return nil, &TimeoutError{Waiting: "group formation"}
	}
	c.DumpMonitor()
	return c.groupFormResult(ev, expectFailure)
}

// StartGOOpts configures P2PStartGO.
type StartGOOpts struct {
	Persistent   bool
	PersistentID *int // Re-invoke the persistent group with this network id.
	Freq         int  // MHz; not sent if 0.
}

// P2PStartGO starts an autonomous group owner and returns the formed group.
func (c *Client) P2PStartGO(ctx context.Context, opts StartGOOpts) (*GroupResult, error) {
	c.DumpMonitor()

	cmd := "P2P_GROUP_ADD"
	switch {
	case opts.PersistentID != nil:
		cmd += fmt.Sprintf(" persistent=%d", *opts.PersistentID)
	case opts.Persistent:
		cmd += " persistent"
	}
	if opts.Freq != 0 {
		cmd += fmt.Sprintf(" freq=%d", opts.Freq)
	}
	if err := c.requestOK(c.GlobalRequest, cmd, "start GO"); err != nil {
		return nil, err
	}

	ev, err := c.waitGlobalEvent(ctx, "GO start up", startGOTimeout, eventGroupStarted)
	if err != nil {
		return nil, err
	}
	c.DumpMonitor()
	return c.groupFormResult(ev, false)
}

// P2PConnectGroup joins the group owned by goAddr. With a timeout of 0 it
// returns as soon as the join is accepted.
func (c *Client) P2PConnectGroup(ctx context.Context, goAddr, pin string, timeout time.Duration) (*GroupResult, error) {
	c.DumpMonitor()
	if err := c.discover(ctx, goAddr, "GO", DiscoverOpts{AllChannels: true}); err != nil {
		return nil, err
	}
	c.DumpMonitor()

	cmd := fmt.Sprintf("P2P_CONNECT %s %s join", goAddr, pin)
	if err := c.requestOK(c.GlobalRequest, cmd, "join group"); err != nil {
		return nil, err
	}

	if timeout == 0 {
		c.DumpMonitor()
		return nil, nil
	}
	ev, err := c.waitGlobalEvent(ctx, "joining the group", timeout, eventGroupStarted)
	if err != nil {
		return nil, err
	}
	c.DumpMonitor()
	return c.groupFormResult(ev, false)
}

// RemoveGroup removes the P2P group on ifname. If ifname is empty, the
// current group interface is used, falling back to the client's interface.
func (c *Client) RemoveGroup(ifname string) error {
	if ifname == "" {
		ifname = c.groupIfname
	}
	if ifname == "" {
		ifname = c.ifname
	}
	if err := c.requestOK(c.GlobalRequest, "P2P_GROUP_REMOVE "+ifname, "remove group"); err != nil {
		return err
	}
	c.groupIfname = ""
	return nil
}

// WaitGOEndingSession waits for the group to be removed because the GO
// ended the session.
func (c *Client) WaitGOEndingSession(ctx context.Context) error {
	ev, err := c.waitEvent(ctx, "group removal event", groupRemovedTimeout, eventGroupRemoved)
	if err != nil {
		return err
	}
	e, err := ParseEvent(ev)
	if err != nil {
		return err
	}
	if removed, ok := e.(EventGroupRemoved); !ok || removed.Reason != "GO_ENDING_SESSION" {
		return fmt.Errorf("unexpected group removal reason: %q", ev)
	}
	return nil
}

// P2PGOAuthorizeClient allows a client using pin to join the group.
func (c *Client) P2PGOAuthorizeClient(pin string) error {
	_, err := c.requestCheck(c.GroupRequest, "WPS_PIN any "+pin, "authorize client connection on GO")
	return err
}

// P2PGOAuthorizeClientPBC allows a client using push button to join
// the group.
func (c *Client) P2PGOAuthorizeClientPBC() error {
	_, err := c.requestCheck(c.GroupRequest, "WPS_PBC", "authorize client connection on GO")
	return err
}
