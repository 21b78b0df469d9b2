package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/awilliams/wpas-ctrl/internal/wpas"
)

func newPingCmd(r *root) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the interface responds to PING",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.withClient(func(c *wpas.Client) error {
				if !c.Ping() {
					return fmt.Errorf("%s: no PONG received", c.Ifname())
				}
				fmt.Fprintln(cmd.OutOrStdout(), "PONG")
				return nil
			})
		},
	}
}

func newStatusCmd(r *root) *cobra.Command {
	var group bool
	cmd := &cobra.Command{
		Use:   "status [field]",
		Short: "Print the interface STATUS, or a single field of it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withClient(func(c *wpas.Client) error {
				status := c.Status
				if group {
					status = c.GroupStatus
				}
				s, err := status()
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if len(args) == 1 {
					v, ok := s.Field(args[0])
					if !ok {
						return fmt.Errorf("field %q not present in STATUS", args[0])
					}
					fmt.Fprintln(out, v)
					return nil
				}

				keys := make([]string, 0, len(s))
				for k := range s {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(out, "%s=%s\n", k, s[k])
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&group, "group", false, "Query the P2P group interface")
	return cmd
}

func newRequestCmd(r *root) *cobra.Command {
	var global bool
	cmd := &cobra.Command{
		Use:   "request <command> [args...]",
		Short: "Send a raw control interface command and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withClient(func(c *wpas.Client) error {
				send := c.Request
				if global {
					send = c.GlobalRequest
				}
				reply, err := send(strings.Join(args, " "))
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), reply)
				if !strings.HasSuffix(reply, "\n") {
					fmt.Fprintln(cmd.OutOrStdout())
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&global, "global", false, "Send to the global control interface")
	return cmd
}

func newScanCmd(r *root) *cobra.Command {
	var scanType string
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Trigger a scan and wait for its results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.withClient(func(c *wpas.Client) error {
				if err := c.Scan(cmd.Context(), scanType); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "scan completed")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&scanType, "type", "", "Scan type, e.g. ONLY")
	return cmd
}

func newConnectCmd(r *root) *cobra.Command {
	var cfg wpas.NetworkConfig
	cmd := &cobra.Command{
		Use:   "connect <ssid>",
		Short: "Add a network and wait for association",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.SSID = args[0]
			if cfg.PSK == "" && cfg.KeyMgmt == "" && cfg.WEPKey0 == "" {
				cfg.KeyMgmt = "NONE"
			}
			return r.withClient(func(c *wpas.Client) error {
				if err := c.Connect(cmd.Context(), cfg); err != nil {
					return err
				}
				bssid, err := c.StatusField("bssid")
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "connected to %q (%s)\n", cfg.SSID, bssid)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.PSK, "psk", "", "WPA passphrase")
	f.StringVar(&cfg.Proto, "proto", "", "Network proto, e.g. WPA2")
	f.StringVar(&cfg.KeyMgmt, "key-mgmt", "", "Network key_mgmt, e.g. WPA-PSK (default NONE without psk)")
	f.StringVar(&cfg.IEEE80211w, "ieee80211w", "", "Management frame protection (0, 1 or 2)")
	f.StringVar(&cfg.WEPKey0, "wep-key0", "", "WEP key 0")
	return cmd
}

func newRoamCmd(r *root) *cobra.Command {
	return &cobra.Command{
		Use:   "roam <bssid>",
		Short: "Roam to another BSS and wait for reassociation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withClient(func(c *wpas.Client) error {
				return c.Roam(cmd.Context(), args[0])
			})
		},
	}
}

func newP2PFindCmd(r *root) *cobra.Command {
	var opts wpas.DiscoverOpts
	cmd := &cobra.Command{
		Use:   "p2p-find <peer>",
		Short: "Discover a P2P peer and print its peer table entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withClient(func(c *wpas.Client) error {
				found, err := c.DiscoverPeer(cmd.Context(), args[0], opts)
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("peer %s not found", args[0])
				}
				info, err := c.GetPeer(args[0])
				if err != nil {
					return err
				}
				keys := make([]string, 0, len(info))
				for k := range info {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", k, info[k])
				}
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.DurationVar(&opts.Timeout, "timeout", 15*time.Second, "Discovery timeout")
	f.BoolVar(&opts.ProbeReqOnly, "probe-req-only", false, "Accept peers only seen through Probe Request frames")
	f.BoolVar(&opts.AllChannels, "all-channels", false, "Search all channels, not only the social channels")
	return cmd
}

func printGroup(cmd *cobra.Command, res *wpas.GroupResult) {
	out := cmd.OutOrStdout()
	if res == nil {
		fmt.Fprintln(out, "no group formed")
		return
	}
	if res.Result == wpas.ResultGoNegFailed {
		fmt.Fprintf(out, "result=%s\nstatus=%d\n", res.Result, res.Status)
		return
	}
	fmt.Fprintf(out, "result=%s\nifname=%s\nrole=%s\nssid=%s\nfreq=%d\ngo_dev_addr=%s\npersistent=%t\n",
		res.Result, res.Ifname, res.Role, res.SSID, res.Freq, res.GODevAddr, res.Persistent)
}

func newP2PStartGOCmd(r *root) *cobra.Command {
	var (
		opts         wpas.StartGOOpts
		persistentID int
	)
	cmd := &cobra.Command{
		Use:   "p2p-start-go",
		Short: "Start an autonomous P2P group owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("persistent-id") {
				opts.PersistentID = &persistentID
			}
			return r.withClient(func(c *wpas.Client) error {
				res, err := c.P2PStartGO(cmd.Context(), opts)
				if err != nil {
					return err
				}
				printGroup(cmd, res)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.BoolVar(&opts.Persistent, "persistent", false, "Start a persistent group")
	f.IntVar(&persistentID, "persistent-id", 0, "Re-invoke the persistent group with this network id")
	f.IntVar(&opts.Freq, "freq", 0, "Operating frequency in MHz")
	return cmd
}

func newP2PConnectCmd(r *root) *cobra.Command {
	var (
		opts   wpas.GoNegOpts
		intent int
		method string
		join   bool
	)
	cmd := &cobra.Command{
		Use:   "p2p-connect <peer> [pin]",
		Short: "Form a P2P group with a peer through GO negotiation, or join its group",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, pin := args[0], ""
			if len(args) == 2 {
				pin = args[1]
			}
			if cmd.Flags().Changed("go-intent") {
				if intent < 0 || intent > 15 {
					return errors.New("go-intent must be between 0 and 15")
				}
				opts.GoIntent = &intent
			}

			return r.withClient(func(c *wpas.Client) error {
				if pin == "" && method != "pbc" {
					pin = c.WPSReadPIN()
				}

				var (
					res *wpas.GroupResult
					err error
				)
				if join {
					res, err = c.P2PConnectGroup(cmd.Context(), peer, pin, opts.Timeout)
				} else {
					res, err = c.P2PGoNegInit(cmd.Context(), peer, pin, method, opts)
				}
				if err != nil {
					return err
				}
				printGroup(cmd, res)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&method, "method", "display", "Provisioning method: display, keypad or pbc")
	f.IntVar(&intent, "go-intent", 0, "GO intent (0-15)")
	f.BoolVar(&opts.Persistent, "persistent", false, "Form a persistent group")
	f.DurationVar(&opts.Timeout, "timeout", 15*time.Second, "Time to wait for group formation (0 to not wait)")
	f.BoolVar(&opts.ExpectFailure, "expect-failure", false, "GO negotiation is expected to fail")
	f.BoolVar(&join, "join", false, "Join the running group of the peer GO instead of negotiating")
	return cmd
}

func newP2PRemoveGroupCmd(r *root) *cobra.Command {
	return &cobra.Command{
		Use:   "p2p-remove-group <ifname>",
		Short: "Remove a P2P group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return r.withClient(func(c *wpas.Client) error {
				return c.RemoveGroup(args[0])
			})
		},
	}
}

func newWPSRegCmd(r *root) *cobra.Command {
	var cfg wpas.WPSRegConfig
	cmd := &cobra.Command{
		Use:   "wps-reg <bssid> <ap-pin>",
		Short: "Run WPS as external registrar against an AP",
		Long: `Run WPS as external registrar against an AP.

Without --ssid, the AP's current credentials are learned. With --ssid the
AP is configured with the given settings.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var newAP *wpas.WPSRegConfig
			if cfg.SSID != "" {
				newAP = &cfg
			}
			return r.withClient(func(c *wpas.Client) error {
				return c.WPSReg(cmd.Context(), args[0], args[1], newAP)
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.SSID, "ssid", "", "New AP SSID")
	f.StringVar(&cfg.KeyMgmt, "key-mgmt", "WPA2PSK", "New AP key management")
	f.StringVar(&cfg.Cipher, "cipher", "CCMP", "New AP cipher")
	f.StringVar(&cfg.Passphrase, "passphrase", "", "New AP passphrase")
	return cmd
}
