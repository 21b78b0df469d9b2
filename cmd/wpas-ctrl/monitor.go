package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/awilliams/wpas-ctrl/internal/mirror"
	"github.com/awilliams/wpas-ctrl/internal/wpas"
)

func newMonitorCmd(r *root) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Print events of every interface, optionally mirroring them to MQTT",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return r.monitor(cmd)
		},
	}
	f := cmd.Flags()
	f.String("mqtt-addr", "", "MQTT broker address, e.g \"tcp://mqtt.broker:1883\" (optional)")
	f.String("mqtt-prefix", "", "MQTT topic prefix")
	return cmd
}

// monitor runs until the context is cancelled, an interface stops sending
// events, or the MQTT connection is lost.
func (r *root) monitor(cmd *cobra.Command) error {
	ctx := cmd.Context()

	ifaces, err := r.ifaces()
	if err != nil {
		return err
	}

	clients := make(map[string]*wpas.Client, len(ifaces))
	defer func() {
		for _, c := range clients {
			c.Close()
		}
	}()
	for _, ifname := range ifaces {
		c, err := r.clientFor(ifname)
		if err != nil {
			return err
		}
		clients[ifname] = c
	}

	var m *mirror.MQTT
	if r.cfg.MQTT.Enabled() {
		connCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		m, err = mirror.NewMQTT(connCtx, mirror.Opts{
			BrokerAddr:  r.cfg.MQTT.Addr,
			ClientID:    r.cfg.MQTT.ClientID,
			Username:    r.cfg.MQTT.Username,
			Password:    r.cfg.MQTT.Password,
			TopicPrefix: r.cfg.MQTT.Prefix,
		})
		cancel()
		if err != nil {
			return err
		}
		// Use MQTT will to publish online & offline messages.
		// Offline message will only be automatically published if MQTT
		// connection is broken. So we must explicitly publish it during a
		// "normal" shutdown.
		if err := m.StatusOnline(ctx); err != nil {
			m.Close()
			return err
		}
		defer func() {
			// Cannot use original context since it may have already
			// been cancelled.
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = m.StatusOffline(ctx)
			cancel()
			m.Close()
		}()
		r.logger.Printf("Mirroring events to %s (status topic %q)", r.cfg.MQTT.Addr, m.Topics().Will())
	}

	eg, egCtx := errgroup.WithContext(ctx)

	if m != nil {
		// Stop on first MQTT error, e.g. connection lost.
		eg.Go(func() error {
			return m.OnConnectionLost(egCtx)
		})
		eg.Go(func() error {
			return m.SubscribeRequests(egCtx, func(req mirror.Request) (string, error) {
				c, ok := clients[req.Ifname]
				if !ok {
					return "", fmt.Errorf("unknown interface %q", req.Ifname)
				}
				return c.Request(req.Cmd)
			})
		})
	}

	out := cmd.OutOrStdout()
	for ifname, c := range clients {
		ifname, c := ifname, c

		if m != nil {
			if s, err := c.Status(); err != nil {
				r.logger.Printf("%s: unable to get status: %v", ifname, err)
			} else if err := m.PublishIfaceStatus(ctx, ifname, s); err != nil {
				return err
			}
		}

		eg.Go(func() error {
			err := c.Listen(egCtx, func(ev wpas.Event) error {
				fmt.Fprintf(out, "%s: %s\n", ifname, ev.Raw())
				if m == nil {
					return nil
				}

				pubCtx, cancel := context.WithTimeout(egCtx, 2*time.Second)
				defer cancel()
				if err := m.PublishEvent(pubCtx, ifname, ev); err != nil {
					return err
				}
				if _, ok := ev.(wpas.EventConnected); ok {
					return publishStatus(pubCtx, m, c)
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("%s: %w", ifname, err)
			}
			return nil
		})
	}

	return eg.Wait()
}

func publishStatus(ctx context.Context, m *mirror.MQTT, c *wpas.Client) error {
	s, err := c.Status()
	if err != nil {
		return err
	}
	return m.PublishIfaceStatus(ctx, c.Ifname(), s)
}
