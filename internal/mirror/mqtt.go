// Package mirror publishes wpa_supplicant events and interface status to
// an MQTT broker, and accepts control commands sent over MQTT.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/awilliams/wpas-ctrl/internal/wpas"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"

	defaultTopicPrefix = "wpas"
)

// MQTT QoS Values.
const (
	qosAtLeastOnce = 0x01
	qosExactlyOnce = 0x02
)

// Opts configures an MQTT instance.
type Opts struct {
	BrokerAddr         string // Required
	ClientID           string // Required
	Username, Password string // Optional

	Name        string // Optional, defaults to ClientID
	TopicPrefix string // Optional
}

// NewMQTT connects to the broker. The will marks wpas-ctrl offline if the
// connection is lost.
func NewMQTT(ctx context.Context, opts Opts) (*MQTT, error) {
	if opts.BrokerAddr == "" {
		return nil, errors.New("BrokerAddr cannot be blank")
	}
	if opts.ClientID == "" {
		return nil, errors.New("ClientID cannot be blank")
	}

	topics := Topics{
		Name:   opts.Name,
		Prefix: opts.TopicPrefix,
	}
	if topics.Name == "" {
		topics.Name = opts.ClientID
	}
	if topics.Prefix == "" {
		topics.Prefix = defaultTopicPrefix
	}

	connLostErrs := make(chan error, 1)

	o := mqtt.NewClientOptions()
	o.AddBroker(opts.BrokerAddr)
	o.SetClientID(opts.ClientID)
	o.SetCleanSession(false)
	o.SetConnectRetry(false)  // Abort only.
	o.SetAutoReconnect(false) // Abort only.
	o.SetKeepAlive(2 * time.Minute)
	if opts.Username != "" || opts.Password != "" {
		o.SetCredentialsProvider(mqtt.CredentialsProvider(func() (username string, password string) {
			return opts.Username, opts.Password
		}))
	}
	o.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		err = fmt.Errorf("MQTT connection lost: %w", err)
		select {
		case connLostErrs <- err:
		default:
		}
	})

	o.SetWill(topics.Will(), StatusOffline, qosAtLeastOnce, true)

	c := mqtt.NewClient(o)
	tkn := c.Connect()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("timeout waiting for MQTT Connect: %w", ctx.Err())
	case <-tkn.Done():
		if err := tkn.Error(); err != nil {
			return nil, fmt.Errorf("MQTT Connect error: %w", err)
		}
	}

	return &MQTT{
		c:            c,
		connLostErrs: connLostErrs,
		topics:       topics,
	}, nil
}

// MQTT mirrors events to a broker.
type MQTT struct {
	c            mqtt.Client
	connLostErrs <-chan error

	topics Topics
}

// OnConnectionLost blocks until the broker connection is lost, returning
// the cause, or until ctx is done, returning nil.
func (m *MQTT) OnConnectionLost(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case err := <-m.connLostErrs:
		return err
	}
}

// Topics returns the topics used by m.
func (m *MQTT) Topics() Topics {
	return m.topics
}

// Close the MQTT connection.
func (m *MQTT) Close() {
	m.c.Disconnect(2500)
}

// StatusOnline publishes that wpas-ctrl is online using
// the same topic as the will.
func (m *MQTT) StatusOnline(ctx context.Context) error {
	return m.publishStatus(ctx, StatusOnline)
}

// StatusOffline publishes that wpas-ctrl is offline using
// the same topic as the will.
func (m *MQTT) StatusOffline(ctx context.Context) error {
	return m.publishStatus(ctx, StatusOffline)
}

func (m *MQTT) publishStatus(ctx context.Context, status string) error {
	tkn := m.c.Publish(m.topics.Will(), qosExactlyOnce, true, status)
	return tokenWait(ctx, tkn, "publish status")
}

// PublishEvent publishes ev, received on ifname, to the interface's
// event topic.
func (m *MQTT) PublishEvent(ctx context.Context, ifname string, ev wpas.Event) error {
	payload, err := json.Marshal(NewEventMessage(ifname, ev, time.Now()))
	if err != nil {
		return err
	}

	tkn := m.c.Publish(m.topics.Event(ifname), qosAtLeastOnce, false, payload)
	return tokenWait(ctx, tkn, "publish event")
}

// PublishIfaceStatus publishes the interface's STATUS as a retained JSON
// object.
func (m *MQTT) PublishIfaceStatus(ctx context.Context, ifname string, s wpas.Status) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}

	tkn := m.c.Publish(m.topics.IfaceStatus(ifname), qosAtLeastOnce, true, payload)
	return tokenWait(ctx, tkn, "publish interface status")
}

// SubscribeRequests registers the callback to receive control commands.
// The reply or error returned by the callback is published to the Reply
// topic. The method blocks until either the provided context is cancelled
// or an error occurs.
func (m *MQTT) SubscribeRequests(ctx context.Context, cb func(req Request) (string, error)) error {
	errs := make(chan error, 1)
	onError := func(err error) {
		select {
		case errs <- err:
		case <-ctx.Done():
		}
	}

	topic := m.topics.Request()
	tkn := m.c.Subscribe(topic, qosExactlyOnce, func(_ mqtt.Client, msg mqtt.Message) {
		defer msg.Ack()

		// Requests retained from an earlier session are stale.
		if msg.Retained() {
			return
		}

		var req Request
		if err := json.Unmarshal(msg.Payload(), &req); err != nil {
			onError(fmt.Errorf("unable to decode %q message: %w", msg.Topic(), err))
			return
		}

		reply := Reply{ID: req.ID, Ifname: req.Ifname, Cmd: req.Cmd}
		if r, err := cb(req); err != nil {
			reply.Error = err.Error()
		} else {
			reply.Reply = r
		}

		payload, err := json.Marshal(reply)
		if err != nil {
			onError(err)
			return
		}
		// Publishing from within the handler must not wait on the token.
		m.c.Publish(m.topics.Reply(), qosAtLeastOnce, false, payload)
	})

	if err := tokenWait(ctx, tkn, "subscribe requests"); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return tokenWait(ctx, m.c.Unsubscribe(topic), "unsubscribe requests")

	case err := <-errs:
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = tokenWait(ctx, m.c.Unsubscribe(topic), "") // Best effort attempt at unsubscribing.
		return err
	}
}

// tokenWait waits for an MQTT token to complete, otherwise returning an error.
func tokenWait(ctx context.Context, tkn mqtt.Token, description string) error {
	timer := time.NewTimer(time.Second)
	defer timer.Stop()

	select {
	case <-tkn.Done():
		if err := tkn.Error(); err != nil {
			return fmt.Errorf("mqtt token error (%s): %w", description, err)
		}
	case <-ctx.Done():
		return fmt.Errorf("mqtt token wait cancelled (%s): %w", description, ctx.Err())
	case <-timer.C:
		return fmt.Errorf("mqtt timeout waiting for token completion (%s)", description)
	}
	return nil
}
