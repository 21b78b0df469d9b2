package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/awilliams/wpas-ctrl/internal/mirror"
	"github.com/awilliams/wpas-ctrl/internal/wpas"
	"github.com/awilliams/wpas-ctrl/internal/wpas/wpastest"
)

var mqttAddr = flag.String("mqttAddr", "", "Test MQTT broker address, e.g. tcp://localhost:1883")

func newIntTest(t *testing.T, handlers map[string]*wpastest.Handler, withMQTT bool) *intTest {
	supErrs := make(chan error, len(handlers))
	runErrs := make(chan error, 1)

	uid := time.Now().UnixNano() / 1000
	ctrlDir := t.TempDir()

	it := intTest{
		t:      t,
		sups:   make(map[string]*wpastest.Supplicant, len(handlers)),
		supErr: supErrs,
		runErr: runErrs,
		start:  make(chan struct{}),
	}

	ifaces := make([]string, 0, len(handlers))
	for ifname, h := range handlers {
		sup, err := wpastest.NewSupplicant(path.Join(ctrlDir, ifname))
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { sup.Close() })
		it.sups[ifname] = sup
		ifaces = append(ifaces, ifname)

		go func(h *wpastest.Handler) {
			if err := sup.Serve(h); err != nil {
				supErrs <- fmt.Errorf("supplicant error: %w", err)
			}
		}(h)
	}

	w := wpasCtrlExec{
		ctrlDir: ctrlDir,
		ifaces:  ifaces,
		verbose: true,
	}
	if withMQTT {
		it.mqtt = mqttClient(t)
		it.topics = mirror.Topics{
			Name:   fmt.Sprintf("%s-%d", t.Name(), uid),
			Prefix: fmt.Sprintf("%s-%d", t.Name(), uid),
		}
		w.mqttAddr = *mqttAddr
		w.mqttID = it.topics.Name
		w.mqttPrefix = it.topics.Prefix
	}

	f := w.exec(t, &it.out)
	go func() {
		<-it.start
		runErrs <- f()
	}()

	return &it
}

type intTest struct {
	t      *testing.T
	sups   map[string]*wpastest.Supplicant
	mqtt   mqtt.Client
	topics mirror.Topics
	out    syncBuffer

	start  chan struct{}
	supErr <-chan error
	runErr <-chan error
}

// startMonitor starts the binary and waits until every supplicant has an
// attached monitor.
func (i *intTest) startMonitor() {
	i.t.Helper()
	close(i.start)

	deadline := time.Now().Add(5 * time.Second)
	for _, sup := range i.sups {
		for sup.Attached() == 0 {
			select {
			case err := <-i.runErr:
				i.t.Fatalf("wpas-ctrl exited early: %v", err)
			case err := <-i.supErr:
				i.t.Fatal(err)
			default:
			}
			if time.Now().After(deadline) {
				i.t.Fatal("timeout waiting for monitor to attach")
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func (i *intTest) emit(ifname, event string) {
	i.t.Helper()
	if err := i.sups[ifname].Emit(event); err != nil {
		i.t.Fatal(err)
	}
	i.t.Logf("%s: sent %q", ifname, event)
}

// waitOutput waits until the binary has printed s.
func (i *intTest) waitOutput(s string) {
	i.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(i.out.String(), s) {
		if time.Now().After(deadline) {
			i.t.Fatalf("timeout waiting for output %q", s)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// waitExit waits for the binary to exit, returning its error.
func (i *intTest) waitExit() error {
	i.t.Helper()
	select {
	case err := <-i.runErr:
		return err
	case <-time.After(5 * time.Second):
		i.t.Fatal("timeout waiting for process to terminate")
	}
	return nil
}

func (i *intTest) waitMessage(c <-chan mqtt.Message) mqtt.Message {
	i.t.Helper()
	select {
	case err := <-i.supErr:
		i.t.Fatal(err)
	case err := <-i.runErr:
		i.t.Fatalf("wpas-ctrl exited: %v", err)
	case msg := <-c:
		return msg
	case <-time.After(2 * time.Second):
		i.t.Fatal("timeout waiting for MQTT message")
	}
	return nil
}

func (i *intTest) subTopic(topic string, ignoreRetained bool) <-chan mqtt.Message {
	msgs := make(chan mqtt.Message, 4)
	tkn := i.mqtt.Subscribe(topic, 2, func(_ mqtt.Client, msg mqtt.Message) {
		defer msg.Ack()
		if !(ignoreRetained && msg.Retained()) {
			msgs <- msg
		}
	})
	if !tkn.WaitTimeout(time.Second) {
		i.t.Fatal("subscribe timeout")
	}
	i.t.Cleanup(func() { i.mqtt.Unsubscribe(topic) })
	i.t.Logf("subscribed to topic: %q", topic)
	return msgs
}

func (i *intTest) pubTopic(topic string, jsonPayload interface{}) {
	payload, err := json.Marshal(jsonPayload)
	if err != nil {
		i.t.Fatal(err)
	}
	tkn := i.mqtt.Publish(topic, 2, false, payload)
	if !tkn.WaitTimeout(time.Second) {
		i.t.Fatal("mqtt publish timeout")
	}
}

type wpasCtrlExec struct {
	ctrlDir    string
	ifaces     []string
	mqttAddr   string
	mqttID     string
	mqttPrefix string
	verbose    bool
}

// exec returns a function that runs the wpas-ctrl monitor command.
// This is done to allow for setup tasks to call t.Fatal, and then
// for the running of the binary to be done in a separate goroutine.
func (w wpasCtrlExec) exec(t *testing.T, out *syncBuffer) func() error {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	bin := filepath.Join(t.TempDir(), "wpas-ctrl")
	buildCmd := exec.CommandContext(ctx, "go", "build", "-o", bin, "../cmd/wpas-ctrl")
	if output, err := buildCmd.CombinedOutput(); err != nil {
		t.Fatalf("build command %q failed:\n%s", buildCmd.String(), string(output))
	}

	t.Cleanup(func() {
		t.Log("wpas-ctrl output:\n", out.String())
	})

	args := []string{
		"--ctrl-dir", w.ctrlDir,
		"--sock-dir", t.TempDir(),
		"--request-timeout", "2s",
	}
	for _, ifname := range w.ifaces {
		args = append(args, "-i", ifname)
	}
	if w.verbose {
		args = append(args, "-v")
	}
	args = append(args, "monitor")
	if w.mqttAddr != "" {
		args = append(args, "--mqtt-addr", w.mqttAddr, "--mqtt-prefix", w.mqttPrefix)
	}

	runCmd := exec.CommandContext(ctx, bin, args...)
	if w.mqttID != "" {
		runCmd.Env = append(os.Environ(), "WPAS_MQTT_CLIENT_ID="+w.mqttID)
	}
	runCmd.Stdout = out
	runCmd.Stderr = out

	return func() error {
		err := runCmd.Run()
		if err == nil {
			return nil
		}
		exitErr := new(exec.ExitError)
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 125 {
			// This is a special error code returned when
			// the (mock) supplicant sends a termination event.
			return wpas.ErrTerminating
		}
		return fmt.Errorf("run command %q failed: %v", runCmd.String(), err)
	}
}

// syncBuffer is a bytes.Buffer safe for concurrent use.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func mqttClient(t *testing.T) mqtt.Client {
	opts := mqtt.NewClientOptions()
	opts.SetClientID(fmt.Sprintf("%s-%d", t.Name(), time.Now().UnixNano()))
	opts.AddBroker(*mqttAddr)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(true)

	c := mqtt.NewClient(opts)
	tkn := c.Connect()
	if !tkn.WaitTimeout(time.Second) {
		t.Fatal("mqtt connect timeout")
	}
	t.Cleanup(func() { c.Disconnect(500) })

	return c
}
