// This program starts a mock wpa_supplicant control interface listening
// on a Unix socket. Events are sent to attached monitors via prompts on
// STDIN.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path"
	"time"

	"github.com/awilliams/wpas-ctrl/internal/wpas/wpastest"
)

func main() {
	ctrlDir := flag.String("ctrlDir", ".", "Directory of the mock control interface socket")
	ifname := flag.String("ifname", "wlan0", "Interface name, used as the socket name")
	ssid := flag.String("ssid", "Test AP", "Mock SSID")
	bssid := flag.String("bssid", "02:00:00:00:03:00", "Mock BSSID")
	peer := flag.String("peer", "02:00:00:00:01:00", "Mock P2P peer device address")

	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	sup, err := wpastest.NewSupplicant(path.Join(*ctrlDir, *ifname))
	if err != nil {
		bail(err)
	}
	defer func() {
		sup.Close()
		os.Remove(sup.Addr)
	}()

	handler := wpastest.DefaultHandler(map[string]string{
		"wpa_state": "COMPLETED",
		"ssid":      *ssid,
		"bssid":     *bssid,
		"freq":      "2412",
	})
	handler.OnCommand("P2P_PEER", wpastest.Reply(*peer+"\ndevice_name=Mock Peer\n"))
	handler.OnMessage(func(msg string) {
		log.Printf("< Received: %q\n", msg)
	})

	detached := make(chan struct{}, 1)
	handler.OnDetach(func() {
		select {
		case detached <- struct{}{}:
		default:
		}
	})

	go func() {
		if err := sup.Serve(handler); err != nil {
			bail(err)
		}
	}()

	events := []struct {
		desc, event string
	}{
		{"CONNECTED to " + *bssid, fmt.Sprintf("<3>CTRL-EVENT-CONNECTED - Connection to %s completed [id=0 id_str=]", *bssid)},
		{"DISCONNECTED from " + *bssid, fmt.Sprintf("<3>CTRL-EVENT-DISCONNECTED bssid=%s reason=3 locally_generated=1", *bssid)},
		{"P2P-DEVICE-FOUND " + *peer, fmt.Sprintf("<3>P2P-DEVICE-FOUND %s p2p_dev_addr=%s name='Mock Peer'", *peer, *peer)},
		{"P2P-GROUP-STARTED as GO", fmt.Sprintf(`<3>P2P-GROUP-STARTED p2p-%s-0 GO ssid="DIRECT-mk" freq=2412 passphrase="12345678" go_dev_addr=%s`, *ifname, *peer)},
		{"P2P-GROUP-REMOVED", fmt.Sprintf("<3>P2P-GROUP-REMOVED p2p-%s-0 GO reason=REQUESTED", *ifname)},
		{"TERMINATING", "<3>CTRL-EVENT-TERMINATING"},
	}

	printMenu := func() {
		fmt.Println("\nEnter the following number for the corresponding action:")
		for i, e := range events {
			fmt.Printf("%d:      Send %s event\n", i+1, e.desc)
		}
		fmt.Print("q:      Exit\n\nCommand: ")
	}

	fmt.Printf("Created mock wpa_supplicant socket at: %s\nWaiting for a monitor to attach...\n", sup.Addr)
	for sup.Attached() == 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
	log.Println("Monitor attached")
	printMenu()

	lines := readLines(ctx)
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			if line == "q" || line == "Q" || line == "exit" {
				return
			}

			var n int
			if _, err := fmt.Sscanf(line, "%d", &n); err != nil || n < 1 || n > len(events) {
				log.Printf("Unrecognized number %q\n", line)
				printMenu()
				continue
			}
			e := events[n-1]
			if err := sup.Emit(e.event); err != nil {
				bail(err)
			}
			log.Printf("> Sent: %q\n", e.event)
			if n == len(events) {
				time.Sleep(time.Second)
				return
			}
			printMenu()

		case <-ctx.Done():
			return

		case <-detached:
			if sup.Attached() == 0 {
				log.Println("Monitor detached. Exiting...")
				return
			}
		}
	}
}

func readLines(ctx context.Context) <-chan string {
	lines := make(chan string)
	scanner := bufio.NewScanner(os.Stdin)
	go func() {
		<-ctx.Done()
		os.Stdin.Close()
	}()
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

func bail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %s\n", err)
	os.Exit(1)
}
