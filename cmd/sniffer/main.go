// The sniffer counts frames flowing to the gate server per origin, which is
// handy for tuning the rate limiter. Payloads are under TLS so only traffic
// volume is reported, not contents.
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

var (
	device   = flag.String("d", "en0", "Device on which to listen for packets")
	port     = flag.String("p", "5000", "Port the gate server is listening on")
	interval = flag.Duration("i", 10*time.Second, "How often to report per-origin counts")
)

func main() {
	flag.Parse()

	deviceIP := getDeviceIP()
	if deviceIP == "" {
		exit("invalid device: ", *device)
	}

	handle, err := pcap.OpenLive(*device, math.MaxInt32, false, pcap.BlockForever)
	if err != nil {
		exit("error opening handle: %v", err)
	}
	if err := handle.SetBPFFilter("tcp and port " + *port); err != nil {
		exit("error setting filter: %v", err)
	}

	counts := make(map[string]int)
	ticker := time.NewTicker(*interval)

	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	for {
		select {
		case packet := <-packetSource.Packets():
			transport := packet.TransportLayer()
			if transport == nil || packet.ApplicationLayer() == nil {
				continue
			}
			network := packet.NetworkLayer().NetworkFlow()
			flow := transport.TransportFlow()
			counts[fmt.Sprintf("%v:%v -> %v:%v", network.Src(), flow.Src(), network.Dst(), flow.Dst())]++
		case <-ticker.C:
			report(counts)
			counts = make(map[string]int)
		}
	}
}

func report(counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	fmt.Printf("--- %s ---\n", time.Now().Format("15:04:05"))
	for flow, count := range counts {
		fmt.Printf("%s: %d segments\n", flow, count)
	}
}

func exit(format string, args ...interface{}) {
	fmt.Printf(format, args...)
	fmt.Println()
	os.Exit(1)
}

func getDeviceIP() string {
	devs, _ := pcap.FindAllDevs()
	for _, dev := range devs {
		if dev.Name == *device {
			for _, address := range dev.Addresses {
				return address.IP.String()
			}
		}
	}
	return ""
}
