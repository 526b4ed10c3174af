package main

import (
	"flag"
	"fmt"
	"math/rand"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/google/gopacket/pcapgo"
	log "github.com/sirupsen/logrus"
)

// pl-sender crafts test frames (TCP SYN, UDP, ICMP echo, ARP request)
// and either injects them on a live interface or writes them to a pcap
// file for replay.
func main() {
	mode := flag.String("mode", "tcp", "Frame type: tcp, udp, icmp, arp, or 'mix' for a rotation of all four.")
	iface := flag.String("iface", "", "Interface to inject frames on (omit when writing a file).")
	outputFile := flag.String("o", "", "Write frames to this pcap file instead of injecting.")
	count := flag.Int("c", 1, "Number of frames to send.")
	srcIP := flag.String("src-ip", "10.0.0.1", "Source IPv4 address.")
	dstIP := flag.String("dst-ip", "10.0.0.2", "Destination IPv4 address.")
	dstPort := flag.Int("port", 80, "Destination port for TCP/UDP.")
	payload := flag.String("payload", "", "Payload for UDP frames.")
	flag.Parse()

	if *iface == "" && *outputFile == "" {
		fmt.Fprintln(os.Stderr, "Either -iface or -o is required.")
		flag.Usage()
		os.Exit(1)
	}

	send, closeSink, err := openSink(*iface, *outputFile)
	if err != nil {
		log.Fatalf("Failed to open output: %v", err)
	}
	defer closeSink()

	modes := []string{*mode}
	if *mode == "mix" {
		modes = []string{"tcp", "udp", "icmp", "arp"}
	}

	sent := 0
	for i := 0; i < *count; i++ {
		m := modes[i%len(modes)]
		data, err := buildFrame(m, *srcIP, *dstIP, *dstPort, *payload)
		if err != nil {
			log.Fatalf("Failed to build %s frame: %v", m, err)
		}
		if err := send(data); err != nil {
			log.Fatalf("Failed to send frame: %v", err)
		}
		sent++
	}
	log.Infof("Sent %d frame(s)", sent)
}

// openSink returns a frame sink writing either to a live interface or
// to a pcap file.
func openSink(iface, outputFile string) (func([]byte) error, func(), error) {
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return nil, nil, err
		}
		w := pcapgo.NewWriter(f)
		if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
			f.Close()
			return nil, nil, err
		}
		send := func(data []byte) error {
			ci := gopacket.CaptureInfo{
				Timestamp:     time.Now(),
				CaptureLength: len(data),
				Length:        len(data),
			}
			return w.WritePacket(ci, data)
		}
		return send, func() { f.Close() }, nil
	}

	handle, err := pcap.OpenLive(iface, 65536, false, pcap.BlockForever)
	if err != nil {
		return nil, nil, err
	}
	return handle.WritePacketData, handle.Close, nil
}

var (
	senderMAC    = net.HardwareAddr{0x02, 0x00, 0x5e, 0x10, 0x00, 0x01}
	targetMAC    = net.HardwareAddr{0x02, 0x00, 0x5e, 0x10, 0x00, 0x02}
	broadcastMAC = net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
)

func buildFrame(mode, srcIP, dstIP string, dstPort int, payload string) ([]byte, error) {
	src := net.ParseIP(srcIP).To4()
	dst := net.ParseIP(dstIP).To4()
	if src == nil || dst == nil {
		return nil, fmt.Errorf("source and destination must be IPv4 addresses")
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}

	switch mode {
	case "tcp":
		eth := &layers.Ethernet{SrcMAC: senderMAC, DstMAC: targetMAC, EthernetType: layers.EthernetTypeIPv4}
		ip := &layers.IPv4{Version: 4, TTL: 64, SrcIP: src, DstIP: dst, Protocol: layers.IPProtocolTCP}
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(rand.Intn(65535-1024) + 1024),
			DstPort: layers.TCPPort(dstPort),
			Seq:     rand.Uint32(),
			SYN:     true,
			Window:  14600,
		}
		tcp.SetNetworkLayerForChecksum(ip)
		if err := gopacket.SerializeLayers(buf, opts, eth, ip, tcp); err != nil {
			return nil, err
		}
	case "udp":
		eth := &layers.Ethernet{SrcMAC: senderMAC, DstMAC: targetMAC, EthernetType: layers.EthernetTypeIPv4}
		ip := &layers.IPv4{Version: 4, TTL: 64, SrcIP: src, DstIP: dst, Protocol: layers.IPProtocolUDP}
		udp := &layers.UDP{
			SrcPort: layers.UDPPort(rand.Intn(65535-1024) + 1024),
			DstPort: layers.UDPPort(dstPort),
		}
		udp.SetNetworkLayerForChecksum(ip)
		if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
			return nil, err
		}
	case "icmp":
		eth := &layers.Ethernet{SrcMAC: senderMAC, DstMAC: targetMAC, EthernetType: layers.EthernetTypeIPv4}
		ip := &layers.IPv4{Version: 4, TTL: 64, SrcIP: src, DstIP: dst, Protocol: layers.IPProtocolICMPv4}
		icmp := &layers.ICMPv4{
			TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0),
			Id:       uint16(rand.Intn(0xffff)),
			Seq:      1,
		}
		if err := gopacket.SerializeLayers(buf, opts, eth, ip, icmp); err != nil {
			return nil, err
		}
	case "arp":
		eth := &layers.Ethernet{SrcMAC: senderMAC, DstMAC: broadcastMAC, EthernetType: layers.EthernetTypeARP}
		arp := &layers.ARP{
			AddrType:          layers.LinkTypeEthernet,
			Protocol:          layers.EthernetTypeIPv4,
			HwAddressSize:     6,
			ProtAddressSize:   4,
			Operation:         layers.ARPRequest,
			SourceHwAddress:   senderMAC,
			SourceProtAddress: src,
			DstHwAddress:      make([]byte, 6),
			DstProtAddress:    dst,
		}
		if err := gopacket.SerializeLayers(buf, opts, eth, arp); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}

	return buf.Bytes(), nil
}
