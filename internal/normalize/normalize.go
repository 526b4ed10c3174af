// Package normalize maps dissected frames into canonical PacketRecords
// with well-defined field presence and tie-break rules, and renders
// records as human-readable text.
package normalize

import (
	"encoding/hex"
	"fmt"

	"PacketLens/internal/capture"
	"PacketLens/internal/model"
)

const timestampLayout = "2006-01-02 15:04:05.000000"

// maxUserAgentLen bounds the user-agent detail; longer values are
// truncated to 47 characters plus an ellipsis marker.
const maxUserAgentLen = 50

var icmpTypeNames = map[string]string{
	"8":  "Echo Request (Ping)",
	"0":  "Echo Reply (Pong)",
	"3":  "Destination Unreachable",
	"11": "Time Exceeded",
}

var dnsQueryTypeNames = map[string]string{
	"1":  "A (IPv4)",
	"28": "AAAA (IPv6)",
	"5":  "CNAME",
	"15": "MX (Mail)",
	"16": "TXT",
}

var tlsHandshakeNames = map[string]string{
	"1":  "Client Hello",
	"2":  "Server Hello",
	"11": "Certificate",
	"16": "Client Key Exchange",
}

// tcpFlagOrder fixes the emission order of TCP flag names.
var tcpFlagOrder = []struct {
	field string
	name  string
}{
	{"flags_syn", "SYN"},
	{"flags_ack", "ACK"},
	{"flags_fin", "FIN"},
	{"flags_push", "PSH"},
	{"flags_reset", "RST"},
	{"flags_urg", "URG"},
}

// Normalize maps one frame plus its sequence number into a canonical
// record. It is total for structurally valid frames: unavailable fields
// are omitted, never fatal.
func Normalize(frame capture.Frame, number int) *model.PacketRecord {
	rec := &model.PacketRecord{
		Number:    number,
		Timestamp: frame.Timestamp().Format(timestampLayout),
		Length:    frame.Length(),
		Layers:    frame.Layers(),
		Protocol:  frame.HighestLayer(),
	}

	if frame.HasLayer(capture.LayerEthernet) {
		rec.Ethernet = &model.EthernetInfo{
			SrcMAC: fieldOr(frame, capture.LayerEthernet, "src"),
			DstMAC: fieldOr(frame, capture.LayerEthernet, "dst"),
		}
	}

	if raw, ok := frame.Raw(); ok {
		rec.RawHex = hex.EncodeToString(raw)
	}

	switch {
	case frame.HasLayer(capture.LayerARP):
		normalizeARP(frame, rec)
	case frame.HasLayer(capture.LayerIPv4):
		normalizeNetwork(frame, rec, false)
	case frame.HasLayer(capture.LayerIPv6):
		normalizeNetwork(frame, rec, true)
	}

	return rec
}

// normalizeARP fills the ARP group. ARP frames never carry network or
// transport groups.
func normalizeARP(frame capture.Frame, rec *model.PacketRecord) {
	rec.Protocol = "ARP"
	arp := &model.ARPInfo{
		SenderIP:  fieldOr(frame, capture.LayerARP, "src_proto_ipv4"),
		SenderMAC: fieldOr(frame, capture.LayerARP, "src_hw_mac"),
		TargetIP:  fieldOr(frame, capture.LayerARP, "dst_proto_ipv4"),
		TargetMAC: fieldOr(frame, capture.LayerARP, "dst_hw_mac"),
	}
	switch opcode := fieldOr(frame, capture.LayerARP, "opcode"); opcode {
	case "1":
		arp.Type = "Request"
	case "2":
		arp.Type = "Reply"
	default:
		arp.Type = opcode
	}
	rec.ARP = arp
}

// normalizeNetwork fills the network group and descends into the
// transport and application tiers.
func normalizeNetwork(frame capture.Frame, rec *model.PacketRecord, ipv6 bool) {
	layer, ttlField := capture.LayerIPv4, "ttl"
	if ipv6 {
		layer, ttlField = capture.LayerIPv6, "hlim"
	}

	rec.Protocol = "IP"
	network := &model.NetworkInfo{
		SrcIP:  fieldOr(frame, layer, "src"),
		DstIP:  fieldOr(frame, layer, "dst"),
		IsIPv6: ipv6,
	}
	if ttl, ok := atoiField(frame, layer, ttlField); ok {
		network.TTL = &ttl
	}
	rec.Network = network

	normalizeTransport(frame, rec)
	normalizeApplication(frame, rec)
}

// normalizeTransport resolves the transport tier, first match wins:
// TCP, then UDP, then ICMP, then ICMPv6.
func normalizeTransport(frame capture.Frame, rec *model.PacketRecord) {
	switch {
	case frame.HasLayer(capture.LayerTCP):
		rec.Protocol = "TCP"
		transport := &model.TransportInfo{TCPFlags: []string{}}
		if port, ok := atoiField(frame, capture.LayerTCP, "srcport"); ok {
			transport.SrcPort = port
		}
		if port, ok := atoiField(frame, capture.LayerTCP, "dstport"); ok {
			transport.DstPort = port
		}
		for _, flag := range tcpFlagOrder {
			if v, ok := frame.Field(capture.LayerTCP, flag.field); ok && v == "1" {
				transport.TCPFlags = append(transport.TCPFlags, flag.name)
			}
		}
		rec.Transport = transport
	case frame.HasLayer(capture.LayerUDP):
		rec.Protocol = "UDP"
		transport := &model.TransportInfo{TCPFlags: []string{}}
		if port, ok := atoiField(frame, capture.LayerUDP, "srcport"); ok {
			transport.SrcPort = port
		}
		if port, ok := atoiField(frame, capture.LayerUDP, "dstport"); ok {
			transport.DstPort = port
		}
		rec.Transport = transport
	case frame.HasLayer(capture.LayerICMP):
		rec.Protocol = "ICMP"
		if code, ok := frame.Field(capture.LayerICMP, "type"); ok {
			rec.ICMPDetail = lookupOr(icmpTypeNames, code)
		}
	case frame.HasLayer(capture.LayerICMPv6):
		rec.Protocol = "ICMPv6"
	}
}

// normalizeApplication resolves the application tier independently of
// the transport result: HTTP takes priority over DNS over TLS.
func normalizeApplication(frame capture.Frame, rec *model.PacketRecord) {
	switch {
	case frame.HasLayer(capture.LayerHTTP):
		details := make(map[string]string)
		probe := func(key string, names ...string) {
			for _, name := range names {
				if v, ok := frame.Field(capture.LayerHTTP, name); ok {
					details[key] = v
					return
				}
			}
		}
		probe("method", "request_method", "method")
		probe("host", "host", "request_host")
		probe("uri", "request_uri", "request_full_uri", "uri", "request_line")
		probe("response_code", "response_code", "response_status_code", "status_code")
		probe("user_agent", "user_agent", "request_user_agent")
		probe("content_type", "content_type", "response_content_type")
		if ua, ok := details["user_agent"]; ok && len(ua) > maxUserAgentLen {
			details["user_agent"] = ua[:maxUserAgentLen-3] + "..."
		}
		rec.Application = &model.ApplicationInfo{Name: "HTTP", Details: details}
	case frame.HasLayer(capture.LayerDNS):
		details := make(map[string]string)
		if query, ok := frame.Field(capture.LayerDNS, "qry_name"); ok {
			details["query"] = query
		}
		if qtype, ok := frame.Field(capture.LayerDNS, "qry_type"); ok {
			details["query_type"] = lookupOr(dnsQueryTypeNames, qtype)
		}
		if answer, ok := frame.Field(capture.LayerDNS, "a"); ok {
			details["answer"] = answer
		}
		rec.Application = &model.ApplicationInfo{Name: "DNS", Details: details}
	case frame.HasLayer(capture.LayerTLS):
		details := make(map[string]string)
		if handshake, ok := frame.Field(capture.LayerTLS, "handshake_type"); ok {
			details["handshake"] = lookupOr(tlsHandshakeNames, handshake)
		}
		if name, ok := frame.Field(capture.LayerTLS, "handshake_extensions_server_name"); ok {
			details["server_name"] = name
		}
		rec.Application = &model.ApplicationInfo{Name: "TLS/SSL", Details: details}
	}
}

func fieldOr(frame capture.Frame, layer, name string) string {
	v, _ := frame.Field(layer, name)
	return v
}

func atoiField(frame capture.Frame, layer, name string) (int, bool) {
	v, ok := frame.Field(layer, name)
	if !ok {
		return 0, false
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return 0, false
	}
	return n, true
}

func lookupOr(table map[string]string, code string) string {
	if name, ok := table[code]; ok {
		return name
	}
	return fmt.Sprintf("Type %s", code)
}
