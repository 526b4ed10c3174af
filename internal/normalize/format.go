package normalize

import (
	"fmt"
	"sort"
	"strings"

	"PacketLens/internal/model"
)

// detailOrder fixes the printing order of application detail keys so
// text output is deterministic. Unknown keys follow, sorted.
var detailOrder = []string{
	"method", "host", "uri", "response_code", "user_agent", "content_type",
	"query", "query_type", "answer", "handshake", "server_name",
}

// FormatText renders a record as the multi-line human-readable layout:
// a header line with sequence, time and length, then protocol-specific
// detail lines, application details last.
func FormatText(rec *model.PacketRecord) string {
	var b strings.Builder

	fmt.Fprintf(&b, "\n[Packet #%d] Time: %s | Length: %d bytes\n", rec.Number, rec.Timestamp, rec.Length)
	fmt.Fprintf(&b, "  Layers: [%s]", strings.Join(rec.Layers, ", "))

	switch {
	case rec.Protocol == "ARP" && rec.ARP != nil:
		b.WriteString("\n  Protocol: ARP")
		if rec.ARP.SenderIP != "" {
			fmt.Fprintf(&b, "\n  Sender: %s (%s)", rec.ARP.SenderIP, rec.ARP.SenderMAC)
		}
		if rec.ARP.TargetIP != "" {
			fmt.Fprintf(&b, "\n  Target: %s (%s)", rec.ARP.TargetIP, rec.ARP.TargetMAC)
		}
		if rec.ARP.Type != "" {
			fmt.Fprintf(&b, "\n  Type: %s", rec.ARP.Type)
		}
	case rec.Network != nil:
		version := "IP"
		if rec.Network.IsIPv6 {
			version = "IPv6"
		}
		fmt.Fprintf(&b, "\n  %s: %s -> %s", version, rec.Network.SrcIP, rec.Network.DstIP)

		switch rec.Protocol {
		case "TCP", "UDP":
			if rec.Transport != nil {
				fmt.Fprintf(&b, "\n  Protocol: %s | Ports: %d -> %d", rec.Protocol, rec.Transport.SrcPort, rec.Transport.DstPort)
				if len(rec.Transport.TCPFlags) > 0 {
					fmt.Fprintf(&b, "\n  TCP Flags: %s", strings.Join(rec.Transport.TCPFlags, ", "))
				}
			}
		case "ICMP", "ICMPv6":
			if rec.ICMPDetail != "" {
				fmt.Fprintf(&b, "\n  Protocol: %s | %s", rec.Protocol, rec.ICMPDetail)
			} else {
				fmt.Fprintf(&b, "\n  Protocol: %s", rec.Protocol)
			}
		}

		if rec.Application != nil {
			fmt.Fprintf(&b, "\n  Application: %s", rec.Application.Name)
			for _, key := range orderedDetailKeys(rec.Application.Details) {
				fmt.Fprintf(&b, "\n    %s: %s", key, rec.Application.Details[key])
			}
		}
	default:
		fmt.Fprintf(&b, "\n  Protocol: %s", rec.Protocol)
	}

	return b.String()
}

func orderedDetailKeys(details map[string]string) []string {
	keys := make([]string, 0, len(details))
	seen := make(map[string]bool, len(details))
	for _, key := range detailOrder {
		if _, ok := details[key]; ok {
			keys = append(keys, key)
			seen[key] = true
		}
	}
	var rest []string
	for key := range details {
		if !seen[key] {
			rest = append(rest, key)
		}
	}
	sort.Strings(rest)
	return append(keys, rest...)
}
