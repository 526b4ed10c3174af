package capture

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// pcapFrame is an immutable Frame built once from a decoded gopacket
// packet. All layer fields are extracted eagerly into a string map so
// lookups never touch decoder state again.
type pcapFrame struct {
	ts      time.Time
	length  int
	layers  []string
	highest string
	fields  map[string]map[string]string
	raw     []byte
}

// NewFrame dissects a decoded packet into the Frame envelope consumed
// by the normalization pipeline.
func NewFrame(pkt gopacket.Packet) Frame {
	f := &pcapFrame{
		ts:     time.Now(),
		fields: make(map[string]map[string]string),
		raw:    pkt.Data(),
		length: len(pkt.Data()),
	}
	if meta := pkt.Metadata(); meta != nil && !meta.Timestamp.IsZero() {
		f.ts = meta.Timestamp
		if meta.Length > 0 {
			f.length = meta.Length
		}
	}

	for _, l := range pkt.Layers() {
		switch layer := l.(type) {
		case *layers.Ethernet:
			f.addLayer(LayerEthernet, map[string]string{
				"src": layer.SrcMAC.String(),
				"dst": layer.DstMAC.String(),
			})
		case *layers.ARP:
			f.addLayer(LayerARP, map[string]string{
				"src_proto_ipv4": net.IP(layer.SourceProtAddress).String(),
				"src_hw_mac":     net.HardwareAddr(layer.SourceHwAddress).String(),
				"dst_proto_ipv4": net.IP(layer.DstProtAddress).String(),
				"dst_hw_mac":     net.HardwareAddr(layer.DstHwAddress).String(),
				"opcode":         fmt.Sprintf("%d", layer.Operation),
			})
		case *layers.IPv4:
			f.addLayer(LayerIPv4, map[string]string{
				"src": layer.SrcIP.String(),
				"dst": layer.DstIP.String(),
				"ttl": fmt.Sprintf("%d", layer.TTL),
			})
		case *layers.IPv6:
			f.addLayer(LayerIPv6, map[string]string{
				"src":  layer.SrcIP.String(),
				"dst":  layer.DstIP.String(),
				"hlim": fmt.Sprintf("%d", layer.HopLimit),
			})
		case *layers.TCP:
			fields := map[string]string{
				"srcport": fmt.Sprintf("%d", uint16(layer.SrcPort)),
				"dstport": fmt.Sprintf("%d", uint16(layer.DstPort)),
			}
			setFlag(fields, "flags_syn", layer.SYN)
			setFlag(fields, "flags_ack", layer.ACK)
			setFlag(fields, "flags_fin", layer.FIN)
			setFlag(fields, "flags_push", layer.PSH)
			setFlag(fields, "flags_reset", layer.RST)
			setFlag(fields, "flags_urg", layer.URG)
			f.addLayer(LayerTCP, fields)
			f.addPayloadLayers(layer.Payload)
		case *layers.UDP:
			f.addLayer(LayerUDP, map[string]string{
				"srcport": fmt.Sprintf("%d", uint16(layer.SrcPort)),
				"dstport": fmt.Sprintf("%d", uint16(layer.DstPort)),
			})
		case *layers.ICMPv4:
			f.addLayer(LayerICMP, map[string]string{
				"type": fmt.Sprintf("%d", layer.TypeCode.Type()),
				"code": fmt.Sprintf("%d", layer.TypeCode.Code()),
			})
		case *layers.ICMPv6:
			f.addLayer(LayerICMPv6, map[string]string{
				"type": fmt.Sprintf("%d", layer.TypeCode.Type()),
			})
		case *layers.DNS:
			fields := make(map[string]string)
			if len(layer.Questions) > 0 {
				q := layer.Questions[0]
				fields["qry_name"] = string(q.Name)
				fields["qry_type"] = fmt.Sprintf("%d", uint16(q.Type))
			}
			for _, ans := range layer.Answers {
				if ans.IP != nil {
					fields["a"] = ans.IP.String()
					break
				}
			}
			f.addLayer(LayerDNS, fields)
		case *gopacket.Payload, gopacket.Payload, *gopacket.DecodeFailure:
			// Not protocol layers.
		default:
			f.addLayer(strings.ToLower(l.LayerType().String()), nil)
		}
	}

	if len(f.layers) > 0 {
		f.highest = strings.ToUpper(f.layers[len(f.layers)-1])
	}
	return f
}

func (f *pcapFrame) Timestamp() time.Time { return f.ts }
func (f *pcapFrame) Length() int          { return f.length }
func (f *pcapFrame) Layers() []string     { return f.layers }
func (f *pcapFrame) HighestLayer() string { return f.highest }

func (f *pcapFrame) HasLayer(name string) bool {
	_, ok := f.fields[name]
	return ok
}

func (f *pcapFrame) Field(layer, name string) (string, bool) {
	fields, ok := f.fields[layer]
	if !ok {
		return "", false
	}
	v, ok := fields[name]
	return v, ok
}

func (f *pcapFrame) Raw() ([]byte, bool) {
	return f.raw, len(f.raw) > 0
}

func (f *pcapFrame) addLayer(name string, fields map[string]string) {
	if fields == nil {
		fields = make(map[string]string)
	}
	if _, seen := f.fields[name]; !seen {
		f.layers = append(f.layers, name)
	}
	f.fields[name] = fields
}

// addPayloadLayers probes a TCP payload for the application protocols
// gopacket does not dissect on its own.
func (f *pcapFrame) addPayloadLayers(payload []byte) {
	if len(payload) == 0 {
		return
	}
	if fields := parseHTTP(payload); fields != nil {
		f.addLayer(LayerHTTP, fields)
		return
	}
	if fields := parseTLS(payload); fields != nil {
		f.addLayer(LayerTLS, fields)
	}
}

func setFlag(fields map[string]string, name string, set bool) {
	if set {
		fields[name] = "1"
	} else {
		fields[name] = "0"
	}
}

var httpMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true, "HEAD": true,
	"OPTIONS": true, "PATCH": true, "CONNECT": true, "TRACE": true,
}

// parseHTTP extracts request/response line and common headers from a
// TCP payload. Returns nil when the payload is not HTTP.
func parseHTTP(payload []byte) map[string]string {
	scanner := bufio.NewScanner(bytes.NewReader(payload))
	scanner.Buffer(make([]byte, 0, 4096), 64*1024)
	if !scanner.Scan() {
		return nil
	}
	first := scanner.Text()
	parts := strings.SplitN(first, " ", 3)

	fields := make(map[string]string)
	switch {
	case strings.HasPrefix(first, "HTTP/") && len(parts) >= 2:
		fields["response_code"] = parts[1]
	case len(parts) == 3 && httpMethods[parts[0]] && strings.HasPrefix(parts[2], "HTTP/"):
		fields["request_method"] = parts[0]
		fields["request_uri"] = parts[1]
	default:
		return nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(name) {
		case "host":
			fields["host"] = value
		case "user-agent":
			fields["user_agent"] = value
		case "content-type":
			fields["content_type"] = value
		}
	}
	return fields
}

const (
	tlsRecordHandshake      = 0x16
	tlsHandshakeClientHello = 1
	tlsExtensionSNI         = 0
)

// parseTLS recognizes a TLS handshake record and, for a Client Hello,
// digs out the server name extension. Returns nil when the payload is
// not a TLS handshake.
func parseTLS(payload []byte) map[string]string {
	if len(payload) < 6 || payload[0] != tlsRecordHandshake || payload[1] != 0x03 {
		return nil
	}
	fields := map[string]string{
		"handshake_type": fmt.Sprintf("%d", payload[5]),
	}
	if payload[5] == tlsHandshakeClientHello {
		if sni := parseSNI(payload[5:]); sni != "" {
			fields["handshake_extensions_server_name"] = sni
		}
	}
	return fields
}

// parseSNI walks a Client Hello body looking for the server name
// extension. Every offset is bounds-checked; a malformed hello simply
// yields no name.
func parseSNI(hello []byte) string {
	// Handshake header (4) + version (2) + random (32).
	pos := 4 + 2 + 32
	if len(hello) < pos+1 {
		return ""
	}
	// Session ID.
	pos += 1 + int(hello[pos])
	if len(hello) < pos+2 {
		return ""
	}
	// Cipher suites.
	pos += 2 + int(uint16(hello[pos])<<8|uint16(hello[pos+1]))
	if len(hello) < pos+1 {
		return ""
	}
	// Compression methods.
	pos += 1 + int(hello[pos])
	if len(hello) < pos+2 {
		return ""
	}
	extEnd := pos + 2 + int(uint16(hello[pos])<<8|uint16(hello[pos+1]))
	pos += 2
	if extEnd > len(hello) {
		extEnd = len(hello)
	}
	for pos+4 <= extEnd {
		extType := uint16(hello[pos])<<8 | uint16(hello[pos+1])
		extLen := int(uint16(hello[pos+2])<<8 | uint16(hello[pos+3]))
		pos += 4
		if pos+extLen > extEnd {
			return ""
		}
		if extType == tlsExtensionSNI && extLen >= 5 {
			// Server name list: list length (2) + type (1) + name length (2).
			nameLen := int(uint16(hello[pos+3])<<8 | uint16(hello[pos+4]))
			if pos+5+nameLen <= pos+extLen {
				return string(hello[pos+5 : pos+5+nameLen])
			}
			return ""
		}
		pos += extLen
	}
	return ""
}
