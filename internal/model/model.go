package model

// EthernetInfo holds the link-layer addresses of a frame.
type EthernetInfo struct {
	SrcMAC string `json:"src_mac"`
	DstMAC string `json:"dst_mac"`
}

// NetworkInfo holds the IPv4/IPv6 header fields of a frame.
type NetworkInfo struct {
	SrcIP  string `json:"src_ip"`
	DstIP  string `json:"dst_ip"`
	IsIPv6 bool   `json:"is_ipv6"`
	TTL    *int   `json:"ttl"`
}

// TransportInfo holds the TCP/UDP port pair and, for TCP, the set flags.
type TransportInfo struct {
	SrcPort  int      `json:"src_port"`
	DstPort  int      `json:"dst_port"`
	TCPFlags []string `json:"tcp_flags"`
}

// ARPInfo holds the sender/target address pairs of an ARP frame.
type ARPInfo struct {
	SenderIP  string `json:"sender_ip"`
	SenderMAC string `json:"sender_mac"`
	TargetIP  string `json:"target_ip"`
	TargetMAC string `json:"target_mac"`
	Type      string `json:"type"`
}

// ApplicationInfo names the detected application protocol and carries
// its free-form detail mapping (method, host, query, handshake, ...).
type ApplicationInfo struct {
	Name    string            `json:"name"`
	Details map[string]string `json:"details"`
}

// PacketRecord is the canonical, serializable form of one captured frame.
// Each optional group is either fully populated or nil; nil groups
// marshal as JSON null so the wire shape round-trips exactly.
type PacketRecord struct {
	Number      int              `json:"number"`
	Timestamp   string           `json:"timestamp"`
	Length      int              `json:"length"`
	Layers      []string         `json:"layers"`
	Protocol    string           `json:"protocol"`
	Ethernet    *EthernetInfo    `json:"ethernet"`
	Network     *NetworkInfo     `json:"network"`
	Transport   *TransportInfo   `json:"transport"`
	ARP         *ARPInfo         `json:"arp"`
	Application *ApplicationInfo `json:"application"`
	RawHex      string           `json:"raw_hex,omitempty"`

	// ICMPDetail is the mapped ICMP type string. The wire shape has no
	// slot for it, so it is presentation-only state for the text
	// renderer and excluded from serialization.
	ICMPDetail string `json:"-"`
}
