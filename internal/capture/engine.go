package capture

import (
	"fmt"
	"time"
)

// Canonical layer names used by Frame.HasLayer and Frame.Field.
const (
	LayerEthernet = "eth"
	LayerARP      = "arp"
	LayerIPv4     = "ip"
	LayerIPv6     = "ipv6"
	LayerTCP      = "tcp"
	LayerUDP      = "udp"
	LayerICMP     = "icmp"
	LayerICMPv6   = "icmpv6"
	LayerHTTP     = "http"
	LayerDNS      = "dns"
	LayerTLS      = "tls"
)

// Frame is one dissected captured unit. Layer presence and named
// sub-fields are explicit queryable capabilities so consumers never
// reach into decoder internals.
type Frame interface {
	Timestamp() time.Time
	Length() int
	// Layers lists the layer names present, outermost first.
	Layers() []string
	// HighestLayer is the uppercased name of the innermost decoded layer.
	HighestLayer() string
	HasLayer(name string) bool
	// Field returns the named sub-field of a layer as a string.
	Field(layer, name string) (string, bool)
	// Raw returns the full frame bytes, when the source retained them.
	Raw() ([]byte, bool)
}

// Handle is one open capture stream. Next blocks until a frame arrives,
// the stream is exhausted (io.EOF) or the handle is interrupted.
// Interrupt may be called from any goroutine and forces a pending Next
// to return. Close is idempotent and never fails; release errors are
// swallowed at this boundary.
type Handle interface {
	Next() (Frame, error)
	Interrupt()
	Close()
}

// Engine opens capture handles for an interface plus an optional filter
// expression in the engine's own filter language.
type Engine interface {
	Open(iface, filter string) (Handle, error)
}

// Config bounds one capture session. PacketCount and Timeout are
// independent stopping conditions; whichever is reached first governs.
type Config struct {
	Interface     string
	PacketCount   int // 0 = unbounded
	DisplayFilter string
	Timeout       time.Duration
}

// Stats summarizes one finished session.
type Stats struct {
	PacketsCaptured  int     `json:"packets_captured"`
	ElapsedTime      float64 `json:"elapsed_time"`
	StoppedByUser    bool    `json:"stopped_by_user"`
	StoppedByTimeout bool    `json:"stopped_by_timeout"`
	Error            string  `json:"error,omitempty"`
}

// StartError reports a failure to open the capture handle. It is the
// only error class that propagates out of Session.Start.
type StartError struct {
	Interface string
	Err       error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("failed to start capture on %q: %v", e.Interface, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }
