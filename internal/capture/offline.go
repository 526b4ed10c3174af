package capture

import (
	"fmt"

	"github.com/google/gopacket/pcap"
)

// OfflineEngine replays a recorded pcap file through the same Handle
// contract as live capture, so sessions behave identically against
// recorded traffic. The interface identifier passed to Open is ignored;
// the file path fixed at construction is the source.
type OfflineEngine struct {
	Path string
}

// NewOfflineEngine returns an engine replaying the given pcap file.
func NewOfflineEngine(path string) *OfflineEngine {
	return &OfflineEngine{Path: path}
}

// Open opens the pcap file for replay, applying the optional BPF filter.
func (e *OfflineEngine) Open(_, filter string) (Handle, error) {
	h, err := pcap.OpenOffline(e.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap file %s: %w", e.Path, err)
	}
	if filter != "" {
		if err := h.SetBPFFilter(filter); err != nil {
			h.Close()
			return nil, fmt.Errorf("failed to set filter %q: %w", filter, err)
		}
	}
	return newPcapHandle(h), nil
}
