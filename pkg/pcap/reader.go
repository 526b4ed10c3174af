// Package pcap streams normalized packet records out of recorded pcap
// files, without the session machinery live capture needs.
package pcap

import (
	"fmt"

	"PacketLens/internal/capture"
	"PacketLens/internal/model"
	"PacketLens/internal/normalize"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

// Reader reads packets from a pcap file.
type Reader struct {
	handle *pcap.Handle
}

// NewReader creates a new pcap reader for the given file path, with an
// optional BPF filter.
func NewReader(filePath, filter string) (*Reader, error) {
	handle, err := pcap.OpenOffline(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap file %s: %w", filePath, err)
	}
	if filter != "" {
		if err := handle.SetBPFFilter(filter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("failed to set filter %q: %w", filter, err)
		}
	}
	return &Reader{handle: handle}, nil
}

// Close closes the pcap handle.
func (r *Reader) Close() {
	r.handle.Close()
}

// ReadRecords reads all packets from the file, normalizes each one and
// sends the records to the provided channel. The channel is closed when
// the file is exhausted.
func (r *Reader) ReadRecords(out chan<- *model.PacketRecord) {
	defer close(out)

	packetSource := gopacket.NewPacketSource(r.handle, r.handle.LinkType())
	number := 0
	for packet := range packetSource.Packets() {
		number++
		out <- normalize.Normalize(capture.NewFrame(packet), number)
	}
}
