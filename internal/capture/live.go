package capture

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
)

const (
	defaultSnapshotLen int32 = 65536
	// pollTimeout bounds how long a blocked read can outlive an
	// Interrupt: the pcap read wakes at least once per tick and
	// re-checks the interrupt flag.
	pollTimeout = 500 * time.Millisecond
)

// LiveEngine opens live pcap handles via libpcap.
type LiveEngine struct {
	SnapshotLen int32
	Promiscuous bool
}

// NewLiveEngine returns a live engine with the default snapshot length
// and promiscuous mode enabled.
func NewLiveEngine() *LiveEngine {
	return &LiveEngine{SnapshotLen: defaultSnapshotLen, Promiscuous: true}
}

// Open starts a live capture on the named device. The filter is a BPF
// expression passed through unparsed; a rejected filter fails the open.
func (e *LiveEngine) Open(iface, filter string) (Handle, error) {
	snaplen := e.SnapshotLen
	if snaplen <= 0 {
		snaplen = defaultSnapshotLen
	}
	h, err := pcap.OpenLive(iface, snaplen, e.Promiscuous, pollTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open device %s: %w", iface, err)
	}
	if filter != "" {
		if err := h.SetBPFFilter(filter); err != nil {
			h.Close()
			return nil, fmt.Errorf("failed to set filter %q: %w", filter, err)
		}
	}
	return newPcapHandle(h), nil
}

// pcapHandle adapts a *pcap.Handle (live or offline) to the Handle
// contract. The reading goroutine owns Close; Interrupt only flips an
// atomic flag so it is safe concurrently with both Next and Close.
type pcapHandle struct {
	h           *pcap.Handle
	interrupted atomic.Bool
	closeOnce   sync.Once
}

func newPcapHandle(h *pcap.Handle) *pcapHandle {
	return &pcapHandle{h: h}
}

func (p *pcapHandle) Next() (Frame, error) {
	for {
		if p.interrupted.Load() {
			return nil, io.EOF
		}
		data, ci, err := p.h.ReadPacketData()
		switch err {
		case nil:
			pkt := gopacket.NewPacket(data, p.h.LinkType(), gopacket.Default)
			meta := pkt.Metadata()
			meta.CaptureInfo = ci
			return NewFrame(pkt), nil
		case pcap.NextErrorTimeoutExpired:
			// Poll tick, re-check the interrupt flag.
			continue
		case io.EOF:
			return nil, io.EOF
		default:
			return nil, fmt.Errorf("error reading packet data: %w", err)
		}
	}
}

func (p *pcapHandle) Interrupt() {
	p.interrupted.Store(true)
}

func (p *pcapHandle) Close() {
	p.closeOnce.Do(func() {
		p.interrupted.Store(true)
		p.h.Close()
	})
}
