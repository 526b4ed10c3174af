package capture

import (
	"fmt"

	"github.com/google/gopacket/pcap"
)

// Interface describes one capture-capable device.
type Interface struct {
	// Device is the identifier handed to Engine.Open.
	Device string `json:"device"`
	// Display is the numbered human-readable name, e.g. "1. eth0".
	Display     string   `json:"display"`
	Description string   `json:"description,omitempty"`
	Addresses   []string `json:"addresses,omitempty"`
	Loopback    bool     `json:"loopback"`
}

// ListInterfaces enumerates capture-capable devices in libpcap order,
// assigning 1-based display names.
func ListInterfaces() ([]Interface, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, fmt.Errorf("failed to list capture devices: %w", err)
	}

	ifaces := make([]Interface, 0, len(devs))
	for i, dev := range devs {
		iface := Interface{
			Device:      dev.Name,
			Display:     fmt.Sprintf("%d. %s", i+1, displayName(dev)),
			Description: dev.Description,
			Loopback:    dev.Flags&0x01 != 0, // PCAP_IF_LOOPBACK
		}
		for _, addr := range dev.Addresses {
			if addr.IP != nil {
				iface.Addresses = append(iface.Addresses, addr.IP.String())
			}
		}
		ifaces = append(ifaces, iface)
	}
	return ifaces, nil
}

// displayName prefers the descriptive name Windows devices carry over
// the raw device path.
func displayName(dev pcap.Interface) string {
	if dev.Description != "" {
		return dev.Description
	}
	return dev.Name
}
