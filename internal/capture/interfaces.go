package capture

import (
	"context"
	"fmt"
	"sort"

	psnet "github.com/shirou/gopsutil/v4/net"
)

// Interface summarises a network interface that can be captured on.
type Interface struct {
	Index        int      `yaml:"index"`
	Name         string   `yaml:"name"`
	HardwareAddr string   `yaml:"hardware_addr,omitempty"`
	MTU          int      `yaml:"mtu"`
	Flags        []string `yaml:"flags,omitempty"`
	Addrs        []string `yaml:"addrs,omitempty"`
}

// Interfaces lists the host's interfaces ordered by index.
func Interfaces(ctx context.Context) ([]Interface, error) {
	stats, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing interfaces: %w", err)
	}

	ifaces := make([]Interface, 0, len(stats))
	for _, s := range stats {
		iface := Interface{
			Index:        s.Index,
			Name:         s.Name,
			HardwareAddr: s.HardwareAddr,
			MTU:          s.MTU,
			Flags:        s.Flags,
		}
		for _, a := range s.Addrs {
			iface.Addrs = append(iface.Addrs, a.Addr)
		}
		ifaces = append(ifaces, iface)
	}
	sort.Slice(ifaces, func(i, j int) bool { return ifaces[i].Index < ifaces[j].Index })
	return ifaces, nil
}
