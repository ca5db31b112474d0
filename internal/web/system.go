package web

import (
	"net"
	"sort"
)

// DiskSnapshot reports space on the filesystem holding the feature store.
// Photos land there too, so a field unit can run out mid-survey.
type DiskSnapshot struct {
	Path       string `json:"path"`
	TotalBytes uint64 `json:"total_bytes,omitempty"`
	FreeBytes  uint64 `json:"free_bytes,omitempty"`
	AvailBytes uint64 `json:"avail_bytes,omitempty"`
	LastError  string `json:"last_error,omitempty"`
}

type NetworkSnapshot struct {
	LocalAddrs []string `json:"local_addrs,omitempty"`
}

func snapshotNetwork() *NetworkSnapshot {
	return &NetworkSnapshot{LocalAddrs: localInterfaceAddrs()}
}

// localInterfaceAddrs lists routable IPv4 addresses the UI can be reached
// on, as "iface: cidr".
func localInterfaceAddrs() []string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil
	}

	out := make([]string, 0, 8)
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if s, ok := formatIfaceAddr(iface.Name, a); ok {
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out
}

func formatIfaceAddr(name string, a net.Addr) (string, bool) {
	var ip net.IP
	var ipnet *net.IPNet
	switch v := a.(type) {
	case *net.IPNet:
		ip = v.IP
		ipnet = v
	case *net.IPAddr:
		ip = v.IP
	}
	ip4 := ip.To4()
	if ip4 == nil || ip4.IsLoopback() || ip4.IsLinkLocalUnicast() {
		return "", false
	}
	if ipnet != nil {
		return name + ": " + ipnet.String(), true
	}
	return name + ": " + ip4.String(), true
}
