package network

import (
	"fmt"
	"strings"

	gnet "github.com/shirou/gopsutil/v4/net"
)

// ErrInterfaceNotFound is returned by SwitchInterface when no
// operationally-up interface matches the requested name (spec §4.7).
var ErrInterfaceNotFound = fmt.Errorf("interface not found")

// InterfaceSelector picks the active network interface (spec §4.7
// "Interface selection").
type InterfaceSelector struct {
	preferredPrefix string
	current         string
}

func NewInterfaceSelector(preferredPrefix string) *InterfaceSelector {
	return &InterfaceSelector{preferredPrefix: preferredPrefix}
}

// Current returns the currently selected interface name, or "" if none
// has been selected yet.
func (s *InterfaceSelector) Current() string {
	return s.current
}

// SelectStartup chooses an interface among the operationally-up set at
// startup: prefers a wireless interface, then one whose name begins
// with the configured preference string, else the first up interface
// encountered.
func (s *InterfaceSelector) SelectStartup() (string, error) {
	ifaces, err := upInterfaces()
	if err != nil {
		return "", err
	}
	if len(ifaces) == 0 {
		return "", ErrInterfaceNotFound
	}
	name := s.choose(ifaces)
	s.current = name
	return name, nil
}

// SwitchInterface switches to the named interface if it is
// operationally up; otherwise returns ErrInterfaceNotFound.
func (s *InterfaceSelector) SwitchInterface(name string) error {
	ifaces, err := upInterfaces()
	if err != nil {
		return err
	}
	for _, iface := range ifaces {
		if iface.Name == name {
			s.current = name
			return nil
		}
	}
	return ErrInterfaceNotFound
}

// choose applies the tie-break: wireless first, then configured
// preference prefix, else the first candidate (interfaces are already
// restricted to the operationally-up set).
func (s *InterfaceSelector) choose(ifaces []gnet.InterfaceStat) string {
	for _, iface := range ifaces {
		if isWireless(iface.Name) {
			return iface.Name
		}
	}
	if s.preferredPrefix != "" {
		for _, iface := range ifaces {
			if strings.HasPrefix(iface.Name, s.preferredPrefix) {
				return iface.Name
			}
		}
	}
	return ifaces[0].Name
}

func upInterfaces() ([]gnet.InterfaceStat, error) {
	all, err := gnet.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("enumerate interfaces: %w", err)
	}
	var up []gnet.InterfaceStat
	for _, iface := range all {
		if hasFlag(iface.Flags, "up") {
			up = append(up, iface)
		}
	}
	return up, nil
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, want) {
			return true
		}
	}
	return false
}

// isWireless uses common platform naming conventions (wl* on Linux,
// "Wi-Fi"/"wlan" elsewhere) since gopsutil does not classify media type.
func isWireless(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasPrefix(lower, "wl") || strings.Contains(lower, "wifi") || strings.Contains(lower, "wi-fi")
}
