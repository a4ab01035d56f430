package domain

import "net"

// AddressEventType identifies the kind of per-address network event.
// Values follow the C-DNS address-event-type registry.
type AddressEventType uint8

const (
	AddressEventTCPReset AddressEventType = iota
	AddressEventICMPTimeExceeded
	AddressEventICMPDestUnreachable
	AddressEventICMPv6TimeExceeded
	AddressEventICMPv6DestUnreachable
	AddressEventICMPv6PacketTooBig
)

// AddressEvent is one observed network event attributed to an address,
// for example an ICMP unreachable in response to a query.
type AddressEvent struct {
	Type    AddressEventType
	Code    uint
	Address net.IP

	// TransportFlags is set when the collector knows the transport the
	// event relates to.
	TransportFlags *uint16
}

// IsIPv6 reports whether the event address is an IPv6 address.
func (ae *AddressEvent) IsIPv6() bool {
	return ae.Address != nil && ae.Address.To4() == nil
}
