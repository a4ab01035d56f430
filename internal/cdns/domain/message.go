// Package domain holds the input data model for the capture encoder: parsed
// DNS messages, matched query/response pairs, address events and the running
// packet counters. Producers (capture, parsing, matching) build these values;
// the writer consumes them.
package domain

import (
	"fmt"
	"net"
	"time"
)

// HeaderFlags are the DNS header flag bits of a single message.
type HeaderFlags struct {
	QR bool
	AA bool
	TC bool
	RD bool
	RA bool
	AD bool
	CD bool
}

// EDNS0 carries the OPT pseudo-record of a message.
type EDNS0 struct {
	ExtendedRcode  uint8
	Version        uint8
	UDPPayloadSize uint16
	DO             bool
	RData          []byte
}

// Question is a single entry from a message question section. The name is
// kept in uncompressed wire format, as it is stored in the capture file.
type Question struct {
	Name  []byte
	Type  uint16
	Class uint16
}

// ResourceRecord is a single record from an answer, authority or additional
// section. Name and RData are uncompressed wire-format bytes.
type ResourceRecord struct {
	Name  []byte
	Type  uint16
	Class uint16
	TTL   uint32
	RData []byte
}

// DNSMessage is one parsed DNS message plus its network metadata. Optional
// metadata that may be missing from a capture (ports, hop limit, wire size)
// is held by pointer; nil means not observed.
type DNSMessage struct {
	Timestamp time.Time

	ClientIP   net.IP
	ServerIP   net.IP
	ClientPort *uint16
	ServerPort *uint16
	HopLimit   *uint8
	WireSize   *uint32

	Transport TransportType

	TransactionID uint16
	Opcode        uint8
	Rcode         uint8
	Flags         HeaderFlags

	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16

	Questions  []Question
	Answers    []ResourceRecord
	Authority  []ResourceRecord
	Additional []ResourceRecord

	OPT *EDNS0

	// TrailingData is set when the transport payload extended past the end
	// of the DNS message.
	TrailingData bool
}

// QueryResponse is a matched query/response pair. It may hold a timed out
// query without response, a response without matching query, or a query with
// its matching response.
type QueryResponse struct {
	Query    *DNSMessage
	Response *DNSMessage

	// Type classifies the transaction, when the collector can tell.
	Type *TransactionType
}

// HasQuery reports whether the pair contains a query.
func (qr *QueryResponse) HasQuery() bool {
	return qr.Query != nil
}

// HasResponse reports whether the pair contains a response.
func (qr *QueryResponse) HasResponse() bool {
	return qr.Response != nil
}

// Message returns the leading message of the pair: the query when present,
// otherwise the response.
func (qr *QueryResponse) Message() *DNSMessage {
	if qr.Query != nil {
		return qr.Query
	}
	return qr.Response
}

// Timestamp returns the pair timestamp. If there is a query, this is the
// query timestamp, otherwise the response timestamp.
func (qr *QueryResponse) Timestamp() (time.Time, error) {
	if m := qr.Message(); m != nil {
		return m.Timestamp, nil
	}
	return time.Time{}, fmt.Errorf("query/response pair has neither query nor response")
}
