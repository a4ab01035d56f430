package main

import (
	"fmt"
	"net"
	"time"

	"github.com/goccy/go-json"

	"github.com/haukened/cdns/internal/cdns/domain"
	"github.com/haukened/cdns/internal/cdns/gateways/wire"
)

// feedRecord is one newline-delimited JSON record from the collector feed.
// A "qr" record carries a matched transaction with base64 raw DNS messages;
// an "ae" record carries an address event.
type feedRecord struct {
	Type string `json:"type"`

	// Transaction fields.
	Transport       string `json:"transport"`
	ClientIP        string `json:"client_ip"`
	ClientPort      uint16 `json:"client_port"`
	ServerIP        string `json:"server_ip"`
	ServerPort      uint16 `json:"server_port"`
	QueryTimeNs     int64  `json:"query_time_ns"`
	ResponseTimeNs  int64  `json:"response_time_ns"`
	Query           []byte `json:"query"`
	Response        []byte `json:"response"`
	HopLimit        *uint8 `json:"hoplimit"`
	TransactionType string `json:"transaction_type"`

	// Address event fields.
	Event        string `json:"event"`
	Code         uint   `json:"code"`
	EventAddress string `json:"address"`
}

var transportNames = map[string]domain.TransportType{
	"udp":  domain.TransportUDP,
	"tcp":  domain.TransportTCP,
	"tls":  domain.TransportTLS,
	"dtls": domain.TransportDTLS,
	"doh":  domain.TransportDoH,
}

var transactionTypeNames = map[string]domain.TransactionType{
	"stub":      domain.TransactionStub,
	"client":    domain.TransactionClient,
	"resolver":  domain.TransactionResolver,
	"auth":      domain.TransactionAuth,
	"forwarder": domain.TransactionForwarder,
	"tool":      domain.TransactionTool,
}

var addressEventNames = map[string]domain.AddressEventType{
	"tcp_reset":                domain.AddressEventTCPReset,
	"icmp_time_exceeded":       domain.AddressEventICMPTimeExceeded,
	"icmp_dest_unreachable":    domain.AddressEventICMPDestUnreachable,
	"icmpv6_time_exceeded":     domain.AddressEventICMPv6TimeExceeded,
	"icmpv6_dest_unreachable":  domain.AddressEventICMPv6DestUnreachable,
	"icmpv6_packet_too_big":    domain.AddressEventICMPv6PacketTooBig,
}

func parseFeedLine(line []byte) (*feedRecord, error) {
	var rec feedRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return nil, fmt.Errorf("malformed feed record: %w", err)
	}
	return &rec, nil
}

// toQueryResponse builds a matched pair from a "qr" feed record.
func (rec *feedRecord) toQueryResponse() (*domain.QueryResponse, error) {
	if len(rec.Query) == 0 && len(rec.Response) == 0 {
		return nil, fmt.Errorf("feed record has neither query nor response")
	}

	transport, ok := transportNames[rec.Transport]
	if !ok && rec.Transport != "" {
		return nil, fmt.Errorf("unknown transport %q", rec.Transport)
	}

	clientIP := net.ParseIP(rec.ClientIP)
	serverIP := net.ParseIP(rec.ServerIP)

	fill := func(raw []byte, ts int64) (*domain.DNSMessage, error) {
		m, err := wire.ParseMessage(raw)
		if err != nil {
			return nil, err
		}
		m.Timestamp = time.Unix(0, ts)
		m.Transport = transport
		m.ClientIP = clientIP
		m.ServerIP = serverIP
		if rec.ClientPort != 0 {
			port := rec.ClientPort
			m.ClientPort = &port
		}
		if rec.ServerPort != 0 {
			port := rec.ServerPort
			m.ServerPort = &port
		}
		return m, nil
	}

	qr := &domain.QueryResponse{}
	if len(rec.Query) > 0 {
		q, err := fill(rec.Query, rec.QueryTimeNs)
		if err != nil {
			return nil, fmt.Errorf("query: %w", err)
		}
		q.HopLimit = rec.HopLimit
		qr.Query = q
	}
	if len(rec.Response) > 0 {
		r, err := fill(rec.Response, rec.ResponseTimeNs)
		if err != nil {
			return nil, fmt.Errorf("response: %w", err)
		}
		qr.Response = r
	}
	if t, ok := transactionTypeNames[rec.TransactionType]; ok {
		qr.Type = &t
	}
	return qr, nil
}

// toAddressEvent builds an address event from an "ae" feed record.
func (rec *feedRecord) toAddressEvent() (*domain.AddressEvent, error) {
	t, ok := addressEventNames[rec.Event]
	if !ok {
		return nil, fmt.Errorf("unknown address event %q", rec.Event)
	}
	addr := net.ParseIP(rec.EventAddress)
	if addr == nil {
		return nil, fmt.Errorf("bad address event address %q", rec.EventAddress)
	}
	return &domain.AddressEvent{
		Type:    t,
		Code:    rec.Code,
		Address: addr,
	}, nil
}
