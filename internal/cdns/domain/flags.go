package domain

// TransportType identifies the transport a message arrived over.
type TransportType uint8

const (
	TransportUDP TransportType = iota
	TransportTCP
	TransportTLS
	TransportDTLS
	TransportDoH
)

// String returns the lowercase transport name.
func (t TransportType) String() string {
	switch t {
	case TransportUDP:
		return "udp"
	case TransportTCP:
		return "tcp"
	case TransportTLS:
		return "tls"
	case TransportDTLS:
		return "dtls"
	case TransportDoH:
		return "doh"
	default:
		return "unknown"
	}
}

// TransactionType classifies the role of the capture point in a transaction.
// Values follow the C-DNS transaction-type registry.
type TransactionType uint8

const (
	TransactionStub TransactionType = iota
	TransactionClient
	TransactionResolver
	TransactionAuth
	TransactionForwarder
	TransactionTool
)

// Transport flag bits as stored in a query/response signature. Bit 0 is the
// IP version, bits 1-4 the transport, bit 5 marks trailing payload bytes
// after the query message.
const (
	TransportFlagIPv6             uint16 = 1 << 0
	TransportFlagQueryTrailing    uint16 = 1 << 5
	transportFlagTransportShift          = 1
)

// DNS flag bits as stored in a query/response signature.
const (
	DNSFlagQueryCD    uint16 = 1 << 0
	DNSFlagQueryAD    uint16 = 1 << 1
	DNSFlagQueryZ     uint16 = 1 << 2
	DNSFlagQueryRA    uint16 = 1 << 3
	DNSFlagQueryRD    uint16 = 1 << 4
	DNSFlagQueryTC    uint16 = 1 << 5
	DNSFlagQueryAA    uint16 = 1 << 6
	DNSFlagQueryDO    uint16 = 1 << 7
	DNSFlagResponseCD uint16 = 1 << 8
	DNSFlagResponseAD uint16 = 1 << 9
	DNSFlagResponseZ  uint16 = 1 << 10
	DNSFlagResponseRA uint16 = 1 << 11
	DNSFlagResponseRD uint16 = 1 << 12
	DNSFlagResponseTC uint16 = 1 << 13
	DNSFlagResponseAA uint16 = 1 << 14
)

// QR flag bits recording the presence and shape of a transaction.
const (
	QRFlagHasQuery              uint16 = 1 << 0
	QRFlagHasResponse           uint16 = 1 << 1
	QRFlagQueryHasOpt           uint16 = 1 << 2
	QRFlagResponseHasOpt        uint16 = 1 << 3
	QRFlagQueryHasNoQuestion    uint16 = 1 << 4
	QRFlagResponseHasNoQuestion uint16 = 1 << 5
)

// TransportFlags derives the signature transport flag bits for a pair.
func TransportFlags(qr *QueryResponse) uint16 {
	m := qr.Message()
	var flags uint16
	if m.ClientIP != nil && m.ClientIP.To4() == nil {
		flags |= TransportFlagIPv6
	}
	flags |= uint16(m.Transport) << transportFlagTransportShift
	if qr.HasQuery() && qr.Query.TrailingData {
		flags |= TransportFlagQueryTrailing
	}
	return flags
}

// DNSFlags derives the signature DNS flag bits for a pair, packing the
// header flags of query and response plus the query EDNS DO bit.
func DNSFlags(qr *QueryResponse) uint16 {
	var flags uint16
	if qr.HasQuery() {
		q := qr.Query
		if q.Flags.CD {
			flags |= DNSFlagQueryCD
		}
		if q.Flags.AD {
			flags |= DNSFlagQueryAD
		}
		if q.Flags.RA {
			flags |= DNSFlagQueryRA
		}
		if q.Flags.RD {
			flags |= DNSFlagQueryRD
		}
		if q.Flags.TC {
			flags |= DNSFlagQueryTC
		}
		if q.Flags.AA {
			flags |= DNSFlagQueryAA
		}
		if q.OPT != nil && q.OPT.DO {
			flags |= DNSFlagQueryDO
		}
	}
	if qr.HasResponse() {
		r := qr.Response
		if r.Flags.CD {
			flags |= DNSFlagResponseCD
		}
		if r.Flags.AD {
			flags |= DNSFlagResponseAD
		}
		if r.Flags.RA {
			flags |= DNSFlagResponseRA
		}
		if r.Flags.RD {
			flags |= DNSFlagResponseRD
		}
		if r.Flags.TC {
			flags |= DNSFlagResponseTC
		}
		if r.Flags.AA {
			flags |= DNSFlagResponseAA
		}
	}
	return flags
}
