// Package wire parses raw DNS messages into the capture input model. It
// handles the DNS wire format as specified in RFC 1035, including label
// compression. Names are returned in uncompressed wire format, which is the
// form stored in the capture file.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/haukened/cdns/internal/cdns/domain"
)

const (
	headerLen = 12

	typeOPT = 41

	// maxPointerHops bounds compression pointer chains so malformed
	// messages cannot loop the parser.
	maxPointerHops = 64
)

var (
	ErrTruncated   = errors.New("message truncated")
	ErrBadPointer  = errors.New("bad compression pointer")
	ErrNameTooLong = errors.New("name exceeds maximum length")
)

// decodeName decodes a possibly compressed domain name starting at offset.
// It returns the name as uncompressed wire-format labels and the offset of
// the byte following the name in the original message.
func decodeName(data []byte, offset int) ([]byte, int, error) {
	var name []byte
	next := -1 // offset after the first pointer, if any
	hops := 0

	for {
		if offset >= len(data) {
			return nil, 0, ErrTruncated
		}
		length := int(data[offset])
		switch {
		case length == 0:
			name = append(name, 0)
			if next < 0 {
				next = offset + 1
			}
			if len(name) > 255 {
				return nil, 0, ErrNameTooLong
			}
			return name, next, nil

		case length&0xC0 == 0xC0:
			if offset+1 >= len(data) {
				return nil, 0, ErrBadPointer
			}
			if hops++; hops > maxPointerHops {
				return nil, 0, ErrBadPointer
			}
			ptr := int(binary.BigEndian.Uint16(data[offset:offset+2]) & 0x3FFF)
			if ptr >= offset {
				return nil, 0, ErrBadPointer
			}
			if next < 0 {
				next = offset + 2
			}
			offset = ptr

		case length&0xC0 != 0:
			return nil, 0, fmt.Errorf("unsupported label type 0x%02x", length&0xC0)

		default:
			if offset+1+length > len(data) {
				return nil, 0, ErrTruncated
			}
			name = append(name, data[offset:offset+1+length]...)
			offset += 1 + length
		}
	}
}

// ParseMessage parses a raw DNS message into a DNSMessage. Network metadata
// (addresses, ports, timestamps) is left for the caller to fill in. The OPT
// pseudo-record is lifted out of the additional section into the message's
// OPT field; the header counts are preserved as received.
func ParseMessage(data []byte) (*domain.DNSMessage, error) {
	if len(data) < headerLen {
		return nil, fmt.Errorf("message too short: %d bytes", len(data))
	}

	m := &domain.DNSMessage{
		TransactionID: binary.BigEndian.Uint16(data[0:2]),
	}

	flags := binary.BigEndian.Uint16(data[2:4])
	m.Flags = domain.HeaderFlags{
		QR: flags&0x8000 != 0,
		AA: flags&0x0400 != 0,
		TC: flags&0x0200 != 0,
		RD: flags&0x0100 != 0,
		RA: flags&0x0080 != 0,
		AD: flags&0x0020 != 0,
		CD: flags&0x0010 != 0,
	}
	m.Opcode = uint8(flags >> 11 & 0xF)
	m.Rcode = uint8(flags & 0xF)

	m.QDCount = binary.BigEndian.Uint16(data[4:6])
	m.ANCount = binary.BigEndian.Uint16(data[6:8])
	m.NSCount = binary.BigEndian.Uint16(data[8:10])
	m.ARCount = binary.BigEndian.Uint16(data[10:12])

	offset := headerLen
	for i := 0; i < int(m.QDCount); i++ {
		q, newOffset, err := parseQuestion(data, offset)
		if err != nil {
			return nil, fmt.Errorf("question %d: %w", i, err)
		}
		m.Questions = append(m.Questions, q)
		offset = newOffset
	}

	var err error
	if m.Answers, offset, err = parseSection(data, offset, int(m.ANCount), m, false); err != nil {
		return nil, fmt.Errorf("answer section: %w", err)
	}
	if m.Authority, offset, err = parseSection(data, offset, int(m.NSCount), m, false); err != nil {
		return nil, fmt.Errorf("authority section: %w", err)
	}
	if m.Additional, offset, err = parseSection(data, offset, int(m.ARCount), m, true); err != nil {
		return nil, fmt.Errorf("additional section: %w", err)
	}

	if offset < len(data) {
		m.TrailingData = true
	}
	size := uint32(len(data))
	m.WireSize = &size
	return m, nil
}

func parseQuestion(data []byte, offset int) (domain.Question, int, error) {
	name, offset, err := decodeName(data, offset)
	if err != nil {
		return domain.Question{}, 0, err
	}
	if offset+4 > len(data) {
		return domain.Question{}, 0, ErrTruncated
	}
	q := domain.Question{
		Name:  name,
		Type:  binary.BigEndian.Uint16(data[offset : offset+2]),
		Class: binary.BigEndian.Uint16(data[offset+2 : offset+4]),
	}
	return q, offset + 4, nil
}

// parseSection parses count records. In the additional section the OPT
// pseudo-record is captured on the message instead of the record list.
func parseSection(data []byte, offset, count int, m *domain.DNSMessage, additional bool) ([]domain.ResourceRecord, int, error) {
	var records []domain.ResourceRecord
	for i := 0; i < count; i++ {
		name, newOffset, err := decodeName(data, offset)
		if err != nil {
			return nil, 0, err
		}
		offset = newOffset
		if offset+10 > len(data) {
			return nil, 0, ErrTruncated
		}
		typ := binary.BigEndian.Uint16(data[offset : offset+2])
		class := binary.BigEndian.Uint16(data[offset+2 : offset+4])
		ttl := binary.BigEndian.Uint32(data[offset+4 : offset+8])
		rdLen := int(binary.BigEndian.Uint16(data[offset+8 : offset+10]))
		offset += 10
		if offset+rdLen > len(data) {
			return nil, 0, ErrTruncated
		}
		rdata := make([]byte, rdLen)
		copy(rdata, data[offset:offset+rdLen])
		offset += rdLen

		if additional && typ == typeOPT {
			m.OPT = &domain.EDNS0{
				ExtendedRcode:  uint8(ttl >> 24),
				Version:        uint8(ttl >> 16),
				UDPPayloadSize: class,
				DO:             ttl&0x8000 != 0,
				RData:          rdata,
			}
			continue
		}

		records = append(records, domain.ResourceRecord{
			Name:  name,
			Type:  typ,
			Class: class,
			TTL:   ttl,
			RData: rdata,
		})
	}
	return records, offset, nil
}
