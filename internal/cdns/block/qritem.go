package block

import (
	"time"

	"github.com/haukened/cdns/internal/cdns/cbor"
)

// ClassType is a (type, class) pair from a question or resource record.
type ClassType struct {
	Type  uint16
	Class uint16
}

func (ct ClassType) key() string {
	var k keyBuilder
	k.u64(uint64(ct.Type))
	k.u64(uint64(ct.Class))
	return k.String()
}

func (ct ClassType) writeCbor(enc *cbor.Encoder, s *Schema) {
	enc.WriteMapHeader(2)
	enc.WriteInt(int64(s.ClassType.Type))
	enc.WriteUint(uint64(ct.Type))
	enc.WriteInt(int64(s.ClassType.Class))
	enc.WriteUint(uint64(ct.Class))
}

// Question refers into the name/rdata and classtype tables of its block.
// A nil field was excluded by configuration.
type Question struct {
	QName     *uint64
	ClassType *uint64
}

func (q Question) key() string {
	var k keyBuilder
	optKey(&k, q.QName)
	optKey(&k, q.ClassType)
	return k.String()
}

func (q Question) writeCbor(enc *cbor.Encoder, s *Schema) {
	n := 0
	if q.QName != nil {
		n++
	}
	if q.ClassType != nil {
		n++
	}
	enc.WriteMapHeader(n)
	if q.QName != nil {
		enc.WriteInt(int64(s.Question.NameIndex))
		enc.WriteUint(*q.QName)
	}
	if q.ClassType != nil {
		enc.WriteInt(int64(s.Question.ClassTypeIndex))
		enc.WriteUint(*q.ClassType)
	}
}

// ResourceRecord refers into the name/rdata and classtype tables of its
// block. Nil fields were excluded by configuration.
type ResourceRecord struct {
	Name      *uint64
	ClassType *uint64
	TTL       *uint32
	RData     *uint64
}

func (rr ResourceRecord) key() string {
	var k keyBuilder
	optKey(&k, rr.Name)
	optKey(&k, rr.ClassType)
	optKey(&k, rr.TTL)
	optKey(&k, rr.RData)
	return k.String()
}

func (rr ResourceRecord) writeCbor(enc *cbor.Encoder, s *Schema) {
	n := 0
	if rr.Name != nil {
		n++
	}
	if rr.ClassType != nil {
		n++
	}
	if rr.TTL != nil {
		n++
	}
	if rr.RData != nil {
		n++
	}
	enc.WriteMapHeader(n)
	if rr.Name != nil {
		enc.WriteInt(int64(s.RR.NameIndex))
		enc.WriteUint(*rr.Name)
	}
	if rr.ClassType != nil {
		enc.WriteInt(int64(s.RR.ClassTypeIndex))
		enc.WriteUint(*rr.ClassType)
	}
	if rr.TTL != nil {
		enc.WriteInt(int64(s.RR.TTL))
		enc.WriteUint(uint64(*rr.TTL))
	}
	if rr.RData != nil {
		enc.WriteInt(int64(s.RR.RDataIndex))
		enc.WriteUint(*rr.RData)
	}
}

// QueryResponseSignature is the recurring shape of a transaction, factored
// out of the per-transaction items for deduplication. Nil fields are either
// absent from the transaction or excluded by configuration; the two are
// indistinguishable on the wire.
type QueryResponseSignature struct {
	ServerAddress        *uint64
	ServerPort           *uint16
	TransportFlags       *uint16
	QRType               *uint8
	DNSFlags             *uint16
	QRFlags              *uint16
	QDCount              *uint16
	QueryClassType       *uint64
	QueryRcode           *uint16
	QueryOpcode          *uint8
	QueryANCount         *uint16
	QueryARCount         *uint16
	QueryNSCount         *uint16
	QueryEDNSVersion     *uint8
	QueryEDNSPayloadSize *uint16
	QueryOptRData        *uint64
	ResponseRcode        *uint16
}

func (qs QueryResponseSignature) key() string {
	var k keyBuilder
	optKey(&k, qs.ServerAddress)
	optKey(&k, qs.ServerPort)
	optKey(&k, qs.TransportFlags)
	optKey(&k, qs.QRType)
	optKey(&k, qs.DNSFlags)
	optKey(&k, qs.QRFlags)
	optKey(&k, qs.QDCount)
	optKey(&k, qs.QueryClassType)
	optKey(&k, qs.QueryRcode)
	optKey(&k, qs.QueryOpcode)
	optKey(&k, qs.QueryANCount)
	optKey(&k, qs.QueryARCount)
	optKey(&k, qs.QueryNSCount)
	optKey(&k, qs.QueryEDNSVersion)
	optKey(&k, qs.QueryEDNSPayloadSize)
	optKey(&k, qs.QueryOptRData)
	optKey(&k, qs.ResponseRcode)
	return k.String()
}

func (qs QueryResponseSignature) writeCbor(enc *cbor.Encoder, s *Schema) {
	n := 0
	for _, present := range []bool{
		qs.ServerAddress != nil, qs.ServerPort != nil,
		qs.TransportFlags != nil, qs.QRType != nil,
		qs.DNSFlags != nil, qs.QRFlags != nil,
		qs.QDCount != nil, qs.QueryClassType != nil,
		qs.QueryRcode != nil, qs.QueryOpcode != nil,
		qs.QueryANCount != nil, qs.QueryARCount != nil,
		qs.QueryNSCount != nil, qs.QueryEDNSVersion != nil,
		qs.QueryEDNSPayloadSize != nil, qs.QueryOptRData != nil,
		qs.ResponseRcode != nil,
	} {
		if present {
			n++
		}
	}
	enc.WriteMapHeader(n)
	if qs.ServerAddress != nil {
		enc.WriteInt(int64(s.Signature.ServerAddressIndex))
		enc.WriteUint(*qs.ServerAddress)
	}
	if qs.ServerPort != nil {
		enc.WriteInt(int64(s.Signature.ServerPort))
		enc.WriteUint(uint64(*qs.ServerPort))
	}
	if qs.TransportFlags != nil {
		enc.WriteInt(int64(s.Signature.QRTransportFlags))
		enc.WriteUint(uint64(*qs.TransportFlags))
	}
	if qs.QRType != nil {
		enc.WriteInt(int64(s.Signature.QRType))
		enc.WriteUint(uint64(*qs.QRType))
	}
	if qs.DNSFlags != nil {
		enc.WriteInt(int64(s.Signature.QRDNSFlags))
		enc.WriteUint(uint64(*qs.DNSFlags))
	}
	if qs.QRFlags != nil {
		enc.WriteInt(int64(s.Signature.QRSigFlags))
		enc.WriteUint(uint64(*qs.QRFlags))
	}
	if qs.QDCount != nil {
		enc.WriteInt(int64(s.Signature.QueryQDCount))
		enc.WriteUint(uint64(*qs.QDCount))
	}
	if qs.QueryClassType != nil {
		enc.WriteInt(int64(s.Signature.QueryClassTypeIndex))
		enc.WriteUint(*qs.QueryClassType)
	}
	if qs.QueryRcode != nil {
		enc.WriteInt(int64(s.Signature.QueryRcode))
		enc.WriteUint(uint64(*qs.QueryRcode))
	}
	if qs.QueryOpcode != nil {
		enc.WriteInt(int64(s.Signature.QueryOpcode))
		enc.WriteUint(uint64(*qs.QueryOpcode))
	}
	if qs.QueryANCount != nil {
		enc.WriteInt(int64(s.Signature.QueryANCount))
		enc.WriteUint(uint64(*qs.QueryANCount))
	}
	if qs.QueryARCount != nil {
		enc.WriteInt(int64(s.Signature.QueryARCount))
		enc.WriteUint(uint64(*qs.QueryARCount))
	}
	if qs.QueryNSCount != nil {
		enc.WriteInt(int64(s.Signature.QueryNSCount))
		enc.WriteUint(uint64(*qs.QueryNSCount))
	}
	if qs.QueryEDNSVersion != nil {
		enc.WriteInt(int64(s.Signature.QueryEDNSVersion))
		enc.WriteUint(uint64(*qs.QueryEDNSVersion))
	}
	if qs.QueryEDNSPayloadSize != nil {
		enc.WriteInt(int64(s.Signature.QueryUDPSize))
		enc.WriteUint(uint64(*qs.QueryEDNSPayloadSize))
	}
	if qs.QueryOptRData != nil {
		enc.WriteInt(int64(s.Signature.QueryOptRDataIndex))
		enc.WriteUint(*qs.QueryOptRData)
	}
	if qs.ResponseRcode != nil {
		enc.WriteInt(int64(s.Signature.ResponseRcode))
		enc.WriteUint(uint64(*qs.ResponseRcode))
	}
}

// QueryResponseExtraInfo indexes the interned question and record lists of
// one side of a transaction.
type QueryResponseExtraInfo struct {
	QuestionsList  *uint64
	AnswersList    *uint64
	AuthorityList  *uint64
	AdditionalList *uint64
}

func (ei *QueryResponseExtraInfo) writeCbor(enc *cbor.Encoder, s *Schema, id int) {
	enc.WriteInt(int64(id))
	enc.WriteIndefMapHeader()
	if ei.QuestionsList != nil {
		enc.WriteInt(int64(s.Extended.QuestionIndex))
		enc.WriteUint(*ei.QuestionsList)
	}
	if ei.AnswersList != nil {
		enc.WriteInt(int64(s.Extended.AnswerIndex))
		enc.WriteUint(*ei.AnswersList)
	}
	if ei.AuthorityList != nil {
		enc.WriteInt(int64(s.Extended.AuthorityIndex))
		enc.WriteUint(*ei.AuthorityList)
	}
	if ei.AdditionalList != nil {
		enc.WriteInt(int64(s.Extended.AdditionalIndex))
		enc.WriteUint(*ei.AdditionalList)
	}
	enc.WriteBreak()
}

// QueryResponseItem is one transaction record. Index fields refer into the
// tables of the containing block.
type QueryResponseItem struct {
	// QRFlags mirrors the signature flag bits; the writer keeps it on the
	// item while assembling a record.
	QRFlags uint16

	Tstamp        *time.Time
	ClientAddress *uint64
	ClientPort    *uint16
	TransactionID *uint16
	Signature     *uint64
	HopLimit      *uint8
	ResponseDelay *time.Duration
	QName         *uint64
	QuerySize     *uint32
	ResponseSize  *uint32

	QueryExtraInfo    *QueryResponseExtraInfo
	ResponseExtraInfo *QueryResponseExtraInfo
}

// Clear resets the item for reuse as in-progress scratch state.
func (item *QueryResponseItem) Clear() {
	*item = QueryResponseItem{}
}

func (item *QueryResponseItem) writeCbor(enc *cbor.Encoder, s *Schema, earliest time.Time, ticksPerSecond uint64) {
	enc.WriteIndefMapHeader()
	if item.Tstamp != nil {
		enc.WriteInt(int64(s.Item.TimeOffset))
		enc.WriteInt(durationTicks(item.Tstamp.Sub(earliest), ticksPerSecond))
	}
	if item.ClientAddress != nil {
		enc.WriteInt(int64(s.Item.ClientAddressIndex))
		enc.WriteUint(*item.ClientAddress)
	}
	if item.ClientPort != nil {
		enc.WriteInt(int64(s.Item.ClientPort))
		enc.WriteUint(uint64(*item.ClientPort))
	}
	if item.TransactionID != nil {
		enc.WriteInt(int64(s.Item.TransactionID))
		enc.WriteUint(uint64(*item.TransactionID))
	}
	if item.Signature != nil {
		enc.WriteInt(int64(s.Item.QRSignatureIndex))
		enc.WriteUint(*item.Signature)
	}
	if item.HopLimit != nil {
		enc.WriteInt(int64(s.Item.ClientHopLimit))
		enc.WriteUint(uint64(*item.HopLimit))
	}
	if item.ResponseDelay != nil {
		enc.WriteInt(int64(s.Item.ResponseDelay))
		enc.WriteInt(durationTicks(*item.ResponseDelay, ticksPerSecond))
	}
	if item.QName != nil {
		enc.WriteInt(int64(s.Item.QueryNameIndex))
		enc.WriteUint(*item.QName)
	}
	if item.QuerySize != nil {
		enc.WriteInt(int64(s.Item.QuerySize))
		enc.WriteUint(uint64(*item.QuerySize))
	}
	if item.ResponseSize != nil {
		enc.WriteInt(int64(s.Item.ResponseSize))
		enc.WriteUint(uint64(*item.ResponseSize))
	}
	if item.QueryExtraInfo != nil {
		item.QueryExtraInfo.writeCbor(enc, s, s.Item.QueryExtended)
	}
	if item.ResponseExtraInfo != nil {
		item.ResponseExtraInfo.writeCbor(enc, s, s.Item.ResponseExtended)
	}
	enc.WriteBreak()
}
