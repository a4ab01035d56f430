package block

import (
	"net"
	"time"

	"github.com/haukened/cdns/internal/cdns/cbor"
)

const nsPerSec = int64(time.Second)

// Default storage parameter values. A prefix length equal to the default is
// not written to the file.
const (
	DefaultTicksPerSecond   = 1000000000
	DefaultMaxBlockItems    = 5000
	DefaultIPv4PrefixLength = 32
	DefaultIPv6PrefixLength = 128
)

// Query/response storage hint bits. A cleared bit tells readers the
// corresponding item field was excluded at capture time.
const (
	QRHintTimeOffset         uint32 = 1 << 0
	QRHintClientAddressIndex uint32 = 1 << 1
	QRHintClientPort         uint32 = 1 << 2
	QRHintTransactionID      uint32 = 1 << 3
	QRHintQRSignatureIndex   uint32 = 1 << 4
	QRHintClientHopLimit     uint32 = 1 << 5
	QRHintResponseDelay      uint32 = 1 << 6
	QRHintQueryNameIndex     uint32 = 1 << 7
	QRHintQuerySize          uint32 = 1 << 8
	QRHintResponseSize       uint32 = 1 << 9
	QRHintQueryQuestions     uint32 = 1 << 11
	QRHintQueryAnswers       uint32 = 1 << 12
	QRHintQueryAuthority     uint32 = 1 << 13
	QRHintQueryAdditional    uint32 = 1 << 14
	QRHintResponseAnswers    uint32 = 1 << 15
	QRHintResponseAuthority  uint32 = 1 << 16
	QRHintResponseAdditional uint32 = 1 << 17
)

// Query/response signature storage hint bits.
const (
	SigHintServerAddress   uint32 = 1 << 0
	SigHintServerPort      uint32 = 1 << 1
	SigHintTransportFlags  uint32 = 1 << 2
	SigHintQRType          uint32 = 1 << 3
	SigHintSigFlags        uint32 = 1 << 4
	SigHintQueryOpcode     uint32 = 1 << 5
	SigHintDNSFlags        uint32 = 1 << 6
	SigHintQueryRcode      uint32 = 1 << 7
	SigHintQueryClassType  uint32 = 1 << 8
	SigHintQueryQDCount    uint32 = 1 << 9
	SigHintQueryANCount    uint32 = 1 << 10
	SigHintQueryNSCount    uint32 = 1 << 11
	SigHintQueryARCount    uint32 = 1 << 12
	SigHintEDNSVersion     uint32 = 1 << 13
	SigHintUDPSize         uint32 = 1 << 14
	SigHintOptRData        uint32 = 1 << 15
	SigHintResponseRcode   uint32 = 1 << 16
)

// Resource record storage hint bits.
const (
	RRHintTTL        uint8 = 1 << 0
	RRHintRDataIndex uint8 = 1 << 1
)

// Other data storage hint bits.
const (
	OtherHintMalformedMessages  uint8 = 1 << 0
	OtherHintAddressEventCounts uint8 = 1 << 1
)

// Timestamp is a file timestamp: seconds since the epoch plus sub-second
// ticks at the block's tick rate.
type Timestamp struct {
	Secs  int64
	Ticks int64
}

// NewTimestamp converts t to a Timestamp at the given tick rate.
func NewTimestamp(t time.Time, ticksPerSecond uint64) Timestamp {
	ns := int64(t.Nanosecond())
	return Timestamp{
		Secs:  t.Unix(),
		Ticks: ns * int64(ticksPerSecond) / nsPerSec,
	}
}

func (ts Timestamp) writeCbor(enc *cbor.Encoder) {
	enc.WriteArrayHeader(2)
	enc.WriteInt(ts.Secs)
	enc.WriteInt(ts.Ticks)
}

// durationTicks converts a duration to ticks at the given tick rate.
func durationTicks(d time.Duration, ticksPerSecond uint64) int64 {
	return d.Nanoseconds() * int64(ticksPerSecond) / nsPerSec
}

// StorageHints records which optional fields this capture stores.
type StorageHints struct {
	QueryResponseHints          uint32
	QueryResponseSignatureHints uint32
	RRHints                     uint8
	OtherDataHints              uint8
}

func (h StorageHints) writeCbor(enc *cbor.Encoder, s *Schema) {
	enc.WriteMapHeader(4)
	enc.WriteInt(int64(s.Hints.QueryResponseHints))
	enc.WriteUint(uint64(h.QueryResponseHints))
	enc.WriteInt(int64(s.Hints.QueryResponseSignatureHints))
	enc.WriteUint(uint64(h.QueryResponseSignatureHints))
	enc.WriteInt(int64(s.Hints.RRHints))
	enc.WriteUint(uint64(h.RRHints))
	enc.WriteInt(int64(s.Hints.OtherDataHints))
	enc.WriteUint(uint64(h.OtherDataHints))
}

// StorageParameters describes how data is stored in the file's blocks.
type StorageParameters struct {
	TicksPerSecond          uint64
	MaxBlockItems           uint
	Hints                   StorageHints
	Opcodes                 []uint8
	RRTypes                 []uint16
	StorageFlags            uint8
	ClientAddressPrefixIPv4 uint
	ClientAddressPrefixIPv6 uint
	ServerAddressPrefixIPv4 uint
	ServerAddressPrefixIPv6 uint
	SamplingMethod          string
	AnonymisationMethod     string
}

func (p StorageParameters) writeCbor(enc *cbor.Encoder, s *Schema) {
	enc.WriteIndefMapHeader()
	enc.WriteInt(int64(s.Storage.TicksPerSecond))
	enc.WriteUint(p.TicksPerSecond)
	enc.WriteInt(int64(s.Storage.MaxBlockItems))
	enc.WriteUint(uint64(p.MaxBlockItems))
	enc.WriteInt(int64(s.Storage.StorageHints))
	p.Hints.writeCbor(enc, s)
	enc.WriteInt(int64(s.Storage.Opcodes))
	enc.WriteArrayHeader(len(p.Opcodes))
	for _, op := range p.Opcodes {
		enc.WriteUint(uint64(op))
	}
	enc.WriteInt(int64(s.Storage.RRTypes))
	enc.WriteArrayHeader(len(p.RRTypes))
	for _, rt := range p.RRTypes {
		enc.WriteUint(uint64(rt))
	}
	if p.StorageFlags != 0 {
		enc.WriteInt(int64(s.Storage.StorageFlags))
		enc.WriteUint(uint64(p.StorageFlags))
	}
	if p.ClientAddressPrefixIPv4 != DefaultIPv4PrefixLength {
		enc.WriteInt(int64(s.Storage.ClientAddressPrefixIPv4))
		enc.WriteUint(uint64(p.ClientAddressPrefixIPv4))
	}
	if p.ClientAddressPrefixIPv6 != DefaultIPv6PrefixLength {
		enc.WriteInt(int64(s.Storage.ClientAddressPrefixIPv6))
		enc.WriteUint(uint64(p.ClientAddressPrefixIPv6))
	}
	if p.ServerAddressPrefixIPv4 != DefaultIPv4PrefixLength {
		enc.WriteInt(int64(s.Storage.ServerAddressPrefixIPv4))
		enc.WriteUint(uint64(p.ServerAddressPrefixIPv4))
	}
	if p.ServerAddressPrefixIPv6 != DefaultIPv6PrefixLength {
		enc.WriteInt(int64(s.Storage.ServerAddressPrefixIPv6))
		enc.WriteUint(uint64(p.ServerAddressPrefixIPv6))
	}
	if p.SamplingMethod != "" {
		enc.WriteInt(int64(s.Storage.SamplingMethod))
		enc.WriteText(p.SamplingMethod)
	}
	if p.AnonymisationMethod != "" {
		enc.WriteInt(int64(s.Storage.AnonymisationMethod))
		enc.WriteText(p.AnonymisationMethod)
	}
	enc.WriteBreak()
}

// CollectionParameters describes the collection environment that produced
// the capture.
type CollectionParameters struct {
	QueryTimeout    time.Duration
	SkewTimeout     time.Duration
	Snaplen         uint
	DNSPort         uint
	Promisc         bool
	Interfaces      []string
	ServerAddresses []net.IP
	VLANIDs         []uint
	Filter          string
	GeneratorID     string
	HostID          string
}

func (p CollectionParameters) writeCbor(enc *cbor.Encoder, s *Schema) {
	enc.WriteIndefMapHeader()
	enc.WriteInt(int64(s.Collection.QueryTimeout))
	enc.WriteInt(p.QueryTimeout.Milliseconds())
	enc.WriteInt(int64(s.Collection.SkewTimeout))
	enc.WriteInt(p.SkewTimeout.Microseconds())
	enc.WriteInt(int64(s.Collection.Snaplen))
	enc.WriteUint(uint64(p.Snaplen))
	enc.WriteInt(int64(s.Collection.DNSPort))
	enc.WriteUint(uint64(p.DNSPort))
	enc.WriteInt(int64(s.Collection.Promisc))
	enc.WriteBool(p.Promisc)
	if len(p.Interfaces) > 0 {
		enc.WriteInt(int64(s.Collection.Interfaces))
		enc.WriteArrayHeader(len(p.Interfaces))
		for _, ifc := range p.Interfaces {
			enc.WriteText(ifc)
		}
	}
	if len(p.ServerAddresses) > 0 {
		enc.WriteInt(int64(s.Collection.ServerAddresses))
		enc.WriteArrayHeader(len(p.ServerAddresses))
		for _, addr := range p.ServerAddresses {
			if v4 := addr.To4(); v4 != nil {
				enc.WriteBytes(v4)
			} else {
				enc.WriteBytes(addr.To16())
			}
		}
	}
	if len(p.VLANIDs) > 0 {
		enc.WriteInt(int64(s.Collection.VLANIDs))
		enc.WriteArrayHeader(len(p.VLANIDs))
		for _, id := range p.VLANIDs {
			enc.WriteUint(uint64(id))
		}
	}
	if p.Filter != "" {
		enc.WriteInt(int64(s.Collection.Filter))
		enc.WriteText(p.Filter)
	}
	if p.GeneratorID != "" {
		enc.WriteInt(int64(s.Collection.GeneratorID))
		enc.WriteText(p.GeneratorID)
	}
	if p.HostID != "" {
		enc.WriteInt(int64(s.Collection.HostID))
		enc.WriteText(p.HostID)
	}
	enc.WriteBreak()
}

// BlockParameters ties storage and collection parameters together. The file
// preamble carries an array of these. A block preamble names the entry it
// was written under only when that is not entry 0; for entry 0 the index is
// omitted.
type BlockParameters struct {
	Storage    StorageParameters
	Collection CollectionParameters
}

// WriteCbor emits the block parameters map.
func (p BlockParameters) WriteCbor(enc *cbor.Encoder, s *Schema) {
	enc.WriteMapHeader(2)
	enc.WriteInt(int64(s.BlockParams.StorageParameters))
	p.Storage.writeCbor(enc, s)
	enc.WriteInt(int64(s.BlockParams.CollectionParameters))
	p.Collection.writeCbor(enc, s)
}
