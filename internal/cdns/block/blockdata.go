package block

import (
	"sort"
	"time"

	"github.com/haukened/cdns/internal/cdns/cbor"
	"github.com/haukened/cdns/internal/cdns/domain"
)

// addressEventKey identifies one distinct address event within a block.
type addressEventKey struct {
	Type           domain.AddressEventType
	Code           uint
	AddressIndex   uint64
	TransportFlags uint16
}

// BlockData aggregates one block: the intern tables, the ordered list of
// transaction records, the address event multiset, per-block statistics and
// time bounds. It is created empty, mutated by the writer on the ingestion
// thread, and consumed (serialized then cleared) on flush.
type BlockData struct {
	EarliestTime time.Time
	StartTime    *time.Time
	EndTime      *time.Time

	StartPacketStatistics domain.PacketStatistics
	LastPacketStatistics  domain.PacketStatistics

	QueryResponseItems []QueryResponseItem

	addresses       *InternTable[[]byte]
	classTypes      *InternTable[ClassType]
	namesRDatas     *InternTable[[]byte]
	signatures      *InternTable[QueryResponseSignature]
	questionsLists  *InternTable[[]uint64]
	questions       *InternTable[Question]
	rrsLists        *InternTable[[]uint64]
	resourceRecords *InternTable[ResourceRecord]

	addressEventCounts map[addressEventKey]uint64

	params      []BlockParameters
	paramsIndex int
	schema      *Schema
}

// NewBlockData returns an empty block governed by params[paramsIndex] and
// serialized with the given schema.
func NewBlockData(params []BlockParameters, paramsIndex int, schema *Schema) *BlockData {
	return &BlockData{
		addresses:          NewInternTable[[]byte](bytesKey),
		classTypes:         NewInternTable[ClassType](ClassType.key),
		namesRDatas:        NewInternTable[[]byte](bytesKey),
		signatures:         NewInternTable[QueryResponseSignature](QueryResponseSignature.key),
		questionsLists:     NewInternTable[[]uint64](indexListKey),
		questions:          NewInternTable[Question](Question.key),
		rrsLists:           NewInternTable[[]uint64](indexListKey),
		resourceRecords:    NewInternTable[ResourceRecord](ResourceRecord.key),
		addressEventCounts: make(map[addressEventKey]uint64),
		params:             params,
		paramsIndex:        paramsIndex,
		schema:             schema,
	}
}

// Parameters returns the block parameters governing this block.
func (d *BlockData) Parameters() BlockParameters {
	return d.params[d.paramsIndex]
}

// AddAddress interns a masked address and returns its index.
func (d *BlockData) AddAddress(address []byte) uint64 {
	return d.addresses.Add(address)
}

// AddClassType interns a (type, class) pair and returns its index.
func (d *BlockData) AddClassType(ct ClassType) uint64 {
	return d.classTypes.Add(ct)
}

// AddNameRData interns a name or RDATA byte string and returns its index.
// Names and RDATA share a single pool keyed by raw bytes.
func (d *BlockData) AddNameRData(b []byte) uint64 {
	return d.namesRDatas.Add(b)
}

// AddQuestion interns a question and returns its index. The question's name
// and classtype must already be interned.
func (d *BlockData) AddQuestion(q Question) uint64 {
	return d.questions.Add(q)
}

// AddResourceRecord interns a resource record and returns its index. The
// record's name, classtype and rdata must already be interned.
func (d *BlockData) AddResourceRecord(rr ResourceRecord) uint64 {
	return d.resourceRecords.Add(rr)
}

// AddQuestionsList interns a list of question indices and returns its index.
func (d *BlockData) AddQuestionsList(l []uint64) uint64 {
	return d.questionsLists.Add(l)
}

// AddRRsList interns a list of resource record indices and returns its index.
func (d *BlockData) AddRRsList(l []uint64) uint64 {
	return d.rrsLists.Add(l)
}

// AddQueryResponseSignature interns a signature and returns its index.
func (d *BlockData) AddQueryResponseSignature(qs QueryResponseSignature) uint64 {
	return d.signatures.Add(qs)
}

// CountAddressEvent increments the count of an address event. The address
// is interned into the block address table. When the collector supplies no
// transport flags, the IP version bit is recorded.
func (d *BlockData) CountAddressEvent(t domain.AddressEventType, code uint, address []byte, ipv6 bool, transportFlags *uint16) {
	key := addressEventKey{
		Type:         t,
		Code:         code,
		AddressIndex: d.AddAddress(address),
	}
	if transportFlags != nil {
		key.TransportFlags = *transportFlags
	} else if ipv6 {
		key.TransportFlags = domain.TransportFlagIPv6
	}
	d.addressEventCounts[key]++
}

// IsEmpty reports whether the block holds no records and no address
// events. The writer skips such a block at close unless it has taken a
// statistics snapshot, so a file closed immediately after opening contains
// zero blocks.
func (d *BlockData) IsEmpty() bool {
	return len(d.QueryResponseItems) == 0 && len(d.addressEventCounts) == 0
}

// IsFull reports whether the block has reached its item capacity.
func (d *BlockData) IsFull() bool {
	return uint(len(d.QueryResponseItems)) >= d.Parameters().Storage.MaxBlockItems
}

// Clear drops all tables, items and events, and resets the time bounds.
// The block parameters and schema are retained.
func (d *BlockData) Clear() {
	d.EarliestTime = time.Time{}
	d.StartTime = nil
	d.EndTime = nil
	d.QueryResponseItems = nil
	d.addresses.Clear()
	d.classTypes.Clear()
	d.namesRDatas.Clear()
	d.signatures.Clear()
	d.questionsLists.Clear()
	d.questions.Clear()
	d.rrsLists.Clear()
	d.resourceRecords.Clear()
	d.addressEventCounts = make(map[addressEventKey]uint64)
}

// WriteCbor serializes the block as a single CBOR map.
func (d *BlockData) WriteCbor(enc *cbor.Encoder) {
	s := d.schema
	ticks := d.Parameters().Storage.TicksPerSecond

	enc.WriteIndefMapHeader()

	// Block preamble.
	enc.WriteInt(int64(s.Block.Preamble))
	d.writePreamble(enc, ticks)

	// Statistics.
	enc.WriteInt(int64(s.Block.Statistics))
	d.writeStats(enc)

	// Tables.
	enc.WriteInt(int64(s.Block.Tables))
	d.writeTables(enc)

	d.writeItems(enc, ticks)
	d.writeAddressEventCounts(enc)

	enc.WriteBreak()
}

func (d *BlockData) writePreamble(enc *cbor.Encoder, ticksPerSecond uint64) {
	s := d.schema

	// A live capture fed old data can have a start time later than the
	// earliest record; the start time is dropped in that case.
	writeStart := d.StartTime != nil && !d.StartTime.After(d.EarliestTime)

	n := 1
	if d.EndTime != nil {
		n++
	}
	if writeStart {
		n++
	}
	if d.paramsIndex > 0 {
		n++
	}
	enc.WriteMapHeader(n)

	enc.WriteInt(int64(s.Preamble.EarliestTime))
	NewTimestamp(d.EarliestTime, ticksPerSecond).writeCbor(enc)
	if d.EndTime != nil {
		enc.WriteInt(int64(s.Preamble.EndTime))
		NewTimestamp(*d.EndTime, ticksPerSecond).writeCbor(enc)
	}
	if writeStart {
		enc.WriteInt(int64(s.Preamble.StartTime))
		NewTimestamp(*d.StartTime, ticksPerSecond).writeCbor(enc)
	}
	if d.paramsIndex > 0 {
		enc.WriteInt(int64(s.Preamble.BlockParametersIndex))
		enc.WriteUint(uint64(d.paramsIndex))
	}
}

func (d *BlockData) writeStats(enc *cbor.Encoder) {
	s := d.schema
	last, start := &d.LastPacketStatistics, &d.StartPacketStatistics

	delta := func(index int, last, start uint64) {
		enc.WriteInt(int64(index))
		enc.WriteUint(last - start)
	}

	enc.WriteIndefMapHeader()
	delta(s.Statistics.ProcessedMessages, last.ProcessedMessageCount, start.ProcessedMessageCount)
	delta(s.Statistics.QRDataItems, last.QRPairCount, start.QRPairCount)
	delta(s.Statistics.UnmatchedQueries, last.QueryWithoutResponseCount, start.QueryWithoutResponseCount)
	delta(s.Statistics.UnmatchedResponses, last.ResponseWithoutQueryCount, start.ResponseWithoutQueryCount)
	delta(s.Statistics.DiscardedOpcode, last.DiscardedOpcodeCount, start.DiscardedOpcodeCount)
	delta(s.Statistics.MalformedItems, last.MalformedMessageCount, start.MalformedMessageCount)
	delta(s.Statistics.NonDNSPackets, last.UnhandledPacketCount, start.UnhandledPacketCount)
	delta(s.Statistics.OutOfOrderPackets, last.OutOfOrderPacketCount, start.OutOfOrderPacketCount)
	delta(s.Statistics.MissingPairs, last.OutputCborDropCount, start.OutputCborDropCount)
	delta(s.Statistics.MissingPackets, last.OutputRawPcapDropCount, start.OutputRawPcapDropCount)
	delta(s.Statistics.MissingNonDNS, last.OutputIgnoredPcapDropCount, start.OutputIgnoredPcapDropCount)
	delta(s.Statistics.Packets, last.RawPacketCount, start.RawPacketCount)
	delta(s.Statistics.MissingReceived, last.SnifferDropCount, start.SnifferDropCount)
	delta(s.Statistics.DiscardedPackets, last.DiscardedSamplingCount, start.DiscardedSamplingCount)
	delta(s.Statistics.MissingMatcher, last.MatcherDropCount, start.MatcherDropCount)
	delta(s.Statistics.PcapPackets, last.PcapRecvCount, start.PcapRecvCount)
	delta(s.Statistics.PcapMissingIf, last.PcapIfdropCount, start.PcapIfdropCount)
	delta(s.Statistics.PcapMissingOS, last.PcapDropCount, start.PcapDropCount)
	enc.WriteBreak()
}

func (d *BlockData) writeTables(enc *cbor.Encoder) {
	s := d.schema

	enc.WriteIndefMapHeader()
	if d.addresses.Len() > 0 {
		enc.WriteInt(int64(s.Tables.IPAddress))
		enc.WriteArrayHeader(d.addresses.Len())
		for _, a := range d.addresses.Items() {
			enc.WriteBytes(a)
		}
	}
	if d.classTypes.Len() > 0 {
		enc.WriteInt(int64(s.Tables.ClassType))
		enc.WriteArrayHeader(d.classTypes.Len())
		for _, ct := range d.classTypes.Items() {
			ct.writeCbor(enc, s)
		}
	}
	if d.namesRDatas.Len() > 0 {
		enc.WriteInt(int64(s.Tables.NameRData))
		enc.WriteArrayHeader(d.namesRDatas.Len())
		for _, b := range d.namesRDatas.Items() {
			enc.WriteBytes(b)
		}
	}
	if d.signatures.Len() > 0 {
		enc.WriteInt(int64(s.Tables.QueryResponseSignature))
		enc.WriteArrayHeader(d.signatures.Len())
		for _, qs := range d.signatures.Items() {
			qs.writeCbor(enc, s)
		}
	}
	if d.questionsLists.Len() > 0 {
		enc.WriteInt(int64(s.Tables.QuestionList))
		enc.WriteArrayHeader(d.questionsLists.Len())
		for _, l := range d.questionsLists.Items() {
			writeIndexList(enc, l)
		}
	}
	if d.questions.Len() > 0 {
		enc.WriteInt(int64(s.Tables.QuestionRR))
		enc.WriteArrayHeader(d.questions.Len())
		for _, q := range d.questions.Items() {
			q.writeCbor(enc, s)
		}
	}
	if d.rrsLists.Len() > 0 {
		enc.WriteInt(int64(s.Tables.RRList))
		enc.WriteArrayHeader(d.rrsLists.Len())
		for _, l := range d.rrsLists.Items() {
			writeIndexList(enc, l)
		}
	}
	if d.resourceRecords.Len() > 0 {
		enc.WriteInt(int64(s.Tables.RR))
		enc.WriteArrayHeader(d.resourceRecords.Len())
		for _, rr := range d.resourceRecords.Items() {
			rr.writeCbor(enc, s)
		}
	}
	enc.WriteBreak()
}

func writeIndexList(enc *cbor.Encoder, l []uint64) {
	enc.WriteArrayHeader(len(l))
	for _, v := range l {
		enc.WriteUint(v)
	}
}

func (d *BlockData) writeItems(enc *cbor.Encoder, ticksPerSecond uint64) {
	if len(d.QueryResponseItems) == 0 {
		return
	}
	enc.WriteInt(int64(d.schema.Block.Queries))
	enc.WriteArrayHeader(len(d.QueryResponseItems))
	for i := range d.QueryResponseItems {
		d.QueryResponseItems[i].writeCbor(enc, d.schema, d.EarliestTime, ticksPerSecond)
	}
}

func (d *BlockData) writeAddressEventCounts(enc *cbor.Encoder) {
	if len(d.addressEventCounts) == 0 {
		return
	}
	s := d.schema

	// Serialize in key order so output is deterministic.
	keys := make([]addressEventKey, 0, len(d.addressEventCounts))
	for k := range d.addressEventCounts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.Code != b.Code {
			return a.Code < b.Code
		}
		if a.AddressIndex != b.AddressIndex {
			return a.AddressIndex < b.AddressIndex
		}
		return a.TransportFlags < b.TransportFlags
	})

	enc.WriteInt(int64(s.Block.AddressEventCounts))
	enc.WriteArrayHeader(len(keys))
	for _, k := range keys {
		enc.WriteIndefMapHeader()
		enc.WriteInt(int64(s.AddressEvent.Type))
		enc.WriteUint(uint64(k.Type))
		enc.WriteInt(int64(s.AddressEvent.Code))
		enc.WriteUint(uint64(k.Code))
		enc.WriteInt(int64(s.AddressEvent.AddressIndex))
		enc.WriteUint(k.AddressIndex)
		enc.WriteInt(int64(s.AddressEvent.TransportFlags))
		enc.WriteUint(uint64(k.TransportFlags))
		enc.WriteInt(int64(s.AddressEvent.Count))
		enc.WriteUint(d.addressEventCounts[k])
		enc.WriteBreak()
	}
}
