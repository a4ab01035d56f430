package domain

// PacketStatistics is the running set of collection counters. The collector
// owns a single cumulative instance and passes snapshots to the writer; the
// writer stores per-block start and end snapshots so each block records a
// windowed delta.
type PacketStatistics struct {
	RawPacketCount             uint64
	UnhandledPacketCount       uint64
	ProcessedMessageCount      uint64
	QRPairCount                uint64
	QueryWithoutResponseCount  uint64
	ResponseWithoutQueryCount  uint64
	MalformedMessageCount      uint64
	DiscardedOpcodeCount       uint64
	OutOfOrderPacketCount      uint64
	SnifferDropCount           uint64
	MatcherDropCount           uint64
	DiscardedSamplingCount     uint64
	OutputCborDropCount        uint64
	OutputRawPcapDropCount     uint64
	OutputIgnoredPcapDropCount uint64
	PcapRecvCount              uint64
	PcapIfdropCount            uint64
	PcapDropCount              uint64
}
