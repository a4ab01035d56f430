package writer

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	fxcbor "github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/cdns/internal/cdns/block"
	"github.com/haukened/cdns/internal/cdns/common/clock"
	"github.com/haukened/cdns/internal/cdns/config"
	"github.com/haukened/cdns/internal/cdns/domain"
)

func testConfig(t *testing.T) *config.Configuration {
	t.Helper()
	cfg := config.DEFAULT_CONFIGURATION
	cfg.OutputPattern = filepath.Join(t.TempDir(), "cap-%Y%m%d-%H%M%S")
	cfg.RotationPeriod = 300
	return &cfg
}

// wireName converts a dotted name to uncompressed wire format.
func wireName(name string) []byte {
	var out []byte
	start := 0
	for i := 0; i <= len(name); i++ {
		if i == len(name) || name[i] == '.' {
			out = append(out, byte(i-start))
			out = append(out, name[start:i]...)
			start = i + 1
		}
	}
	return append(out, 0)
}

func u16(v uint16) *uint16 { return &v }
func u32(v uint32) *uint32 { return &v }

func makeQuery(ts time.Time, clientIP, serverIP string, qname string) *domain.DNSMessage {
	return &domain.DNSMessage{
		Timestamp:     ts,
		ClientIP:      net.ParseIP(clientIP),
		ServerIP:      net.ParseIP(serverIP),
		ClientPort:    u16(40000),
		ServerPort:    u16(53),
		Transport:     domain.TransportUDP,
		TransactionID: 0x1234,
		Flags:         domain.HeaderFlags{RD: true},
		QDCount:       1,
		Questions: []domain.Question{
			{Name: wireName(qname), Type: 1, Class: 1},
		},
		WireSize: u32(29),
	}
}

func makeResponse(q *domain.DNSMessage, delay time.Duration) *domain.DNSMessage {
	r := *q
	r.Timestamp = q.Timestamp.Add(delay)
	r.Flags = domain.HeaderFlags{QR: true, RA: true}
	r.ANCount = 1
	r.WireSize = u32(45)
	return &r
}

func queryOnly(q *domain.DNSMessage) *domain.QueryResponse {
	return &domain.QueryResponse{Query: q}
}

func ingest(t *testing.T, w *BlockCborWriter, qr *domain.QueryResponse, stats domain.PacketStatistics) {
	t.Helper()
	ts := qr.Message().Timestamp
	require.NoError(t, w.CheckForRotation(ts))
	require.NoError(t, w.StartRecord(qr))
	require.NoError(t, w.WriteBasic(qr, stats))
	require.NoError(t, w.EndRecord(qr))
}

// decodeFile reads and decodes a finished capture file. It returns the
// preamble map and the list of decoded blocks.
func decodeFile(t *testing.T, name string) (map[any]any, []any) {
	t.Helper()
	data, err := os.ReadFile(name)
	require.NoError(t, err)

	var doc []any
	require.NoError(t, fxcbor.Unmarshal(data, &doc))
	require.Len(t, doc, 3)
	assert.Equal(t, "C-DNS", doc[0])

	preamble, ok := doc[1].(map[any]any)
	require.True(t, ok)
	blocks, ok := doc[2].([]any)
	require.True(t, ok)
	return preamble, blocks
}

func field(m map[any]any, key int) any {
	if key < 0 {
		return m[int64(key)]
	}
	return m[uint64(key)]
}

func asMap(t *testing.T, v any) map[any]any {
	t.Helper()
	m, ok := v.(map[any]any)
	require.True(t, ok, "expected map, got %T", v)
	return m
}

func asList(t *testing.T, v any) []any {
	t.Helper()
	l, ok := v.([]any)
	require.True(t, ok, "expected array, got %T", v)
	return l
}

func mustSchema(t *testing.T) *block.Schema {
	t.Helper()
	s, err := block.NewSchema(block.Format10)
	require.NoError(t, err)
	return s
}

func blockItems(t *testing.T, s *block.Schema, blk any) []any {
	t.Helper()
	return asList(t, field(asMap(t, blk), s.Block.Queries))
}

func blockTables(t *testing.T, s *block.Schema, blk any) map[any]any {
	t.Helper()
	return asMap(t, field(asMap(t, blk), s.Block.Tables))
}

func blockPreamble(t *testing.T, s *block.Schema, blk any) map[any]any {
	t.Helper()
	return asMap(t, field(asMap(t, blk), s.Block.Preamble))
}

func tsSecs(t *testing.T, v any) uint64 {
	t.Helper()
	l := asList(t, v)
	require.Len(t, l, 2)
	return l[0].(uint64)
}

func TestEmptyFile(t *testing.T) {
	cfg := testConfig(t)
	w, err := New(cfg, clock.RealClock{}, false)
	require.NoError(t, err)

	ts := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	require.NoError(t, w.CheckForRotation(ts))
	name := w.Filename()
	require.NoError(t, w.Close())

	data, err := os.ReadFile(name)
	require.NoError(t, err)

	// The file-blocks array of an empty file is exactly 0x9f 0xff.
	require.GreaterOrEqual(t, len(data), 2)
	assert.Equal(t, []byte{0x9f, 0xff}, data[len(data)-2:])

	preamble, blocks := decodeFile(t, name)
	assert.Empty(t, blocks)

	s := mustSchema(t)
	assert.Equal(t, uint64(1), field(preamble, s.FilePreamble.MajorFormatVersion))
	assert.Equal(t, uint64(0), field(preamble, s.FilePreamble.MinorFormatVersion))
	params := asList(t, field(preamble, s.FilePreamble.BlockParameters))
	assert.Len(t, params, 1)
}

func TestSingleQueryOnlyRecord(t *testing.T) {
	cfg := testConfig(t)
	w, err := New(cfg, clock.RealClock{}, false)
	require.NoError(t, err)

	ts := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	q := makeQuery(ts, "198.51.100.5", "192.0.2.1", "example.com")
	ingest(t, w, queryOnly(q), domain.PacketStatistics{ProcessedMessageCount: 1})
	name := w.Filename()
	require.NoError(t, w.Close())

	s := mustSchema(t)
	_, blocks := decodeFile(t, name)
	require.Len(t, blocks, 1)

	items := blockItems(t, s, blocks[0])
	require.Len(t, items, 1)

	tables := blockTables(t, s, blocks[0])
	addrs := asList(t, field(tables, s.Tables.IPAddress))
	// Client and server addresses at the default /32 prefix.
	require.Len(t, addrs, 2)
	assert.Contains(t, addrs, []byte{198, 51, 100, 5})
	assert.Contains(t, addrs, []byte{192, 0, 2, 1})

	names := asList(t, field(tables, s.Tables.NameRData))
	require.Len(t, names, 1)
	assert.Equal(t, wireName("example.com"), names[0])

	sigs := asList(t, field(tables, s.Tables.QueryResponseSignature))
	require.Len(t, sigs, 1)
	sig := asMap(t, sigs[0])
	flags := field(sig, s.Signature.QRSigFlags).(uint64)
	assert.Equal(t, uint64(domain.QRFlagHasQuery), flags)
	assert.Equal(t, uint64(1), field(sig, s.Signature.QueryQDCount))
}

func TestMatchedPairAndSignatureSharing(t *testing.T) {
	cfg := testConfig(t)
	w, err := New(cfg, clock.RealClock{}, false)
	require.NoError(t, err)

	ts := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	s := mustSchema(t)

	for i := 0; i < 2; i++ {
		q := makeQuery(ts.Add(time.Duration(i)*time.Second), "198.51.100.5", "192.0.2.1", "example.com")
		r := makeResponse(q, 5*time.Millisecond)
		ingest(t, w, &domain.QueryResponse{Query: q, Response: r}, domain.PacketStatistics{})
	}
	name := w.Filename()
	require.NoError(t, w.Close())

	_, blocks := decodeFile(t, name)
	require.Len(t, blocks, 1)

	items := blockItems(t, s, blocks[0])
	require.Len(t, items, 2)

	first := asMap(t, items[0])
	assert.Equal(t, uint64(5_000_000), field(first, s.Item.ResponseDelay))

	// Identical transactions share one deduplicated signature.
	sigs := asList(t, field(blockTables(t, s, blocks[0]), s.Tables.QueryResponseSignature))
	require.Len(t, sigs, 1)
	sig := asMap(t, sigs[0])
	flags := field(sig, s.Signature.QRSigFlags).(uint64)
	assert.Equal(t, uint64(domain.QRFlagHasQuery|domain.QRFlagHasResponse), flags)

	sigIdx0 := field(first, s.Item.QRSignatureIndex)
	sigIdx1 := field(asMap(t, items[1]), s.Item.QRSignatureIndex)
	assert.Equal(t, sigIdx0, sigIdx1)
}

func TestBlockRotationByFullness(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxBlockItems = 2
	w, err := New(cfg, clock.RealClock{}, false)
	require.NoError(t, err)

	base := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	times := make([]time.Time, 5)
	for i := range times {
		times[i] = base.Add(time.Duration(i) * time.Second)
		q := makeQuery(times[i], "198.51.100.5", "192.0.2.1", "example.com")
		ingest(t, w, queryOnly(q), domain.PacketStatistics{})
	}
	name := w.Filename()
	require.NoError(t, w.Close())

	s := mustSchema(t)
	_, blocks := decodeFile(t, name)
	require.Len(t, blocks, 3)

	assert.Len(t, blockItems(t, s, blocks[0]), 2)
	assert.Len(t, blockItems(t, s, blocks[1]), 2)
	assert.Len(t, blockItems(t, s, blocks[2]), 1)

	// Block 1 ends at T3, block 2 spans T3..T5, block 3 starts at T5.
	p1 := blockPreamble(t, s, blocks[0])
	assert.Equal(t, uint64(times[2].Unix()), tsSecs(t, field(p1, s.Preamble.EndTime)))

	p2 := blockPreamble(t, s, blocks[1])
	assert.Equal(t, uint64(times[2].Unix()), tsSecs(t, field(p2, s.Preamble.StartTime)))
	assert.Equal(t, uint64(times[4].Unix()), tsSecs(t, field(p2, s.Preamble.EndTime)))

	p3 := blockPreamble(t, s, blocks[2])
	assert.Equal(t, uint64(times[4].Unix()), tsSecs(t, field(p3, s.Preamble.StartTime)))
}

func TestStatisticsWindowing(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxBlockItems = 2
	w, err := New(cfg, clock.RealClock{}, false)
	require.NoError(t, err)

	base := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	for i := 1; i <= 4; i++ {
		q := makeQuery(base.Add(time.Duration(i)*time.Second), "198.51.100.5", "192.0.2.1", "example.com")
		ingest(t, w, queryOnly(q), domain.PacketStatistics{ProcessedMessageCount: uint64(i)})
	}
	name := w.Filename()
	require.NoError(t, w.Close())

	s := mustSchema(t)
	_, blocks := decodeFile(t, name)
	require.Len(t, blocks, 2)

	// Consecutive blocks window the cumulative counter: each block's delta
	// starts where the previous block ended.
	stats1 := asMap(t, field(asMap(t, blocks[0]), s.Block.Statistics))
	stats2 := asMap(t, field(asMap(t, blocks[1]), s.Block.Statistics))
	assert.Equal(t, uint64(2), field(stats1, s.Statistics.ProcessedMessages))
	assert.Equal(t, uint64(2), field(stats2, s.Statistics.ProcessedMessages))
}

func TestEDNSExtendedRcodeComposition(t *testing.T) {
	cfg := testConfig(t)
	w, err := New(cfg, clock.RealClock{}, false)
	require.NoError(t, err)

	ts := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	q := makeQuery(ts, "198.51.100.5", "192.0.2.1", "example.com")
	q.Rcode = 1
	q.OPT = &domain.EDNS0{ExtendedRcode: 2, Version: 0, UDPPayloadSize: 4096}
	r := makeResponse(q, time.Millisecond)
	r.Rcode = 3
	r.OPT = &domain.EDNS0{ExtendedRcode: 1, Version: 0, UDPPayloadSize: 4096}

	ingest(t, w, &domain.QueryResponse{Query: q, Response: r}, domain.PacketStatistics{})
	name := w.Filename()
	require.NoError(t, w.Close())

	s := mustSchema(t)
	_, blocks := decodeFile(t, name)
	sigs := asList(t, field(blockTables(t, s, blocks[0]), s.Tables.QueryResponseSignature))
	sig := asMap(t, sigs[0])

	assert.Equal(t, uint64(2<<4|1), field(sig, s.Signature.QueryRcode))
	assert.Equal(t, uint64(1<<4|3), field(sig, s.Signature.ResponseRcode))

	flags := field(sig, s.Signature.QRSigFlags).(uint64)
	assert.Equal(t,
		uint64(domain.QRFlagHasQuery|domain.QRFlagHasResponse|domain.QRFlagQueryHasOpt|domain.QRFlagResponseHasOpt),
		flags)
}

func TestExclusionHintRemovesField(t *testing.T) {
	run := func(exclude bool) map[any]any {
		cfg := testConfig(t)
		cfg.ExcludeHints.ClientPort = exclude
		w, err := New(cfg, clock.RealClock{}, false)
		require.NoError(t, err)

		ts := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
		q := makeQuery(ts, "198.51.100.5", "192.0.2.1", "example.com")
		ingest(t, w, queryOnly(q), domain.PacketStatistics{})
		name := w.Filename()
		require.NoError(t, w.Close())

		s := mustSchema(t)
		_, blocks := decodeFile(t, name)
		return asMap(t, blockItems(t, s, blocks[0])[0])
	}

	s := mustSchema(t)
	baseline := run(false)
	excluded := run(true)

	assert.NotNil(t, field(baseline, s.Item.ClientPort))
	assert.Nil(t, field(excluded, s.Item.ClientPort))

	// Other fields are unaffected.
	assert.Equal(t, field(baseline, s.Item.TransactionID), field(excluded, s.Item.TransactionID))
	assert.Equal(t, field(baseline, s.Item.ClientAddressIndex), field(excluded, s.Item.ClientAddressIndex))
}

func TestAddressEventAccounting(t *testing.T) {
	cfg := testConfig(t)
	cfg.ClientAddressPrefixIPv4 = 24
	w, err := New(cfg, clock.RealClock{}, false)
	require.NoError(t, err)

	ts := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	require.NoError(t, w.CheckForRotation(ts))

	// A record so the block is written.
	q := makeQuery(ts, "198.51.100.5", "192.0.2.1", "example.com")
	require.NoError(t, w.StartRecord(queryOnly(q)))
	require.NoError(t, w.WriteBasic(queryOnly(q), domain.PacketStatistics{}))
	require.NoError(t, w.EndRecord(queryOnly(q)))

	// Three events to distinct /24-masked addresses, then three to one.
	for _, addr := range []string{"203.0.113.5", "198.18.0.9", "192.0.2.77"} {
		w.WriteAE(&domain.AddressEvent{Type: domain.AddressEventTCPReset, Address: net.ParseIP(addr)}, domain.PacketStatistics{})
	}
	for i := 0; i < 3; i++ {
		w.WriteAE(&domain.AddressEvent{Type: domain.AddressEventICMPDestUnreachable, Address: net.ParseIP("100.64.0.1")}, domain.PacketStatistics{})
	}
	name := w.Filename()
	require.NoError(t, w.Close())

	s := mustSchema(t)
	_, blocks := decodeFile(t, name)
	events := asList(t, field(asMap(t, blocks[0]), s.Block.AddressEventCounts))
	require.Len(t, events, 4)

	var ones, threes int
	for _, ev := range events {
		switch field(asMap(t, ev), s.AddressEvent.Count).(uint64) {
		case 1:
			ones++
		case 3:
			threes++
		}
	}
	assert.Equal(t, 3, ones)
	assert.Equal(t, 1, threes)
}

func TestAddressEventsExcluded(t *testing.T) {
	cfg := testConfig(t)
	cfg.ExcludeHints.AddressEvents = true
	w, err := New(cfg, clock.RealClock{}, false)
	require.NoError(t, err)

	ts := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	q := makeQuery(ts, "198.51.100.5", "192.0.2.1", "example.com")
	ingest(t, w, queryOnly(q), domain.PacketStatistics{})
	w.WriteAE(&domain.AddressEvent{Type: domain.AddressEventTCPReset, Address: net.ParseIP("192.0.2.1")}, domain.PacketStatistics{})
	name := w.Filename()
	require.NoError(t, w.Close())

	s := mustSchema(t)
	_, blocks := decodeFile(t, name)
	assert.Nil(t, field(asMap(t, blocks[0]), s.Block.AddressEventCounts))
}

func TestFileRotationByTime(t *testing.T) {
	cfg := testConfig(t)
	cfg.RotationPeriod = 60
	w, err := New(cfg, clock.RealClock{}, false)
	require.NoError(t, err)

	ts1 := time.Date(2024, 3, 5, 10, 0, 30, 0, time.UTC)
	q1 := makeQuery(ts1, "198.51.100.5", "192.0.2.1", "example.com")
	ingest(t, w, queryOnly(q1), domain.PacketStatistics{})
	file1 := w.Filename()

	// Crossing the minute boundary rotates to a new file.
	ts2 := ts1.Add(61 * time.Second)
	q2 := makeQuery(ts2, "198.51.100.5", "192.0.2.1", "example.org")
	ingest(t, w, queryOnly(q2), domain.PacketStatistics{})
	file2 := w.Filename()
	require.NoError(t, w.Close())

	require.NotEqual(t, file1, file2)

	s := mustSchema(t)
	preamble1, blocks1 := decodeFile(t, file1)
	assert.Len(t, blocks1, 1)
	assert.NotNil(t, field(preamble1, s.FilePreamble.BlockParameters))

	// The second file starts with a complete preamble of its own.
	preamble2, blocks2 := decodeFile(t, file2)
	assert.Equal(t, uint64(1), field(preamble2, s.FilePreamble.MajorFormatVersion))
	assert.NotNil(t, field(preamble2, s.FilePreamble.BlockParameters))
	assert.Len(t, blocks2, 1)
}

func TestFileRotationBySize(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxOutputSize = 1
	w, err := New(cfg, clock.RealClock{}, false)
	require.NoError(t, err)

	ts1 := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	q1 := makeQuery(ts1, "198.51.100.5", "192.0.2.1", "example.com")
	ingest(t, w, queryOnly(q1), domain.PacketStatistics{})
	file1 := w.Filename()

	q2 := makeQuery(ts1.Add(time.Second), "198.51.100.5", "192.0.2.1", "example.org")
	ingest(t, w, queryOnly(q2), domain.PacketStatistics{})
	file2 := w.Filename()
	require.NoError(t, w.Close())

	assert.NotEqual(t, file1, file2)
	_, blocks1 := decodeFile(t, file1)
	assert.Len(t, blocks1, 1)
}

func TestFooterTerminatesEveryFile(t *testing.T) {
	cfg := testConfig(t)
	w, err := New(cfg, clock.RealClock{}, false)
	require.NoError(t, err)

	ts := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	q := makeQuery(ts, "198.51.100.5", "192.0.2.1", "example.com")
	ingest(t, w, queryOnly(q), domain.PacketStatistics{})
	name := w.Filename()
	require.NoError(t, w.Close())

	data, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, byte(0xff), data[len(data)-1])

	// The document decodes cleanly, so no truncated block precedes the
	// footer.
	var doc []any
	assert.NoError(t, fxcbor.Unmarshal(data, &doc))
}

func TestExtendedSections(t *testing.T) {
	cfg := testConfig(t)
	w, err := New(cfg, clock.RealClock{}, false)
	require.NoError(t, err)

	ts := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	s := mustSchema(t)

	answer := domain.ResourceRecord{
		Name:  wireName("example.com"),
		Type:  1,
		Class: 1,
		TTL:   300,
		RData: []byte{192, 0, 2, 10},
	}

	for i := 0; i < 2; i++ {
		q := makeQuery(ts.Add(time.Duration(i)*time.Second), "198.51.100.5", "192.0.2.1", "example.com")
		r := makeResponse(q, time.Millisecond)
		qr := &domain.QueryResponse{Query: q, Response: r}

		require.NoError(t, w.CheckForRotation(q.Timestamp))
		require.NoError(t, w.StartRecord(qr))
		require.NoError(t, w.WriteBasic(qr, domain.PacketStatistics{}))
		require.NoError(t, w.StartExtendedResponseGroup())
		w.StartAnswersSection()
		require.NoError(t, w.WriteResourceRecord(answer))
		require.NoError(t, w.EndExtendedGroup())
		require.NoError(t, w.EndRecord(qr))
	}
	name := w.Filename()
	require.NoError(t, w.Close())

	_, blocks := decodeFile(t, name)
	require.Len(t, blocks, 1)
	tables := blockTables(t, s, blocks[0])

	rrs := asList(t, field(tables, s.Tables.RR))
	require.Len(t, rrs, 1)
	rr := asMap(t, rrs[0])
	assert.Equal(t, uint64(300), field(rr, s.RR.TTL))

	// Identical record lists across records share one list entry.
	rrLists := asList(t, field(tables, s.Tables.RRList))
	require.Len(t, rrLists, 1)

	items := blockItems(t, s, blocks[0])
	for _, it := range items {
		ext := asMap(t, field(asMap(t, it), s.Item.ResponseExtended))
		assert.Equal(t, uint64(1), field(ext, s.Extended.AnswerIndex))
	}
}

func TestStateMachineEnforcement(t *testing.T) {
	cfg := testConfig(t)
	w, err := New(cfg, clock.RealClock{}, false)
	require.NoError(t, err)

	ts := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	require.NoError(t, w.CheckForRotation(ts))

	q := makeQuery(ts, "198.51.100.5", "192.0.2.1", "example.com")
	qr := queryOnly(q)

	// Record operations outside a record bracket fail safely.
	assert.ErrorIs(t, w.WriteBasic(qr, domain.PacketStatistics{}), ErrNotInRecord)
	assert.ErrorIs(t, w.EndRecord(qr), ErrNotInRecord)

	// A record that never saw WriteBasic has no timestamp and is dropped.
	require.NoError(t, w.StartRecord(qr))
	assert.ErrorIs(t, w.EndRecord(qr), ErrMissingTimestamp)

	// A resource record needs an active section.
	require.NoError(t, w.StartRecord(qr))
	require.NoError(t, w.WriteBasic(qr, domain.PacketStatistics{}))
	require.NoError(t, w.StartExtendedQueryGroup())
	assert.ErrorIs(t, w.WriteResourceRecord(domain.ResourceRecord{}), ErrNoActiveSection)

	require.NoError(t, w.Close())
}

func TestGzipOutput(t *testing.T) {
	cfg := testConfig(t)
	cfg.Compression = "gzip"
	w, err := New(cfg, clock.RealClock{}, false)
	require.NoError(t, err)

	ts := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	q := makeQuery(ts, "198.51.100.5", "192.0.2.1", "example.com")
	ingest(t, w, queryOnly(q), domain.PacketStatistics{})
	name := w.Filename()
	require.NoError(t, w.Close())

	assert.Equal(t, ".gz", filepath.Ext(name))

	f, err := os.Open(name)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	defer gz.Close()

	dec := fxcbor.NewDecoder(gz)
	var doc []any
	require.NoError(t, dec.Decode(&doc))
	require.Len(t, doc, 3)
	assert.Equal(t, "C-DNS", doc[0])
}

func TestConfigErrorsAtConstruction(t *testing.T) {
	cfg := testConfig(t)
	cfg.OutputPattern = "cap-%q"
	_, err := New(cfg, clock.RealClock{}, false)
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.Compression = "lz77"
	_, err = New(cfg, clock.RealClock{}, false)
	assert.Error(t, err)
}

func TestLiveModeStampsEndTime(t *testing.T) {
	cfg := testConfig(t)
	clk := clock.NewMockClock(time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC))
	w, err := New(cfg, clk, true)
	require.NoError(t, err)

	ts := clk.Now()
	q := makeQuery(ts.Add(time.Second), "198.51.100.5", "192.0.2.1", "example.com")
	ingest(t, w, queryOnly(q), domain.PacketStatistics{})
	name := w.Filename()

	clk.Advance(10 * time.Second)
	require.NoError(t, w.Close())

	s := mustSchema(t)
	_, blocks := decodeFile(t, name)
	p := blockPreamble(t, s, blocks[0])
	assert.Equal(t, uint64(ts.Add(10*time.Second).Unix()), tsSecs(t, field(p, s.Preamble.EndTime)))
	assert.Equal(t, uint64(ts.Unix()), tsSecs(t, field(p, s.Preamble.StartTime)))
}
