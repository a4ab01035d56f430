// Package writer implements the block CBOR writer: the state machine that
// drives file structure (preamble, blocks, footer), buffers transactions
// into blocks, starts a new block in the same file when the current one is
// full, rotates output files by wall time or size, and masks addresses
// before they are stored.
package writer

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/haukened/cdns/internal/cdns/block"
	"github.com/haukened/cdns/internal/cdns/cbor"
	"github.com/haukened/cdns/internal/cdns/common/clock"
	"github.com/haukened/cdns/internal/cdns/common/log"
	"github.com/haukened/cdns/internal/cdns/config"
	"github.com/haukened/cdns/internal/cdns/domain"
	"github.com/haukened/cdns/internal/cdns/sink"
)

var (
	// ErrNotInRecord is returned when a record operation arrives outside a
	// start/end record bracket. The in-progress item, if any, is dropped.
	ErrNotInRecord = errors.New("record operation outside start_record/end_record")

	// ErrNoActiveSection is returned when a resource record is written
	// before any section was selected.
	ErrNoActiveSection = errors.New("resource record written with no active section")

	// ErrMissingTimestamp is returned when a record reaches end_record
	// without a timestamp. The record is discarded.
	ErrMissingTimestamp = errors.New("record has no timestamp")
)

// BlockCborWriter accumulates query/response transactions into blocks and
// writes them as a C-DNS file stream. All methods must be called from a
// single producer goroutine.
type BlockCborWriter struct {
	cfg    *config.Configuration
	clk    clock.Clock
	live   bool
	kind   sink.Kind
	masker *addressMasker

	pattern  *outputPattern
	filename string
	snk      sink.Sink
	enc      *cbor.Encoder

	schema *block.Schema
	params []block.BlockParameters
	data   *block.BlockData

	inRecord bool
	item     block.QueryResponseItem
	extGroup *block.QueryResponseExtraInfo

	extRR           *[]uint64
	extraQuestions  []uint64
	extraAnswers    []uint64
	extraAuthority  []uint64
	extraAdditional []uint64

	lastEndBlockStatistics domain.PacketStatistics
	needStartBlockStats    bool
}

// New constructs a writer for the given configuration. In live mode the
// first block's start time is the current wall time, and Close stamps an
// end time if none was recorded. No file is opened until the first
// CheckForRotation.
func New(cfg *config.Configuration, clk clock.Clock, live bool) (*BlockCborWriter, error) {
	kind, err := sink.ParseKind(cfg.Compression)
	if err != nil {
		return nil, err
	}

	pattern, err := newOutputPattern(
		cfg.OutputPattern+kind.Extension(),
		time.Duration(cfg.RotationPeriod)*time.Second,
	)
	if err != nil {
		return nil, err
	}

	masker, err := newAddressMasker(
		cfg.ClientAddressPrefixIPv4, cfg.ClientAddressPrefixIPv6,
		cfg.ServerAddressPrefixIPv4, cfg.ServerAddressPrefixIPv6,
	)
	if err != nil {
		return nil, err
	}

	schema, err := block.NewSchema(block.Format10)
	if err != nil {
		return nil, err
	}

	params := []block.BlockParameters{blockParametersFromConfig(cfg)}
	w := &BlockCborWriter{
		cfg:                 cfg,
		clk:                 clk,
		live:                live,
		kind:                kind,
		masker:              masker,
		pattern:             pattern,
		schema:              schema,
		params:              params,
		data:                block.NewBlockData(params, 0, schema),
		needStartBlockStats: true,
	}
	if live {
		now := clk.Now()
		w.data.StartTime = &now
	}
	return w, nil
}

// Filename returns the name of the currently open output file.
func (w *BlockCborWriter) Filename() string {
	return w.filename
}

// CheckForRotation opens the output file if none is open, and rotates it
// when the size limit is reached or the output pattern's time boundary has
// been crossed. Rotation flushes the in-progress block and footer, closes
// the sink, and opens a fresh file with a new preamble.
func (w *BlockCborWriter) CheckForRotation(ts time.Time) error {
	if w.snk != nil &&
		!(w.cfg.MaxOutputSize > 0 && w.snk.BytesWritten() >= w.cfg.MaxOutputSize) &&
		!w.pattern.NeedRotate(ts) {
		return nil
	}

	if w.snk != nil {
		w.data.EndTime = &ts
		if err := w.Close(); err != nil {
			return err
		}
		start := ts
		w.data.StartTime = &start
	}

	w.filename = w.pattern.Filename(ts)
	if w.cfg.LogFileHandling {
		log.Info(map[string]any{"file": w.filename}, "rotating capture file")
	}
	snk, err := sink.Open(w.filename, w.kind, w.cfg.CompressionLevel, w.cfg.LogFileHandling, log.GetLogger())
	if err != nil {
		return err
	}
	w.snk = snk
	w.enc = cbor.NewEncoder(snk)
	w.writeFileHeader()
	return w.enc.Flush()
}

// StartRecord begins a new transaction record. If the active block is full
// it is flushed first, and the new block's start time is the record's
// leading timestamp.
func (w *BlockCborWriter) StartRecord(qr *domain.QueryResponse) error {
	if w.data.IsFull() {
		ts := qr.Message().Timestamp
		w.data.EndTime = &ts
		w.writeBlock()
		start := ts
		w.data.StartTime = &start
		if err := w.enc.Flush(); err != nil {
			return err
		}
	}
	w.item.Clear()
	w.clearInProgressExtraInfo()
	w.inRecord = true
	return nil
}

// EndRecord moves the in-progress record into the block.
func (w *BlockCborWriter) EndRecord(qr *domain.QueryResponse) error {
	if !w.inRecord {
		return ErrNotInRecord
	}
	w.inRecord = false
	if w.item.Tstamp == nil && !w.cfg.ExcludeHints.Timestamp {
		w.item.Clear()
		return ErrMissingTimestamp
	}
	w.data.QueryResponseItems = append(w.data.QueryResponseItems, w.item)
	w.item.Clear()
	return nil
}

// WriteBasic populates the in-progress record and its signature from the
// pair, applying the configured exclusion hints, and interns the signature
// into the block.
func (w *BlockCborWriter) WriteBasic(qr *domain.QueryResponse, stats domain.PacketStatistics) error {
	if !w.inRecord {
		return ErrNotInRecord
	}

	d := qr.Message()
	exclude := &w.cfg.ExcludeHints
	var qs block.QueryResponseSignature

	w.item.QRFlags = 0

	w.updateBlockStats(stats)

	if len(w.data.QueryResponseItems) == 0 || d.Timestamp.Before(w.data.EarliestTime) {
		w.data.EarliestTime = d.Timestamp
	}

	if w.cfg.StartEndTimesFromData {
		if w.data.EndTime == nil || d.Timestamp.After(*w.data.EndTime) {
			ts := d.Timestamp
			w.data.EndTime = &ts
		}
		if w.data.StartTime == nil || d.Timestamp.Before(*w.data.StartTime) {
			ts := d.Timestamp
			w.data.StartTime = &ts
		}
	}

	// Basic query signature info.
	if !exclude.ServerAddress && d.ServerIP != nil {
		idx := w.data.AddAddress(w.masker.mask(d.ServerIP, false))
		qs.ServerAddress = &idx
	}
	if !exclude.ServerPort && d.ServerPort != nil {
		qs.ServerPort = d.ServerPort
	}
	if !exclude.Transport {
		flags := domain.TransportFlags(qr)
		qs.TransportFlags = &flags
	}
	if !exclude.TransactionType && qr.Type != nil {
		t := uint8(*qr.Type)
		qs.QRType = &t
	}
	if !exclude.DNSFlags {
		flags := domain.DNSFlags(qr)
		qs.DNSFlags = &flags
	}

	// Basic query/response info.
	if !exclude.Timestamp {
		ts := d.Timestamp
		w.item.Tstamp = &ts
	}
	if !exclude.ClientAddress && d.ClientIP != nil {
		idx := w.data.AddAddress(w.masker.mask(d.ClientIP, true))
		w.item.ClientAddress = &idx
	}
	if !exclude.ClientPort && d.ClientPort != nil {
		w.item.ClientPort = d.ClientPort
	}
	if !exclude.TransactionID {
		id := d.TransactionID
		w.item.TransactionID = &id
	}
	if !exclude.QueryQDCount {
		qd := d.QDCount
		qs.QDCount = &qd
	}

	// First question info from the leading message.
	if len(d.Questions) == 0 {
		w.item.QRFlags |= domain.QRFlagQueryHasNoQuestion
	} else {
		question := d.Questions[0]
		ct := block.ClassType{Type: question.Type, Class: question.Class}
		if !exclude.QueryClassType {
			idx := w.data.AddClassType(ct)
			qs.QueryClassType = &idx
		}
		if !exclude.QueryName {
			idx := w.data.AddNameRData(question.Name)
			w.item.QName = &idx
		}
	}

	if qr.HasQuery() {
		q := qr.Query

		w.item.QRFlags |= domain.QRFlagHasQuery
		if !exclude.QuerySize && q.WireSize != nil {
			w.item.QuerySize = q.WireSize
		}
		if !exclude.ClientHopLimit && q.HopLimit != nil {
			w.item.HopLimit = q.HopLimit
		}

		if !exclude.QueryOpcode {
			op := q.Opcode
			qs.QueryOpcode = &op
		}
		if !exclude.QueryRcode {
			rc := uint16(q.Rcode)
			qs.QueryRcode = &rc
		}
		if !exclude.QueryANCount {
			an := q.ANCount
			qs.QueryANCount = &an
		}
		if !exclude.QueryNSCount {
			ns := q.NSCount
			qs.QueryNSCount = &ns
		}
		if !exclude.QueryARCount {
			ar := q.ARCount
			qs.QueryARCount = &ar
		}

		if q.OPT != nil {
			if !exclude.QueryRcode {
				rc := *qs.QueryRcode + uint16(q.OPT.ExtendedRcode)<<4
				qs.QueryRcode = &rc
			}
			w.item.QRFlags |= domain.QRFlagQueryHasOpt
			if !exclude.QueryUDPSize {
				size := q.OPT.UDPPayloadSize
				qs.QueryEDNSPayloadSize = &size
			}
			if !exclude.QueryEDNSVersion {
				v := q.OPT.Version
				qs.QueryEDNSVersion = &v
			}
			if !exclude.QueryOptRData {
				idx := w.data.AddNameRData(q.OPT.RData)
				qs.QueryOptRData = &idx
			}
		}
	}

	if qr.HasResponse() {
		r := qr.Response

		w.item.QRFlags |= domain.QRFlagHasResponse
		if !exclude.ResponseSize && r.WireSize != nil {
			w.item.ResponseSize = r.WireSize
		}
		// Set from response if not already set.
		if !exclude.QueryOpcode && qs.QueryOpcode == nil {
			op := r.Opcode
			qs.QueryOpcode = &op
		}
		if !exclude.ResponseRcode {
			rc := uint16(r.Rcode)
			qs.ResponseRcode = &rc
		}

		if r.OPT != nil {
			if !exclude.ResponseRcode {
				rc := *qs.ResponseRcode + uint16(r.OPT.ExtendedRcode)<<4
				qs.ResponseRcode = &rc
			}
			w.item.QRFlags |= domain.QRFlagResponseHasOpt
		}

		if r.QDCount == 0 {
			w.item.QRFlags |= domain.QRFlagResponseHasNoQuestion
		}
	}

	if qr.HasQuery() && qr.HasResponse() && !exclude.ResponseDelay {
		delay := qr.Response.Timestamp.Sub(qr.Query.Timestamp)
		w.item.ResponseDelay = &delay
	}

	if !exclude.QRFlags {
		flags := w.item.QRFlags
		qs.QRFlags = &flags
	}
	if !exclude.QRSignature {
		idx := w.data.AddQueryResponseSignature(qs)
		w.item.Signature = &idx
	}
	return nil
}

// StartExtendedQueryGroup selects the query side's extra info for the
// following section writes.
func (w *BlockCborWriter) StartExtendedQueryGroup() error {
	if !w.inRecord {
		return ErrNotInRecord
	}
	if w.item.QueryExtraInfo == nil {
		w.item.QueryExtraInfo = &block.QueryResponseExtraInfo{}
	}
	w.extGroup = w.item.QueryExtraInfo
	return nil
}

// StartExtendedResponseGroup selects the response side's extra info for the
// following section writes.
func (w *BlockCborWriter) StartExtendedResponseGroup() error {
	if !w.inRecord {
		return ErrNotInRecord
	}
	if w.item.ResponseExtraInfo == nil {
		w.item.ResponseExtraInfo = &block.QueryResponseExtraInfo{}
	}
	w.extGroup = w.item.ResponseExtraInfo
	return nil
}

// EndExtendedGroup interns the non-empty scratch section lists into the
// block and stores their indices in the active extra info.
func (w *BlockCborWriter) EndExtendedGroup() error {
	if w.extGroup == nil {
		return ErrNotInRecord
	}
	if len(w.extraQuestions) > 0 {
		idx := w.data.AddQuestionsList(w.extraQuestions)
		w.extGroup.QuestionsList = &idx
	}
	if len(w.extraAnswers) > 0 {
		idx := w.data.AddRRsList(w.extraAnswers)
		w.extGroup.AnswersList = &idx
	}
	if len(w.extraAuthority) > 0 {
		idx := w.data.AddRRsList(w.extraAuthority)
		w.extGroup.AuthorityList = &idx
	}
	if len(w.extraAdditional) > 0 {
		idx := w.data.AddRRsList(w.extraAdditional)
		w.extGroup.AdditionalList = &idx
	}
	w.clearInProgressExtraInfo()
	return nil
}

// StartQuestionsSection begins the extra question section. Question records
// always go to the question scratch list, so there is no state to select.
func (w *BlockCborWriter) StartQuestionsSection() {
}

// StartAnswersSection directs following resource records to the answers
// list.
func (w *BlockCborWriter) StartAnswersSection() {
	w.extRR = &w.extraAnswers
}

// StartAuthoritySection directs following resource records to the
// authority list.
func (w *BlockCborWriter) StartAuthoritySection() {
	w.extRR = &w.extraAuthority
}

// StartAdditionalSection directs following resource records to the
// additional list.
func (w *BlockCborWriter) StartAdditionalSection() {
	w.extRR = &w.extraAdditional
}

// WriteQuestionRecord interns one extra question into the block and
// appends it to the question scratch list.
func (w *BlockCborWriter) WriteQuestionRecord(question domain.Question) error {
	if !w.inRecord {
		return ErrNotInRecord
	}
	var q block.Question
	if !w.cfg.ExcludeHints.QueryName {
		idx := w.data.AddNameRData(question.Name)
		q.QName = &idx
	}
	if !w.cfg.ExcludeHints.QueryClassType {
		idx := w.data.AddClassType(block.ClassType{Type: question.Type, Class: question.Class})
		q.ClassType = &idx
	}
	w.extraQuestions = append(w.extraQuestions, w.data.AddQuestion(q))
	return nil
}

// WriteResourceRecord interns one extra resource record into the block and
// appends it to the active section's scratch list.
func (w *BlockCborWriter) WriteResourceRecord(resource domain.ResourceRecord) error {
	if !w.inRecord {
		return ErrNotInRecord
	}
	if w.extRR == nil {
		return ErrNoActiveSection
	}
	var rr block.ResourceRecord
	if !w.cfg.ExcludeHints.QueryName {
		idx := w.data.AddNameRData(resource.Name)
		rr.Name = &idx
	}
	if !w.cfg.ExcludeHints.QueryClassType {
		idx := w.data.AddClassType(block.ClassType{Type: resource.Type, Class: resource.Class})
		rr.ClassType = &idx
	}
	if !w.cfg.ExcludeHints.RRTTL {
		ttl := resource.TTL
		rr.TTL = &ttl
	}
	if !w.cfg.ExcludeHints.RRRData {
		idx := w.data.AddNameRData(resource.RData)
		rr.RData = &idx
	}
	*w.extRR = append(*w.extRR, w.data.AddResourceRecord(rr))
	return nil
}

// WriteAE records an address event into the block, unless address events
// are excluded, and updates the block statistics window.
func (w *BlockCborWriter) WriteAE(ae *domain.AddressEvent, stats domain.PacketStatistics) {
	if !w.cfg.ExcludeHints.AddressEvents {
		masked := w.masker.mask(ae.Address, true)
		w.data.CountAddressEvent(ae.Type, ae.Code, masked, ae.IsIPv6(), ae.TransportFlags)
	}
	w.updateBlockStats(stats)
}

// Close flushes the in-progress block, writes the file footer, and closes
// the sink, renaming the temporary file into place. Closing an already
// closed writer is a no-op.
func (w *BlockCborWriter) Close() error {
	if w.snk == nil {
		return nil
	}
	if !(w.data.IsEmpty() && w.needStartBlockStats) {
		if w.live && w.data.EndTime == nil {
			now := w.clk.Now()
			w.data.EndTime = &now
		}
		w.writeBlock()
	} else {
		w.data.Clear()
	}
	w.enc.WriteBreak() // file footer: terminates the block array
	err := w.enc.Flush()
	cerr := w.snk.Close()
	w.snk = nil
	w.enc = nil
	if err != nil || cerr != nil {
		return fmt.Errorf("close %s: %w", w.filename, multierr.Combine(err, cerr))
	}
	return nil
}

func (w *BlockCborWriter) clearInProgressExtraInfo() {
	w.extGroup = nil
	w.extRR = nil
	w.extraQuestions = nil
	w.extraAnswers = nil
	w.extraAuthority = nil
	w.extraAdditional = nil
}

func (w *BlockCborWriter) writeFileHeader() {
	s := w.schema

	w.enc.WriteArrayHeader(3)
	w.enc.WriteText(block.FileFormatID)

	// File preamble.
	w.enc.WriteMapHeader(4)
	w.enc.WriteInt(int64(s.FilePreamble.MajorFormatVersion))
	w.enc.WriteUint(uint64(block.Format10.Major))
	w.enc.WriteInt(int64(s.FilePreamble.MinorFormatVersion))
	w.enc.WriteUint(uint64(block.Format10.Minor))
	w.enc.WriteInt(int64(s.FilePreamble.PrivateVersion))
	w.enc.WriteUint(uint64(block.Format10.Private))

	w.enc.WriteInt(int64(s.FilePreamble.BlockParameters))
	w.enc.WriteArrayHeader(len(w.params))
	for _, bp := range w.params {
		bp.WriteCbor(w.enc, s)
	}

	// Start of the file blocks array.
	w.enc.WriteIndefArrayHeader()
}

func (w *BlockCborWriter) writeBlock() {
	w.data.LastPacketStatistics = w.lastEndBlockStatistics
	w.data.WriteCbor(w.enc)
	w.data.Clear()
	w.needStartBlockStats = true
}

func (w *BlockCborWriter) updateBlockStats(stats domain.PacketStatistics) {
	if w.needStartBlockStats {
		w.data.StartPacketStatistics = w.lastEndBlockStatistics
		w.needStartBlockStats = false
	}
	w.lastEndBlockStatistics = stats
}
