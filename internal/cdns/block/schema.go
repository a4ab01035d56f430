// Package block implements the in-memory C-DNS block: the per-block intern
// tables, the ordered query/response item list, block parameters and
// statistics, and their CBOR serialization. A block is a self-contained
// deduplication unit; all index fields inside it refer to its own tables.
package block

import "fmt"

// FileFormatID is the file type identifier written at the start of every
// capture file.
const FileFormatID = "C-DNS"

// FormatVersion is the (major, minor, private) version triple of the file
// format.
type FormatVersion struct {
	Major   uint
	Minor   uint
	Private uint
}

// Format10 is file format version 1.0 with this writer's private revision.
var Format10 = FormatVersion{Major: 1, Minor: 0, Private: 2}

// Schema assigns the integer map key for every CBOR field of a format
// version. Standard fields use the format 1.0 key numbering;
// implementation-private fields (writer start/end times, collector
// statistics) use negative keys, which readers of other implementations
// skip.
type Schema struct {
	FilePreamble filePreambleIndexes
	BlockParams  blockParamsIndexes
	Storage      storageParamsIndexes
	Hints        storageHintsIndexes
	Collection   collectionParamsIndexes
	Block        blockIndexes
	Preamble     blockPreambleIndexes
	Statistics   blockStatisticsIndexes
	Tables       blockTablesIndexes
	ClassType    classTypeIndexes
	Question     questionIndexes
	RR           rrIndexes
	Signature    signatureIndexes
	Item         itemIndexes
	Extended     extendedIndexes
	AddressEvent addressEventIndexes
}

type filePreambleIndexes struct {
	MajorFormatVersion int
	MinorFormatVersion int
	PrivateVersion     int
	BlockParameters    int
}

type blockParamsIndexes struct {
	StorageParameters    int
	CollectionParameters int
}

type storageParamsIndexes struct {
	TicksPerSecond          int
	MaxBlockItems           int
	StorageHints            int
	Opcodes                 int
	RRTypes                 int
	StorageFlags            int
	ClientAddressPrefixIPv4 int
	ClientAddressPrefixIPv6 int
	ServerAddressPrefixIPv4 int
	ServerAddressPrefixIPv6 int
	SamplingMethod          int
	AnonymisationMethod     int
}

type storageHintsIndexes struct {
	QueryResponseHints          int
	QueryResponseSignatureHints int
	RRHints                     int
	OtherDataHints              int
}

type collectionParamsIndexes struct {
	QueryTimeout    int
	SkewTimeout     int
	Snaplen         int
	DNSPort         int
	Promisc         int
	Interfaces      int
	ServerAddresses int
	VLANIDs         int
	Filter          int
	GeneratorID     int
	HostID          int
}

type blockIndexes struct {
	Preamble           int
	Statistics         int
	Tables             int
	Queries            int
	AddressEventCounts int
}

type blockPreambleIndexes struct {
	EarliestTime         int
	BlockParametersIndex int
	EndTime              int
	StartTime            int
}

type blockStatisticsIndexes struct {
	ProcessedMessages  int
	QRDataItems        int
	UnmatchedQueries   int
	UnmatchedResponses int
	DiscardedOpcode    int
	MalformedItems     int
	NonDNSPackets      int
	OutOfOrderPackets  int
	MissingPairs       int
	MissingPackets     int
	MissingNonDNS      int
	Packets            int
	MissingReceived    int
	DiscardedPackets   int
	MissingMatcher     int
	PcapPackets        int
	PcapMissingIf      int
	PcapMissingOS      int
}

type blockTablesIndexes struct {
	IPAddress              int
	ClassType              int
	NameRData              int
	QueryResponseSignature int
	QuestionList           int
	QuestionRR             int
	RRList                 int
	RR                     int
}

type classTypeIndexes struct {
	Type  int
	Class int
}

type questionIndexes struct {
	NameIndex      int
	ClassTypeIndex int
}

type rrIndexes struct {
	NameIndex      int
	ClassTypeIndex int
	TTL            int
	RDataIndex     int
}

type signatureIndexes struct {
	ServerAddressIndex   int
	ServerPort           int
	QRTransportFlags     int
	QRType               int
	QRSigFlags           int
	QueryOpcode          int
	QRDNSFlags           int
	QueryRcode           int
	QueryClassTypeIndex  int
	QueryQDCount         int
	QueryANCount         int
	QueryARCount         int
	QueryNSCount         int
	QueryEDNSVersion     int
	QueryUDPSize         int
	QueryOptRDataIndex   int
	ResponseRcode        int
}

type itemIndexes struct {
	TimeOffset         int
	ClientAddressIndex int
	ClientPort         int
	TransactionID      int
	QRSignatureIndex   int
	ClientHopLimit     int
	ResponseDelay      int
	QueryNameIndex     int
	QuerySize          int
	ResponseSize       int
	QueryExtended      int
	ResponseExtended   int
}

type extendedIndexes struct {
	QuestionIndex   int
	AnswerIndex     int
	AuthorityIndex  int
	AdditionalIndex int
}

type addressEventIndexes struct {
	Type           int
	Code           int
	AddressIndex   int
	TransportFlags int
	Count          int
}

// NewSchema returns the field index assignment for the given format version.
// Only format 1.0 is supported.
func NewSchema(v FormatVersion) (*Schema, error) {
	if v.Major != 1 || v.Minor != 0 {
		return nil, fmt.Errorf("unsupported file format version %d.%d", v.Major, v.Minor)
	}
	return &Schema{
		FilePreamble: filePreambleIndexes{
			MajorFormatVersion: 0,
			MinorFormatVersion: 1,
			PrivateVersion:     2,
			BlockParameters:    3,
		},
		BlockParams: blockParamsIndexes{
			StorageParameters:    0,
			CollectionParameters: 1,
		},
		Storage: storageParamsIndexes{
			TicksPerSecond:          0,
			MaxBlockItems:           1,
			StorageHints:            2,
			Opcodes:                 3,
			RRTypes:                 4,
			StorageFlags:            5,
			ClientAddressPrefixIPv4: 6,
			ClientAddressPrefixIPv6: 7,
			ServerAddressPrefixIPv4: 8,
			ServerAddressPrefixIPv6: 9,
			SamplingMethod:          10,
			AnonymisationMethod:     11,
		},
		Hints: storageHintsIndexes{
			QueryResponseHints:          0,
			QueryResponseSignatureHints: 1,
			RRHints:                     2,
			OtherDataHints:              3,
		},
		Collection: collectionParamsIndexes{
			QueryTimeout:    0,
			SkewTimeout:     1,
			Snaplen:         2,
			DNSPort:         3,
			Promisc:         4,
			Interfaces:      5,
			ServerAddresses: 6,
			VLANIDs:         7,
			Filter:          8,
			GeneratorID:     9,
			HostID:          10,
		},
		Block: blockIndexes{
			Preamble:           0,
			Statistics:         1,
			Tables:             2,
			Queries:            3,
			AddressEventCounts: 4,
		},
		Preamble: blockPreambleIndexes{
			EarliestTime:         0,
			BlockParametersIndex: 1,
			EndTime:              -1,
			StartTime:            -2,
		},
		Statistics: blockStatisticsIndexes{
			ProcessedMessages:  0,
			QRDataItems:        1,
			UnmatchedQueries:   2,
			UnmatchedResponses: 3,
			DiscardedOpcode:    4,
			MalformedItems:     5,
			NonDNSPackets:      -1,
			OutOfOrderPackets:  -2,
			MissingPairs:       -3,
			MissingPackets:     -4,
			MissingNonDNS:      -5,
			Packets:            -6,
			MissingReceived:    -7,
			DiscardedPackets:   -8,
			MissingMatcher:     -9,
			PcapPackets:        -10,
			PcapMissingIf:      -11,
			PcapMissingOS:      -12,
		},
		Tables: blockTablesIndexes{
			IPAddress:              0,
			ClassType:              1,
			NameRData:              2,
			QueryResponseSignature: 3,
			QuestionList:           4,
			QuestionRR:             5,
			RRList:                 6,
			RR:                     7,
		},
		ClassType: classTypeIndexes{Type: 0, Class: 1},
		Question:  questionIndexes{NameIndex: 0, ClassTypeIndex: 1},
		RR: rrIndexes{
			NameIndex:      0,
			ClassTypeIndex: 1,
			TTL:            2,
			RDataIndex:     3,
		},
		Signature: signatureIndexes{
			ServerAddressIndex:  0,
			ServerPort:          1,
			QRTransportFlags:    2,
			QRType:              3,
			QRSigFlags:          4,
			QueryOpcode:         5,
			QRDNSFlags:          6,
			QueryRcode:          7,
			QueryClassTypeIndex: 8,
			QueryQDCount:        9,
			QueryANCount:        10,
			QueryARCount:        11,
			QueryNSCount:        12,
			QueryEDNSVersion:    13,
			QueryUDPSize:        14,
			QueryOptRDataIndex:  15,
			ResponseRcode:       16,
		},
		Item: itemIndexes{
			TimeOffset:         0,
			ClientAddressIndex: 1,
			ClientPort:         2,
			TransactionID:      3,
			QRSignatureIndex:   4,
			ClientHopLimit:     5,
			ResponseDelay:      6,
			QueryNameIndex:     7,
			QuerySize:          8,
			ResponseSize:       9,
			// Key 10 is response-processing-data, which this writer
			// never emits; its number stays reserved.
			QueryExtended:    11,
			ResponseExtended: 12,
		},
		Extended: extendedIndexes{
			QuestionIndex:   0,
			AnswerIndex:     1,
			AuthorityIndex:  2,
			AdditionalIndex: 3,
		},
		AddressEvent: addressEventIndexes{
			Type:           0,
			Code:           1,
			AddressIndex:   2,
			TransportFlags: 3,
			Count:          4,
		},
	}, nil
}
