package writer

import (
	"net"
	"time"

	"github.com/haukened/cdns/internal/cdns/block"
	"github.com/haukened/cdns/internal/cdns/config"
)

// defaultRRTypes is the set of record types this collector captures,
// recorded in the file's storage parameters.
var defaultRRTypes = []uint16{
	1,   // A
	2,   // NS
	5,   // CNAME
	6,   // SOA
	12,  // PTR
	15,  // MX
	16,  // TXT
	28,  // AAAA
	33,  // SRV
	35,  // NAPTR
	41,  // OPT
	43,  // DS
	46,  // RRSIG
	47,  // NSEC
	48,  // DNSKEY
	50,  // NSEC3
	52,  // TLSA
	64,  // SVCB
	65,  // HTTPS
	255, // ANY
	257, // CAA
}

// blockParametersFromConfig builds the block parameters recorded in the
// file preamble.
func blockParametersFromConfig(cfg *config.Configuration) block.BlockParameters {
	opcodes := make([]uint8, 16)
	for i := range opcodes {
		opcodes[i] = uint8(i)
	}

	var servers []net.IP
	for _, s := range cfg.ServerAddresses {
		if ip := net.ParseIP(s); ip != nil {
			servers = append(servers, ip)
		}
	}

	return block.BlockParameters{
		Storage: block.StorageParameters{
			TicksPerSecond:          block.DefaultTicksPerSecond,
			MaxBlockItems:           cfg.MaxBlockItems,
			Hints:                   storageHints(&cfg.ExcludeHints),
			Opcodes:                 opcodes,
			RRTypes:                 defaultRRTypes,
			ClientAddressPrefixIPv4: cfg.ClientAddressPrefixIPv4,
			ClientAddressPrefixIPv6: cfg.ClientAddressPrefixIPv6,
			ServerAddressPrefixIPv4: cfg.ServerAddressPrefixIPv4,
			ServerAddressPrefixIPv6: cfg.ServerAddressPrefixIPv6,
		},
		Collection: block.CollectionParameters{
			QueryTimeout:    time.Duration(cfg.QueryTimeoutMillis) * time.Millisecond,
			SkewTimeout:     time.Duration(cfg.SkewTimeoutMicros) * time.Microsecond,
			Snaplen:         cfg.Snaplen,
			DNSPort:         cfg.DNSPort,
			Promisc:         cfg.Promisc,
			Interfaces:      cfg.Interfaces,
			ServerAddresses: servers,
			VLANIDs:         cfg.VLANIDs,
			Filter:          cfg.Filter,
			GeneratorID:     cfg.GeneratorID,
			HostID:          cfg.HostID,
		},
	}
}

// storageHints derives the storage hint bitmaps from the exclusion hints:
// an excluded field's hint bit is cleared so readers know it was never
// stored.
func storageHints(ex *config.ExcludeHints) block.StorageHints {
	qr := block.QRHintTimeOffset | block.QRHintClientAddressIndex |
		block.QRHintClientPort | block.QRHintTransactionID |
		block.QRHintQRSignatureIndex | block.QRHintClientHopLimit |
		block.QRHintResponseDelay | block.QRHintQueryNameIndex |
		block.QRHintQuerySize | block.QRHintResponseSize |
		block.QRHintQueryQuestions | block.QRHintQueryAnswers |
		block.QRHintQueryAuthority | block.QRHintQueryAdditional |
		block.QRHintResponseAnswers | block.QRHintResponseAuthority |
		block.QRHintResponseAdditional

	clearQR := func(cond bool, bit uint32) {
		if cond {
			qr &^= bit
		}
	}
	clearQR(ex.Timestamp, block.QRHintTimeOffset)
	clearQR(ex.ClientAddress, block.QRHintClientAddressIndex)
	clearQR(ex.ClientPort, block.QRHintClientPort)
	clearQR(ex.TransactionID, block.QRHintTransactionID)
	clearQR(ex.QRSignature, block.QRHintQRSignatureIndex)
	clearQR(ex.ClientHopLimit, block.QRHintClientHopLimit)
	clearQR(ex.ResponseDelay, block.QRHintResponseDelay)
	clearQR(ex.QueryName, block.QRHintQueryNameIndex)
	clearQR(ex.QuerySize, block.QRHintQuerySize)
	clearQR(ex.ResponseSize, block.QRHintResponseSize)

	sig := block.SigHintServerAddress | block.SigHintServerPort |
		block.SigHintTransportFlags | block.SigHintQRType |
		block.SigHintSigFlags | block.SigHintQueryOpcode |
		block.SigHintDNSFlags | block.SigHintQueryRcode |
		block.SigHintQueryClassType | block.SigHintQueryQDCount |
		block.SigHintQueryANCount | block.SigHintQueryNSCount |
		block.SigHintQueryARCount | block.SigHintEDNSVersion |
		block.SigHintUDPSize | block.SigHintOptRData |
		block.SigHintResponseRcode

	clearSig := func(cond bool, bit uint32) {
		if cond {
			sig &^= bit
		}
	}
	clearSig(ex.ServerAddress, block.SigHintServerAddress)
	clearSig(ex.ServerPort, block.SigHintServerPort)
	clearSig(ex.Transport, block.SigHintTransportFlags)
	clearSig(ex.TransactionType, block.SigHintQRType)
	clearSig(ex.QRFlags, block.SigHintSigFlags)
	clearSig(ex.QueryOpcode, block.SigHintQueryOpcode)
	clearSig(ex.DNSFlags, block.SigHintDNSFlags)
	clearSig(ex.QueryRcode, block.SigHintQueryRcode)
	clearSig(ex.QueryClassType, block.SigHintQueryClassType)
	clearSig(ex.QueryQDCount, block.SigHintQueryQDCount)
	clearSig(ex.QueryANCount, block.SigHintQueryANCount)
	clearSig(ex.QueryNSCount, block.SigHintQueryNSCount)
	clearSig(ex.QueryARCount, block.SigHintQueryARCount)
	clearSig(ex.QueryEDNSVersion, block.SigHintEDNSVersion)
	clearSig(ex.QueryUDPSize, block.SigHintUDPSize)
	clearSig(ex.QueryOptRData, block.SigHintOptRData)
	clearSig(ex.ResponseRcode, block.SigHintResponseRcode)

	var rr uint8 = block.RRHintTTL | block.RRHintRDataIndex
	if ex.RRTTL {
		rr &^= block.RRHintTTL
	}
	if ex.RRRData {
		rr &^= block.RRHintRDataIndex
	}

	var other uint8 = block.OtherHintAddressEventCounts
	if ex.AddressEvents {
		other &^= block.OtherHintAddressEventCounts
	}

	return block.StorageHints{
		QueryResponseHints:          qr,
		QueryResponseSignatureHints: sig,
		RRHints:                     rr,
		OtherDataHints:              other,
	}
}
