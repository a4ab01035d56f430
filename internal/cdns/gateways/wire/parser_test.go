package wire

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func header(id, flags, qd, an, ns, ar uint16) []byte {
	h := make([]byte, 12)
	binary.BigEndian.PutUint16(h[0:], id)
	binary.BigEndian.PutUint16(h[2:], flags)
	binary.BigEndian.PutUint16(h[4:], qd)
	binary.BigEndian.PutUint16(h[6:], an)
	binary.BigEndian.PutUint16(h[8:], ns)
	binary.BigEndian.PutUint16(h[10:], ar)
	return h
}

var exampleName = []byte("\x07example\x03com\x00")

func question(name []byte, qtype, qclass uint16) []byte {
	q := append([]byte{}, name...)
	q = binary.BigEndian.AppendUint16(q, qtype)
	return binary.BigEndian.AppendUint16(q, qclass)
}

func TestParseQuery(t *testing.T) {
	msg := header(0x1234, 0x0100, 1, 0, 0, 0) // RD set
	msg = append(msg, question(exampleName, 1, 1)...)

	m, err := ParseMessage(msg)
	require.NoError(t, err)

	assert.Equal(t, uint16(0x1234), m.TransactionID)
	assert.False(t, m.Flags.QR)
	assert.True(t, m.Flags.RD)
	assert.Equal(t, uint8(0), m.Opcode)
	assert.Equal(t, uint16(1), m.QDCount)
	require.Len(t, m.Questions, 1)
	assert.Equal(t, exampleName, m.Questions[0].Name)
	assert.Equal(t, uint16(1), m.Questions[0].Type)
	assert.Equal(t, uint16(1), m.Questions[0].Class)
	assert.False(t, m.TrailingData)
	require.NotNil(t, m.WireSize)
	assert.Equal(t, uint32(len(msg)), *m.WireSize)
}

func TestParseResponseWithCompressedAnswer(t *testing.T) {
	msg := header(0x1234, 0x8580, 1, 1, 0, 0) // QR, AA, RD, RA
	msg = append(msg, question(exampleName, 1, 1)...)

	// Answer name is a pointer back to the question name at offset 12.
	msg = append(msg, 0xC0, 0x0C)
	msg = binary.BigEndian.AppendUint16(msg, 1) // TYPE A
	msg = binary.BigEndian.AppendUint16(msg, 1) // CLASS IN
	msg = append(msg, 0, 0, 1, 0x2c)            // TTL 300
	msg = binary.BigEndian.AppendUint16(msg, 4) // RDLENGTH
	msg = append(msg, 192, 0, 2, 10)

	m, err := ParseMessage(msg)
	require.NoError(t, err)

	assert.True(t, m.Flags.QR)
	assert.True(t, m.Flags.AA)
	require.Len(t, m.Answers, 1)
	rr := m.Answers[0]
	// The compressed name comes back in uncompressed wire form.
	assert.Equal(t, exampleName, rr.Name)
	assert.Equal(t, uint32(300), rr.TTL)
	assert.Equal(t, []byte{192, 0, 2, 10}, rr.RData)
}

func TestParseLiftsOPTFromAdditional(t *testing.T) {
	msg := header(1, 0x0100, 1, 0, 0, 1)
	msg = append(msg, question(exampleName, 1, 1)...)

	// OPT pseudo-record: root name, type 41, class = payload size,
	// TTL = ext rcode | version | DO.
	msg = append(msg, 0x00)
	msg = binary.BigEndian.AppendUint16(msg, 41)
	msg = binary.BigEndian.AppendUint16(msg, 4096)
	msg = append(msg, 0x02, 0x00, 0x80, 0x00) // ext rcode 2, version 0, DO
	msg = binary.BigEndian.AppendUint16(msg, 0)

	m, err := ParseMessage(msg)
	require.NoError(t, err)

	require.NotNil(t, m.OPT)
	assert.Equal(t, uint8(2), m.OPT.ExtendedRcode)
	assert.Equal(t, uint8(0), m.OPT.Version)
	assert.Equal(t, uint16(4096), m.OPT.UDPPayloadSize)
	assert.True(t, m.OPT.DO)
	assert.Empty(t, m.OPT.RData)

	// The OPT is not repeated in the additional records, but the header
	// count is preserved.
	assert.Empty(t, m.Additional)
	assert.Equal(t, uint16(1), m.ARCount)
}

func TestParseTrailingData(t *testing.T) {
	msg := header(1, 0, 1, 0, 0, 0)
	msg = append(msg, question(exampleName, 1, 1)...)
	msg = append(msg, 0xde, 0xad, 0xbe, 0xef)

	m, err := ParseMessage(msg)
	require.NoError(t, err)
	assert.True(t, m.TrailingData)
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		msg  []byte
	}{
		{"short header", []byte{0x12, 0x34}},
		{"truncated question", append(header(1, 0, 1, 0, 0, 0), 0x07, 'e', 'x')},
		{"pointer forward", append(append(header(1, 0, 1, 0, 0, 0), 0xC0, 0x20), make([]byte, 32)...)},
		{"truncated rdata", func() []byte {
			m := header(1, 0, 0, 1, 0, 0)
			m = append(m, exampleName...)
			m = binary.BigEndian.AppendUint16(m, 1)
			m = binary.BigEndian.AppendUint16(m, 1)
			m = append(m, 0, 0, 0, 60)
			m = binary.BigEndian.AppendUint16(m, 100) // RDLENGTH beyond end
			return m
		}()},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseMessage(tc.msg)
			assert.Error(t, err)
		})
	}
}

func TestDecodeNameRejectsPointerLoop(t *testing.T) {
	// Name at offset 12 pointing at itself.
	msg := header(1, 0, 1, 0, 0, 0)
	msg = append(msg, 0xC0, 0x0C)
	msg = binary.BigEndian.AppendUint16(msg, 1)
	msg = binary.BigEndian.AppendUint16(msg, 1)

	_, err := ParseMessage(msg)
	assert.Error(t, err)
}
