package proto

import (
	"bytes"
	"io"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chunkReader returns data split across reads of arbitrary sizes.
type chunkReader struct {
	chunks [][]byte
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	if n == len(c.chunks[0]) {
		c.chunks = c.chunks[1:]
	} else {
		c.chunks[0] = c.chunks[0][n:]
	}
	return n, nil
}

func fragment(t *testing.T, data []byte, seed int64) *chunkReader {
	t.Helper()
	rnd := rand.New(rand.NewSource(seed))
	var chunks [][]byte
	for len(data) > 0 {
		n := 1 + rnd.Intn(len(data))
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return &chunkReader{chunks: chunks}
}

func TestReadFrameFragmented(t *testing.T) {
	payload := []byte("some payload with a delimiter @#%!$ inside and trailing bytes")
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, payload))

	for seed := int64(0); seed < 50; seed++ {
		got, err := ReadFrame(fragment(t, buf.Bytes(), seed))
		require.NoError(t, err, "seed %d", seed)
		assert.Equal(t, payload, got, "seed %d", seed)
	}
}

func TestReadFrameMultiple(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("first")))
	require.NoError(t, WriteFrame(&buf, []byte{}))
	require.NoError(t, WriteFrame(&buf, []byte("third")))

	first, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), first)

	second, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Empty(t, second)

	third, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("third"), third)

	_, err = ReadFrame(&buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFrameTruncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("truncated")))
	data := buf.Bytes()[:buf.Len()-3]

	_, err := ReadFrame(bytes.NewReader(data))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadFrameTooLarge(t *testing.T) {
	hdr := []byte{0xff, 0xff, 0xff, 0xff}
	_, err := ReadFrame(bytes.NewReader(hdr))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	payload := []byte("hello world")
	env := Envelope("tag-1", payload)

	tag, got, err := SplitEnvelope(env)
	require.NoError(t, err)
	assert.Equal(t, "tag-1", tag)
	assert.Equal(t, payload, got)
}

func TestSplitEnvelopePayloadContainsDelimiter(t *testing.T) {
	// The split happens at the first occurrence, so delimiter bytes inside
	// the payload must survive intact.
	payload := append([]byte("before"), Delimiter...)
	payload = append(payload, []byte("after")...)
	env := Envelope("t", payload)

	tag, got, err := SplitEnvelope(env)
	require.NoError(t, err)
	assert.Equal(t, "t", tag)
	assert.Equal(t, payload, got)
}

func TestSplitEnvelopeMissingDelimiter(t *testing.T) {
	_, _, err := SplitEnvelope([]byte("no delimiter here"))
	assert.ErrorIs(t, err, ErrMissingDelimiter)
}

func TestSplitEnvelopeEmptyPayload(t *testing.T) {
	tag, payload, err := SplitEnvelope(Envelope("only-a-tag", nil))
	require.NoError(t, err)
	assert.Equal(t, "only-a-tag", tag)
	assert.Empty(t, payload)
}

func TestIDRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteID(&buf, "nm1"))
	assert.Equal(t, IDLen, buf.Len())

	id, err := ReadID(&buf)
	require.NoError(t, err)
	assert.Equal(t, "nm1", id)
}

func TestWriteIDTooLong(t *testing.T) {
	err := WriteID(io.Discard, strings.Repeat("x", IDLen+1))
	assert.Error(t, err)
}

func TestReadIDShort(t *testing.T) {
	_, err := ReadID(bytes.NewReader([]byte("partial")))
	assert.Error(t, err)
}
