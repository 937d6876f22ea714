package chunk

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigestHex(t *testing.T) {
	// sha256("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", DigestHex([]byte("abc")))
}

func TestSplit(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 10)

	chunks := Split(data, 4)
	require.Len(t, chunks, 3)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Len(t, chunks[0].Data, 4)
	assert.Len(t, chunks[1].Data, 4)
	assert.Len(t, chunks[2].Data, 2)
	assert.Equal(t, 2, chunks[2].Index)

	assert.Nil(t, Split(nil, 4))
	assert.Len(t, Split(data, 0), 1)
	assert.Len(t, Split(data, 10), 1)
}

func TestSplit_ReassemblesToOriginal(t *testing.T) {
	data := make([]byte, DefaultChunkSize*2+123)
	_, err := rand.Read(data)
	require.NoError(t, err)

	chunks := Split(data, DefaultChunkSize)
	require.Len(t, chunks, 3)
	assert.Equal(t, 3, Count(int64(len(data)), DefaultChunkSize))

	var joined bytes.Buffer
	for _, c := range chunks {
		joined.Write(c.Data)
	}
	assert.Equal(t, data, joined.Bytes())
}

func TestCount(t *testing.T) {
	assert.Equal(t, 0, Count(0, 4))
	assert.Equal(t, 1, Count(4, 4))
	assert.Equal(t, 2, Count(5, 4))
	assert.Equal(t, 1, Count(10, -1))
}

func TestManifest(t *testing.T) {
	chunks := Split([]byte("hello world"), 5)
	m := Manifest(chunks)
	require.Len(t, m, 3)
	for i, e := range m {
		assert.Equal(t, i, e.Index)
		assert.Equal(t, DigestHex(chunks[i].Data), e.Digest)
	}
}

func TestCompressRoundTrip(t *testing.T) {
	inputs := [][]byte{
		{},
		[]byte("short"),
		bytes.Repeat([]byte("compressible "), 10000),
	}
	for _, in := range inputs {
		z, err := Compress(in)
		require.NoError(t, err)

		out, err := Decompress(z)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(in, out))
	}
}

func TestDecompress_Invalid(t *testing.T) {
	_, err := Decompress([]byte("not gzip"))
	assert.Error(t, err)
}
