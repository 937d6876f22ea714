package chunk

import (
	"crypto/sha256"
	"encoding/hex"
)

// DefaultChunkSize is the fixed chunk size of a chunked upload
const DefaultChunkSize = 4 * 1024 * 1024

// Chunk is one fixed-size slice of a file. Data aliases the source buffer.
type Chunk struct {
	Index int
	Data  []byte
}

// Digest returns the sha256 hex digest of the chunk's uncompressed bytes
func (c Chunk) Digest() string {
	return DigestHex(c.Data)
}

// ManifestEntry describes one chunk to the upload-init call
type ManifestEntry struct {
	Index  int    `json:"index"`
	Digest string `json:"chunk_hash"`
}

// DigestHex returns the lowercase hex sha256 of data
func DigestHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Split cuts data into consecutive chunks of size bytes; the last one may be shorter.
// A size <= 0 uses DefaultChunkSize. Empty data yields no chunks.
func Split(data []byte, size int) []Chunk {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if len(data) == 0 {
		return nil
	}

	chunks := make([]Chunk, 0, Count(int64(len(data)), size))
	for i, off := 0, 0; off < len(data); i, off = i+1, off+size {
		end := min(off+size, len(data))
		chunks = append(chunks, Chunk{Index: i, Data: data[off:end]})
	}
	return chunks
}

// Count returns how many chunks of size bytes cover total bytes
func Count(total int64, size int) int {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if total <= 0 {
		return 0
	}
	return int((total + int64(size) - 1) / int64(size))
}

// Manifest lists the index and digest of each chunk, in order
func Manifest(chunks []Chunk) []ManifestEntry {
	entries := make([]ManifestEntry, len(chunks))
	for i, c := range chunks {
		entries[i] = ManifestEntry{Index: c.Index, Digest: c.Digest()}
	}
	return entries
}
