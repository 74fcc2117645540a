package pool

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc64"
	"io"
	"time"

	"github.com/nishisan-dev/egd/internal/egderr"
)

// magic is the 4-byte header/footer magic, spec.md §6.
var magic = [4]byte{'E', 'G', 'D', 0}

const formatVersion uint32 = 1

const headerSize = 32
const footerSize = 32

var crcTable = crc64.MakeTable(crc64.ISO)

// header mirrors the 32-byte on-disk header (spec.md §6).
type header struct {
	Version       uint32
	MaxEntropy    int64
	ChunkCapacity int32
	ChunkCount    uint32
	CreatedAt     int64
}

func (h header) encode() []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:4], magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], h.Version)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.MaxEntropy))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(h.ChunkCapacity))
	binary.LittleEndian.PutUint32(buf[20:24], h.ChunkCount)
	binary.LittleEndian.PutUint64(buf[24:32], uint64(h.CreatedAt))
	return buf
}

func decodeHeader(buf []byte) (header, error) {
	if len(buf) != headerSize {
		return header{}, fmt.Errorf("short header: %d bytes", len(buf))
	}
	if !bytes.Equal(buf[0:4], magic[:]) {
		return header{}, egderr.Fat("pool", "STORAGE_CORRUPTED", "bad header magic", nil)
	}
	h := header{
		Version:       binary.LittleEndian.Uint32(buf[4:8]),
		MaxEntropy:    int64(binary.LittleEndian.Uint64(buf[8:16])),
		ChunkCapacity: int32(binary.LittleEndian.Uint32(buf[16:20])),
		ChunkCount:    binary.LittleEndian.Uint32(buf[20:24]),
		CreatedAt:     int64(binary.LittleEndian.Uint64(buf[24:32])),
	}
	if h.Version != formatVersion {
		return header{}, egderr.Fat("pool", "STORAGE_CORRUPTED", fmt.Sprintf("unsupported version %d", h.Version), nil)
	}
	return h, nil
}

// footer mirrors the 32-byte on-disk footer.
type footer struct {
	TotalBytes int64
	Checksum   uint64
}

func (f footer) encode() []byte {
	buf := make([]byte, footerSize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(f.TotalBytes))
	binary.LittleEndian.PutUint64(buf[8:16], f.Checksum)
	copy(buf[16:20], magic[:])
	// buf[20:32] stays zero (12B reserved).
	return buf
}

func decodeFooter(buf []byte) (footer, error) {
	if len(buf) != footerSize {
		return footer{}, fmt.Errorf("short footer: %d bytes", len(buf))
	}
	if !bytes.Equal(buf[16:20], magic[:]) {
		return footer{}, egderr.Fat("pool", "STORAGE_CORRUPTED", "bad footer magic", nil)
	}
	return footer{
		TotalBytes: int64(binary.LittleEndian.Uint64(buf[0:8])),
		Checksum:   binary.LittleEndian.Uint64(buf[8:16]),
	}, nil
}

// encodeImage serializes a pool snapshot to the on-disk format, per
// spec.md §6: header | per-chunk(id,size,bytes) | footer. The checksum
// covers header+chunks.
func encodeImage(w io.Writer, maxEntropy int64, chunkCapacity int, chunks []chunkSnapshot, createdAt time.Time) error {
	var body bytes.Buffer

	hdr := header{
		Version:       formatVersion,
		MaxEntropy:    maxEntropy,
		ChunkCapacity: int32(chunkCapacity),
		ChunkCount:    uint32(len(chunks)),
		CreatedAt:     createdAt.UnixNano(),
	}
	body.Write(hdr.encode())

	var total int64
	for _, cs := range chunks {
		if err := cs.serialize(&body); err != nil {
			return err
		}
		total += int64(len(cs.bytes))
	}

	checksum := crc64.Checksum(body.Bytes(), crcTable)

	ft := footer{TotalBytes: total, Checksum: checksum}

	if _, err := w.Write(body.Bytes()); err != nil {
		return fmt.Errorf("writing pool body: %w", err)
	}
	if _, err := w.Write(ft.encode()); err != nil {
		return fmt.Errorf("writing pool footer: %w", err)
	}
	return nil
}

// decodedImage is the parsed content of a persisted pool image.
type decodedImage struct {
	Header    header
	Chunks    []*Chunk
	NextID    int64
	CreatedAt time.Time
}

// decodeImage parses and verifies a full on-disk pool image: both magics,
// version, per-chunk size bounds, total_bytes consistency, and the CRC-64
// checksum over header+chunks. Any mismatch returns a typed
// STORAGE_CORRUPTED error and performs no partial mutation.
func decodeImage(data []byte) (*decodedImage, error) {
	if len(data) < headerSize+footerSize {
		return nil, egderr.Fat("pool", "STORAGE_CORRUPTED", "file too short for header+footer", nil)
	}

	hdr, err := decodeHeader(data[:headerSize])
	if err != nil {
		return nil, err
	}

	bodyEnd := len(data) - footerSize
	ft, err := decodeFooter(data[bodyEnd:])
	if err != nil {
		return nil, err
	}

	body := data[:bodyEnd]
	gotChecksum := crc64.Checksum(body, crcTable)
	if gotChecksum != ft.Checksum {
		return nil, egderr.Fat("pool", "STORAGE_CORRUPTED", "checksum mismatch", nil)
	}

	chunksData := data[headerSize:bodyEnd]
	chunks := make([]*Chunk, 0, hdr.ChunkCount)
	var total int64
	var maxID int64 = -1

	off := 0
	for i := uint32(0); i < hdr.ChunkCount; i++ {
		if off+chunkHeaderSize > len(chunksData) {
			return nil, egderr.Fat("pool", "STORAGE_CORRUPTED", "truncated chunk header", nil)
		}
		id := int64(binary.LittleEndian.Uint64(chunksData[off : off+8]))
		size := binary.LittleEndian.Uint32(chunksData[off+8 : off+12])
		off += chunkHeaderSize

		if int64(size) > int64(hdr.ChunkCapacity) {
			return nil, egderr.Fat("pool", "STORAGE_CORRUPTED", "chunk size exceeds chunk_capacity", nil)
		}
		if off+int(size) > len(chunksData) {
			return nil, egderr.Fat("pool", "STORAGE_CORRUPTED", "truncated chunk bytes", nil)
		}

		c := newChunk(id, int(hdr.ChunkCapacity))
		c.bytes = append(c.bytes, chunksData[off:off+int(size)]...)
		off += int(size)

		chunks = append(chunks, c)
		total += int64(size)
		if id > maxID {
			maxID = id
		}
	}

	if off != len(chunksData) {
		return nil, egderr.Fat("pool", "STORAGE_CORRUPTED", "trailing bytes after chunks", nil)
	}
	if total != ft.TotalBytes {
		return nil, egderr.Fat("pool", "STORAGE_CORRUPTED", "total_bytes mismatch", nil)
	}

	return &decodedImage{
		Header:    hdr,
		Chunks:    chunks,
		NextID:    maxID + 1,
		CreatedAt: time.Unix(0, hdr.CreatedAt),
	}, nil
}
