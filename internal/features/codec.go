package features

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/x448/float16"
)

// Encoding selects how float blocks are written.
type Encoding uint8

const (
	EncodingFP32 Encoding = 1
	EncodingFP16 Encoding = 2
)

// Compression selects how encoded records are compressed.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionZstd Compression = 1
)

// ParseEncoding maps a config name to an Encoding.
func ParseEncoding(s string) (Encoding, error) {
	switch s {
	case "", "fp32":
		return EncodingFP32, nil
	case "fp16":
		return EncodingFP16, nil
	}
	return 0, fmt.Errorf("unknown feature encoding %q (want fp32 or fp16)", s)
}

// ParseCompression maps a config name to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	}
	return 0, fmt.Errorf("unknown feature compression %q (want none or zstd)", s)
}

func (e Encoding) String() string {
	switch e {
	case EncodingFP32:
		return "fp32"
	case EncodingFP16:
		return "fp16"
	}
	return fmt.Sprintf("encoding(%d)", uint8(e))
}

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	}
	return fmt.Sprintf("compression(%d)", uint8(c))
}

func (e Encoding) width() int {
	if e == EncodingFP16 {
		return 2
	}
	return 4
}

var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

// zstdCodec returns the process-wide encoder and decoder. Both are safe for
// concurrent EncodeAll/DecodeAll calls.
func zstdCodec() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(0),
			zstd.WithDecoderLowmem(false),
			zstd.IgnoreChecksum(true))
	})
	return zstdEnc, zstdDec, zstdErr
}

// EncodeRecord serializes a record. The first two bytes carry the encoding and
// compression so a reader can decode values regardless of its own settings.
//
// Payload layout (little-endian): uint32 box count, features block, boxes
// block, probs block, then one byte per region mask entry.
func EncodeRecord(rec *Record, dims Dims, enc Encoding, comp Compression) ([]byte, error) {
	if err := rec.Validate(dims); err != nil {
		return nil, err
	}

	w := enc.width()
	n := len(rec.Features) + len(rec.Boxes) + len(rec.Probs)
	payload := make([]byte, 4, 4+n*w+rec.NumBoxes)
	binary.LittleEndian.PutUint32(payload, uint32(rec.NumBoxes))
	payload = appendFloats(payload, rec.Features, enc)
	payload = appendFloats(payload, rec.Boxes, enc)
	payload = appendFloats(payload, rec.Probs, enc)
	for _, m := range rec.Mask {
		if m > 0 {
			payload = append(payload, 1)
		} else {
			payload = append(payload, 0)
		}
	}

	out := []byte{byte(enc), byte(comp)}
	switch comp {
	case CompressionNone:
		return append(out, payload...), nil
	case CompressionZstd:
		e, _, err := zstdCodec()
		if err != nil {
			return nil, fmt.Errorf("init zstd: %w", err)
		}
		return e.EncodeAll(payload, out), nil
	}
	return nil, fmt.Errorf("unknown compression %d", comp)
}

// DecodeRecord parses a value written by EncodeRecord.
func DecodeRecord(data []byte, dims Dims) (*Record, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: value too short", ErrInvalidRecord)
	}
	enc, comp := Encoding(data[0]), Compression(data[1])
	if enc != EncodingFP32 && enc != EncodingFP16 {
		return nil, fmt.Errorf("%w: unknown encoding %d", ErrInvalidRecord, enc)
	}

	payload := data[2:]
	switch comp {
	case CompressionNone:
	case CompressionZstd:
		_, d, err := zstdCodec()
		if err != nil {
			return nil, fmt.Errorf("init zstd: %w", err)
		}
		payload, err = d.DecodeAll(payload, make([]byte, 0, len(payload)*3))
		if err != nil {
			return nil, fmt.Errorf("%w: decompress: %v", ErrInvalidRecord, err)
		}
	default:
		return nil, fmt.Errorf("%w: unknown compression %d", ErrInvalidRecord, comp)
	}

	if len(payload) < 4 {
		return nil, fmt.Errorf("%w: missing header", ErrInvalidRecord)
	}
	boxes := int(binary.LittleEndian.Uint32(payload))
	w := enc.width()
	want := 4 + boxes*(dims.Feature+dims.Box+dims.Prob)*w + boxes
	if len(payload) != want {
		return nil, fmt.Errorf("%w: expected %d bytes for %d boxes, got %d", ErrInvalidRecord, want, boxes, len(payload))
	}

	rec := &Record{NumBoxes: boxes}
	off := 4
	rec.Features, off = readFloats(payload, off, boxes*dims.Feature, enc)
	rec.Boxes, off = readFloats(payload, off, boxes*dims.Box, enc)
	rec.Probs, off = readFloats(payload, off, boxes*dims.Prob, enc)
	rec.Mask = make([]int64, boxes)
	for i := range rec.Mask {
		rec.Mask[i] = int64(payload[off+i])
	}
	return rec, nil
}

func appendFloats(buf []byte, vals []float32, enc Encoding) []byte {
	var tmp [4]byte
	for _, v := range vals {
		if enc == EncodingFP16 {
			binary.LittleEndian.PutUint16(tmp[:2], float16.Fromfloat32(v).Bits())
			buf = append(buf, tmp[:2]...)
		} else {
			binary.LittleEndian.PutUint32(tmp[:], math.Float32bits(v))
			buf = append(buf, tmp[:]...)
		}
	}
	return buf
}

func readFloats(buf []byte, off, n int, enc Encoding) ([]float32, int) {
	out := make([]float32, n)
	for i := range out {
		if enc == EncodingFP16 {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(buf[off:])).Float32()
			off += 2
		} else {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[off:]))
			off += 4
		}
	}
	return out, off
}
