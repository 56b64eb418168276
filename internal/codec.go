package internal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/lychee-technology/strata"
	"github.com/pierrec/lz4/v4"
)

// Codec identifies how the payload of a numeric block is stored.
type Codec byte

const (
	CodecRaw Codec = 0
	CodecLZ4 Codec = 1
)

// Block layout: codec byte, uvarint value count, payload. The payload is the
// little-endian 8-byte encoding of every value, LZ4 framed when CodecLZ4.
// Encoding keeps the raw payload when LZ4 would not make it smaller.

// maxLZ4Ratio bounds how far a compressed payload can expand; LZ4 cannot
// exceed roughly 255:1.
const maxLZ4Ratio = 255

// EncodeLongs serializes values into a numeric block.
func EncodeLongs(values []int64, compress bool) ([]byte, error) {
	raw := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(raw[i*8:], uint64(v))
	}
	return encodeBlock(raw, len(values), compress)
}

// DecodeLongs parses a block produced by EncodeLongs.
func DecodeLongs(block []byte) ([]int64, error) {
	raw, n, err := decodeBlock(block)
	if err != nil {
		return nil, err
	}
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return out, nil
}

// EncodeFloats serializes values into a numeric block.
func EncodeFloats(values []float64, compress bool) ([]byte, error) {
	raw := make([]byte, 8*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint64(raw[i*8:], math.Float64bits(v))
	}
	return encodeBlock(raw, len(values), compress)
}

// DecodeFloats parses a block produced by EncodeFloats.
func DecodeFloats(block []byte) ([]float64, error) {
	raw, n, err := decodeBlock(block)
	if err != nil {
		return nil, err
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(raw[i*8:]))
	}
	return out, nil
}

func encodeBlock(raw []byte, count int, compress bool) ([]byte, error) {
	header := make([]byte, 1+binary.MaxVarintLen64)
	hn := 1 + binary.PutUvarint(header[1:], uint64(count))

	if compress {
		var packed bytes.Buffer
		w := lz4.NewWriter(&packed)
		if err := w.Apply(lz4.CompressionLevelOption(lz4.Fast)); err != nil {
			return nil, fmt.Errorf("configure lz4 writer: %w", err)
		}
		if _, err := w.Write(raw); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 close: %w", err)
		}
		if packed.Len() < len(raw) {
			header[0] = byte(CodecLZ4)
			return append(header[:hn], packed.Bytes()...), nil
		}
	}

	header[0] = byte(CodecRaw)
	return append(header[:hn], raw...), nil
}

// BlockCount reads the value count from a block header without decoding it.
func BlockCount(block []byte) (int, error) {
	_, count, _, err := parseBlockHeader(block)
	return count, err
}

func parseBlockHeader(block []byte) (Codec, int, []byte, error) {
	if len(block) < 2 {
		return 0, 0, nil, invalidEncoding("block too short")
	}
	count, n := binary.Uvarint(block[1:])
	if n <= 0 {
		return 0, 0, nil, invalidEncoding("bad value count")
	}
	if count > math.MaxInt32/8 {
		return 0, 0, nil, invalidEncoding("value count too large")
	}
	return Codec(block[0]), int(count), block[1+n:], nil
}

func decodeBlock(block []byte) ([]byte, int, error) {
	codec, count, payload, err := parseBlockHeader(block)
	if err != nil {
		return nil, 0, err
	}
	want := count * 8

	var raw []byte
	switch codec {
	case CodecRaw:
		raw = payload
	case CodecLZ4:
		if want > len(payload)*maxLZ4Ratio {
			return nil, 0, invalidEncoding(fmt.Sprintf("%d byte payload cannot hold %d values", len(payload), count))
		}
		buf := bytes.NewBuffer(make([]byte, 0, want))
		r := lz4.NewReader(bytes.NewReader(payload))
		if _, err := io.Copy(buf, io.LimitReader(r, int64(want)+1)); err != nil {
			return nil, 0, invalidEncoding("lz4 decompress").WithCause(err)
		}
		raw = buf.Bytes()
	default:
		return nil, 0, invalidEncoding(fmt.Sprintf("unknown codec %d", codec))
	}
	if len(raw) != want {
		return nil, 0, invalidEncoding(fmt.Sprintf("payload holds %d bytes, expected %d", len(raw), want))
	}
	return raw, count, nil
}

func invalidEncoding(msg string) *strata.StrataError {
	return strata.NewStrataError(strata.ErrorTypeNotAvailable, strata.ErrCodeInvalidEncoding, msg)
}

// LZ4LongsSupplier decodes block on every call, so each caller gets its own buffer.
func LZ4LongsSupplier(block []byte) strata.LongsSupplier {
	return func() (strata.IndexedLongs, error) {
		values, err := DecodeLongs(block)
		if err != nil {
			return nil, err
		}
		return NewLongArray(values), nil
	}
}

// LZ4FloatsSupplier decodes block on every call.
func LZ4FloatsSupplier(block []byte) strata.FloatsSupplier {
	return func() (strata.IndexedFloats, error) {
		values, err := DecodeFloats(block)
		if err != nil {
			return nil, err
		}
		return NewFloatArray(values), nil
	}
}
