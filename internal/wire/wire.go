// Package wire encodes an orderbook.OrderBookUpdate as the 48-byte
// little-endian record a downstream consumer serialises it to, plus an
// optional zstd batch compressor for when that consumer drains updates
// in bulk.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/abdoElHodaky/ust-mm/internal/instrument"
	"github.com/abdoElHodaky/ust-mm/internal/orderbook"
	"github.com/abdoElHodaky/ust-mm/internal/price"
)

// RecordSize is the fixed length of an encoded OrderBookUpdate:
// update_type(1) + pad(7) + order_id(8) + instrument(1) + side(1) +
// pad(6) + price(whole:4, thirty_seconds:1, half_32nds:1, pad:2) +
// quantity(8) + timestamp(8) = 48 bytes.
const RecordSize = 48

// Encode returns u's wire form as a 48-byte array, by value.
func Encode(u orderbook.OrderBookUpdate) [RecordSize]byte {
	var buf [RecordSize]byte

	buf[0] = byte(u.Type)
	// bytes 1..7 are padding, left zero.
	binary.LittleEndian.PutUint64(buf[8:16], u.OrderID)
	buf[16] = byte(u.Instrument)
	buf[17] = byte(u.Side)
	// bytes 18..23 are padding, left zero.
	binary.LittleEndian.PutUint32(buf[24:28], u.Price.Whole)
	buf[28] = u.Price.ThirtySecond
	buf[29] = u.Price.Half32nd
	// bytes 30..31 are padding, left zero.
	binary.LittleEndian.PutUint64(buf[32:40], u.Quantity)
	binary.LittleEndian.PutUint64(buf[40:48], uint64(u.Timestamp))

	return buf
}

// Decode parses a 48-byte record back into an OrderBookUpdate.
func Decode(buf []byte) (orderbook.OrderBookUpdate, error) {
	var u orderbook.OrderBookUpdate
	if len(buf) != RecordSize {
		return u, fmt.Errorf("wire: record must be %d bytes, got %d", RecordSize, len(buf))
	}

	u.Type = orderbook.UpdateType(buf[0])
	u.OrderID = binary.LittleEndian.Uint64(buf[8:16])
	u.Instrument = instrument.Instrument(buf[16])
	u.Side = orderbook.Side(buf[17])
	u.Price = price.Price32nd{
		Whole:        binary.LittleEndian.Uint32(buf[24:28]),
		ThirtySecond: buf[28],
		Half32nd:     buf[29],
	}
	u.Quantity = binary.LittleEndian.Uint64(buf[32:40])
	u.Timestamp = int64(binary.LittleEndian.Uint64(buf[40:48]))

	return u, nil
}

// BatchCompressor compresses concatenated 48-byte records for a
// consumer that drains the ring buffer in bulk and ships the result
// downstream; it is never used on the per-update hot path.
type BatchCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewBatchCompressor constructs a compressor at the balanced speed
// level, suited to non-latency-critical payloads.
func NewBatchCompressor() (*BatchCompressor, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("wire: construct zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("wire: construct zstd decoder: %w", err)
	}
	return &BatchCompressor{encoder: enc, decoder: dec}, nil
}

// Compress encodes updates as concatenated 48-byte records and returns
// the zstd-compressed result.
func (c *BatchCompressor) Compress(updates []orderbook.OrderBookUpdate) []byte {
	raw := make([]byte, 0, len(updates)*RecordSize)
	for _, u := range updates {
		rec := Encode(u)
		raw = append(raw, rec[:]...)
	}
	return c.encoder.EncodeAll(raw, nil)
}

// Decompress reverses Compress, returning the decoded updates in order.
func (c *BatchCompressor) Decompress(compressed []byte) ([]orderbook.OrderBookUpdate, error) {
	raw, err := c.decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("wire: zstd decompress: %w", err)
	}
	if len(raw)%RecordSize != 0 {
		return nil, fmt.Errorf("wire: decompressed payload not a multiple of %d bytes", RecordSize)
	}
	out := make([]orderbook.OrderBookUpdate, 0, len(raw)/RecordSize)
	for off := 0; off < len(raw); off += RecordSize {
		u, err := Decode(raw[off : off+RecordSize])
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// Close releases the underlying zstd resources.
func (c *BatchCompressor) Close() {
	c.encoder.Close()
	c.decoder.Close()
}
