// Package wire implements the broker's streaming wire protocol: binary,
// length-prefixed Trade and Book frames inbound, and JSON control frames
// outbound (subscribe / unsubscribe / format).
package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// FrameType identifies the kind of inbound binary frame.
type FrameType byte

const (
	FrameTrade FrameType = 'T'
	FrameBook  FrameType = 'B'
)

// DepthLevels is the number of price levels carried in a Book frame's size
// vectors, matching the broker's published top-of-book depth.
const DepthLevels = 10

// Trade is a single executed trade tick.
type Trade struct {
	Symbol    string
	Timestamp int64 // unix nanoseconds
	Price     float64
	Size      int64
	Side      byte // 'B' aggressor buy, 'S' aggressor sell, 0 unknown
}

// Book is an absolute top-of-book snapshot: the latest state replaces
// whatever the consumer previously held for this symbol, it does not
// represent a delta.
type Book struct {
	Symbol    string
	Timestamp int64
	BidPrice  float64
	BidSize   int64
	AskPrice  float64
	AskSize   int64
	BidSizes  [DepthLevels]int64 // size at each of the top N bid levels
	AskSizes  [DepthLevels]int64
}

// DecodeFrame reads one length-prefixed frame from buf and returns the
// decoded Trade or Book and the number of bytes consumed. buf must contain
// at least one full frame; callers read frames off a buffered stream and
// re-slice after each successful decode.
func DecodeFrame(buf []byte) (frameType FrameType, trade *Trade, book *Book, consumed int, err error) {
	if len(buf) < 2 {
		return 0, nil, nil, 0, fmt.Errorf("wire: short frame header (%d bytes)", len(buf))
	}
	bodyLen := int(binary.BigEndian.Uint16(buf[0:2]))
	if len(buf) < 2+bodyLen {
		return 0, nil, nil, 0, fmt.Errorf("wire: incomplete frame (need %d, have %d)", 2+bodyLen, len(buf))
	}
	body := buf[2 : 2+bodyLen]
	consumed = 2 + bodyLen
	if len(body) == 0 {
		return 0, nil, nil, 0, fmt.Errorf("wire: empty frame body")
	}

	switch FrameType(body[0]) {
	case FrameTrade:
		t, err := decodeTrade(body)
		return FrameTrade, t, nil, consumed, err
	case FrameBook:
		b, err := decodeBook(body)
		return FrameBook, nil, b, consumed, err
	default:
		return 0, nil, nil, consumed, fmt.Errorf("wire: unknown frame type %q", body[0])
	}
}

// decodeTrade layout: Type(1) Timestamp(8) Symbol(8) Price(8) Size(8) Side(1)
func decodeTrade(body []byte) (*Trade, error) {
	const want = 1 + 8 + 8 + 8 + 8 + 1
	if len(body) < want {
		return nil, fmt.Errorf("wire: trade frame too short (%d < %d)", len(body), want)
	}
	t := &Trade{}
	off := 1
	t.Timestamp = int64(binary.BigEndian.Uint64(body[off : off+8]))
	off += 8
	t.Symbol = trimSymbol(body[off : off+8])
	off += 8
	t.Price = bitsToFloat(binary.BigEndian.Uint64(body[off : off+8]))
	off += 8
	t.Size = int64(binary.BigEndian.Uint64(body[off : off+8]))
	off += 8
	t.Side = body[off]
	return t, nil
}

// decodeBook layout: Type(1) Timestamp(8) Symbol(8) BidPrice(8) BidSize(8)
// AskPrice(8) AskSize(8) BidSizes(8*10) AskSizes(8*10)
func decodeBook(body []byte) (*Book, error) {
	const want = 1 + 8 + 8 + 8 + 8 + 8 + 8*DepthLevels + 8*DepthLevels
	if len(body) < want {
		return nil, fmt.Errorf("wire: book frame too short (%d < %d)", len(body), want)
	}
	b := &Book{}
	off := 1
	b.Timestamp = int64(binary.BigEndian.Uint64(body[off : off+8]))
	off += 8
	b.Symbol = trimSymbol(body[off : off+8])
	off += 8
	b.BidPrice = bitsToFloat(binary.BigEndian.Uint64(body[off : off+8]))
	off += 8
	b.BidSize = int64(binary.BigEndian.Uint64(body[off : off+8]))
	off += 8
	b.AskPrice = bitsToFloat(binary.BigEndian.Uint64(body[off : off+8]))
	off += 8
	b.AskSize = int64(binary.BigEndian.Uint64(body[off : off+8]))
	off += 8
	for i := 0; i < DepthLevels; i++ {
		b.BidSizes[i] = int64(binary.BigEndian.Uint64(body[off : off+8]))
		off += 8
	}
	for i := 0; i < DepthLevels; i++ {
		b.AskSizes[i] = int64(binary.BigEndian.Uint64(body[off : off+8]))
		off += 8
	}
	return b, nil
}

func trimSymbol(b []byte) string {
	end := len(b)
	for end > 0 && b[end-1] == ' ' {
		end--
	}
	return string(b[:end])
}

func bitsToFloat(bits uint64) float64 {
	return math.Float64frombits(bits)
}
