package wire

import (
	"encoding/binary"
	"math"
	"testing"
)

func encodeTradeFrame(t *Trade) []byte {
	body := make([]byte, 1+8+8+8+8+1)
	body[0] = byte(FrameTrade)
	off := 1
	binary.BigEndian.PutUint64(body[off:off+8], uint64(t.Timestamp))
	off += 8
	copy(body[off:off+8], padSymbol(t.Symbol))
	off += 8
	binary.BigEndian.PutUint64(body[off:off+8], math.Float64bits(t.Price))
	off += 8
	binary.BigEndian.PutUint64(body[off:off+8], uint64(t.Size))
	off += 8
	body[off] = t.Side

	frame := make([]byte, 2+len(body))
	binary.BigEndian.PutUint16(frame[0:2], uint16(len(body)))
	copy(frame[2:], body)
	return frame
}

func padSymbol(s string) []byte {
	var b [8]byte
	copy(b[:], s)
	for i := len(s); i < 8; i++ {
		b[i] = ' '
	}
	return b[:]
}

func TestDecodeFrameTrade(t *testing.T) {
	want := &Trade{Symbol: "NEXO", Timestamp: 123456789, Price: 185.25, Size: 100, Side: 'B'}
	frame := encodeTradeFrame(want)

	ft, trade, book, consumed, err := DecodeFrame(frame)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if ft != FrameTrade || book != nil {
		t.Fatalf("expected trade frame, got type=%v book=%v", ft, book)
	}
	if consumed != len(frame) {
		t.Fatalf("consumed = %d, want %d", consumed, len(frame))
	}
	if trade.Symbol != want.Symbol || trade.Price != want.Price || trade.Size != want.Size || trade.Side != want.Side {
		t.Fatalf("decoded trade mismatch: got %+v, want %+v", trade, want)
	}
}

func TestDecodeFrameShortHeader(t *testing.T) {
	_, _, _, _, err := DecodeFrame([]byte{0x00})
	if err == nil {
		t.Fatal("expected error for short header")
	}
}

func TestDecodeFrameIncompleteBody(t *testing.T) {
	frame := encodeTradeFrame(&Trade{Symbol: "AAA"})
	_, _, _, _, err := DecodeFrame(frame[:len(frame)-4])
	if err == nil {
		t.Fatal("expected error for truncated frame")
	}
}

func TestEncodeDecodeSubscribeControl(t *testing.T) {
	data, err := EncodeSubscribe(ChannelTrades, []string{"NEXO", "QBIT"})
	if err != nil {
		t.Fatalf("EncodeSubscribe: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty control frame")
	}
}

func TestDecodeAck(t *testing.T) {
	raw := []byte(`{"action":"subscribe","channel":"trades","accepted":["NEXO"],"rejected":["ZZZZ"]}`)
	ack, err := DecodeAck(raw)
	if err != nil {
		t.Fatalf("DecodeAck: %v", err)
	}
	if len(ack.Accepted) != 1 || ack.Accepted[0] != "NEXO" {
		t.Fatalf("unexpected accepted: %+v", ack.Accepted)
	}
	if len(ack.Rejected) != 1 || ack.Rejected[0] != "ZZZZ" {
		t.Fatalf("unexpected rejected: %+v", ack.Rejected)
	}
}
