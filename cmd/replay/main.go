// Command replay connects to the broker's WebSocket stream directly,
// subscribes to one or more symbols, and prints every decoded trade/book
// frame in human-readable form. It exists for debugging broker
// connectivity without bringing up the full surveillance daemon.
//
// Usage:
//
//	replay                                  # connect to ws://localhost:8090/stream, subscribe to all
//	replay -url wss://broker.example.com/stream
//	replay -symbols AAPL,MSFT
//	replay -stats 10                        # print message rate stats every N seconds
//	replay -hex                             # also dump raw hex alongside decoded output
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/surveillance/presurge/internal/broker/wire"
)

func main() {
	url := flag.String("url", "ws://localhost:8090/stream", "broker WebSocket stream endpoint")
	symbols := flag.String("symbols", "*", "comma-separated symbols or * for all")
	statsInterval := flag.Int("stats", 0, "print message rate stats every N seconds (0 = off)")
	showHex := flag.Bool("hex", false, "print raw hex dump alongside decoded output")
	flag.Parse()

	log.SetFlags(log.Ltime | log.Lmicroseconds)

	log.Printf("connecting to %s", *url)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	log.Println("connected")

	if err := sendControl(conn, wire.EncodeFormat("binary")); err != nil {
		log.Fatalf("request format: %v", err)
	}

	symList := strings.Split(*symbols, ",")
	if err := sendControl(conn, wire.EncodeSubscribe(wire.ChannelTrades, symList)); err != nil {
		log.Fatalf("subscribe trades: %v", err)
	}
	if err := sendControl(conn, wire.EncodeSubscribe(wire.ChannelBook, symList)); err != nil {
		log.Fatalf("subscribe book: %v", err)
	}
	log.Printf("subscribed to %s (trades+book)", *symbols)

	var msgCount uint64
	if *statsInterval > 0 {
		go func() {
			ticker := time.NewTicker(time.Duration(*statsInterval) * time.Second)
			defer ticker.Stop()
			var last uint64
			for range ticker.C {
				cur := atomic.LoadUint64(&msgCount)
				delta := cur - last
				rate := float64(delta) / float64(*statsInterval)
				log.Printf("[stats] %d msgs total | %.1f msgs/sec", cur, rate)
				last = cur
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("shutting down...")
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		time.Sleep(200 * time.Millisecond)
		os.Exit(0)
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			log.Fatalf("read: %v", err)
		}
		if msgType != websocket.BinaryMessage {
			fmt.Println(string(data))
			continue
		}

		atomic.AddUint64(&msgCount, 1)
		decodeFrames(data, *showHex)
	}
}

func sendControl(conn *websocket.Conn, frame []byte, err error) error {
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// decodeFrames decodes every length-prefixed frame packed into one
// WebSocket binary message, same framing the stream client expects.
func decodeFrames(data []byte, showHex bool) {
	offset := 0
	for offset < len(data) {
		frameType, trade, book, consumed, err := wire.DecodeFrame(data[offset:])
		if err != nil {
			fmt.Printf("??? decode error at offset %d: %v\n", offset, err)
			return
		}
		if showHex {
			printHex(data[offset : offset+consumed])
		}
		switch frameType {
		case wire.FrameTrade:
			printTrade(trade)
		case wire.FrameBook:
			printBook(book)
		}
		offset += consumed
	}
}

func printTrade(t *wire.Trade) {
	fmt.Printf("TRADE    %s  stock=%-8s  %4s  %8d @ %s\n",
		fmtTimestamp(t.Timestamp), t.Symbol, fmtSide(t.Side), t.Size, fmtPrice(t.Price))
}

func printBook(b *wire.Book) {
	fmt.Printf("BOOK     %s  stock=%-8s  bid=%8d@%-10s  ask=%8d@%-10s\n",
		fmtTimestamp(b.Timestamp), b.Symbol, b.BidSize, fmtPrice(b.BidPrice), b.AskSize, fmtPrice(b.AskPrice))
}

func fmtTimestamp(nanos int64) string {
	return time.Unix(0, nanos).Format("15:04:05.000000")
}

func fmtPrice(p float64) string {
	return fmt.Sprintf("%.4f", p)
}

func fmtSide(b byte) string {
	switch b {
	case 'B':
		return "BUY"
	case 'S':
		return "SELL"
	default:
		return "?"
	}
}

func printHex(data []byte) {
	var sb strings.Builder
	sb.WriteString("         hex: ")
	for i, b := range data {
		if i > 0 && i%16 == 0 {
			sb.WriteString("\n              ")
		}
		fmt.Fprintf(&sb, "%02x ", b)
	}
	fmt.Println(sb.String())
}
