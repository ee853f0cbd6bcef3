package wire

import "encoding/json"

// Channel names the broker recognises for stream subscriptions.
type Channel string

const (
	ChannelTrades Channel = "trades"
	ChannelBook   Channel = "book"
)

// ControlAction identifies the verb of an outbound control frame.
type ControlAction string

const (
	ActionSubscribe   ControlAction = "subscribe"
	ActionUnsubscribe ControlAction = "unsubscribe"
	ActionFormat      ControlAction = "format"
)

// controlFrame is the JSON shape sent on the control channel. Fields are
// omitted when not relevant to Action, matching the broker's documented
// control protocol.
type controlFrame struct {
	Action  ControlAction `json:"action"`
	Channel Channel       `json:"channel,omitempty"`
	Symbols []string      `json:"symbols,omitempty"`
	Format  string        `json:"format,omitempty"`
}

// EncodeSubscribe builds a subscribe control frame for the given channel
// and symbols.
func EncodeSubscribe(channel Channel, symbols []string) ([]byte, error) {
	return json.Marshal(controlFrame{
		Action:  ActionSubscribe,
		Channel: channel,
		Symbols: symbols,
	})
}

// EncodeUnsubscribe builds an unsubscribe control frame.
func EncodeUnsubscribe(channel Channel, symbols []string) ([]byte, error) {
	return json.Marshal(controlFrame{
		Action:  ActionUnsubscribe,
		Channel: channel,
		Symbols: symbols,
	})
}

// EncodeFormat requests the binary wire format on the stream, which this
// client always does immediately after connecting.
func EncodeFormat(format string) ([]byte, error) {
	return json.Marshal(controlFrame{
		Action: ActionFormat,
		Format: format,
	})
}

// Ack is the broker's JSON acknowledgement of a control frame.
type Ack struct {
	Action    ControlAction `json:"action"`
	Channel   Channel       `json:"channel,omitempty"`
	Accepted  []string      `json:"accepted,omitempty"`
	Rejected  []string      `json:"rejected,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// DecodeAck parses a broker acknowledgement frame.
func DecodeAck(data []byte) (*Ack, error) {
	var a Ack
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, err
	}
	return &a, nil
}
