package realtime

import (
	"encoding/json"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
	"nhooyr.io/websocket"
)

const (
	TypeSubscribePrice   = "subscribe_price"
	TypeUnsubscribePrice = "unsubscribe_price"
	TypePriceUpdate      = "price_update"
	TypeAlertTriggered   = "alert_triggered"
	TypeError            = "error"
)

const (
	FormatJSON    = "json"
	FormatMsgpack = "msgpack"
)

// Request is a message from an observer.
type Request struct {
	Type      string `json:"type" msgpack:"type"`
	TokenID   string `json:"tokenId" msgpack:"tokenId"`
	AccountID string `json:"accountId,omitempty" msgpack:"accountId,omitempty"`
	// Interval is the sampling period in milliseconds.
	Interval int64  `json:"interval,omitempty" msgpack:"interval,omitempty"`
	Format   string `json:"format,omitempty" msgpack:"format,omitempty"`
}

// Message is pushed to observers.
type Message struct {
	Type    string `json:"type" msgpack:"type"`
	TokenID string `json:"tokenId,omitempty" msgpack:"tokenId,omitempty"`
	Data    any    `json:"data,omitempty" msgpack:"data,omitempty"`
	Error   string `json:"error,omitempty" msgpack:"error,omitempty"`
}

func normalizeFormat(format string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatJSON:
		return FormatJSON, true
	case FormatMsgpack:
		return FormatMsgpack, true
	default:
		return "", false
	}
}

func encode(format string, msg Message) (websocket.MessageType, []byte, error) {
	if format == FormatMsgpack {
		data, err := msgpack.Marshal(msg)
		return websocket.MessageBinary, data, err
	}
	data, err := json.Marshal(msg)
	return websocket.MessageText, data, err
}

// decodeRequest reads text frames as JSON and binary frames as msgpack.
func decodeRequest(typ websocket.MessageType, data []byte) (Request, error) {
	var req Request
	if typ == websocket.MessageBinary {
		err := msgpack.Unmarshal(data, &req)
		return req, err
	}
	err := json.Unmarshal(data, &req)
	return req, err
}
