package venue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/mirrorbot/internal/domain"
)

// wsCommand is the subscription message the session sends over the feed.
// from_timestamp tells the venue not to replay full order history.
type wsCommand struct {
	Topic         string `json:"topic"`
	Address       string `json:"address"`
	FromTimestamp int64  `json:"from_timestamp"`
}

// wsEnvelope is the outer shape of every feed message. Only
// message == "order_history" carries order events; everything else is
// ignored by the engine.
type wsEnvelope struct {
	Message string            `json:"message"`
	Data    []json.RawMessage `json:"data"`
}

// topicOrderHistory is the only feed topic this engine subscribes to.
const topicOrderHistory = "order_history"

// APIOrderEvent is the wire form of one order on the venue feed. Numeric
// fields arrive as strings; conversion happens exactly once, at this
// boundary, so the engine internals stay strongly typed.
type APIOrderEvent struct {
	OrderID   string `json:"order_id"`
	Address   string `json:"address"`
	MarketID  string `json:"market_id"`
	OrderType int    `json:"order_type"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Leverage  int    `json:"leverage"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"` // unix seconds, string-encoded
}

// ToDomain converts the wire event into the internal OrderEvent.
func (e *APIOrderEvent) ToDomain() (domain.OrderEvent, error) {
	if e.OrderID == "" {
		return domain.OrderEvent{}, fmt.Errorf("venue: event missing order_id")
	}
	secs, err := strconv.ParseInt(e.Timestamp, 10, 64)
	if err != nil {
		return domain.OrderEvent{}, fmt.Errorf("venue: event %s: bad timestamp %q: %w", e.OrderID, e.Timestamp, err)
	}
	return domain.OrderEvent{
		OrderID:        e.OrderID,
		ProfileAddress: e.Address,
		MarketID:       e.MarketID,
		OrderTypeCode:  e.OrderType,
		Price:          e.Price,
		Size:           e.Size,
		Leverage:       e.Leverage,
		Status:         e.Status,
		Timestamp:      time.Unix(secs, 0).UTC(),
	}, nil
}

// apiResponse is the standard REST envelope: {success, message, data}.
type apiResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}
