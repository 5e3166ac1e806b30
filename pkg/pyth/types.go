package pyth

import (
	"errors"
	"fmt"
	"net/http"
)

// PriceFeed is one element of the Hermes latest_price_feeds array.
type PriceFeed struct {
	ID    string `json:"id"`    // hex feed id, with or without "0x"
	Price Price  `json:"price"` // latest aggregate price
}

// Price is a mantissa/exponent pair; the real value is Price × 10^Expo.
type Price struct {
	Price       string `json:"price"`        // integer mantissa as a string
	Conf        string `json:"conf"`         // confidence interval mantissa, same exponent
	Expo        int32  `json:"expo"`         // power-of-ten exponent, usually negative
	PublishTime int64  `json:"publish_time"` // unix seconds
}

// SubscribeRequest is sent over the Hermes WebSocket to subscribe feeds.
type SubscribeRequest struct {
	Type string   `json:"type"`
	IDs  []string `json:"ids"`
}

// ErrEmptyResponse is returned when Hermes answers 200 with no feeds.
var ErrEmptyResponse = errors.New("hermes returned no price feeds")

// StatusError reports a non-200 Hermes response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("hermes error: status %d: %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a Hermes 404, which Hermes uses when any
// requested feed id is unknown.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}
