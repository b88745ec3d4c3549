package domain

import (
	"context"
	"strconv"
)

// SmsResult is the part of the gateway response that is safe to show users.
type SmsResult struct {
	Status       string `json:"status"`
	SegmentCount int    `json:"segment_count,omitempty"`
}

// Fields renders the result for a tabular reply.
func (r SmsResult) Fields() []Field {
	fields := []Field{{Key: "status", Value: r.Status}}
	if r.SegmentCount > 0 {
		fields = append(fields, Field{Key: "segment_count", Value: strconv.Itoa(r.SegmentCount)})
	}
	return fields
}

// SmsGateway sends plain SMS on behalf of an owned number.
// A failed delivery returns an error whose message carries the gateway body.
type SmsGateway interface {
	SendSMS(ctx context.Context, source, destination, text string) (SmsResult, error)
}

// NumberProvider searches, buys, and configures phone numbers.
type NumberProvider interface {
	SearchNumbers(ctx context.Context, areaCode string, limit int) ([]string, error)
	BuyNumber(ctx context.Context, number string) error
	SetSMSURL(ctx context.Context, number, url string) error
}

// PriceOracle returns the current exchange rate (USD per MOB).
type PriceOracle interface {
	Rate(ctx context.Context) (float64, error)
}

// SmsMessage is one SMS posted to us by the gateway.
type SmsMessage struct {
	Source      string
	Destination string
	Message     string
}

// Fields renders the message for a tabular reply. Replies quoting it are
// relayed back from Destination to Source.
func (m SmsMessage) Fields() []Field {
	return []Field{
		{Key: "source", Value: m.Source},
		{Key: "destination", Value: m.Destination},
		{Key: "message", Value: m.Message},
	}
}

func (m SmsMessage) String() string {
	return "{source: " + m.Source + ", destination: " + m.Destination + ", message: " + m.Message + "}"
}
