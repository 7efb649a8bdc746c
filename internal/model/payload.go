package model

import (
	"encoding/json"
	"fmt"
)

type PayloadKind string

const (
	KindDailyReading      PayloadKind = "daily_reading"
	KindBlogSubscriptions PayloadKind = "blog_subscriptions"
	KindImageQuote        PayloadKind = "image_quote"
)

// Kinds lists every payload kind.
var Kinds = []PayloadKind{KindDailyReading, KindBlogSubscriptions, KindImageQuote}

func (k PayloadKind) Valid() bool {
	switch k {
	case KindDailyReading, KindBlogSubscriptions, KindImageQuote:
		return true
	}
	return false
}

// Payload is the closed set of things a directive can post.
// Only the types in this file implement it.
type Payload interface {
	Kind() PayloadKind
	Describe() string
	isPayload()
}

// DailyReading posts the current content of a daily cache.
type DailyReading struct {
	Description string `json:"description"`
}

func (DailyReading) Kind() PayloadKind  { return KindDailyReading }
func (p DailyReading) Describe() string { return p.Description }
func (DailyReading) isPayload()         {}

// BlogSubscriptionSet posts new blog items for every subscribed source.
type BlogSubscriptionSet struct {
	Subscriptions []Pointer `json:"subscriptions"`
}

func (BlogSubscriptionSet) Kind() PayloadKind { return KindBlogSubscriptions }
func (BlogSubscriptionSet) Describe() string  { return "Blog Posts" }
func (BlogSubscriptionSet) isPayload()        {}

// Sources returns the subscribed source names in subscription order.
func (p BlogSubscriptionSet) Sources() []string {
	out := make([]string, 0, len(p.Subscriptions))
	for _, s := range p.Subscriptions {
		out = append(out, s.Source.Name)
	}
	return out
}

// Index returns the position of the subscription for name, or -1.
func (p BlogSubscriptionSet) Index(name string) int {
	for i, s := range p.Subscriptions {
		if s.Source.Name == name {
			return i
		}
	}
	return -1
}

// ImageQuote posts a single image.
type ImageQuote struct {
	Description   string `json:"description"`
	ImageLocation string `json:"imageLocation"`
}

func (ImageQuote) Kind() PayloadKind { return KindImageQuote }
func (p ImageQuote) Describe() string {
	if p.Description != "" {
		return p.Description
	}
	return "Image Quote"
}
func (ImageQuote) isPayload() {}

type payloadEnvelope struct {
	Kind PayloadKind     `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// MarshalPayload encodes p as {"kind": ..., "data": ...}.
func MarshalPayload(p Payload) ([]byte, error) {
	if p == nil {
		return nil, ErrUnknownPayload
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return json.Marshal(payloadEnvelope{Kind: p.Kind(), Data: data})
}

// UnmarshalPayload decodes the envelope written by MarshalPayload.
func UnmarshalPayload(b []byte) (Payload, error) {
	var env payloadEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, err
	}
	switch env.Kind {
	case KindDailyReading:
		var p DailyReading
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case KindBlogSubscriptions:
		var p BlogSubscriptionSet
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case KindImageQuote:
		var p ImageQuote
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPayload, env.Kind)
	}
}
