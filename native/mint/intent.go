package mint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	intentKey       = "receive_mint"
	legacyIntentPre = "receive_mint_"
)

// Intent is the decoded instruction a payer attaches to a payment.
type Intent struct {
	Channel  string
	Quantity uint32
}

type intentBody struct {
	Channel  string  `json:"channel"`
	Quantity *uint32 `json:"quantity"`
}

// DecodeIntent parses `{"receive_mint":{"channel":"scrt","quantity":2}}`. The
// single-key forms `{"receive_mint_scrt":{}}` name the channel in the key.
// An omitted quantity means one item.
func DecodeIntent(raw []byte) (Intent, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Intent{}, ErrIntentRequired
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Intent{}, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
	}
	if len(envelope) != 1 {
		return Intent{}, fmt.Errorf("%w: expected exactly one variant, got %d", ErrInvalidIntent, len(envelope))
	}
	for key, payload := range envelope {
		var body intentBody
		if trimmed := bytes.TrimSpace(payload); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
			if err := json.Unmarshal(trimmed, &body); err != nil {
				return Intent{}, fmt.Errorf("%w: %v", ErrInvalidIntent, err)
			}
		}
		intent := Intent{Channel: strings.TrimSpace(body.Channel), Quantity: 1}
		if body.Quantity != nil {
			intent.Quantity = *body.Quantity
		}
		switch {
		case key == intentKey:
		case strings.HasPrefix(key, legacyIntentPre):
			kind := strings.TrimPrefix(key, legacyIntentPre)
			if intent.Channel != "" && !strings.EqualFold(intent.Channel, kind) {
				return Intent{}, fmt.Errorf("%w: variant %s names channel %s", ErrInvalidIntent, key, intent.Channel)
			}
			intent.Channel = kind
		default:
			return Intent{}, fmt.Errorf("%w: unknown variant %q", ErrInvalidIntent, key)
		}
		return intent, nil
	}
	return Intent{}, ErrInvalidIntent
}
