package mint

import (
	"strconv"

	"mintmgr/core/events"
	"mintmgr/core/types"
)

const (
	// EventTypeInstantiated is emitted once the mint configuration is stored.
	EventTypeInstantiated = "mint.instantiated"
	// EventTypePoolLoaded is emitted when the owner appends items to the pool.
	EventTypePoolLoaded = "mint.pool.loaded"
	// EventTypeItemAllocated is emitted for every item drawn from the pool.
	EventTypeItemAllocated = "mint.item.allocated"
	// EventTypePaymentAccepted is emitted once per successful paid allocation.
	EventTypePaymentAccepted = "mint.payment.accepted"
)

type eventEnvelope struct {
	evt *types.Event
}

func (e eventEnvelope) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e eventEnvelope) Event() *types.Event { return e.evt }

// WrapEvent converts a raw event payload into the emitter-friendly envelope.
func WrapEvent(evt *types.Event) events.Event { return eventEnvelope{evt: evt} }

// InstantiatedEvent announces the configured channels.
func InstantiatedEvent(owner string, channels []string) *types.Event {
	attrs := map[string]string{"owner": owner}
	for i, kind := range channels {
		attrs["channel"+strconv.Itoa(i)] = kind
	}
	return &types.Event{Type: EventTypeInstantiated, Attributes: attrs}
}

// PoolLoadedEvent reports a pool load.
func PoolLoadedEvent(added int, total uint64) *types.Event {
	return &types.Event{
		Type: EventTypePoolLoaded,
		Attributes: map[string]string{
			"added": strconv.Itoa(added),
			"total": strconv.FormatUint(total, 10),
		},
	}
}

// ItemAllocatedEvent records one draw.
func ItemAllocatedEvent(tokenID string, recipient string, channel string, index uint64, remaining uint64) *types.Event {
	return &types.Event{
		Type: EventTypeItemAllocated,
		Attributes: map[string]string{
			"tokenId":   tokenID,
			"recipient": recipient,
			"channel":   channel,
			"index":     strconv.FormatUint(index, 10),
			"remaining": strconv.FormatUint(remaining, 10),
		},
	}
}

// PaymentAcceptedEvent records the payment that funded an allocation.
func PaymentAcceptedEvent(channel string, sender string, amount string, quantity uint32) *types.Event {
	return &types.Event{
		Type: EventTypePaymentAccepted,
		Attributes: map[string]string{
			"channel":  channel,
			"sender":   sender,
			"amount":   amount,
			"quantity": strconv.FormatUint(uint64(quantity), 10),
		},
	}
}
