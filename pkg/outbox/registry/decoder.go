package registry

import (
	"encoding/json"
	"fmt"

	"github.com/angelmondragon/marketplace-orders/pkg/enums"
)

type decodeFunc func(payload json.RawMessage) (any, error)

type versionedEvent struct {
	eventType enums.OutboxEventType
	version   int
}

// DecoderRegistry maps (event type, envelope version) to a payload decoder on the
// consumer side. It is populated once at startup and read-only afterwards.
type DecoderRegistry struct {
	decoders map[versionedEvent]decodeFunc
}

func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{decoders: make(map[versionedEvent]decodeFunc)}
}

// RegisterJSON decodes payloads of eventType@version into a T value.
func RegisterJSON[T any](r *DecoderRegistry, eventType enums.OutboxEventType, version int) {
	r.decoders[versionedEvent{eventType: eventType, version: version}] = func(payload json.RawMessage) (any, error) {
		var out T
		if err := json.Unmarshal(payload, &out); err != nil {
			return nil, fmt.Errorf("decode %s@v%d: %w", eventType, version, err)
		}
		return out, nil
	}
}

func (r *DecoderRegistry) Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (any, error) {
	decode, ok := r.decoders[versionedEvent{eventType: eventType, version: version}]
	if !ok {
		return nil, fmt.Errorf("no decoder for %s@v%d", eventType, version)
	}
	return decode(payload)
}
