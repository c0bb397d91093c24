package hub

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/FYLA-Organization/fylachat/internal/bus"
)

// Bridge decodes hub push events and republishes them as typed bus events
// under the "hub." namespace. It does not touch the store directly; the
// reconciler and trackers subscribe to the bus independently.
type Bridge struct {
	bus    *bus.Bus
	logger *zap.Logger
}

// NewBridge creates a bridge publishing on b.
func NewBridge(b *bus.Bus, logger *zap.Logger) *Bridge {
	return &Bridge{bus: b, logger: logger}
}

// Register subscribes the bridge to all push events on ch. The returned
// disposer removes every handler; it must run on disconnect so a reconnect
// does not double-register.
func (br *Bridge) Register(ch Channel) func() {
	disposers := []func(){
		ch.On(EvtReceiveMessage, br.onMessage),
		ch.On(EvtMessageDelivered, br.receiptHandler("hub.delivered")),
		ch.On(EvtMessageRead, br.receiptHandler("hub.read")),
		ch.On(EvtMessagesRead, br.onBulkRead),
		ch.On(EvtUserTyping, br.typingHandler("hub.typing")),
		ch.On(EvtUserStoppedTyping, br.typingHandler("hub.stop_typing")),
	}
	return func() {
		for _, d := range disposers {
			d()
		}
	}
}

func (br *Bridge) onMessage(payload json.RawMessage) {
	var p MessagePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		br.logger.Warn("malformed message payload", zap.Error(err))
		return
	}
	br.bus.Emit("hub.message", p.ToStoreMessage())
}

func (br *Bridge) receiptHandler(kind string) Handler {
	return func(payload json.RawMessage) {
		var r Receipt
		if err := json.Unmarshal(payload, &r); err != nil {
			br.logger.Warn("malformed receipt payload", zap.String("kind", kind), zap.Error(err))
			return
		}
		br.bus.Emit(kind, r)
	}
}

func (br *Bridge) onBulkRead(payload json.RawMessage) {
	var r BulkReceipt
	if err := json.Unmarshal(payload, &r); err != nil {
		br.logger.Warn("malformed bulk receipt payload", zap.Error(err))
		return
	}
	br.bus.Emit("hub.bulk_read", r)
}

func (br *Bridge) typingHandler(kind string) Handler {
	return func(payload json.RawMessage) {
		var s TypingSignal
		if err := json.Unmarshal(payload, &s); err != nil {
			br.logger.Warn("malformed typing payload", zap.String("kind", kind), zap.Error(err))
			return
		}
		br.bus.Emit(kind, s)
	}
}
