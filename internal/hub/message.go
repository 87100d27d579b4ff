package hub

// TypeBatch is the reserved envelope type for coalesced messages.
// Its data field carries the wrapped messages in original submission order.
const TypeBatch = "batch"

// Message is the envelope for every frame sent to dashboard clients.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
