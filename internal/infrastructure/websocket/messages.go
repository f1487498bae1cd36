package websocket

// Message is the envelope every hub broadcast travels in
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Message type constants
const (
	// TypeStatus carries one exchange loop's end-of-interval snapshot
	TypeStatus = "status"
)
