package bus

// Bus holds the three named queues wired together at startup: incoming
// (client -> router), outgoing (service -> router), and websocket_out
// (router -> gateway). It has no behavior of its own, only composition.
type Bus struct {
	Incoming     *Queue
	Outgoing     *Queue
	WebsocketOut *Queue
}

// NewBus constructs the three standing queues at the given capacity.
func NewBus(capacity int) *Bus {
	return &Bus{
		Incoming:     New("incoming", capacity),
		Outgoing:     New("outgoing", capacity),
		WebsocketOut: New("websocket_out", capacity),
	}
}

// Stats is a point-in-time snapshot of queue depths, used by the stats
// HTTP endpoint.
type Stats struct {
	Incoming     int `json:"incoming"`
	Outgoing     int `json:"outgoing"`
	WebsocketOut int `json:"websocket_out"`
}

func (b *Bus) Stats() Stats {
	return Stats{
		Incoming:     b.Incoming.QSize(),
		Outgoing:     b.Outgoing.QSize(),
		WebsocketOut: b.WebsocketOut.QSize(),
	}
}
