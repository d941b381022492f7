package events

// Event represents a structured state change emitted by an engine.
type Event interface {
	EventType() string
}

// Emitter broadcasts events to downstream subscribers (e.g. the gateway's
// websocket stream, metrics recorders, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// MultiEmitter fans a single event out to every configured emitter in order.
type MultiEmitter []Emitter

// Emit implements the Emitter interface.
func (m MultiEmitter) Emit(evt Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(evt)
		}
	}
}
