package transfer

// EventKind tags the variant carried by Event, matching §3/§4.8's event
// taxonomy: a fixed, ordered lifecycle with exactly one terminal case.
type EventKind int

const (
	EventPreparing EventKind = iota
	EventConnecting
	EventConnected
	EventTransfer
	EventCompleted
	EventError
)

// Event is a single progress observation. Only the fields relevant to
// Kind are populated; the sum-type boundary is enforced by convention
// (mirroring the source's preference for a tagged variant over
// subclassing) rather than by the Go type system.
type Event struct {
	Kind EventKind

	// EventTransfer fields.
	Name                   string
	ForkSize               int64 // size of the fork currently in flight
	TotalSent              int64 // cumulative bytes moved for the whole transfer
	TransferTotal          int64 // total expected bytes for the whole transfer
	BytesPerSecond         float64
	HasBytesPerSecond      bool
	EstimatedTimeRemaining float64
	HasETA                 bool

	// EventCompleted fields.
	LocalURL string

	// EventError fields.
	ErrKind ErrorKind
}

// Emitter is the callback signature every transfer client invokes for each
// lifecycle event. A nil Emitter is valid and simply drops events.
type Emitter func(Event)

func emit(cb Emitter, e Event) {
	if cb != nil {
		cb(e)
	}
}

func emitPreparing(cb Emitter) { emit(cb, Event{Kind: EventPreparing}) }

func emitConnecting(cb Emitter) { emit(cb, Event{Kind: EventConnecting}) }

func emitConnected(cb Emitter) { emit(cb, Event{Kind: EventConnected}) }

func emitCompleted(cb Emitter, localURL string) {
	emit(cb, Event{Kind: EventCompleted, LocalURL: localURL})
}

func emitError(cb Emitter, kind ErrorKind) {
	emit(cb, Event{Kind: EventError, ErrKind: kind})
}

// emitTransfer folds one rate-estimator Progress sample into a
// transfer(...) event for the named fork.
func emitTransfer(cb Emitter, name string, forkSize, total int64, p Progress) {
	e := Event{
		Kind:          EventTransfer,
		Name:          name,
		ForkSize:      forkSize,
		TotalSent:     p.Sent,
		TransferTotal: total,
	}
	if p.Ready {
		e.BytesPerSecond = p.BytesPerSecond
		e.HasBytesPerSecond = true
		e.EstimatedTimeRemaining = p.ETASeconds
		e.HasETA = true
	}
	emit(cb, e)
}
