package termbridge

// OutputEvent carries one coalesced frame of terminal output for a slot.
// Text is always valid UTF-8.
type OutputEvent struct {
	Slot int
	Text string
	// Scrollback marks history preloaded from the remote rather than
	// live output; the view should render it before live frames.
	Scrollback bool
}

// ConnectionEvent reports a transport state transition.
type ConnectionEvent struct {
	State   string
	Attempt int    // reconnect attempt number, when reconnecting
	Reason  string // failure message, when the transition was caused by one
}

// TabEventKind classifies tab lifecycle changes.
type TabEventKind string

const (
	TabOpened     TabEventKind = "opened"
	TabClosed     TabEventKind = "closed"
	TabDetached   TabEventKind = "detached"
	TabDead       TabEventKind = "dead"
	TabReset      TabEventKind = "reset"
	TabReattached TabEventKind = "reattached"
	TabTmuxFound  TabEventKind = "tmux-found"
)

// TabEvent reports a tab lifecycle change. Slot is zero for events that
// concern no particular tab.
type TabEvent struct {
	Kind   TabEventKind
	Slot   int
	Target string
}

// EventSink receives everything the UI layer needs to render. Methods are
// called from transport goroutines and must not block.
type EventSink interface {
	OnOutput(OutputEvent)
	OnConnectionState(ConnectionEvent)
	OnTabEvent(TabEvent)
}
