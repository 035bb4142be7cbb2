package termbridge

// eventFanout forwards every event to each registered sink, skipping nils.
type eventFanout struct {
	sinks []EventSink
}

func (f eventFanout) OnOutput(event OutputEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnOutput(event)
	}
}

func (f eventFanout) OnConnectionState(event ConnectionEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnConnectionState(event)
	}
}

func (f eventFanout) OnTabEvent(event TabEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnTabEvent(event)
	}
}
