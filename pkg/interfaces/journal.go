package interfaces

import "roomcast/pkg/types"

// Journal records connection lifecycle events. Record must not block.
type Journal interface {
	Record(event types.LifecycleEvent)
}

// NopJournal discards every event.
type NopJournal struct{}

func (NopJournal) Record(types.LifecycleEvent) {}
