package domain

import "time"

// EventType enumerates engine events published to notifiers and the signal bus.
type EventType string

const (
	EventPositionOpened      EventType = "position.opened"
	EventPositionClosed      EventType = "position.closed"
	EventStopUpdated         EventType = "stop.updated"
	EventProfitLockActivated EventType = "profitlock.activated"
	EventDrawdownAlert       EventType = "drawdown.alert"
	EventLedgerDrift         EventType = "ledger.drift"
)

// Event is one engine occurrence worth telling a human (or a stream) about.
type Event struct {
	Type      EventType
	Ticker    string
	Strategy  Strategy
	Message   string
	Fields    map[string]any
	CreatedAt time.Time
}
