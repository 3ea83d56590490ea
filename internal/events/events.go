// Package events provides a non-blocking event bus for scenario, phase and injection lifecycle notifications.
package events

import "time"

// EventType represents the type of event
type EventType string

const (
	// EventScenarioStarted is emitted when the scheduler starts a scenario
	EventScenarioStarted EventType = "scenario_started"
	// EventScenarioFinished is emitted when a scenario reaches a terminal state
	EventScenarioFinished EventType = "scenario_finished"
	// EventPhaseStarted is emitted when a phase enters Running
	EventPhaseStarted EventType = "phase_started"
	// EventPhaseCompleted is emitted after every handle of a phase is cleaned or leaked
	EventPhaseCompleted EventType = "phase_completed"
	// EventInjectionApplied is emitted when an injection becomes Active
	EventInjectionApplied EventType = "injection_applied"
	// EventInjectionFailed is emitted when an injection could not be applied
	EventInjectionFailed EventType = "injection_failed"
	// EventHandleCleaned is emitted when a handle was reverted successfully
	EventHandleCleaned EventType = "handle_cleaned"
	// EventHandleLeaked is emitted when reverting a handle failed
	EventHandleLeaked EventType = "handle_leaked"
)

// Event represents a lifecycle event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Scenario  string    `json:"scenario,omitempty"`
	Phase     string    `json:"phase,omitempty"`
	TargetID  string    `json:"target_id,omitempty"`
	Data      EventData `json:"data,omitempty"`
}

// EventData contains event-specific data
type EventData struct {
	Kind       string `json:"kind,omitempty"`
	Variant    string `json:"variant,omitempty"`
	HandleID   string `json:"handle_id,omitempty"`
	PhaseIndex int    `json:"phase_index,omitempty"`
	Status     string `json:"status,omitempty"`
	Error      string `json:"error,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// NewScenarioStartedEvent creates a scenario start event
func NewScenarioStartedEvent(scenario string) Event {
	return Event{
		Type:      EventScenarioStarted,
		Timestamp: time.Now(),
		Scenario:  scenario,
	}
}

// NewScenarioFinishedEvent creates a scenario finish event with the terminal status
func NewScenarioFinishedEvent(scenario, status string) Event {
	return Event{
		Type:      EventScenarioFinished,
		Timestamp: time.Now(),
		Scenario:  scenario,
		Data: EventData{
			Status: status,
		},
	}
}

// NewPhaseStartedEvent creates a phase start event
func NewPhaseStartedEvent(phase string, index int) Event {
	return Event{
		Type:      EventPhaseStarted,
		Timestamp: time.Now(),
		Phase:     phase,
		Data: EventData{
			PhaseIndex: index,
		},
	}
}

// NewPhaseCompletedEvent creates a phase completion event
func NewPhaseCompletedEvent(phase string, index int) Event {
	return Event{
		Type:      EventPhaseCompleted,
		Timestamp: time.Now(),
		Phase:     phase,
		Data: EventData{
			PhaseIndex: index,
		},
	}
}

// NewInjectionAppliedEvent creates an injection applied event
func NewInjectionAppliedEvent(phase, targetID, kind, variant, handleID string) Event {
	return Event{
		Type:      EventInjectionApplied,
		Timestamp: time.Now(),
		Phase:     phase,
		TargetID:  targetID,
		Data: EventData{
			Kind:     kind,
			Variant:  variant,
			HandleID: handleID,
		},
	}
}

// NewInjectionFailedEvent creates an injection failure event
func NewInjectionFailedEvent(phase, targetID, kind, errKind string, err error) Event {
	return Event{
		Type:      EventInjectionFailed,
		Timestamp: time.Now(),
		Phase:     phase,
		TargetID:  targetID,
		Data: EventData{
			Kind:      kind,
			Error:     errString(err),
			ErrorKind: errKind,
		},
	}
}

// NewHandleCleanedEvent creates a handle cleaned event
func NewHandleCleanedEvent(phase, targetID, kind, handleID string) Event {
	return Event{
		Type:      EventHandleCleaned,
		Timestamp: time.Now(),
		Phase:     phase,
		TargetID:  targetID,
		Data: EventData{
			Kind:     kind,
			HandleID: handleID,
		},
	}
}

// NewHandleLeakedEvent creates a handle leaked event
func NewHandleLeakedEvent(phase, targetID, kind, handleID string, err error) Event {
	return Event{
		Type:      EventHandleLeaked,
		Timestamp: time.Now(),
		Phase:     phase,
		TargetID:  targetID,
		Data: EventData{
			Kind:     kind,
			HandleID: handleID,
			Error:    errString(err),
		},
	}
}
