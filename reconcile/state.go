// Package reconcile follows one in-flight payment until the platform reports a terminal
// status. A Session polls the platform, classifies every status it sees, drives a small
// state machine, and forwards 3DS codes and replacement cards the player types in.
// Consumers watch a Session through Subscribe; nothing in this package renders anything.
package reconcile

// State is the reconciliation state of a payment. Values are the platform's status strings.
type State string

const (
	StatePending         State = "pending"
	StateCardChecking    State = "card_checking"
	StateWaiting3DS      State = "waiting_3ds"
	State3DSRejected     State = "3ds_rejected"
	State3DSApproved     State = "3ds_approved"
	StateRequiresNewCard State = "requires_new_card"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
	StateCancelled       State = "cancelled"

	// StateUnknown classifies a status string the platform sent that is not listed above.
	// It is never stored as the current state.
	StateUnknown State = "unknown"
)

var knownStates = map[State]bool{
	StatePending:         true,
	StateCardChecking:    true,
	StateWaiting3DS:      true,
	State3DSRejected:     true,
	State3DSApproved:     true,
	StateRequiresNewCard: true,
	StateCompleted:       true,
	StateFailed:          true,
	StateCancelled:       true,
}

// Terminal reports whether the state ends the session.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Known reports whether s is one of the platform statuses.
func (s State) Known() bool {
	return knownStates[s]
}

// Action is what the consumer should offer the player in a given state.
type Action string

const (
	ActionNone         Action = "none"
	ActionEnter3DSCode Action = "enter_3ds_code"
	ActionEnterNewCard Action = "enter_new_card"
	ActionRedirect     Action = "redirect" // completed: the completion hook fires after a delay
	ActionManual       Action = "manual"   // failed/cancelled: the player has to go back themselves
)

// action is the remediation action exposed while in s.
func (s State) action() Action {
	switch s {
	case StateWaiting3DS, State3DSRejected:
		return ActionEnter3DSCode
	case StateRequiresNewCard:
		return ActionEnterNewCard
	case StateCompleted:
		return ActionRedirect
	case StateFailed, StateCancelled:
		return ActionManual
	}
	return ActionNone
}
