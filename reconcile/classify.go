package reconcile

import (
	"strings"

	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/platform"
)

// Transition is a classified platform status.
type Transition struct {
	State  State
	Raw    string // status exactly as the platform sent it
	Action Action
	// Terminal is true for completed, failed and cancelled.
	Terminal bool
	// RequiresSubmission is true when the player has to send a 3DS code or a new card.
	RequiresSubmission bool
	Record             platform.PaymentRecord
}

// Classify maps a raw status string to a Transition. It has no side effects; unrecognised
// strings classify as StateUnknown, which is neither terminal nor actionable.
func Classify(rawStatus string, rec platform.PaymentRecord) Transition {
	st := State(strings.ToLower(strings.TrimSpace(rawStatus)))
	if !st.Known() {
		return Transition{State: StateUnknown, Raw: rawStatus, Action: ActionNone, Record: rec}
	}
	act := st.action()
	return Transition{
		State:              st,
		Raw:                rawStatus,
		Action:             act,
		Terminal:           st.Terminal(),
		RequiresSubmission: act == ActionEnter3DSCode || act == ActionEnterNewCard,
		Record:             rec,
	}
}
