// Package regulation drives cloud radiators toward the set-points of the
// active regulation map.
package regulation

import "github.com/denis-papin/ava-home/internal/pkg/message"

// Action is what a radiator must do after an evaluation.
type Action int

const (
	NoAction Action = iota
	On
	Off
)

func (a Action) String() string {
	switch a {
	case On:
		return "on"
	case Off:
		return "off"
	default:
		return "no_action"
	}
}

// Decide applies the hysteresis band of half-width margin around tc.
func Decide(t, tc, margin float64) Action {
	switch {
	case t < tc-margin:
		return On
	case t > tc+margin:
		return Off
	default:
		return NoAction
	}
}

// ActionOf reads back the action a radiator mode stands for. Eco and frost
// guard are not ours to change and read as NoAction.
func ActionOf(mode message.RadiatorMode) Action {
	switch mode {
	case message.ModeCFT:
		return On
	case message.ModeSTOP:
		return Off
	default:
		return NoAction
	}
}

// IsOverride reports whether mode was set by hand and must be left alone.
// The controller never commands eco, so it always is. Frost guard is also our
// default and only counts once the cloud confirms it, see Engine.Overridden.
func IsOverride(mode message.RadiatorMode) bool {
	return mode == message.ModeECO
}

// Command returns the radiator message for an action, or last when the
// action keeps the radiator as it is.
func Command(a Action, last message.Radiator) message.Radiator {
	switch a {
	case On:
		return message.Radiator{Mode: message.ModeCFT}
	case Off:
		return message.Radiator{Mode: message.ModeSTOP}
	default:
		return last
	}
}
