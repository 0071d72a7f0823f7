package message

import "fmt"

// Convert maps src onto the target kind. Fields src cannot express are taken
// from last, the target device's own previous message. Kinds without a
// meaningful mapping yield last unchanged.
//
// last must be of the target kind: anything else is a wiring error and panics.
func Convert(src Message, target Kind, last Message) Message {
	if last == nil || last.Kind() != target {
		panic(fmt.Sprintf("message: last message for %s has kind %v", target, kindOf(last)))
	}
	if src.Kind() == target {
		return src
	}

	switch prev := last.(type) {
	case LampRGB:
		return toLamp(src, prev)
	case InterDimmer:
		return toDimmer(src, prev)
	case InterSwitch:
		return toSwitch(src, prev)
	case TempSensor, Radiator, RegulationMap, MotionSensor:
		return last
	default:
		panic(fmt.Sprintf("message: unsupported target %T", last))
	}
}

func toLamp(src Message, prev LampRGB) Message {
	switch m := src.(type) {
	case InterDimmer:
		return LampRGB{Color: prev.Color, Brightness: m.Brightness, State: m.State}
	case InterSwitch:
		return LampRGB{Color: prev.Color, Brightness: prev.Brightness, State: m.State}
	case MotionSensor:
		return LampRGB{Color: prev.Color, Brightness: prev.Brightness, State: m.State()}
	default:
		return prev
	}
}

func toDimmer(src Message, prev InterDimmer) Message {
	switch m := src.(type) {
	case LampRGB:
		return InterDimmer{Brightness: m.Brightness, State: m.State}
	case InterSwitch:
		return InterDimmer{Brightness: prev.Brightness, State: m.State}
	case MotionSensor:
		return InterDimmer{Brightness: prev.Brightness, State: m.State()}
	default:
		return prev
	}
}

func toSwitch(src Message, prev InterSwitch) Message {
	switch m := src.(type) {
	case LampRGB:
		return InterSwitch{State: m.State}
	case InterDimmer:
		return InterSwitch{State: m.State}
	case MotionSensor:
		return InterSwitch{State: m.State()}
	default:
		return prev
	}
}

func kindOf(m Message) any {
	if m == nil {
		return nil
	}
	return m.Kind()
}
