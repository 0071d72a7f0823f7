// Package message holds the closed set of payloads exchanged with devices on
// the bus, together with their wire codec and the conversions between them.
package message

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind names a device message variant.
type Kind string

const (
	KindTempSensor    Kind = "temp_sensor"
	KindLampRGB       Kind = "lamp_rgb"
	KindInterDimmer   Kind = "inter_dimmer"
	KindInterSwitch   Kind = "inter_switch"
	KindRadiator      Kind = "radiator"
	KindRegulationMap Kind = "regulation_map"
	KindMotionSensor  Kind = "motion_sensor"
)

var (
	ErrUnknownKind  = errors.New("unknown message kind")
	ErrMalformed    = errors.New("malformed payload")
	ErrMissingField = errors.New("missing required field")
)

// Kinds lists every supported variant.
var Kinds = []Kind{
	KindTempSensor,
	KindLampRGB,
	KindInterDimmer,
	KindInterSwitch,
	KindRadiator,
	KindRegulationMap,
	KindMotionSensor,
}

// ParseKind validates a kind name read from configuration.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Message is implemented only by the variants of this package.
type Message interface {
	Kind() Kind
	sealed()
}

// Parse decodes a wire payload into the variant named by kind. Extra fields are
// ignored; absent required fields and mistyped values are rejected.
func Parse(kind Kind, data []byte) (Message, error) {
	switch kind {
	case KindTempSensor:
		return decode[TempSensor](data, "battery", "humidity", "linkquality", "temperature", "voltage")
	case KindLampRGB:
		if err := requireNested(data, "color", "x", "y"); err != nil {
			return nil, err
		}
		return decode[LampRGB](data, "color", "brightness", "state")
	case KindInterDimmer:
		return decode[InterDimmer](data, "brightness", "state")
	case KindInterSwitch:
		return decode[InterSwitch](data, "state")
	case KindRadiator:
		m, err := decode[Radiator](data, "mode")
		if err != nil {
			return nil, err
		}
		if !m.Mode.Valid() {
			return nil, fmt.Errorf("%w: radiator mode %q", ErrMalformed, m.Mode)
		}
		return m, nil
	case KindRegulationMap:
		return decode[RegulationMap](data, "tc_bureau", "tc_salon_1", "tc_salon_2", "tc_chambre_1", "tc_couloir", "mode")
	case KindMotionSensor:
		return decode[MotionSensor](data, "occupancy")
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

// MustParse is Parse for payloads known to be valid, such as fixtures.
func MustParse(kind Kind, data []byte) Message {
	m, err := Parse(kind, data)
	if err != nil {
		panic(err)
	}
	return m
}

// Serialize encodes m into its wire form.
func Serialize(m Message) []byte {
	// Variants only carry finite numbers and strings, so Marshal cannot fail.
	data, _ := json.Marshal(m)
	return data
}

// Equal reports whether two messages have the same wire form.
func Equal(a, b Message) bool {
	if a == nil || b == nil {
		return a == b
	}
	return string(Serialize(a)) == string(Serialize(b))
}

// Default returns the message a device of the given kind starts with.
func Default(kind Kind) Message {
	switch kind {
	case KindTempSensor:
		return TempSensor{}
	case KindLampRGB:
		return LampRGB{Brightness: 40, State: StateOff}
	case KindInterDimmer:
		return InterDimmer{Brightness: 40, State: StateOff}
	case KindInterSwitch:
		return InterSwitch{State: StateOff}
	case KindRadiator:
		return Radiator{Mode: ModeFRO}
	case KindRegulationMap:
		return RegulationMap{Mode: PlanDay}
	case KindMotionSensor:
		return MotionSensor{}
	default:
		panic(fmt.Sprintf("message: no default for kind %q", kind))
	}
}

var (
	colorQuery = []byte(`{"color":{"x":"","y":""}}`)
	stateQuery = []byte(`{"state":""}`)
)

// StateQueryPayload is published on "{topic}/get" to make a device report
// its current state.
func StateQueryPayload(kind Kind) []byte {
	switch kind {
	case KindLampRGB, KindInterDimmer:
		return colorQuery
	default:
		return stateQuery
	}
}

// Commandable reports whether devices of kind accept commands. Sensors only
// report.
func Commandable(kind Kind) bool {
	switch kind {
	case KindTempSensor, KindMotionSensor:
		return false
	}
	return true
}

// SetTopic returns the topic a command for a device of this kind is sent to.
// Cloud radiators are commanded on their own topic, zigbee devices on "/set".
func SetTopic(kind Kind, topic string) string {
	if kind == KindRadiator {
		return topic
	}
	return topic + "/set"
}

func decode[T any](data []byte, required ...string) (T, error) {
	var out T
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return out, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if err := requireFields(fields, required...); err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return out, nil
}

func requireNested(data []byte, field string, required ...string) error {
	var outer map[string]json.RawMessage
	if err := json.Unmarshal(data, &outer); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	raw, ok := outer[field]
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingField, field)
	}
	var inner map[string]json.RawMessage
	if err := json.Unmarshal(raw, &inner); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMalformed, field, err)
	}
	for _, name := range required {
		if _, ok := inner[name]; !ok {
			return fmt.Errorf("%w: %s.%s", ErrMissingField, field, name)
		}
	}
	return nil
}

func requireFields(fields map[string]json.RawMessage, required ...string) error {
	for _, name := range required {
		raw, ok := fields[name]
		if !ok || string(raw) == "null" {
			return fmt.Errorf("%w: %s", ErrMissingField, name)
		}
	}
	return nil
}
