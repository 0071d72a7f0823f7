package message

import "strings"

const (
	StateOn  = "ON"
	StateOff = "OFF"
)

// TempSensor is reported by the zigbee temperature/humidity probes.
type TempSensor struct {
	Battery     float64 `json:"battery"`
	Humidity    float64 `json:"humidity"`
	LinkQuality int     `json:"linkquality"`
	Temperature float64 `json:"temperature"`
	Voltage     int     `json:"voltage"`
}

type Color struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type LampRGB struct {
	Color      Color  `json:"color"`
	Brightness int    `json:"brightness"`
	State      string `json:"state"`
}

type InterDimmer struct {
	Brightness int    `json:"brightness"`
	State      string `json:"state"`
}

type InterSwitch struct {
	State string `json:"state"`
}

type MotionSensor struct {
	Occupancy bool `json:"occupancy"`
}

// State maps occupancy onto the ON/OFF vocabulary of lights.
func (m MotionSensor) State() string {
	if m.Occupancy {
		return StateOn
	}
	return StateOff
}

// RadiatorMode is the pilot-wire order of a cloud radiator.
type RadiatorMode string

const (
	ModeCFT  RadiatorMode = "CFT"
	ModeECO  RadiatorMode = "ECO"
	ModeFRO  RadiatorMode = "FRO"
	ModeSTOP RadiatorMode = "STOP"
)

func (m RadiatorMode) Valid() bool {
	switch m {
	case ModeCFT, ModeECO, ModeFRO, ModeSTOP:
		return true
	}
	return false
}

// Code is the numeric value of the mode in the Heatzy control API.
func (m RadiatorMode) Code() int {
	switch m {
	case ModeCFT:
		return 0
	case ModeECO:
		return 1
	case ModeFRO:
		return 2
	default:
		return 3
	}
}

// ModeFromReported converts the lower-case mode string reported by Heatzy.
// Anything unknown is read as STOP.
func ModeFromReported(s string) RadiatorMode {
	switch strings.ToLower(s) {
	case "cft":
		return ModeCFT
	case "eco":
		return ModeECO
	case "fro":
		return ModeFRO
	default:
		return ModeSTOP
	}
}

type Radiator struct {
	Mode RadiatorMode `json:"mode"`
}

// PlanMode tags a regulation map with the period it applies to.
type PlanMode string

const (
	PlanDay     PlanMode = "J"
	PlanNight   PlanMode = "N"
	PlanEvening PlanMode = "H"
	PlanAbsence PlanMode = "A"
)

// Zone is a heated area of the house.
type Zone string

const (
	ZoneBureau   Zone = "bureau"
	ZoneSalon1   Zone = "salon_1"
	ZoneSalon2   Zone = "salon_2"
	ZoneChambre1 Zone = "chambre_1"
	ZoneCouloir  Zone = "couloir"
)

// Zones lists every zone carried by a regulation map.
var Zones = []Zone{ZoneBureau, ZoneSalon1, ZoneSalon2, ZoneChambre1, ZoneCouloir}

// RegulationMap carries the target temperature of every zone.
type RegulationMap struct {
	TcBureau   float64  `json:"tc_bureau"`
	TcSalon1   float64  `json:"tc_salon_1"`
	TcSalon2   float64  `json:"tc_salon_2"`
	TcChambre1 float64  `json:"tc_chambre_1"`
	TcCouloir  float64  `json:"tc_couloir"`
	Mode       PlanMode `json:"mode"`
}

// Target returns the set-point for zone.
func (r RegulationMap) Target(zone Zone) (float64, bool) {
	switch zone {
	case ZoneBureau:
		return r.TcBureau, true
	case ZoneSalon1:
		return r.TcSalon1, true
	case ZoneSalon2:
		return r.TcSalon2, true
	case ZoneChambre1:
		return r.TcChambre1, true
	case ZoneCouloir:
		return r.TcCouloir, true
	}
	return 0, false
}

// WithTargets builds a map from per-zone set-points. Missing zones stay at 0.
func WithTargets(mode PlanMode, targets map[Zone]float64) RegulationMap {
	return RegulationMap{
		TcBureau:   targets[ZoneBureau],
		TcSalon1:   targets[ZoneSalon1],
		TcSalon2:   targets[ZoneSalon2],
		TcChambre1: targets[ZoneChambre1],
		TcCouloir:  targets[ZoneCouloir],
		Mode:       mode,
	}
}

func (TempSensor) Kind() Kind    { return KindTempSensor }
func (LampRGB) Kind() Kind       { return KindLampRGB }
func (InterDimmer) Kind() Kind   { return KindInterDimmer }
func (InterSwitch) Kind() Kind   { return KindInterSwitch }
func (Radiator) Kind() Kind      { return KindRadiator }
func (RegulationMap) Kind() Kind { return KindRegulationMap }
func (MotionSensor) Kind() Kind  { return KindMotionSensor }

func (TempSensor) sealed()    {}
func (LampRGB) sealed()       {}
func (InterDimmer) sealed()   {}
func (InterSwitch) sealed()   {}
func (Radiator) sealed()      {}
func (RegulationMap) sealed() {}
func (MotionSensor) sealed()  {}
