// Package topology describes the installed devices and the loops each
// service keeps in sync. The document is YAML; a default one is embedded.
package topology

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/denis-papin/ava-home/internal/pkg/device"
	"github.com/denis-papin/ava-home/internal/pkg/loop"
	"github.com/denis-papin/ava-home/internal/pkg/message"
	"github.com/denis-papin/ava-home/internal/pkg/regulation"
)

//go:embed default.yaml
var defaultDocument []byte

var (
	ErrInvalid        = errors.New("invalid topology")
	ErrUnknownService = errors.New("unknown service")
)

type DeviceSpec struct {
	Family   string `yaml:"family"`
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`
	Zone     string `yaml:"zone"`
	HeatzyID string `yaml:"heatzy_id"`
	Init     bool   `yaml:"init"`
}

func (d DeviceSpec) Topic() string {
	return d.Family + "/" + d.Name
}

type LoopSpec struct {
	Name    string   `yaml:"name"`
	Devices []string `yaml:"devices"`
}

type ServiceSpec struct {
	Loops []LoopSpec `yaml:"loops"`
	// Topics lists extra topics a service listens to without owning devices.
	Topics []string `yaml:"topics"`
	// Publish is the topic a producer-only service writes to.
	Publish string `yaml:"publish"`
}

type PlanSpec struct {
	Mode    string             `yaml:"mode"`
	Targets map[string]float64 `yaml:"targets"`
}

func (p PlanSpec) RegulationMap() message.RegulationMap {
	targets := make(map[message.Zone]float64, len(p.Targets))
	for zone, tc := range p.Targets {
		targets[message.Zone(zone)] = tc
	}
	return message.WithTargets(message.PlanMode(p.Mode), targets)
}

type ScheduleSpec struct {
	Day     PlanSpec `yaml:"day"`
	Evening PlanSpec `yaml:"evening"`
	Night   PlanSpec `yaml:"night"`
}

type Document struct {
	Devices  []DeviceSpec           `yaml:"devices"`
	Schedule ScheduleSpec           `yaml:"schedule"`
	Services map[string]ServiceSpec `yaml:"services"`
}

// Load reads the document at path, or the embedded one when path is empty.
func Load(path string) (*Document, error) {
	if path == "" {
		return Parse(defaultDocument)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := doc.validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (d *Document) validate() error {
	seen := make(map[string]struct{}, len(d.Devices))
	for _, spec := range d.Devices {
		if spec.Family == "" || spec.Name == "" {
			return fmt.Errorf("%w: device without family or name", ErrInvalid)
		}
		if _, err := message.ParseKind(spec.Kind); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalid, spec.Topic(), err)
		}
		if spec.Zone != "" && !lo.Contains(message.Zones, message.Zone(spec.Zone)) {
			return fmt.Errorf("%w: %s: unknown zone %q", ErrInvalid, spec.Topic(), spec.Zone)
		}
		if _, dup := seen[spec.Topic()]; dup {
			return fmt.Errorf("%w: duplicate device %s", ErrInvalid, spec.Topic())
		}
		seen[spec.Topic()] = struct{}{}
	}
	for name, svc := range d.Services {
		for _, l := range svc.Loops {
			for _, topic := range l.Devices {
				if _, ok := seen[topic]; !ok {
					return fmt.Errorf("%w: service %s loop %s: unknown device %s", ErrInvalid, name, l.Name, topic)
				}
			}
		}
	}
	return nil
}

// StaticSchedule returns the fixed day/evening/night regulation maps.
func (d *Document) StaticSchedule() regulation.StaticSchedule {
	return regulation.StaticSchedule{
		Day:     d.Schedule.Day.RegulationMap(),
		Evening: d.Schedule.Evening.RegulationMap(),
		Night:   d.Schedule.Night.RegulationMap(),
	}
}

// SensorZones maps every temperature sensor topic to its zone.
func (d *Document) SensorZones() map[string]message.Zone {
	out := make(map[string]message.Zone)
	for _, spec := range d.Devices {
		if spec.Kind == string(message.KindTempSensor) && spec.Zone != "" {
			out[spec.Topic()] = message.Zone(spec.Zone)
		}
	}
	return out
}

func (d *Document) Service(name string) (ServiceSpec, error) {
	svc, ok := d.Services[name]
	if !ok {
		return ServiceSpec{}, fmt.Errorf("%w: %s", ErrUnknownService, name)
	}
	return svc, nil
}

// Service is the runtime view of one service: its own device instances and
// the loops over them.
type Service struct {
	Name  string
	Repo  *device.Repository
	Loops []*loop.Loop
	// Init lists the devices that must report their state before dispatch.
	Init []*device.Device
	// Topics is everything the service subscribes to.
	Topics  []string
	Publish string
}

// Build instantiates the devices used by a service, in document order.
func (d *Document) Build(name string) (*Service, error) {
	spec, err := d.Service(name)
	if err != nil {
		return nil, err
	}
	used := make(map[string]struct{})
	for _, l := range spec.Loops {
		for _, topic := range l.Devices {
			used[topic] = struct{}{}
		}
	}

	var devices []*device.Device
	for _, ds := range d.Devices {
		if _, ok := used[ds.Topic()]; !ok {
			continue
		}
		devices = append(devices, device.New(ds.Family, ds.Name, message.Kind(ds.Kind),
			device.WithZone(message.Zone(ds.Zone)),
			device.WithExternalID(ds.HeatzyID),
		))
	}
	repo, err := device.NewRepository(devices...)
	if err != nil {
		return nil, err
	}

	loops := make([]*loop.Loop, 0, len(spec.Loops))
	for _, ls := range spec.Loops {
		members := make([]*device.Device, 0, len(ls.Devices))
		for _, topic := range ls.Devices {
			dev, err := repo.Get(topic)
			if err != nil {
				return nil, err
			}
			members = append(members, dev)
		}
		loops = append(loops, loop.New(ls.Name, members...))
	}

	initTopics := lo.FilterMap(d.Devices, func(ds DeviceSpec, _ int) (string, bool) {
		_, ok := used[ds.Topic()]
		return ds.Topic(), ok && ds.Init
	})
	pending := lo.Map(initTopics, func(topic string, _ int) *device.Device {
		dev, _ := repo.Get(topic)
		return dev
	})

	return &Service{
		Name:    name,
		Repo:    repo,
		Loops:   loops,
		Init:    pending,
		Topics:  lo.Uniq(append(repo.Topics(), spec.Topics...)),
		Publish: strings.TrimSpace(spec.Publish),
	}, nil
}
