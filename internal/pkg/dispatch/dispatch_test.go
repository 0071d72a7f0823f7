package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/denis-papin/ava-home/internal/pkg/bus"
	"github.com/denis-papin/ava-home/internal/pkg/device"
	"github.com/denis-papin/ava-home/internal/pkg/loop"
	"github.com/denis-papin/ava-home/internal/pkg/message"
	"github.com/denis-papin/ava-home/internal/pkg/regulation"
)

type sent struct {
	topic   string
	payload string
}

type MockPublisher struct {
	Sent        []sent
	PublishFunc func(ctx context.Context, topic string, payload []byte) error
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if m.PublishFunc != nil {
		if err := m.PublishFunc(ctx, topic, payload); err != nil {
			return err
		}
	}
	m.Sent = append(m.Sent, sent{topic: topic, payload: string(payload)})
	return nil
}

func withTestLogger(t *testing.T) {
	t.Helper()
	undo := zap.ReplaceGlobals(zaptest.NewLogger(t))
	t.Cleanup(undo)
}

type kitchen struct {
	dimmer, lamp, sw *device.Device
	repo             *device.Repository
	loops            []*loop.Loop
}

func newKitchen(t *testing.T) kitchen {
	t.Helper()
	k := kitchen{
		dimmer: device.New("zigbee2mqtt", "kitchen_inter_dim", message.KindInterDimmer),
		lamp:   device.New("zigbee2mqtt", "kitchen_lamp", message.KindLampRGB),
		sw:     device.New("zigbee2mqtt", "hall_inter_switch", message.KindInterSwitch),
	}
	repo, err := device.NewRepository(k.dimmer, k.lamp, k.sw)
	require.NoError(t, err)
	k.repo = repo
	k.loops = []*loop.Loop{loop.New("kitchen", k.dimmer, k.lamp, k.sw)}
	return k
}

func TestHandleSuppressesEchoes(t *testing.T) {
	withTestLogger(t)
	ctx := context.Background()
	k := newKitchen(t)
	pub := &MockPublisher{}
	d := New(k.repo, k.loops, pub, nil)

	d.Handle(ctx, bus.Event{Topic: "zigbee2mqtt/kitchen_inter_dim", Payload: []byte(`{"brightness":80,"state":"ON"}`)})
	require.Len(t, pub.Sent, 2)
	assert.Equal(t, "zigbee2mqtt/kitchen_lamp/set", pub.Sent[0].topic)
	assert.Equal(t, "zigbee2mqtt/hall_inter_switch/set", pub.Sent[1].topic)
	assert.Equal(t, 1, k.lamp.Locks())
	assert.Equal(t, 1, k.sw.Locks())

	// the devices report their new state back
	for _, s := range pub.Sent {
		d.Handle(ctx, bus.Event{Topic: s.topic[:len(s.topic)-len("/set")], Payload: []byte(s.payload)})
	}
	assert.Len(t, pub.Sent, 2, "echoes trigger nothing")
	assert.Zero(t, k.lamp.Locks())
	assert.Zero(t, k.sw.Locks())
	assert.Zero(t, k.dimmer.Locks())

	// a later genuine change on the lamp flows back to the dimmer and switch
	d.Handle(ctx, bus.Event{Topic: "zigbee2mqtt/kitchen_lamp", Payload: []byte(`{"brightness":80,"color":{"x":0,"y":0},"state":"OFF"}`)})
	require.Len(t, pub.Sent, 4)
	assert.Equal(t, "zigbee2mqtt/kitchen_inter_dim/set", pub.Sent[2].topic)
	assert.JSONEq(t, `{"brightness":80,"state":"OFF"}`, pub.Sent[2].payload)
	assert.JSONEq(t, `{"state":"OFF"}`, pub.Sent[3].payload)
}

func TestHandleDropsUnknownAndMalformed(t *testing.T) {
	withTestLogger(t)
	ctx := context.Background()
	k := newKitchen(t)
	pub := &MockPublisher{}
	d := New(k.repo, k.loops, pub, nil)

	d.Handle(ctx, bus.Event{Topic: "zigbee2mqtt/garage", Payload: []byte(`{"state":"ON"}`)})
	d.Handle(ctx, bus.Event{Topic: "zigbee2mqtt/kitchen_inter_dim", Payload: []byte(`{"brightness":`)})
	assert.Empty(t, pub.Sent)
	assert.Equal(t, message.Default(message.KindInterDimmer), k.dimmer.Last())
}

func TestHandleAbandonsWhenContextFails(t *testing.T) {
	withTestLogger(t)
	ctx := context.Background()
	k := newKitchen(t)
	pub := &MockPublisher{}
	d := New(k.repo, k.loops, pub, func(context.Context, message.Message) (device.Context, error) {
		return device.Context{}, errors.New("store down")
	})

	d.Handle(ctx, bus.Event{Topic: "zigbee2mqtt/kitchen_inter_dim", Payload: []byte(`{"brightness":80,"state":"ON"}`)})
	assert.Empty(t, pub.Sent)
	assert.Equal(t, message.InterDimmer{Brightness: 80, State: message.StateOn}, k.dimmer.Last())
}

func TestRunStopsWhenEventsClose(t *testing.T) {
	withTestLogger(t)
	k := newKitchen(t)
	pub := &MockPublisher{}
	d := New(k.repo, k.loops, pub, nil)

	events := make(chan bus.Event, 1)
	events <- bus.Event{Topic: "zigbee2mqtt/hall_inter_switch", Payload: []byte(`{"state":"ON"}`)}
	close(events)

	assert.ErrorIs(t, d.Run(context.Background(), events), ErrEventsClosed)
	assert.Len(t, pub.Sent, 2)
}

func TestRunStopsOnCancel(t *testing.T) {
	withTestLogger(t)
	k := newKitchen(t)
	d := New(k.repo, k.loops, &MockPublisher{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Run(ctx, make(chan bus.Event)), context.Canceled)
}

type fakeTemps map[string]float64

func (f fakeTemps) LatestTemperatures(context.Context) (map[string]float64, error) {
	return f, nil
}

func TestRegulatorCycle(t *testing.T) {
	withTestLogger(t)
	ctx := context.Background()

	rm := device.New("regulator", "regulate_radiator", message.KindRegulationMap, device.WithRepeats())
	bureau := device.New("external", "rad_bureau", message.KindRadiator, device.WithZone(message.ZoneBureau))
	salon := device.New("external", "rad_salon", message.KindRadiator, device.WithZone(message.ZoneSalon1))
	repo, err := device.NewRepository(rm, bureau, salon)
	require.NoError(t, err)

	temps := fakeTemps{"zigbee2mqtt/ts_bureau": 18.5, "zigbee2mqtt/ts_salon_1": 19.0}
	engine := regulation.NewEngine(regulation.Config{
		Margin:  0.3,
		Sensors: map[string]message.Zone{"zigbee2mqtt/ts_bureau": message.ZoneBureau, "zigbee2mqtt/ts_salon_1": message.ZoneSalon1},
	}, temps, nil, nil)
	engine.Install(bureau, salon)

	pub := &MockPublisher{}
	d := New(repo, []*loop.Loop{loop.New("bureau", rm, bureau), loop.New("salon", rm, salon)}, pub, engine.Prepare)

	plan := []byte(`{"tc_bureau":19,"tc_salon_1":19,"tc_salon_2":19,"tc_chambre_1":19,"tc_couloir":19,"mode":"J"}`)
	d.Handle(ctx, bus.Event{Topic: "regulator/regulate_radiator", Payload: plan})
	require.Len(t, pub.Sent, 1, "salon is inside the band")
	assert.Equal(t, "external/rad_bureau", pub.Sent[0].topic)
	assert.JSONEq(t, `{"mode":"CFT"}`, pub.Sent[0].payload)

	d.Handle(ctx, bus.Event{Topic: "external/rad_bureau", Payload: []byte(pub.Sent[0].payload)})
	assert.Zero(t, bureau.Locks())

	// the same plan again is still evaluated, salon has cooled down
	temps["zigbee2mqtt/ts_salon_1"] = 18.2
	d.Handle(ctx, bus.Event{Topic: "regulator/regulate_radiator", Payload: plan})
	require.Len(t, pub.Sent, 2)
	assert.Equal(t, "external/rad_salon", pub.Sent[1].topic)
	assert.JSONEq(t, `{"mode":"CFT"}`, pub.Sent[1].payload)
}

func TestInitialize(t *testing.T) {
	withTestLogger(t)
	k := newKitchen(t)
	pub := &MockPublisher{}

	events := make(chan bus.Event, 4)
	events <- bus.Event{Topic: "zigbee2mqtt/other", Payload: []byte(`{}`)}
	events <- bus.Event{Topic: "zigbee2mqtt/kitchen_lamp", Payload: []byte(`{"brightness":10,"color":{"x":0.2,"y":0.3},"state":"ON"}`)}
	events <- bus.Event{Topic: "zigbee2mqtt/hall_inter_switch", Payload: []byte(`{"state":"ON"}`)}

	err := Initialize(context.Background(), []*device.Device{k.lamp, k.sw}, events, pub, time.Second)
	require.NoError(t, err)
	assert.Equal(t, []sent{
		{topic: "zigbee2mqtt/kitchen_lamp/get", payload: `{"color":{"x":"","y":""}}`},
		{topic: "zigbee2mqtt/hall_inter_switch/get", payload: `{"state":""}`},
	}, pub.Sent)
	assert.True(t, k.lamp.Initialized())
	assert.Equal(t, message.InterSwitch{State: message.StateOn}, k.sw.Last())
}

func TestInitializeTimeout(t *testing.T) {
	withTestLogger(t)
	k := newKitchen(t)

	events := make(chan bus.Event, 2)
	events <- bus.Event{Topic: "zigbee2mqtt/kitchen_lamp", Payload: []byte(`not json`)}
	events <- bus.Event{Topic: "zigbee2mqtt/hall_inter_switch", Payload: []byte(`{"state":"OFF"}`)}

	err := Initialize(context.Background(), []*device.Device{k.lamp, k.sw}, events, &MockPublisher{}, 50*time.Millisecond)
	require.ErrorIs(t, err, ErrInitTimeout)
	assert.Contains(t, err.Error(), "zigbee2mqtt/kitchen_lamp")
	assert.NotContains(t, err.Error(), "hall_inter_switch")
}

func TestInitializeNothingPending(t *testing.T) {
	withTestLogger(t)
	pub := &MockPublisher{}
	require.NoError(t, Initialize(context.Background(), nil, nil, pub, time.Millisecond))
	assert.Empty(t, pub.Sent)
}
