package regulation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/denis-papin/ava-home/internal/pkg/device"
	"github.com/denis-papin/ava-home/internal/pkg/message"
)

type MockTemperatures struct {
	LatestTemperaturesFunc func(ctx context.Context) (map[string]float64, error)
}

func (m *MockTemperatures) LatestTemperatures(ctx context.Context) (map[string]float64, error) {
	return m.LatestTemperaturesFunc(ctx)
}

type MockModes struct {
	Calls          []string
	LatestModeFunc func(ctx context.Context, deviceID string) (message.RadiatorMode, error)
}

func (m *MockModes) LatestMode(ctx context.Context, deviceID string) (message.RadiatorMode, error) {
	m.Calls = append(m.Calls, deviceID)
	return m.LatestModeFunc(ctx, deviceID)
}

type MockStates struct {
	LatestDeviceStateFunc func(ctx context.Context, topic string) ([]byte, error)
}

func (m *MockStates) LatestDeviceState(ctx context.Context, topic string) ([]byte, error) {
	return m.LatestDeviceStateFunc(ctx, topic)
}

type recordingPublisher struct {
	topics   []string
	payloads []string
}

func (r *recordingPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	r.topics = append(r.topics, topic)
	r.payloads = append(r.payloads, string(payload))
	return nil
}

func useTestLogger(t *testing.T) {
	t.Helper()
	original := zap.L()
	zap.ReplaceGlobals(zaptest.NewLogger(t))
	t.Cleanup(func() { zap.ReplaceGlobals(original) })
}

func TestDecide(t *testing.T) {
	tests := []struct {
		t    float64
		want Action
	}{
		{18.5, On},
		{18.69, On},
		{18.71, NoAction},
		{19.0, NoAction},
		{19.29, NoAction},
		{19.31, Off},
		{19.5, Off},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Decide(tt.t, 19.0, 0.3), "t=%v", tt.t)
	}
}

func TestActionOf(t *testing.T) {
	assert.Equal(t, On, ActionOf(message.ModeCFT))
	assert.Equal(t, Off, ActionOf(message.ModeSTOP))
	assert.Equal(t, NoAction, ActionOf(message.ModeECO))
	assert.Equal(t, NoAction, ActionOf(message.ModeFRO))
}

func newEngine(t *testing.T, reading float64, modes ModeReader, checkEvery int) *Engine {
	t.Helper()
	useTestLogger(t)
	temps := &MockTemperatures{LatestTemperaturesFunc: func(context.Context) (map[string]float64, error) {
		return map[string]float64{"zigbee2mqtt/ts_bureau": reading, "zigbee2mqtt/ts_garage": 4}, nil
	}}
	return NewEngine(Config{
		Margin:     0.3,
		CheckEvery: checkEvery,
		Sensors:    map[string]message.Zone{"zigbee2mqtt/ts_bureau": message.ZoneBureau},
	}, temps, modes, nil)
}

var bureauMap = message.RegulationMap{TcBureau: 19.0, Mode: message.PlanDay}

func newRadiator(name string, zone message.Zone) *device.Device {
	return device.New("external", name, message.KindRadiator, device.WithZone(zone), device.WithExternalID(name+"-did"))
}

func TestTransformScenario(t *testing.T) {
	tests := []struct {
		reading float64
		last    message.RadiatorMode
		want    message.RadiatorMode
	}{
		{18.5, message.ModeSTOP, message.ModeCFT},
		{19.5, message.ModeCFT, message.ModeSTOP},
		{19.0, message.ModeCFT, message.ModeCFT},
		{19.0, message.ModeSTOP, message.ModeSTOP},
		{18.5, message.ModeFRO, message.ModeCFT},
	}
	for _, tt := range tests {
		e := newEngine(t, tt.reading, nil, 0)
		c, err := e.Prepare(context.Background(), bureauMap)
		require.NoError(t, err)
		got := e.Transform(newRadiator("rad_bureau", message.ZoneBureau))(bureauMap, message.Radiator{Mode: tt.last}, c)
		assert.Equal(t, message.Radiator{Mode: tt.want}, got, "reading %v from %s", tt.reading, tt.last)
	}
}

func TestTransformEcoOverride(t *testing.T) {
	for _, reading := range []float64{5, 18.5, 19, 19.5, 35} {
		e := newEngine(t, reading, nil, 0)
		c, err := e.Prepare(context.Background(), bureauMap)
		require.NoError(t, err)
		got := e.Transform(newRadiator("rad_bureau", message.ZoneBureau))(bureauMap, message.Radiator{Mode: message.ModeECO}, c)
		assert.Equal(t, message.Radiator{Mode: message.ModeECO}, got)
	}
}

func TestTransformMissingReadingKeepsLast(t *testing.T) {
	e := newEngine(t, 10, nil, 0)
	got := e.Transform(newRadiator("rad_couloir", message.ZoneCouloir))(bureauMap, message.Radiator{Mode: message.ModeSTOP}, device.Context{})
	assert.Equal(t, message.Radiator{Mode: message.ModeSTOP}, got)
}

func TestPrepareIgnoresOtherKinds(t *testing.T) {
	e := newEngine(t, 10, nil, 2)
	c, err := e.Prepare(context.Background(), message.Radiator{Mode: message.ModeCFT})
	require.NoError(t, err)
	assert.Empty(t, c.Readings)
	assert.False(t, e.Checking())
}

func TestPrepareFailsWithoutReadings(t *testing.T) {
	useTestLogger(t)
	e := NewEngine(Config{Margin: 0.3}, &MockTemperatures{LatestTemperaturesFunc: func(context.Context) (map[string]float64, error) {
		return nil, errors.New("connection refused")
	}}, nil, nil)
	_, err := e.Prepare(context.Background(), bureauMap)
	assert.Error(t, err)

	e = NewEngine(Config{Margin: 0.3}, &MockTemperatures{LatestTemperaturesFunc: func(context.Context) (map[string]float64, error) {
		return map[string]float64{}, nil
	}}, nil, nil)
	_, err = e.Prepare(context.Background(), bureauMap)
	assert.ErrorIs(t, err, ErrNoReadings)
}

func TestCheckModeEveryNthCycle(t *testing.T) {
	modes := &MockModes{LatestModeFunc: func(context.Context, string) (message.RadiatorMode, error) {
		return message.ModeECO, nil
	}}
	e := newEngine(t, 18.0, modes, 3)
	rad := device.New("external", "rad_bureau", message.KindRadiator, device.WithZone(message.ZoneBureau), device.WithExternalID("mO7E2B49G1BS8R77UmWIjk"))
	require.NoError(t, rad.Replace(message.Radiator{Mode: message.ModeSTOP}))
	e.Install(rad)
	pub := &recordingPublisher{}

	for cycle := 1; cycle <= 2; cycle++ {
		c, err := e.Prepare(context.Background(), bureauMap)
		require.NoError(t, err)
		require.NoError(t, rad.Consume(context.Background(), bureauMap, c, pub))
	}
	assert.Empty(t, modes.Calls)
	assert.Equal(t, []string{"external/rad_bureau"}, pub.topics)
	assert.JSONEq(t, `{"mode":"CFT"}`, pub.payloads[0])

	// third cycle: the cloud reports a manual switch to eco, which wins
	c, err := e.Prepare(context.Background(), bureauMap)
	require.NoError(t, err)
	assert.True(t, e.Checking())
	require.NoError(t, rad.Consume(context.Background(), bureauMap, c, pub))
	assert.Equal(t, []string{"mO7E2B49G1BS8R77UmWIjk"}, modes.Calls)
	assert.Len(t, pub.topics, 1)
	assert.Equal(t, message.Radiator{Mode: message.ModeECO}, rad.Last())
}

func TestHandSetModeOutlivesNormalCycles(t *testing.T) {
	useTestLogger(t)
	ctx := context.Background()
	cloud := message.ModeECO
	modes := &MockModes{LatestModeFunc: func(context.Context, string) (message.RadiatorMode, error) {
		return cloud, nil
	}}
	states := &MockStates{LatestDeviceStateFunc: func(context.Context, string) ([]byte, error) {
		return []byte(`{"mode":"STOP"}`), nil
	}}
	temps := &MockTemperatures{LatestTemperaturesFunc: func(context.Context) (map[string]float64, error) {
		return map[string]float64{"zigbee2mqtt/ts_bureau": 19.5}, nil
	}}
	e := NewEngine(Config{
		Margin:     0.3,
		CheckEvery: 2,
		Sensors:    map[string]message.Zone{"zigbee2mqtt/ts_bureau": message.ZoneBureau},
	}, temps, modes, states)
	rad := newRadiator("rad_bureau", message.ZoneBureau)
	e.Install(rad)
	pub := &recordingPublisher{}

	cycle := func() {
		t.Helper()
		c, err := e.Prepare(ctx, bureauMap)
		require.NoError(t, err)
		require.NoError(t, rad.Consume(ctx, bureauMap, c, pub))
	}

	cycle() // too warm, already stopped
	cycle() // check: the user switched to eco in the vendor app
	assert.Equal(t, message.Radiator{Mode: message.ModeECO}, rad.Last())
	cycle() // the stored STOP must not win over eco
	cycle()
	assert.Empty(t, pub.topics)
	assert.Equal(t, message.Radiator{Mode: message.ModeECO}, rad.Last())

	cloud = message.ModeCFT
	cycle() // eco holds until the next check
	assert.Empty(t, pub.topics)
	cycle() // check: back to comfort, regulation resumes
	assert.Equal(t, []string{"external/rad_bureau"}, pub.topics)
	assert.JSONEq(t, `{"mode":"STOP"}`, pub.payloads[0])
}

func TestFrostGuardFromCloudIsHandSet(t *testing.T) {
	modes := &MockModes{LatestModeFunc: func(context.Context, string) (message.RadiatorMode, error) {
		return message.ModeFRO, nil
	}}
	e := newEngine(t, 18.0, modes, 1)
	rad := newRadiator("rad_bureau", message.ZoneBureau)
	e.Install(rad)
	pub := &recordingPublisher{}

	for i := 0; i < 2; i++ {
		c, err := e.Prepare(context.Background(), bureauMap)
		require.NoError(t, err)
		require.NoError(t, rad.Consume(context.Background(), bureauMap, c, pub))
	}
	assert.Empty(t, pub.topics)
	assert.Equal(t, message.Radiator{Mode: message.ModeFRO}, rad.Last())
	assert.True(t, e.Overridden(rad.Topic(), message.ModeFRO))
	assert.False(t, e.Overridden("external/rad_salon", message.ModeFRO), "frost guard is only our default elsewhere")
}

func TestLastStateFromStore(t *testing.T) {
	useTestLogger(t)
	states := &MockStates{LatestDeviceStateFunc: func(_ context.Context, topic string) ([]byte, error) {
		if topic == "external/rad_salon" {
			return []byte(`{"mode":"ECO"}`), nil
		}
		return nil, nil
	}}
	e := NewEngine(Config{Margin: 0.3}, nil, nil, states)

	got, err := e.LastState(context.Background(), device.New("external", "rad_salon", message.KindRadiator))
	require.NoError(t, err)
	assert.Equal(t, message.Radiator{Mode: message.ModeECO}, got)

	got, err = e.LastState(context.Background(), device.New("external", "rad_couloir", message.KindRadiator))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStaticSchedule(t *testing.T) {
	s := StaticSchedule{
		Day:     message.RegulationMap{Mode: message.PlanDay},
		Evening: message.RegulationMap{Mode: message.PlanEvening},
		Night:   message.RegulationMap{Mode: message.PlanNight},
	}
	at := func(h, m int) message.PlanMode {
		return s.At(time.Date(2024, 1, 10, h, m, 0, 0, time.Local)).Mode
	}
	assert.Equal(t, message.PlanNight, at(3, 0))
	assert.Equal(t, message.PlanNight, at(7, 0))
	assert.Equal(t, message.PlanDay, at(7, 1))
	assert.Equal(t, message.PlanDay, at(22, 0))
	assert.Equal(t, message.PlanEvening, at(22, 30))
	assert.Equal(t, message.PlanEvening, at(23, 59))
	assert.Equal(t, message.PlanNight, at(0, 0))
}

type MockPlanStore struct {
	CurrentPlanFunc func(ctx context.Context, now time.Time, boost bool) (message.RegulationMap, error)
}

func (m *MockPlanStore) CurrentPlan(ctx context.Context, now time.Time, boost bool) (message.RegulationMap, error) {
	return m.CurrentPlanFunc(ctx, now, boost)
}

func TestStoredPlansFallback(t *testing.T) {
	useTestLogger(t)
	night := message.RegulationMap{TcChambre1: 23, Mode: message.PlanNight}
	stored := message.RegulationMap{TcBureau: 21, Mode: message.PlanAbsence}
	now := time.Date(2024, 1, 10, 2, 0, 0, 0, time.Local)

	p := StoredPlans{Store: &MockPlanStore{CurrentPlanFunc: func(context.Context, time.Time, bool) (message.RegulationMap, error) {
		return stored, nil
	}}, Fallback: StaticSchedule{Night: night}}
	got, err := p.Current(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, stored, got)

	p.Store = &MockPlanStore{CurrentPlanFunc: func(context.Context, time.Time, bool) (message.RegulationMap, error) {
		return message.RegulationMap{}, ErrNoPlan
	}}
	got, err = p.Current(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, night, got)

	p.Store = &MockPlanStore{CurrentPlanFunc: func(context.Context, time.Time, bool) (message.RegulationMap, error) {
		return message.RegulationMap{}, errors.New("timeout")
	}}
	_, err = p.Current(context.Background(), now)
	assert.Error(t, err)
}
