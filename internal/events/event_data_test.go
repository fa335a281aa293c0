package events

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversToSubscribers(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var got []*Event
	bus.Subscribe(EpochRecorded, func(e *Event) { got = append(got, e) })
	bus.Subscribe(EpochRecorded, func(e *Event) { got = append(got, e) })
	bus.Subscribe(RunCompleted, func(e *Event) { t.Fatal("wrong type delivered") })

	bus.Emit(EpochRecorded, "hybrid", map[string]interface{}{"epoch": 1})

	require.Len(t, got, 2)
	assert.Equal(t, EpochRecorded, got[0].Type)
	assert.Equal(t, "hybrid", got[0].Module)
	assert.Equal(t, 1, got[0].Data["epoch"])
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestBusEmitWithoutSubscribers(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	assert.NotPanics(t, func() {
		bus.Emit(RunFailed, "hybrid", nil)
	})
}

func TestBusConcurrentEmitAndSubscribe(t *testing.T) {
	bus := NewBus(zerolog.Nop())
	var mu sync.Mutex
	count := 0
	bus.Subscribe(RunStarted, func(*Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Emit(RunStarted, "api", nil)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		bus.Subscribe(RunCompleted, func(*Event) {})
	}()
	wg.Wait()

	assert.Equal(t, 10, count)
}

func TestEmitTyped(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var got *Event
	bus.Subscribe(RunCompleted, func(e *Event) { got = e })

	gap := 0.05
	EmitTyped(bus, "hybrid", &RunCompletedData{
		RunID:    "run-1",
		Problem:  "mean_variance_10assets_normal",
		BestCost: -4.2,
		RawCost:  -4.2,
		Feasible: true,
		Gap:      &gap,
	})

	require.NotNil(t, got)
	assert.Equal(t, "run-1", got.Data["run_id"])
	assert.Equal(t, -4.2, got.Data["best_cost"])
	assert.Equal(t, true, got.Data["feasible"])
	assert.Equal(t, 0.05, got.Data["gap"])
}

func TestEmitTypedNilSafe(t *testing.T) {
	assert.NotPanics(t, func() {
		EmitTyped(nil, "hybrid", &RunFailedData{RunID: "r", Error: "x"})
		EmitTyped(NewBus(zerolog.Nop()), "hybrid", nil)
	})
}

func TestToMapRoundTrip(t *testing.T) {
	m := ToMap(&EpochRecordedData{RunID: "r", Exec: 2, Epoch: 3, Cost: 1.5, BestCost: 1.0})
	require.NotNil(t, m)
	// JSON numbers come back as float64.
	assert.Equal(t, float64(3), m["epoch"])
	assert.Equal(t, float64(2), m["exec"])
}
