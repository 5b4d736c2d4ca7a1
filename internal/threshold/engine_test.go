package threshold

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"tempmon/internal/alerting"
	"tempmon/internal/models"
	"tempmon/internal/state"
)

var scenarioSpec = Spec{
	High: Band{Value: 30, Hysteresis: 2},
	Low:  Band{Value: 10, Hysteresis: 1},
}

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return epoch.Add(time.Duration(sec) * time.Second)
}

type recorder struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (r *recorder) Notify(_ context.Context, note alerting.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, note)
	return nil
}

func (r *recorder) all() []alerting.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]alerting.Notification(nil), r.notes...)
}

func newTestEngine(rec alerting.Notifier, overrides ...Override) *Engine {
	return NewEngine(
		Options{Heartbeat: time.Hour},
		NewResolver(scenarioSpec, overrides),
		state.NewMemory(),
		rec,
		zerolog.Nop(),
	)
}

func TestScenarioHysteresisAndHeartbeat(t *testing.T) {
	rec := &recorder{}
	e := newTestEngine(rec)
	ctx := context.Background()

	steps := []struct {
		value   float64
		sec     int
		publish bool
		alert   models.Alert
	}{
		{31, 0, true, models.AlertHigh},
		{29, 10, false, models.AlertHigh},
		{27, 20, true, models.AlertNormal},
		{27, 3650, true, models.AlertNormal},
	}

	for i, s := range steps {
		d, err := e.Handle(ctx, models.Reading{EntityID: "A", Value: s.value, Timestamp: at(s.sec), Topic: "temperature_monitoring/A"})
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if d.Publish != s.publish || d.Alert != s.alert {
			t.Fatalf("step %d: got publish=%v alert=%s, want publish=%v alert=%s", i, d.Publish, d.Alert, s.publish, s.alert)
		}
	}

	notes := rec.all()
	if len(notes) != 3 {
		t.Fatalf("expected 3 publications, got %d", len(notes))
	}
	want := []models.Alert{models.AlertHigh, models.AlertNormal, models.AlertNormal}
	for i, n := range notes {
		if n.Alert != want[i] {
			t.Fatalf("publication %d: AlertVal %d, want %d", i, n.Alert, want[i])
		}
		if n.ThresholdLow != 10 || n.ThresholdHigh != 30 {
			t.Fatalf("publication %d: unexpected thresholds %+v", i, n)
		}
	}
	if !notes[2].Heartbeat || notes[2].Changed {
		t.Fatalf("last publication should be a heartbeat, got %+v", notes[2])
	}
	if !notes[0].Timestamp.Equal(at(0)) {
		t.Fatalf("alert must carry the reading timestamp, got %s", notes[0].Timestamp)
	}
}

func TestClassifyLatch(t *testing.T) {
	cases := []struct {
		name  string
		value float64
		prior models.Alert
		known bool
		want  models.Alert
	}{
		{"above high", 30.1, models.AlertNormal, true, models.AlertHigh},
		{"high deadband latched", 28.5, models.AlertHigh, true, models.AlertHigh},
		{"high deadband from normal", 28.5, models.AlertNormal, true, models.AlertNormal},
		{"high deadband unknown", 28.5, models.AlertHigh, false, models.AlertNormal},
		{"at high band edge releases", 28, models.AlertHigh, true, models.AlertNormal},
		{"exactly high is not high", 30, models.AlertNormal, true, models.AlertNormal},
		{"below low", 9.9, models.AlertNormal, true, models.AlertLow},
		{"low deadband latched", 10.5, models.AlertLow, true, models.AlertLow},
		{"low deadband from normal", 10.5, models.AlertNormal, true, models.AlertNormal},
		{"at low band edge releases", 11, models.AlertLow, true, models.AlertNormal},
		{"high to low directly", 5, models.AlertHigh, true, models.AlertLow},
		{"low to high directly", 35, models.AlertLow, true, models.AlertHigh},
	}
	for _, tc := range cases {
		if got := Classify(tc.value, tc.prior, tc.known, scenarioSpec); got != tc.want {
			t.Fatalf("%s: Classify(%v) = %s, want %s", tc.name, tc.value, got, tc.want)
		}
	}
}

func TestOverlappingDeadbandsCheckHighFirst(t *testing.T) {
	spec := Spec{High: Band{Value: 12, Hysteresis: 5}, Low: Band{Value: 10, Hysteresis: 5}}
	// 11 sits in both deadbands; a HIGH latch wins because the high band is checked first.
	if got := Classify(11, models.AlertHigh, true, spec); got != models.AlertHigh {
		t.Fatalf("expected HIGH, got %s", got)
	}
	if got := Classify(11, models.AlertLow, true, spec); got != models.AlertLow {
		t.Fatalf("expected LOW, got %s", got)
	}
}

func TestSuppressionWithinHeartbeat(t *testing.T) {
	prior := models.EntityState{EntityID: "A", Alert: models.AlertNormal, Known: true, LastPublishedAt: at(0)}
	d, next := Decide(prior, models.Reading{EntityID: "A", Value: 20, Timestamp: at(3600)}, scenarioSpec, time.Hour)
	if d.Publish {
		t.Fatal("exactly one heartbeat interval later must not publish")
	}
	if !next.LastPublishedAt.Equal(at(0)) {
		t.Fatalf("publish time must not advance without publishing, got %s", next.LastPublishedAt)
	}

	d, next = Decide(prior, models.Reading{EntityID: "A", Value: 20, Timestamp: at(3601)}, scenarioSpec, time.Hour)
	if !d.Publish || !d.Heartbeat || d.Changed {
		t.Fatalf("expected heartbeat publish, got %+v", d)
	}
	if !next.LastPublishedAt.Equal(at(3601)) {
		t.Fatalf("publish time should advance, got %s", next.LastPublishedAt)
	}
}

func TestHeartbeatMeasuredFromLastPublish(t *testing.T) {
	rec := &recorder{}
	e := newTestEngine(rec)
	ctx := context.Background()

	// A reading every 20 minutes; only the first and the one past an hour since it publish.
	for i, sec := range []int{0, 1200, 2400, 3600, 4800} {
		if _, err := e.Handle(ctx, models.Reading{EntityID: "A", Value: 20, Timestamp: at(sec), Topic: "p/A"}); err != nil {
			t.Fatalf("reading %d: %v", i, err)
		}
	}
	notes := rec.all()
	if len(notes) != 2 {
		t.Fatalf("expected 2 publications, got %d", len(notes))
	}
	if !notes[1].Timestamp.Equal(at(4800)) {
		t.Fatalf("heartbeat should fire at 4800s, got %s", notes[1].Timestamp)
	}
}

func TestFirstObservationAlwaysPublishes(t *testing.T) {
	for _, v := range []float64{5, 20, 40} {
		d, next := Decide(models.EntityState{}, models.Reading{EntityID: "new", Value: v, Timestamp: at(0)}, scenarioSpec, time.Hour)
		if !d.Publish || d.PriorKnown {
			t.Fatalf("value %v: first observation must publish, got %+v", v, d)
		}
		if !next.Known || next.EntityID != "new" {
			t.Fatalf("state should become known, got %+v", next)
		}
	}
}

func TestPartialOverrideKeepsDefaultSide(t *testing.T) {
	r := NewResolver(scenarioSpec, []Override{
		{Machine: "oven", High: &Band{Value: 250}},
		{Machine: "cellar", Low: &Band{Value: 2, Hysteresis: 0.5}},
		{Machine: "cellar", High: &Band{Value: 20, Hysteresis: 1}},
	})

	oven := r.Resolve("oven")
	if oven.High != (Band{Value: 250}) || oven.Low != scenarioSpec.Low {
		t.Fatalf("oven: unexpected spec %+v", oven)
	}
	if got := Classify(5, models.AlertNormal, true, oven); got != models.AlertLow {
		t.Fatalf("oven at 5 should use the default low band, got %s", got)
	}

	cellar := r.Resolve("cellar")
	want := Spec{High: Band{Value: 20, Hysteresis: 1}, Low: Band{Value: 2, Hysteresis: 0.5}}
	if cellar != want {
		t.Fatalf("cellar: expected %+v, got %+v", want, cellar)
	}
}

func TestPerMachineOverrideAndDefault(t *testing.T) {
	rec := &recorder{}
	override := Override{Machine: "freezer", High: &Band{Value: -10}, Low: &Band{Value: -30}}
	e := newTestEngine(rec, override)
	ctx := context.Background()

	d, err := e.Handle(ctx, models.Reading{EntityID: "freezer", Value: 0, Timestamp: at(0), Topic: "p/freezer"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if d.Alert != models.AlertHigh || d.Spec.High.Value != -10 {
		t.Fatalf("override not applied: %+v", d)
	}

	d, err = e.Handle(ctx, models.Reading{EntityID: "unknown", Value: 0, Timestamp: at(0), Topic: "p/unknown"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if d.Alert != models.AlertLow || d.Spec != scenarioSpec {
		t.Fatalf("default not applied: %+v", d)
	}
}

func TestEntitiesAreIndependent(t *testing.T) {
	rec := &recorder{}
	e := newTestEngine(rec)
	ctx := context.Background()

	_, _ = e.Handle(ctx, models.Reading{EntityID: "A", Value: 31, Timestamp: at(0)})
	d, _ := e.Handle(ctx, models.Reading{EntityID: "B", Value: 29, Timestamp: at(1)})
	if d.Alert != models.AlertNormal || !d.Publish {
		t.Fatalf("B must not inherit A's latch: %+v", d)
	}
}

type failingStore struct {
	state.Store
	failFor string
}

func (f *failingStore) Get(ctx context.Context, entity string) (models.EntityState, bool, error) {
	if entity == f.failFor {
		return models.EntityState{}, false, errors.New("unavailable")
	}
	return f.Store.Get(ctx, entity)
}

func TestStoreFailureDropsOnlyThatMessage(t *testing.T) {
	rec := &recorder{}
	mem := state.NewMemory()
	e := NewEngine(Options{}, NewResolver(scenarioSpec, nil), &failingStore{Store: mem, failFor: "bad"}, rec, zerolog.Nop())
	ctx := context.Background()

	if _, err := e.Handle(ctx, models.Reading{EntityID: "bad", Value: 40, Timestamp: at(0)}); err == nil {
		t.Fatal("expected store error")
	}
	if _, err := e.Handle(ctx, models.Reading{EntityID: "good", Value: 40, Timestamp: at(0)}); err != nil {
		t.Fatalf("other machines must keep working: %v", err)
	}
	if mem.Len() != 1 {
		t.Fatalf("only the good machine should be stored, got %d", mem.Len())
	}
	if len(rec.all()) != 1 {
		t.Fatalf("expected one publication, got %d", len(rec.all()))
	}
}

func TestNotifierFailureStillAdvancesState(t *testing.T) {
	failing := alerting.NotifierFunc(func(context.Context, alerting.Notification) error {
		return errors.New("broker down")
	})
	e := newTestEngine(failing)
	ctx := context.Background()

	if _, err := e.Handle(ctx, models.Reading{EntityID: "A", Value: 31, Timestamp: at(0)}); err != nil {
		t.Fatalf("publish failure must not surface as a handling error: %v", err)
	}
	d, err := e.Handle(ctx, models.Reading{EntityID: "A", Value: 31, Timestamp: at(10)})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if d.Publish {
		t.Fatal("failed publish is not retried; heartbeat bounds staleness")
	}
}

func TestShardForIsStable(t *testing.T) {
	for _, id := range []string{"A", "B", "oven-1", "freezer"} {
		first := ShardFor(id, 4)
		if first < 0 || first >= 4 {
			t.Fatalf("shard out of range for %s: %d", id, first)
		}
		for i := 0; i < 10; i++ {
			if ShardFor(id, 4) != first {
				t.Fatalf("shard for %s not stable", id)
			}
		}
	}
	if ShardFor("A", 1) != 0 {
		t.Fatal("single worker must take every machine")
	}
}

func TestRunProcessesUntilInputCloses(t *testing.T) {
	rec := &recorder{}
	e := NewEngine(Options{Workers: 3}, NewResolver(scenarioSpec, nil), state.NewMemory(), rec, zerolog.Nop())

	in := make(chan models.Reading)
	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background(), in) }()

	machines := []string{"A", "B", "C", "D"}
	for i, m := range machines {
		in <- models.Reading{EntityID: m, Value: 31, Timestamp: at(i)}
		in <- models.Reading{EntityID: m, Value: 29, Timestamp: at(i + 10)}
		in <- models.Reading{EntityID: m, Value: 20, Timestamp: at(i + 20)}
	}
	close(in)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop after input closed")
	}

	perMachine := map[string][]models.Alert{}
	for _, n := range rec.all() {
		perMachine[n.Machine] = append(perMachine[n.Machine], n.Alert)
	}
	for _, m := range machines {
		got := perMachine[m]
		if len(got) != 2 || got[0] != models.AlertHigh || got[1] != models.AlertNormal {
			t.Fatalf("machine %s: unexpected publications %v", m, got)
		}
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	e := newTestEngine(&recorder{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx, make(chan models.Reading)) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("engine did not stop on cancel")
	}
}

func TestSpecValidate(t *testing.T) {
	if err := scenarioSpec.Validate(); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}
	if err := (Spec{High: Band{Value: 10}, Low: Band{Value: 10}}).Validate(); err == nil {
		t.Fatal("high must exceed low")
	}
	if err := (Spec{High: Band{Value: 30, Hysteresis: -1}, Low: Band{Value: 10}}).Validate(); err == nil {
		t.Fatal("negative hysteresis must be rejected")
	}
}
