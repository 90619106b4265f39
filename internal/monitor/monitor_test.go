// SIMSync - IoT Connectivity Provider Sync Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/simsync

package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/tomtom215/simsync/internal/config"
	"github.com/tomtom215/simsync/internal/kv"
	"github.com/tomtom215/simsync/internal/models"
)

const testICCID = "8988280666000000001"

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func quota(total, used int64, threshold int) *models.QuotaState {
	q := &models.QuotaState{
		ICCID:               testICCID,
		Type:                models.QuotaData,
		Total:               total,
		Used:                used,
		ThresholdPercentage: threshold,
		UpdatedAt:           t0,
	}
	q.Normalize()
	return q
}

func kinds(events []models.ThresholdEvent) []models.EventKind {
	out := make([]models.EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func checkKinds(t *testing.T, got []models.ThresholdEvent, want ...models.EventKind) {
	t.Helper()
	g := kinds(got)
	if len(g) != len(want) {
		t.Fatalf("events = %v, want %v", g, want)
	}
	for i := range want {
		if g[i] != want[i] {
			t.Fatalf("events = %v, want %v", g, want)
		}
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name string
		prev *models.QuotaState
		curr *models.QuotaState
		want []models.EventKind
	}{
		{"first snapshot below", nil, quota(100, 50, 80), nil},
		{"first snapshot above", nil, quota(100, 85, 80), []models.EventKind{models.EventThresholdReached}},
		{"crossing upward", quota(100, 79, 80), quota(100, 80, 80), []models.EventKind{models.EventThresholdReached}},
		{"staying above", quota(100, 85, 80), quota(100, 90, 80), nil},
		{"dropping below", quota(100, 85, 80), quota(100, 10, 80), nil},
		{"crossing and depleting", quota(100, 50, 80), quota(100, 100, 80),
			[]models.EventKind{models.EventThresholdReached, models.EventQuotaDepleted}},
		{"still depleted", quota(100, 100, 80), quota(100, 100, 80), nil},
		{"threshold disabled", quota(100, 10, 0), quota(100, 95, 0), nil},
		{"threshold disabled still reports depletion", quota(100, 10, 0), quota(100, 100, 0),
			[]models.EventKind{models.EventQuotaDepleted}},
		{"nil current", quota(100, 10, 80), nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checkKinds(t, Evaluate(tt.prev, tt.curr), tt.want...)
		})
	}
}

func TestEvaluateRiseDropRiseFiresTwice(t *testing.T) {
	seq := []*models.QuotaState{
		quota(1000, 100, 90),
		quota(1000, 950, 90), // rise
		quota(1000, 960, 90),
		quota(1000, 100, 90), // drop after a top-up or period reset
		quota(1000, 920, 90), // rise again
	}
	var fired []models.ThresholdEvent
	var prev *models.QuotaState
	for _, curr := range seq {
		fired = append(fired, Evaluate(prev, curr)...)
		prev = curr
	}
	checkKinds(t, fired, models.EventThresholdReached, models.EventThresholdReached)
}

func TestEvaluateIsPure(t *testing.T) {
	prev, curr := quota(100, 10, 80), quota(100, 100, 80)
	first := Evaluate(prev, curr)
	second := Evaluate(prev, curr)
	if len(first) != len(second) {
		t.Fatalf("repeated evaluation differs: %v vs %v", kinds(first), kinds(second))
	}
	if prev.Used != 10 || curr.Used != 100 {
		t.Error("Evaluate mutated its inputs")
	}
	if first[0].Detail["used_percent"] != float64(100) {
		t.Errorf("detail = %v", first[0].Detail)
	}
}

// ===================================================================================================
// Handle
// ===================================================================================================

type fakeTopUpper struct {
	mu      sync.Mutex
	calls   []int64
	failErr error
}

func (f *fakeTopUpper) TopUp(_ context.Context, _ string, _ models.QuotaType, volume int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, volume)
	return f.failErr
}

type memQuotas struct {
	mu    sync.Mutex
	saved []models.QuotaState
}

func (m *memQuotas) UpsertQuota(_ context.Context, q *models.QuotaState) error {
	if err := q.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, *q)
	return nil
}

type memSink struct {
	mu     sync.Mutex
	events []models.ThresholdEvent
}

func (s *memSink) Name() string { return "mem" }

func (s *memSink) Deliver(_ context.Context, ev models.ThresholdEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

type harness struct {
	mon    *Monitor
	topUp  *fakeTopUpper
	quotas *memQuotas
	sink   *memSink
	mr     *miniredis.Miniredis
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h := &harness{topUp: &fakeTopUpper{}, quotas: &memQuotas{}, sink: &memSink{}, mr: mr}
	h.mon = New(h.quotas, h.topUp, kv.NewRedis(client), kv.Keys{Prefix: "simsync"}, h.sink,
		config.MonitorConfig{TopUpCooldown: time.Hour, DefaultTopUpVolume: 100 << 20},
		WithNowFunc(func() time.Time { return t0.Add(time.Minute) }))
	return h
}

func depletedAutoReload() *models.QuotaState {
	q := quota(524288000, 524288000, 90)
	q.AutoReload = true
	return q
}

func TestHandleTopUpScenario(t *testing.T) {
	h := newHarness(t)
	prev := quota(524288000, 314572800, 90)
	prev.AutoReload = true
	prev.LastVolumeAdded = 104857600

	// The quota in this scenario is not depleted, so top-up is applied
	// directly to check the arithmetic.
	curr := *prev
	if err := curr.ApplyTopUp(104857600, t0); err != nil {
		t.Fatalf("ApplyTopUp: %v", err)
	}
	if curr.Total != 629145600 || curr.Remaining != 314572800 || curr.Used != 314572800 {
		t.Errorf("after top-up total=%d used=%d remaining=%d", curr.Total, curr.Used, curr.Remaining)
	}

	events, err := h.mon.Handle(context.Background(), prev, &curr)
	if err != nil || len(events) != 0 {
		t.Errorf("Handle = %v, %v; want no events", kinds(events), err)
	}
}

func TestHandleDepletionTopsUpOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	prev := quota(524288000, 400000000, 90)
	prev.AutoReload = true
	curr := depletedAutoReload()
	curr.LastVolumeAdded = 104857600

	events, err := h.mon.Handle(ctx, prev, curr)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	checkKinds(t, events, models.EventThresholdReached, models.EventQuotaDepleted, models.EventAutoTopUp)
	if len(h.topUp.calls) != 1 || h.topUp.calls[0] != 104857600 {
		t.Fatalf("top-up calls = %v", h.topUp.calls)
	}
	if curr.Total != 629145600 || curr.Remaining != 104857600 {
		t.Errorf("curr after top-up = total %d remaining %d", curr.Total, curr.Remaining)
	}
	if len(h.quotas.saved) != 1 || h.quotas.saved[0].Total != 629145600 {
		t.Errorf("saved = %+v", h.quotas.saved)
	}
	if len(h.sink.events) != 3 {
		t.Errorf("sink received %d events, want 3", len(h.sink.events))
	}
	if !h.mr.Exists("simsync:debounce:topup:" + testICCID + ":data") {
		t.Error("debounce key not set")
	}

	// A second depletion edge inside the cooldown does not top up again.
	again := depletedAutoReload()
	events, err = h.mon.Handle(ctx, quota(524288000, 0, 90), again)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	checkKinds(t, events, models.EventThresholdReached, models.EventQuotaDepleted)
	if len(h.topUp.calls) != 1 {
		t.Errorf("top-up calls = %d, want still 1 inside the cooldown", len(h.topUp.calls))
	}

	// After the cooldown a new episode may top up again.
	h.mr.FastForward(time.Hour + time.Second)
	if _, err := h.mon.Handle(ctx, quota(524288000, 0, 90), depletedAutoReload()); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(h.topUp.calls) != 2 {
		t.Errorf("top-up calls = %d, want 2 after cooldown", len(h.topUp.calls))
	}
	if h.topUp.calls[1] != 100<<20 {
		t.Errorf("volume = %d, want the default when no previous top-up is known", h.topUp.calls[1])
	}
}

func TestHandleConcurrentReplicasTopUpOnce(t *testing.T) {
	h := newHarness(t)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.mon.Handle(context.Background(), nil, depletedAutoReload())
		}()
	}
	wg.Wait()
	if len(h.topUp.calls) != 1 {
		t.Errorf("top-up calls = %d, want 1", len(h.topUp.calls))
	}
}

func TestHandleTopUpFailureKeepsDebounce(t *testing.T) {
	h := newHarness(t)
	h.topUp.failErr = errors.New("provider down")

	events, err := h.mon.Handle(context.Background(), nil, depletedAutoReload())
	if err == nil {
		t.Fatal("Handle error = nil, want the top-up failure")
	}
	checkKinds(t, events, models.EventThresholdReached, models.EventQuotaDepleted, models.EventAutoTopUpFailed)
	if events[2].Detail["error"] != "provider down" {
		t.Errorf("detail = %v", events[2].Detail)
	}
	if len(h.quotas.saved) != 0 {
		t.Error("failed top-up must not persist a new quota")
	}

	_, _ = h.mon.Handle(context.Background(), nil, depletedAutoReload())
	if len(h.topUp.calls) != 1 {
		t.Errorf("top-up calls = %d, want 1: the debounce key outlives the failure", len(h.topUp.calls))
	}
}

func TestHandleWithoutAutoReload(t *testing.T) {
	h := newHarness(t)
	curr := depletedAutoReload()
	curr.AutoReload = false

	events, err := h.mon.Handle(context.Background(), nil, curr)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	checkKinds(t, events, models.EventThresholdReached, models.EventQuotaDepleted)
	if len(h.topUp.calls) != 0 {
		t.Errorf("top-up calls = %d, want 0", len(h.topUp.calls))
	}
}
