package settings

import (
	"reflect"
	"testing"

	"github.com/replybot/replybot/internal/storage"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewService(s)
}

// TestSnapshotDefaults verifies a fresh database yields the built-in defaults.
func TestSnapshotDefaults(t *testing.T) {
	svc := newTestService(t)

	snap, err := svc.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	if snap.Model != "gpt-3.5-turbo" {
		t.Errorf("Model = %q, want gpt-3.5-turbo", snap.Model)
	}
	if snap.ModelCustom {
		t.Error("ModelCustom = true, want false")
	}
	if snap.MaxResponseTokens != 500 {
		t.Errorf("MaxResponseTokens = %d, want 500", snap.MaxResponseTokens)
	}
	if snap.TemperaturePercent != 100 || snap.TopPPercent != 100 {
		t.Errorf("sampling percents = %d/%d, want 100/100", snap.TemperaturePercent, snap.TopPPercent)
	}
	if snap.MaxLookBehind != 10 {
		t.Errorf("MaxLookBehind = %d, want 10", snap.MaxLookBehind)
	}
	if len(snap.PrivilegedGroupIDs) != 0 {
		t.Errorf("PrivilegedGroupIDs = %v, want empty", snap.PrivilegedGroupIDs)
	}
}

// TestSetOverridesDefault verifies stored values win over defaults and that
// a later Snapshot sees the change without restarting the service.
func TestSetOverridesDefault(t *testing.T) {
	svc := newTestService(t)

	before, err := svc.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if before.Model != "gpt-3.5-turbo" {
		t.Fatalf("unexpected default model %q", before.Model)
	}

	if err := svc.Set(KeyModel, "gpt-4"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := svc.Set(KeyTemperature, "70"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	after, err := svc.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if after.Model != "gpt-4" {
		t.Errorf("Model = %q, want gpt-4", after.Model)
	}
	if after.TemperaturePercent != 70 {
		t.Errorf("TemperaturePercent = %d, want 70", after.TemperaturePercent)
	}
}

// TestSetUnknownKey verifies unknown keys are rejected.
func TestSetUnknownKey(t *testing.T) {
	svc := newTestService(t)

	if err := svc.Set("no_such_setting", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
}

// TestAllMergesDefaults verifies All returns every known key.
func TestAllMergesDefaults(t *testing.T) {
	svc := newTestService(t)

	if err := svc.Set(KeyMaxLookBehind, "25"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	values, err := svc.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(values) != len(Keys()) {
		t.Errorf("got %d values, want %d", len(values), len(Keys()))
	}
	if values[KeyMaxLookBehind] != "25" {
		t.Errorf("max_look_behind = %q, want 25", values[KeyMaxLookBehind])
	}
	if values[KeyModel] != "gpt-3.5-turbo" {
		t.Errorf("model = %q, want default", values[KeyModel])
	}
}

// TestParseGroupList covers the delimiter, whitespace, and malformed entries.
func TestParseGroupList(t *testing.T) {
	cases := []struct {
		raw  string
		want []int64
	}{
		{"", nil},
		{"3", []int64{3}},
		{"3|11|42", []int64{3, 11, 42}},
		{" 3 | 11 ", []int64{3, 11}},
		{"3|abc|11", []int64{3, 11}},
		{"||", nil},
	}
	for _, tc := range cases {
		got := ParseGroupList(tc.raw)
		if !reflect.DeepEqual(got, tc.want) {
			t.Errorf("ParseGroupList(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

// TestMalformedNumericFallsBack verifies a garbage stored value falls back to
// the default instead of failing the snapshot.
func TestMalformedNumericFallsBack(t *testing.T) {
	svc := newTestService(t)

	if err := svc.Set(KeyMaxResponseTokens, "lots"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	snap, err := svc.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.MaxResponseTokens != 500 {
		t.Errorf("MaxResponseTokens = %d, want fallback 500", snap.MaxResponseTokens)
	}
}
