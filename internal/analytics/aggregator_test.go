package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"drainwatch/internal/errs"
	"drainwatch/internal/models"
	"drainwatch/internal/storage"
)

func fixedAggregator(store storage.Store, now time.Time) *Aggregator {
	a := New(store)
	a.now = func() time.Time { return now }
	return a
}

func addReading(t *testing.T, store storage.Store, manholeID string, ts time.Time, sewage float64) {
	t.Helper()
	r := &models.SensorReading{
		ManholeID:  manholeID,
		Timestamp:  ts,
		Sensors:    models.SensorChannels{SewageLevel: sewage, MethaneLevel: 400, FlowRate: 0.5},
		Thresholds: models.DefaultThresholds(),
		Severity:   models.SeverityNormal,
	}
	if err := store.CreateReading(context.Background(), r); err != nil {
		t.Fatalf("CreateReading: %v", err)
	}
}

func TestAggregateValidation(t *testing.T) {
	t.Parallel()

	a := fixedAggregator(storage.NewMemoryStore(), time.Now())
	ctx := context.Background()

	cases := []struct {
		name string
		q    Query
	}{
		{"bad metric", Query{Metric: "pressure", Period: "24h"}},
		{"bad period format", Query{Metric: models.MetricSewageLevel, Period: "24"}},
		{"bad period unit", Query{Metric: models.MetricSewageLevel, Period: "2w"}},
		{"zero period", Query{Metric: models.MetricSewageLevel, Period: "0h"}},
		{"hours over cap", Query{Metric: models.MetricSewageLevel, Period: "721h"}},
		{"days over cap", Query{Metric: models.MetricSewageLevel, Period: "31d"}},
		{"bad group by", Query{Metric: models.MetricSewageLevel, Period: "24h", GroupBy: "week"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := a.Aggregate(ctx, tc.q); !errs.IsValidation(err) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
		})
	}
}

func TestAggregateCapBoundaries(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	addReading(t, store, "MH-001", now.Add(-time.Hour), 1.0)
	a := fixedAggregator(store, now)

	if _, err := a.Aggregate(context.Background(), Query{Metric: models.MetricSewageLevel, Period: "720h"}); err != nil {
		t.Fatalf("720h rejected: %v", err)
	}
	if _, err := a.Aggregate(context.Background(), Query{Metric: models.MetricSewageLevel, Period: "30d"}); err != nil {
		t.Fatalf("30d rejected: %v", err)
	}
}

func TestAggregateHourlyBuckets(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	// Two readings in the 09:00 bucket, one in the 11:00 bucket.
	addReading(t, store, "MH-001", now.Add(-3*time.Hour), 1.0)
	addReading(t, store, "MH-001", now.Add(-3*time.Hour).Add(10*time.Minute), 2.0)
	addReading(t, store, "MH-001", now.Add(-time.Hour), 3.337)

	a := fixedAggregator(store, now)
	report, err := a.Aggregate(context.Background(), Query{
		ManholeID: "MH-001",
		Metric:    models.MetricSewageLevel,
		Period:    "24h",
	})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	if report.GroupBy != GroupByHour {
		t.Fatalf("groupBy = %s, want hour inferred from 24h window", report.GroupBy)
	}
	if len(report.Buckets) != 2 {
		t.Fatalf("buckets = %d, want 2", len(report.Buckets))
	}
	if report.Count != 2 {
		t.Fatalf("count = %d, want bucket count 2", report.Count)
	}

	first := report.Buckets[0]
	if first.Group.Hour == nil || *first.Group.Hour != 9 {
		t.Fatalf("first bucket hour = %v, want 9", first.Group.Hour)
	}
	if first.Avg != 1.5 || first.Min != 1.0 || first.Max != 2.0 || first.Count != 2 {
		t.Errorf("first bucket stats = %+v", first)
	}
	// The query was scoped to one manhole; groups carry no manhole id.
	if first.Group.ManholeID != "" {
		t.Errorf("manhole id on scoped query group = %q", first.Group.ManholeID)
	}

	second := report.Buckets[1]
	if second.Group.Hour == nil || *second.Group.Hour != 11 {
		t.Fatalf("second bucket hour = %v, want 11", second.Group.Hour)
	}
	if second.Avg != 3.34 {
		t.Errorf("avg not rounded to 2dp: %v", second.Avg)
	}
}

func TestAggregateDailyBucketsAcrossManholes(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	addReading(t, store, "MH-001", now.Add(-48*time.Hour), 1.0)
	addReading(t, store, "MH-002", now.Add(-48*time.Hour), 2.0)
	addReading(t, store, "MH-001", now.Add(-time.Hour), 3.0)

	a := fixedAggregator(store, now)
	report, err := a.Aggregate(context.Background(), Query{
		Metric: models.MetricSewageLevel,
		Period: "7d",
	})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	if report.GroupBy != GroupByDay {
		t.Fatalf("groupBy = %s, want day inferred from 7d window", report.GroupBy)
	}
	// Same day, different manholes: separate buckets with manhole ids set.
	if len(report.Buckets) != 3 {
		t.Fatalf("buckets = %d, want 3", len(report.Buckets))
	}
	for _, b := range report.Buckets {
		if b.Group.ManholeID == "" {
			t.Errorf("manhole id missing on unscoped query group: %+v", b.Group)
		}
		if b.Group.Hour != nil {
			t.Errorf("hour set on daily bucket: %+v", b.Group)
		}
	}
}

func TestAggregateWindowFiltersOldReadings(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	addReading(t, store, "MH-001", now.Add(-30*time.Hour), 9.0)
	addReading(t, store, "MH-001", now.Add(-2*time.Hour), 1.0)

	a := fixedAggregator(store, now)
	report, err := a.Aggregate(context.Background(), Query{
		ManholeID: "MH-001",
		Metric:    models.MetricSewageLevel,
		Period:    "24h",
	})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if len(report.Buckets) != 1 {
		t.Fatalf("buckets = %d, want 1 (reading outside window included)", len(report.Buckets))
	}
	if report.Buckets[0].Count != 1 {
		t.Fatalf("bucket count = %d, want 1", report.Buckets[0].Count)
	}
}

func TestAggregateNoData(t *testing.T) {
	t.Parallel()

	a := fixedAggregator(storage.NewMemoryStore(), time.Now())
	_, err := a.Aggregate(context.Background(), Query{Metric: models.MetricFlowRate, Period: "6h"})
	if !errors.Is(err, errs.ErrNoData) {
		t.Fatalf("err = %v, want ErrNoData", err)
	}
}

func TestAggregateSkipsAbsentOptionalChannel(t *testing.T) {
	t.Parallel()

	store := storage.NewMemoryStore()
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	temp := 18.5
	withTemp := &models.SensorReading{
		ManholeID:  "MH-001",
		Timestamp:  now.Add(-time.Hour),
		Sensors:    models.SensorChannels{SewageLevel: 1, MethaneLevel: 1, FlowRate: 1, Temperature: &temp},
		Thresholds: models.DefaultThresholds(),
		Severity:   models.SeverityNormal,
	}
	withoutTemp := &models.SensorReading{
		ManholeID:  "MH-001",
		Timestamp:  now.Add(-time.Hour),
		Sensors:    models.SensorChannels{SewageLevel: 1, MethaneLevel: 1, FlowRate: 1},
		Thresholds: models.DefaultThresholds(),
		Severity:   models.SeverityNormal,
	}
	ctx := context.Background()
	if err := store.CreateReading(ctx, withTemp); err != nil {
		t.Fatalf("CreateReading: %v", err)
	}
	if err := store.CreateReading(ctx, withoutTemp); err != nil {
		t.Fatalf("CreateReading: %v", err)
	}

	a := fixedAggregator(store, now)
	report, err := a.Aggregate(ctx, Query{ManholeID: "MH-001", Metric: models.MetricTemperature, Period: "6h"})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if report.Buckets[0].Count != 1 {
		t.Fatalf("bucket count = %d, want 1 (absent channel counted)", report.Buckets[0].Count)
	}
	if report.Buckets[0].Avg != 18.5 {
		t.Errorf("avg = %v", report.Buckets[0].Avg)
	}
}
