package analytics

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strconv"
	"time"

	"drainwatch/internal/errs"
	"drainwatch/internal/models"
	"drainwatch/internal/storage"
)

// Period caps. Queries beyond these bounds are rejected rather than clamped.
const (
	maxHours = 720
	maxDays  = 30
)

var periodPattern = regexp.MustCompile(`^(\d+)(h|d)$`)

// GroupBy selects the bucket granularity.
type GroupBy string

const (
	GroupByHour GroupBy = "hour"
	GroupByDay  GroupBy = "day"
)

// Query describes one aggregation request. ManholeID and GroupBy are
// optional; Metric and Period are required.
type Query struct {
	ManholeID string
	Metric    models.Metric
	Period    string
	GroupBy   GroupBy
}

// TimeGroup identifies a bucket. Hour is set only for hourly grouping;
// ManholeID only when the query was not already scoped to one manhole.
type TimeGroup struct {
	Year      int    `json:"year"`
	Month     int    `json:"month"`
	Day       int    `json:"day"`
	Hour      *int   `json:"hour,omitempty"`
	ManholeID string `json:"manholeId,omitempty"`
}

// Bucket is one time group with its aggregates, rounded to two decimals.
type Bucket struct {
	Group TimeGroup `json:"id"`
	Avg   float64   `json:"avg"`
	Min   float64   `json:"min"`
	Max   float64   `json:"max"`
	Count int       `json:"count"`
}

// Period echoes the parsed window back to the caller.
type Period struct {
	Value int       `json:"value"`
	Unit  string    `json:"unit"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Report is the full aggregation result. Count is the number of buckets;
// per-reading counts live on each bucket.
type Report struct {
	Metric  models.Metric `json:"metric"`
	Period  Period        `json:"period"`
	GroupBy GroupBy       `json:"groupBy"`
	Count   int           `json:"count"`
	Buckets []Bucket      `json:"buckets"`
}

// Aggregator computes time-bucketed statistics over stored readings.
type Aggregator struct {
	store storage.Store
	now   func() time.Time
}

// New creates an aggregator over the given store.
func New(store storage.Store) *Aggregator {
	return &Aggregator{store: store, now: time.Now}
}

// bucketKey is the comparable grouping key. hasHour distinguishes daily from
// hourly grouping so the exported TimeGroup can carry an optional Hour.
type bucketKey struct {
	year, month, day, hour int
	hasHour                bool
	manholeID              string
}

func (k bucketKey) timeGroup() TimeGroup {
	group := TimeGroup{Year: k.year, Month: k.month, Day: k.day, ManholeID: k.manholeID}
	if k.hasHour {
		h := k.hour
		group.Hour = &h
	}
	return group
}

// Aggregate validates the query, loads the matching readings and folds them
// into hour or day buckets with avg, min, max and count per bucket. Buckets
// are ordered by the earliest reading each one contains. A query matching
// zero readings returns errs.ErrNoData.
func (a *Aggregator) Aggregate(ctx context.Context, q Query) (*Report, error) {
	if !q.Metric.IsValid() {
		return nil, errs.Validationf("metric", "invalid metric %q", q.Metric)
	}

	value, unit, err := parsePeriod(q.Period)
	if err != nil {
		return nil, err
	}

	var window time.Duration
	if unit == "h" {
		window = time.Duration(value) * time.Hour
	} else {
		window = time.Duration(value) * 24 * time.Hour
	}

	groupBy := q.GroupBy
	if groupBy == "" {
		if window <= 24*time.Hour {
			groupBy = GroupByHour
		} else {
			groupBy = GroupByDay
		}
	}
	if groupBy != GroupByHour && groupBy != GroupByDay {
		return nil, errs.Validationf("groupBy", "invalid groupBy %q", groupBy)
	}

	end := a.now().UTC()
	start := end.Add(-window)

	readings, err := a.store.ReadingsSince(ctx, start, q.ManholeID)
	if err != nil {
		return nil, err
	}

	type acc struct {
		sum      float64
		min      float64
		max      float64
		count    int
		earliest time.Time
	}
	buckets := make(map[bucketKey]*acc)

	for _, r := range readings {
		v, ok := r.MetricValue(q.Metric)
		if !ok {
			// Optional channels may be absent on some readings.
			continue
		}
		key := keyFor(r, groupBy, q.ManholeID == "")
		b, exists := buckets[key]
		if !exists {
			b = &acc{min: v, max: v, earliest: r.Timestamp}
			buckets[key] = b
		}
		b.sum += v
		b.count++
		if v < b.min {
			b.min = v
		}
		if v > b.max {
			b.max = v
		}
		if r.Timestamp.Before(b.earliest) {
			b.earliest = r.Timestamp
		}
	}

	if len(buckets) == 0 {
		return nil, errs.ErrNoData
	}

	type ordered struct {
		bucket   Bucket
		earliest time.Time
	}
	out := make([]ordered, 0, len(buckets))
	for key, b := range buckets {
		out = append(out, ordered{
			earliest: b.earliest,
			bucket: Bucket{
				Group: key.timeGroup(),
				Avg:   round2(b.sum / float64(b.count)),
				Min:   round2(b.min),
				Max:   round2(b.max),
				Count: b.count,
			},
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].earliest.Before(out[j].earliest) })

	result := make([]Bucket, len(out))
	for i, o := range out {
		result[i] = o.bucket
	}

	return &Report{
		Metric:  q.Metric,
		Period:  Period{Value: value, Unit: unit, Start: start, End: end},
		GroupBy: groupBy,
		Count:   len(result),
		Buckets: result,
	}, nil
}

func parsePeriod(period string) (int, string, error) {
	m := periodPattern.FindStringSubmatch(period)
	if m == nil {
		return 0, "", errs.Validationf("period", "invalid period %q, expected forms like 24h or 7d", period)
	}
	value, err := strconv.Atoi(m[1])
	if err != nil || value == 0 {
		return 0, "", errs.Validationf("period", "invalid period value %q", m[1])
	}
	unit := m[2]
	if unit == "h" && value > maxHours {
		return 0, "", errs.Validationf("period", "period exceeds maximum of %dh", maxHours)
	}
	if unit == "d" && value > maxDays {
		return 0, "", errs.Validationf("period", "period exceeds maximum of %dd", maxDays)
	}
	return value, unit, nil
}

func keyFor(r models.SensorReading, groupBy GroupBy, includeManhole bool) bucketKey {
	ts := r.Timestamp.UTC()
	key := bucketKey{
		year:  ts.Year(),
		month: int(ts.Month()),
		day:   ts.Day(),
	}
	if groupBy == GroupByHour {
		key.hour = ts.Hour()
		key.hasHour = true
	}
	if includeManhole {
		key.manholeID = r.ManholeID
	}
	return key
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
