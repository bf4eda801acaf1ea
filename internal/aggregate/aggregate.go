// Package aggregate derives per-device views from stored uplinks and
// readings: daily consumption series and device summaries.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/uplink-ingest-service/internal/domain"
	"github.com/couchcryptid/uplink-ingest-service/internal/store"
)

// ErrInvalidDays is returned when a daily window is not at least one day long.
var ErrInvalidDays = errors.New("days must be at least 1")

const dateLayout = "2006-01-02"

// Reader is the read side of the store the aggregator needs.
type Reader interface {
	ListDevices(ctx context.Context) ([]string, error)
	ListReadings(ctx context.Context, devEUI string, r store.Range) ([]domain.Reading, error)
	LatestReading(ctx context.Context, devEUI string) (domain.Reading, error)
	LatestUplink(ctx context.Context, devEUI string) (domain.Uplink, error)
	UplinkStats(ctx context.Context, devEUI string) (domain.UplinkStats, error)
	CountUplinks(ctx context.Context, devEUI string, r store.Range) (int64, error)
}

// Aggregator computes derived views on demand. It holds no per-device state.
type Aggregator struct {
	store     Reader
	clock     clockwork.Clock
	zones     *zoneCache
	defaultTZ string
}

// New creates an Aggregator. defaultTZ applies when callers pass an empty
// timezone; cacheSize bounds the resolved-location cache.
func New(r Reader, clock clockwork.Clock, defaultTZ string, cacheSize int) *Aggregator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if defaultTZ == "" {
		defaultTZ = "UTC"
	}
	return &Aggregator{
		store:     r,
		clock:     clock,
		zones:     newZoneCache(cacheSize, loadLocation),
		defaultTZ: defaultTZ,
	}
}

// Location resolves a timezone name, falling back to the default zone for "".
func (a *Aggregator) Location(tz string) (*time.Location, error) {
	if tz == "" {
		tz = a.defaultTZ
	}
	return a.zones.resolve(tz)
}

// DailyConsumption buckets the device's readings in [end-days*24h, end] by
// local calendar date in tz. A zero end means now. Dates without readings
// are omitted; output is ordered by date.
func (a *Aggregator) DailyConsumption(ctx context.Context, devEUI string, days int, tz string, end time.Time) ([]domain.DailyPoint, error) {
	if days < 1 {
		return nil, ErrInvalidDays
	}
	loc, err := a.Location(tz)
	if err != nil {
		return nil, err
	}
	if end.IsZero() {
		end = a.clock.Now()
	}
	start := end.Add(-time.Duration(days) * 24 * time.Hour)

	readings, err := a.store.ListReadings(ctx, devEUI, store.Range{
		From: domain.FormatTime(start),
		To:   domain.FormatTime(end),
	})
	if err != nil {
		return nil, fmt.Errorf("daily consumption %s: %w", devEUI, err)
	}
	return bucketDaily(readings, loc), nil
}

type dayBucket struct {
	first, last     float64
	firstAt, lastAt time.Time
	count           int
}

func bucketDaily(readings []domain.Reading, loc *time.Location) []domain.DailyPoint {
	buckets := make(map[string]*dayBucket)
	for _, rd := range readings {
		at, ok := domain.ParseTime(rd.At)
		if !ok {
			continue
		}
		date := at.In(loc).Format(dateLayout)
		b, ok := buckets[date]
		if !ok {
			buckets[date] = &dayBucket{first: rd.MeterValue, last: rd.MeterValue, firstAt: at, lastAt: at, count: 1}
			continue
		}
		if at.Before(b.firstAt) {
			b.first, b.firstAt = rd.MeterValue, at
		}
		if !at.Before(b.lastAt) {
			b.last, b.lastAt = rd.MeterValue, at
		}
		b.count++
	}

	out := make([]domain.DailyPoint, 0, len(buckets))
	for date, b := range buckets {
		p := domain.DailyPoint{Date: date, Closing: b.last, Readings: b.count}
		if b.count > 1 {
			c := b.last - b.first
			p.Consumption = &c
		}
		out = append(out, p)
	}
	slices.SortFunc(out, func(x, y domain.DailyPoint) int {
		return strings.Compare(x.Date, y.Date)
	})
	return out
}

// DeviceSummary rolls up one device. Signal, battery and identity come from
// the latest uplink; the meter value comes from the latest reading. It
// returns store.ErrNotFound when the device has neither.
func (a *Aggregator) DeviceSummary(ctx context.Context, devEUI string) (domain.DeviceSummary, error) {
	stats, err := a.store.UplinkStats(ctx, devEUI)
	if err != nil {
		return domain.DeviceSummary{}, err
	}
	up, upErr := a.store.LatestUplink(ctx, devEUI)
	if upErr != nil && !errors.Is(upErr, store.ErrNotFound) {
		return domain.DeviceSummary{}, upErr
	}
	rd, rdErr := a.store.LatestReading(ctx, devEUI)
	if rdErr != nil && !errors.Is(rdErr, store.ErrNotFound) {
		return domain.DeviceSummary{}, rdErr
	}
	hasUplink, hasReading := upErr == nil, rdErr == nil
	if !hasUplink && !hasReading {
		return domain.DeviceSummary{}, store.ErrNotFound
	}

	sum := domain.DeviceSummary{
		DevEUI:             devEUI,
		FirstSeen:          stats.FirstAt,
		LastSeen:           stats.LastAt,
		UplinkCount:        stats.Count,
		AvgIntervalSeconds: avgInterval(stats),
	}
	if hasUplink {
		sum.DeviceName = up.DeviceName
		sum.ApplicationName = up.ApplicationName
		sum.Provider = up.Provider
		sum.LastSeen = up.At
		sum.LastRSSI = up.RSSI
		sum.LastSNR = up.SNR
		sum.LastBatteryMillivolts = up.BatteryMillivolts
	}
	if hasReading {
		v := rd.MeterValue
		sum.LastMeterValue = &v
		sum.LastMeterAt = rd.At
		if sum.LastSeen == "" {
			sum.LastSeen = rd.At
		}
		if sum.Provider == "" {
			sum.Provider = rd.Provider
		}
	}
	return sum, nil
}

// DeviceSummaries rolls up every known device, ordered by Dev EUI.
func (a *Aggregator) DeviceSummaries(ctx context.Context) ([]domain.DeviceSummary, error) {
	devs, err := a.store.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.DeviceSummary, 0, len(devs))
	for _, dev := range devs {
		sum, err := a.DeviceSummary(ctx, dev)
		if errors.Is(err, store.ErrNotFound) {
			// Deleted between listing and lookup.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, nil
}

// CountUplinks counts uplinks in r; an empty devEUI counts every device.
func (a *Aggregator) CountUplinks(ctx context.Context, devEUI string, r store.Range) (int64, error) {
	return a.store.CountUplinks(ctx, devEUI, r)
}

func avgInterval(st domain.UplinkStats) *float64 {
	if st.Count < 2 {
		return nil
	}
	first, ok1 := domain.ParseTime(st.FirstAt)
	last, ok2 := domain.ParseTime(st.LastAt)
	if !ok1 || !ok2 {
		return nil
	}
	v := last.Sub(first).Seconds() / float64(st.Count-1)
	return &v
}
