package store_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/uplink-ingest-service/internal/domain"
	"github.com/couchcryptid/uplink-ingest-service/internal/resolve"
	"github.com/couchcryptid/uplink-ingest-service/internal/store"
)

const devA = "70b3d57ed0000001"
const devB = "70b3d57ed0000002"

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "data", "uplinks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func f64(v float64) *float64 { return &v }
func i64(v int64) *int64     { return &v }

func uplink(dev, at string, meter *float64) domain.NormalizedUplink {
	raw := resolve.NewObject().
		Set("devEui", resolve.NewString(dev)).
		Set("time", resolve.NewString(at))
	return domain.NormalizedUplink{
		Provider:   domain.ProviderChirpStack,
		DevEUI:     dev,
		Timestamp:  at,
		MeterValue: meter,
		RawPayload: raw,
	}
}

func TestOpen_InMemory(t *testing.T) {
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.CheckReadiness(context.Background()))
	_, err = s.Record(context.Background(), uplink(devA, "2024-01-01T00:00:00.000000000Z", f64(1)))
	require.NoError(t, err)
}

func TestCheckReadiness_ClosedDB(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "u.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Error(t, s.CheckReadiness(context.Background()))
}

func TestRecord_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	first := uplink(devA, "2024-01-01T10:00:00.000000000Z", f64(100))
	first.DeduplicationID = "dup-1"
	first.RSSI = f64(-80)
	first.DeviceName = "old-name"

	second := first
	second.MeterValue = f64(101)
	second.MeterValueRaw = "101"
	second.RSSI = f64(-70)
	second.DeviceName = "new-name"

	r1, err := s.Record(ctx, first)
	require.NoError(t, err)
	r2, err := s.Record(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, r1.UplinkID, r2.UplinkID, "uplink id is immutable")
	assert.Equal(t, r1.ReadingID, r2.ReadingID)

	ups, err := s.ListUplinks(ctx, devA, store.Range{}, 0)
	require.NoError(t, err)
	require.Len(t, ups, 1)
	assert.Equal(t, "new-name", ups[0].DeviceName)
	require.NotNil(t, ups[0].RSSI)
	assert.Equal(t, -70.0, *ups[0].RSSI)
	assert.Equal(t, "dup-1", ups[0].DeduplicationID)

	rds, err := s.ListReadings(ctx, devA, store.Range{})
	require.NoError(t, err)
	require.Len(t, rds, 1)
	assert.Equal(t, 101.0, rds[0].MeterValue)
	assert.Equal(t, "101", rds[0].MeterValueRaw)
	require.NotNil(t, rds[0].RSSI)
	assert.Equal(t, -70.0, *rds[0].RSSI)
}

func TestRecord_SynthesizesDedupID(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	n := uplink(devA, "2024-01-01T10:00:00.000000000Z", nil)
	_, err := s.Record(ctx, n)
	require.NoError(t, err)
	_, err = s.Record(ctx, n)
	require.NoError(t, err)

	ups, err := s.ListUplinks(ctx, devA, store.Range{}, 0)
	require.NoError(t, err)
	require.Len(t, ups, 1)
	assert.Equal(t, devA+":2024-01-01T10:00:00.000000000Z", ups[0].DeduplicationID)
	assert.Equal(t, devA+":2024-01-01T10:00:00.000000000Z", store.DedupKey(n))
}

func TestRecord_ReadingKeyedByTimestamp(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	// Two distinct deliveries at the same instant: two uplinks, one reading.
	a := uplink(devA, "2024-01-01T10:00:00.000000000Z", f64(10))
	a.DeduplicationID = "a"
	b := uplink(devA, "2024-01-01T10:00:00.000000000Z", f64(11))
	b.DeduplicationID = "b"

	_, err := s.Record(ctx, a)
	require.NoError(t, err)
	_, err = s.Record(ctx, b)
	require.NoError(t, err)

	n, err := s.CountUplinks(ctx, devA, store.Range{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rds, err := s.ListReadings(ctx, devA, store.Range{})
	require.NoError(t, err)
	require.Len(t, rds, 1)
	assert.Equal(t, 11.0, rds[0].MeterValue)
	assert.Equal(t, "b", rds[0].DeduplicationID)
}

func TestRecord_SubMillisecondTimestampsStayDistinct(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	_, err := s.Record(ctx, uplink(devA, "2024-01-01T10:00:00.1231Z", f64(1)))
	require.NoError(t, err)
	_, err = s.Record(ctx, uplink(devA, "2024-01-01T10:00:00.1239Z", f64(2)))
	require.NoError(t, err)

	n, err := s.CountUplinks(ctx, devA, store.Range{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rds, err := s.ListReadings(ctx, devA, store.Range{})
	require.NoError(t, err)
	require.Len(t, rds, 2)
	assert.Equal(t, "2024-01-01T10:00:00.123100000Z", rds[0].At)
	assert.Equal(t, "2024-01-01T10:00:00.123900000Z", rds[1].At)
	assert.Equal(t, 1.0, rds[0].MeterValue)
	assert.Equal(t, 2.0, rds[1].MeterValue)
}

func TestRecord_ConcurrentRedeliveries(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	n := uplink(devA, "2024-01-01T10:00:00Z", f64(42))
	n.DeduplicationID = "same-delivery"

	const workers = 64
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := s.Record(ctx, n); err != nil {
				errs <- err
			}
		}()
	}
	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	count, err := s.CountUplinks(ctx, devA, store.Range{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	rds, err := s.ListReadings(ctx, devA, store.Range{})
	require.NoError(t, err)
	require.Len(t, rds, 1)
	assert.Equal(t, 42.0, rds[0].MeterValue)
}

func TestRecord_NoMeterValueSkipsReading(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	n := uplink(devA, "2024-01-01T10:00:00.000000000Z", nil)
	n.MeterValueRaw = "garbage"
	rec, err := s.Record(ctx, n)
	require.NoError(t, err)
	assert.False(t, rec.HasReading())

	rds, err := s.ListReadings(ctx, devA, store.Range{})
	require.NoError(t, err)
	assert.Empty(t, rds)

	u, err := s.LatestUplink(ctx, devA)
	require.NoError(t, err)
	assert.Equal(t, "garbage", u.MeterValueRaw)
	assert.Nil(t, u.MeterValue)
}

func TestRecord_NoDeviceIdentity(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	_, err := s.Record(ctx, uplink("", "2024-01-01T10:00:00.000000000Z", f64(1)))
	assert.ErrorIs(t, err, store.ErrNoDeviceIdentity)
	_, err = s.RecordUplink(ctx, uplink("", "2024-01-01T10:00:00.000000000Z", nil))
	assert.ErrorIs(t, err, store.ErrNoDeviceIdentity)

	devs, err := s.ListDevices(ctx)
	require.NoError(t, err)
	assert.Empty(t, devs)
}

func TestRecord_PreservesPayloads(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	doc, err := resolve.Parse([]byte(`{"devEui":"70b3d57ed0000001","object":{"z":1,"a":[true,null]}}`))
	require.NoError(t, err)
	decoded, _ := doc.Field("object")

	n := uplink(devA, "2024-01-01T10:00:00.000000000Z", nil)
	n.RawPayload = doc
	n.DecodedObject = decoded
	n.BatteryMillivolts = i64(3600)
	_, err = s.Record(ctx, n)
	require.NoError(t, err)

	u, err := s.LatestUplink(ctx, devA)
	require.NoError(t, err)
	assert.JSONEq(t, `{"devEui":"70b3d57ed0000001","object":{"z":1,"a":[true,null]}}`, string(u.Raw))
	assert.JSONEq(t, `{"z":1,"a":[true,null]}`, string(u.Decoded))
	require.NotNil(t, u.BatteryMillivolts)
	assert.Equal(t, int64(3600), *u.BatteryMillivolts)
	assert.Equal(t, domain.ProviderChirpStack, u.Provider)
}

func TestRecordReading_Standalone(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	id, err := s.RecordReading(ctx, uplink(devA, "2024-01-01T10:00:00.000000000Z", nil))
	require.NoError(t, err)
	assert.Zero(t, id)

	id, err = s.RecordReading(ctx, uplink(devA, "2024-01-01T10:00:00.000000000Z", f64(5)))
	require.NoError(t, err)
	assert.NotZero(t, id)

	_, err = s.LatestUplink(ctx, devA)
	assert.ErrorIs(t, err, store.ErrNotFound)
	rd, err := s.LatestReading(ctx, devA)
	require.NoError(t, err)
	assert.Equal(t, 5.0, rd.MeterValue)
}

func seed(t *testing.T, s *store.Store) {
	t.Helper()
	ctx := context.Background()
	for i, at := range []string{
		"2024-01-01T00:00:00.000000000Z",
		"2024-01-02T00:00:00.000000000Z",
		"2024-01-03T00:00:00.000000000Z",
		"2024-01-04T00:00:00.000000000Z",
	} {
		_, err := s.Record(ctx, uplink(devA, at, f64(float64(100+i))))
		require.NoError(t, err)
	}
	for _, at := range []string{"2024-01-02T00:00:00.000000000Z", "2024-01-05T00:00:00.000000000Z"} {
		_, err := s.Record(ctx, uplink(devB, at, nil))
		require.NoError(t, err)
	}
}

func TestListDevices(t *testing.T) {
	s := openStore(t)
	seed(t, s)

	devs, err := s.ListDevices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{devA, devB}, devs)
}

func TestListReadings_RangeAscending(t *testing.T) {
	s := openStore(t)
	seed(t, s)

	rds, err := s.ListReadings(context.Background(), devA, store.Range{
		From: "2024-01-02T00:00:00.000000000Z",
		To:   "2024-01-03T00:00:00Z", // canonicalized before comparison
	})
	require.NoError(t, err)
	got := make([]string, 0, len(rds))
	for _, r := range rds {
		got = append(got, r.At)
	}
	want := []string{"2024-01-02T00:00:00.000000000Z", "2024-01-03T00:00:00.000000000Z"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("readings mismatch (-want +got):\n%s", diff)
	}
}

func TestListUplinks_LimitMostRecentFirst(t *testing.T) {
	s := openStore(t)
	seed(t, s)
	ctx := context.Background()

	ups, err := s.ListUplinks(ctx, devA, store.Range{}, 2)
	require.NoError(t, err)
	require.Len(t, ups, 2)
	assert.Equal(t, "2024-01-04T00:00:00.000000000Z", ups[0].At)
	assert.Equal(t, "2024-01-03T00:00:00.000000000Z", ups[1].At)

	all, err := s.ListUplinks(ctx, devA, store.Range{}, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	scoped, err := s.ListUplinks(ctx, devA, store.Range{To: "2024-01-02T00:00:00.000000000Z"}, 10)
	require.NoError(t, err)
	require.Len(t, scoped, 2)
	assert.Equal(t, "2024-01-02T00:00:00.000000000Z", scoped[0].At)
}

func TestLatest(t *testing.T) {
	s := openStore(t)
	seed(t, s)
	ctx := context.Background()

	rd, err := s.LatestReading(ctx, devA)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-04T00:00:00.000000000Z", rd.At)
	assert.Equal(t, 103.0, rd.MeterValue)

	_, err = s.LatestReading(ctx, devB)
	assert.True(t, errors.Is(err, store.ErrNotFound))

	u, err := s.LatestUplink(ctx, devB)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-05T00:00:00.000000000Z", u.At)

	_, err = s.LatestUplink(ctx, "ffffffffffffffff")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUplinkStats(t *testing.T) {
	s := openStore(t)
	seed(t, s)
	ctx := context.Background()

	st, err := s.UplinkStats(ctx, devA)
	require.NoError(t, err)
	assert.Equal(t, domain.UplinkStats{
		Count:   4,
		FirstAt: "2024-01-01T00:00:00.000000000Z",
		LastAt:  "2024-01-04T00:00:00.000000000Z",
	}, st)

	st, err = s.UplinkStats(ctx, "ffffffffffffffff")
	require.NoError(t, err)
	assert.Equal(t, domain.UplinkStats{}, st)
}

func TestCountUplinks_FilterConsistency(t *testing.T) {
	s := openStore(t)
	seed(t, s)
	ctx := context.Background()

	ranges := []store.Range{
		{},
		{From: "2024-01-02T00:00:00.000000000Z"},
		{To: "2024-01-02T00:00:00.000000000Z"},
		{From: "2024-01-02T00:00:00.000000000Z", To: "2024-01-04T00:00:00.000000000Z"},
		{From: "2024-02-01T00:00:00.000000000Z", To: "2024-01-01T00:00:00.000000000Z"},
	}
	for i, r := range ranges {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			total, err := s.CountUplinks(ctx, "", r)
			require.NoError(t, err)

			var perDevice int64
			for _, dev := range []string{devA, devB} {
				n, err := s.CountUplinks(ctx, dev, r)
				require.NoError(t, err)

				ups, err := s.ListUplinks(ctx, dev, r, 0)
				require.NoError(t, err)
				assert.Equal(t, int64(len(ups)), n)
				perDevice += n
			}
			assert.Equal(t, total, perDevice)
		})
	}

	n, err := s.CountUplinks(ctx, devA, store.Range{From: "2024-01-02T00:00:00.000000000Z", To: "2024-01-03T00:00:00.000000000Z"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "both bounds are inclusive")
}

func TestDeleteRange_ScopedAndInclusive(t *testing.T) {
	s := openStore(t)
	seed(t, s)
	ctx := context.Background()

	r := store.Range{From: "2024-01-02T00:00:00.000000000Z", To: "2024-01-03T00:00:00.000000000Z"}
	n, err := s.DeleteRange(ctx, devA, r, store.ScopeReadings)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rds, err := s.ListReadings(ctx, devA, store.Range{})
	require.NoError(t, err)
	require.Len(t, rds, 2)
	assert.Equal(t, "2024-01-01T00:00:00.000000000Z", rds[0].At)
	assert.Equal(t, "2024-01-04T00:00:00.000000000Z", rds[1].At)

	ups, err := s.CountUplinks(ctx, devA, store.Range{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), ups, "uplinks untouched by readings scope")

	n, err = s.DeleteRange(ctx, devA, r, store.ScopeUplinks)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	devBCount, err := s.CountUplinks(ctx, devB, store.Range{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), devBCount, "other devices untouched")
}

func TestDeleteAt(t *testing.T) {
	s := openStore(t)
	seed(t, s)
	ctx := context.Background()

	n, err := s.DeleteAt(ctx, devA, "2024-01-01T00:00:00Z", store.ScopeBoth)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = s.DeleteAt(ctx, devA, "2024-01-01T00:00:00Z", store.ScopeBoth)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.DeleteAt(ctx, devA, "2024-01-02T00:00:00Z", store.Scope("everything"))
	assert.ErrorIs(t, err, store.ErrInvalidScope)
}

func TestDeleteDevice(t *testing.T) {
	s := openStore(t)
	seed(t, s)
	ctx := context.Background()

	n, err := s.DeleteDevice(ctx, devA)
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)

	devs, err := s.ListDevices(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{devB}, devs)
}

func TestParseScope(t *testing.T) {
	tests := []struct {
		in      string
		want    store.Scope
		wantErr bool
	}{
		{in: "", want: store.ScopeBoth},
		{in: "both", want: store.ScopeBoth},
		{in: "Readings", want: store.ScopeReadings},
		{in: " uplinks ", want: store.ScopeUplinks},
		{in: "all", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := store.ParseScope(tc.in)
			if tc.wantErr {
				assert.ErrorIs(t, err, store.ErrInvalidScope)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestUplink_JSONShape(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	n := uplink(devA, "2024-01-01T10:00:00.000000000Z", f64(1.5))
	_, err := s.Record(ctx, n)
	require.NoError(t, err)

	u, err := s.LatestUplink(ctx, devA)
	require.NoError(t, err)
	b, err := json.Marshal(u)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, devA, m["dev_eui"])
	assert.Equal(t, 1.5, m["meter_value"])
	assert.NotContains(t, m, "rssi")
	assert.Contains(t, m, "raw")
}
