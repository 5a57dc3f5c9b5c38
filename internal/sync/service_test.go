package sync

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/config"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/klaviyo"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/models"
	"github.com/Kbediako/klaviyo-analytics-dashboard-sub002/internal/repository"
)

func testRepos(t *testing.T) *repository.Repositories {
	t.Helper()
	db, err := repository.Open(config.DatabaseConfig{
		Driver:        "sqlite",
		Path:          filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns:  2,
		MaxIdleConns:  1,
		SlowQueryMS:   1000,
		RetryAttempts: 2,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return repository.New(db)
}

// fakeUpstream serves canned pages per path and optionally fails the
// pagination after serving them.
type fakeUpstream struct {
	pages map[string][]*klaviyo.Response
	fail  map[string]error
	calls []string
}

func (f *fakeUpstream) GetPaginated(ctx context.Context, path string, params klaviyo.Params, fn func(*klaviyo.Response) error) error {
	f.calls = append(f.calls, path+"?"+params.Encode())
	for _, resp := range f.pages[path] {
		if err := fn(resp); err != nil {
			return err
		}
	}
	return f.fail[path]
}

func (f *fakeUpstream) DefaultPageSize() int { return 50 }

func resource(typ, id, attrs string, rels map[string]string) klaviyo.Resource {
	res := klaviyo.Resource{Type: typ, ID: id, Attributes: json.RawMessage(attrs)}
	if rels != nil {
		res.Relationships = make(map[string]klaviyo.Relationship, len(rels))
		for name, data := range rels {
			res.Relationships[name] = klaviyo.Relationship{Data: json.RawMessage(data)}
		}
	}
	return res
}

func campaignPage(ids ...string) *klaviyo.Response {
	resp := &klaviyo.Response{}
	for i, id := range ids {
		attrs := `{"name":"Campaign ` + id + `","status":"sent","channel":"email",` +
			`"created_at":"2026-01-01T00:00:00Z",` +
			`"updated_at":"2026-02-0` + string(rune('1'+i)) + `T00:00:00Z",` +
			`"statistics":{"recipients":100,"opens":40,"clicks":10,"conversions":2,"revenue":99.5}}`
		resp.Data = append(resp.Data, resource("campaign", id, attrs, nil))
	}
	return resp
}

func newTestService(t *testing.T, up *fakeUpstream) (*Service, *repository.Repositories) {
	t.Helper()
	repos := testRepos(t)
	svc := NewService(up, repos, config.SyncConfig{Enabled: true}, zap.NewNop())
	return svc, repos
}

func TestSyncCampaigns_WritesRowsAndWatermark(t *testing.T) {
	up := &fakeUpstream{pages: map[string][]*klaviyo.Response{
		"/campaigns": {campaignPage("c1", "c2"), campaignPage("c3")},
	}}
	svc, repos := newTestService(t, up)

	result, err := svc.Sync(context.Background(), "campaigns", Options{Force: true})
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, int64(3), result.Count)

	ctx := context.Background()
	c, err := repos.Campaigns.FindByID(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Campaign c1", c.Name)
	assert.Equal(t, int64(100), c.SentCount)
	assert.Equal(t, "99.5", c.Revenue.String())

	status, err := repos.SyncStatus.Get(ctx, "campaigns")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSucceeded, status.Status)
	require.NotNil(t, status.LastWatermark)
	// Max updated_at across both committed pages.
	assert.Equal(t, time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC), status.LastWatermark.UTC())
	assert.Equal(t, int64(3), status.RecordCount)
}

func TestSyncCampaigns_ForceFiltersFromEpoch(t *testing.T) {
	up := &fakeUpstream{pages: map[string][]*klaviyo.Response{}}
	svc, _ := newTestService(t, up)

	_, err := svc.Sync(context.Background(), "campaigns", Options{Force: true})
	require.NoError(t, err)
	require.Len(t, up.calls, 1)
	assert.Contains(t, up.calls[0], "greater-or-equal%28updated_at%2C1970-01-01")
	assert.Contains(t, up.calls[0], "less-or-equal%28updated_at")
	assert.Contains(t, up.calls[0], "sort=updated_at")
}

func TestSync_FailureMarksFailedAndKeepsWatermark(t *testing.T) {
	boom := errors.New("upstream exploded")
	up := &fakeUpstream{
		pages: map[string][]*klaviyo.Response{"/campaigns": {campaignPage("c1")}},
		fail:  map[string]error{"/campaigns": boom},
	}
	svc, repos := newTestService(t, up)

	result, err := svc.Sync(context.Background(), "campaigns", Options{Force: true})
	require.ErrorIs(t, err, boom)
	assert.False(t, result.OK)
	assert.Equal(t, "upstream exploded", result.Error)

	ctx := context.Background()
	// The committed page's rows survive.
	_, err = repos.Campaigns.FindByID(ctx, "c1")
	require.NoError(t, err)

	status, err := repos.SyncStatus.Get(ctx, "campaigns")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusFailed, status.Status)
	assert.Nil(t, status.LastWatermark, "watermark never advances on a failed run")
	require.NotNil(t, status.ErrorMessage)
	assert.Equal(t, "upstream exploded", *status.ErrorMessage)
}

func TestSync_SecondTriggerRejectedWhileRunning(t *testing.T) {
	svc, _ := newTestService(t, &fakeUpstream{})

	release, err := svc.leases.tryAcquire("flows")
	require.NoError(t, err)
	defer release()

	_, err = svc.Sync(context.Background(), "flows", Options{})
	assert.ErrorIs(t, err, ErrSyncInProgress)
}

func TestSync_UnknownEntity(t *testing.T) {
	svc, _ := newTestService(t, &fakeUpstream{})
	_, err := svc.Sync(context.Background(), "widgets", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown entity type")
}

func TestSyncEvents_IngestsIncludedAndAdvancesProfiles(t *testing.T) {
	eventAttrs := `{"datetime":"2026-03-01T10:00:00Z","value":49.99,"event_properties":{"sku":"A1"}}`
	page := &klaviyo.Response{
		Data: []klaviyo.Resource{
			resource("event", "e1", eventAttrs, map[string]string{
				"metric":  `{"type":"metric","id":"m1"}`,
				"profile": `{"type":"profile","id":"p1"}`,
			}),
		},
		Included: []klaviyo.Resource{
			resource("metric", "m1", `{"name":"Placed Order","created":"2026-01-01T00:00:00Z","updated":"2026-01-02T00:00:00Z"}`, nil),
			resource("profile", "p1", `{"email":"a@example.com","created":"2026-01-01T00:00:00Z","updated":"2026-01-02T00:00:00Z"}`, nil),
		},
	}
	up := &fakeUpstream{pages: map[string][]*klaviyo.Response{"/events": {page}}}
	svc, repos := newTestService(t, up)

	result, err := svc.Sync(context.Background(), "events", Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.Count)

	ctx := context.Background()
	ev, err := repos.Events.FindByID(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "m1", ev.MetricID)
	assert.Equal(t, "p1", ev.ProfileID)

	m, err := repos.Metrics.FindByID(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "Placed Order", m.Name)

	p, err := repos.Profiles.FindByID(ctx, "p1")
	require.NoError(t, err)
	require.NotNil(t, p.LastEventAt)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), p.LastEventAt.UTC())

	status, err := repos.SyncStatus.Get(ctx, "events")
	require.NoError(t, err)
	require.NotNil(t, status.LastWatermark)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), status.LastWatermark.UTC(),
		"event watermark is the max occurrence time")
}

func TestSyncEvents_EventWithoutRelationshipsSkipped(t *testing.T) {
	page := &klaviyo.Response{
		Data: []klaviyo.Resource{
			resource("event", "orphan", `{"datetime":"2026-03-01T10:00:00Z"}`, nil),
		},
	}
	up := &fakeUpstream{pages: map[string][]*klaviyo.Response{"/events": {page}}}
	svc, repos := newTestService(t, up)

	result, err := svc.Sync(context.Background(), "events", Options{Force: true})
	require.NoError(t, err)
	assert.Equal(t, int64(0), result.Count)

	_, err = repos.Events.FindByID(context.Background(), "orphan")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestSyncAll_ReportsPerEntity(t *testing.T) {
	up := &fakeUpstream{
		pages: map[string][]*klaviyo.Response{"/campaigns": {campaignPage("c1")}},
		fail:  map[string]error{"/flows": errors.New("flows endpoint down")},
	}
	svc, _ := newTestService(t, up)

	result := svc.SyncAll(context.Background(), Options{
		Force:    true,
		Entities: []string{"campaigns", "flows", "segments"},
	})

	assert.False(t, result.Success)
	require.Len(t, result.PerEntity, 3)
	assert.True(t, result.PerEntity["campaigns"].OK)
	assert.Equal(t, int64(1), result.PerEntity["campaigns"].Count)
	assert.False(t, result.PerEntity["flows"].OK)
	assert.Contains(t, result.PerEntity["flows"].Error, "flows endpoint down")
	assert.True(t, result.PerEntity["segments"].OK, "an empty upstream page set still succeeds")
}

func TestSync_NotifiesHooksOnTransitions(t *testing.T) {
	up := &fakeUpstream{pages: map[string][]*klaviyo.Response{"/campaigns": {campaignPage("c1")}}}
	svc, _ := newTestService(t, up)

	var events []models.SyncStatusEvent
	svc.OnComplete(func(ev models.SyncStatusEvent) { events = append(events, ev) })

	_, err := svc.Sync(context.Background(), "campaigns", Options{Force: true})
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, models.SyncStatusRunning, events[0].Status)
	assert.Equal(t, models.SyncStatusSucceeded, events[1].Status)
	assert.Equal(t, "campaigns", events[1].EntityType)
	assert.Equal(t, int64(1), events[1].RecordCount)
	require.NotNil(t, events[1].Watermark)
}

func TestStatus_RowsFromStore(t *testing.T) {
	up := &fakeUpstream{pages: map[string][]*klaviyo.Response{"/campaigns": {campaignPage("c1")}}}
	svc, _ := newTestService(t, up)

	_, err := svc.Sync(context.Background(), "campaigns", Options{Force: true})
	require.NoError(t, err)

	rows, err := svc.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, len(config.EntityTypes), "status rows are seeded for every entity type")

	byEntity := make(map[string]models.SyncStatusRow, len(rows))
	for _, row := range rows {
		byEntity[row.EntityType] = row
	}
	assert.True(t, byEntity["campaigns"].Success)
	assert.Equal(t, int64(1), byEntity["campaigns"].RecordCount)
	assert.False(t, byEntity["flows"].Success)
}

func TestScheduler_RejectsBadCronSpec(t *testing.T) {
	svc, _ := newTestService(t, &fakeUpstream{})

	_, err := NewScheduler(svc, config.SyncConfig{
		Schedules: map[string]string{"campaigns": "not a cron spec"},
	}, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron spec")

	sched, err := NewScheduler(svc, config.SyncConfig{
		Schedules: map[string]string{"campaigns": "0 */3 * * *"},
	}, zap.NewNop())
	require.NoError(t, err)
	require.NotNil(t, sched)
}
