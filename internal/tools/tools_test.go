package tools

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yieldera/advisor/internal/audit"
	"github.com/yieldera/advisor/internal/audit/audittest"
	"github.com/yieldera/advisor/internal/cache"
	"github.com/yieldera/advisor/internal/domain"
	"github.com/yieldera/advisor/internal/llm"
	"github.com/yieldera/advisor/internal/store"
)

var farmer = domain.ConversationContext{UserID: "42", UserName: "Tendai", Role: "farmer"}

const fieldsFixture = `{
	"type": "FeatureCollection",
	"features": [
		{"properties": {"id": 7, "name": "Field Alpha", "crop": "maize", "area_ha": 12.5},
		 "geometry": {"type": "Point", "coordinates": [31.05, -17.83]}},
		{"properties": {"id": "9", "name": "Combined", "crop": "wheat", "area_ha": null},
		 "geometry": {"type": "Polygon", "coordinates": [[[30.0, -18.0], [30.2, -18.0], [30.2, -18.2], [30.0, -18.2]]]}}
	]
}`

// fakeUpstreams serves every data service from one test server and records
// the requests it receives.
type fakeUpstreams struct {
	*httptest.Server

	mu       sync.Mutex
	bodies   map[string][]map[string]any
	headers  map[string]http.Header
	weather  atomic.Int32
	ndviCode atomic.Int32
}

func newFakeUpstreams(t *testing.T) *fakeUpstreams {
	t.Helper()
	f := &fakeUpstreams{
		bodies:  map[string][]map[string]any{},
		headers: map[string]http.Header{},
	}
	f.ndviCode.Store(http.StatusOK)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /bridge", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		_, _ = io.WriteString(w, fieldsFixture)
	})
	mux.HandleFunc("GET /forecast", func(w http.ResponseWriter, r *http.Request) {
		f.weather.Add(1)
		f.record(r)
		_, _ = io.WriteString(w, `{
			"daily": {
				"time": ["2026-10-16", "2026-10-17"],
				"temperature_2m_max": [31.2, 33.0],
				"temperature_2m_min": [14.1, null],
				"precipitation_sum": [0, 2.5],
				"precipitation_probability_max": [10, 60]
			},
			"daily_units": {"temperature_2m_max": "°C"}
		}`)
	})
	mux.HandleFunc("POST /ndvi", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		if code := int(f.ndviCode.Load()); code != http.StatusOK {
			http.Error(w, "no imagery", code)
			return
		}
		_, _ = io.WriteString(w, `{"image_date": "2026-01-12", "mean": 0.63, "cloud_cover": 4.2, "satellite": {}}`)
	})
	mux.HandleFunc("POST /frost/frost-monitor", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		_, _ = io.WriteString(w, `{"status": "success", "results": {"daily": [
			{"date": "2025-07-01", "openmeteo_tmin": 2.5, "nasa_tmin": 3.0},
			{"date": "2025-07-02", "openmeteo_tmin": null, "nasa_tmin": -0.4, "source": "nasa"}
		]}}`)
	})
	mux.HandleFunc("GET /alerts-api/alerts", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		_, _ = io.WriteString(w, `[
			{"id": 1, "field_name": "Field Alpha", "field_id": 7, "alert_type": "temperature", "condition_type": "greater_than", "threshold_value": 40, "notification_emails": "a@b.co", "active": 1},
			{"id": 2, "field_name": "Combined", "field_id": 9, "alert_type": "rainfall", "condition_type": "less_than", "threshold_value": 5, "notification_emails": "a@b.co", "active": 0}
		]`)
	})
	mux.HandleFunc("POST /alerts-api/alerts", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		_, _ = io.WriteString(w, `{"id": 55}`)
	})
	mux.HandleFunc("POST /index/api/quotes/prospective", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		_, _ = io.WriteString(w, `{"status": "success", "execution_time_seconds": 61.2, "quote": {
			"quote_id": "Q-1", "sum_insured": 1500, "gross_premium": 170.81, "premium_rate": 0.0965, "ai_summary": "Moderate drought risk."}}`)
	})
	mux.HandleFunc("POST /index/api/quotes/field/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		if r.PathValue("id") == "404" {
			_, _ = io.WriteString(w, `{"status": "error", "message": "Field has no boundary"}`)
			return
		}
		_, _ = io.WriteString(w, `{"status": "success", "field_data": {"name": "Field Alpha"}, "quote": {
			"quote_id": 88, "sum_insured": 18750, "gross_premium": 1200, "premium_rate": 0.064}}`)
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeUpstreams) record(r *http.Request) {
	key := r.Method + " " + r.URL.Path
	var body map[string]any
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies[key] = append(f.bodies[key], body)
	f.headers[key] = r.Header.Clone()
}

func (f *fakeUpstreams) lastBody(key string) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	b := f.bodies[key]
	if len(b) == 0 {
		return nil
	}
	return b[len(b)-1]
}

func (f *fakeUpstreams) header(key string) http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.headers[key]
}

func newTestDispatcher(t *testing.T, up *fakeUpstreams, rec *audittest.Recorder, now time.Time) *Dispatcher {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d, err := New(Config{
		InternalAPIKey: "internal-key",
		BridgeURL:      up.URL + "/bridge",
		AlertsURL:      up.URL + "/alerts-api",
		NDVIURL:        up.URL + "/ndvi",
		NDVIToken:      "gee-token",
		FrostURL:       up.URL + "/frost",
		IndexURL:       up.URL + "/index",
		OpenMeteoURL:   up.URL + "/forecast",
		Timeout:        5 * time.Second,
		HTTPClient:     up.Client(),
		Cache:          cache.New(store.NewMemory(100), logger),
		Audit:          rec,
		Logger:         logger,
		Now:            func() time.Time { return now },
	})
	require.NoError(t, err)
	return d
}

func call(name Name, args string) llm.ToolCall {
	return llm.ToolCall{ID: "call_" + string(name), Name: string(name), Arguments: json.RawMessage(args)}
}

func decode(t *testing.T, r Result) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(r.Content()), &out))
	return out
}

func TestSchemasCoverEveryTool(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, newFakeUpstreams(t), &audittest.Recorder{}, time.Now())

	var names []string
	for _, s := range d.Schemas() {
		names = append(names, s.Name)
		require.NotNil(t, s.Parameters, s.Name)
		assert.Equal(t, "object", s.Parameters.Type)
		assert.NotEmpty(t, s.Description)
		for _, req := range s.Parameters.Required {
			assert.Contains(t, s.Parameters.Properties, req, "%s requires undeclared %s", s.Name, req)
		}
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		"create_alert", "get_alerts", "get_fields", "get_historical_weather",
		"get_insurance_quote", "get_vegetation_health", "get_weather",
	}, names)
	assert.Len(t, d.Names(), len(names))
}

func TestDispatchUnknownTool(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, newFakeUpstreams(t), &audittest.Recorder{}, time.Now())

	res := d.Dispatch(context.Background(), farmer, call("get_soil_moisture", `{}`))
	assert.False(t, res.OK())
	assert.Equal(t, KindUnknownTool, res.Kind)
	assert.Equal(t, map[string]any{"error": "Unknown tool: get_soil_moisture", "kind": "unknown_tool"}, decode(t, res))
}

func TestDispatchInvalidArguments(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, newFakeUpstreams(t), &audittest.Recorder{}, time.Now())

	cases := map[string]llm.ToolCall{
		"not an object":     call(GetWeather, `"{lat: 1"`),
		"missing lon":       call(GetWeather, `{"lat": -17.8}`),
		"wrong type":        call(GetWeather, `{"lat": "north", "lon": 31}`),
		"bad date":          call(GetVegetationHealth, `{"field_id": 7, "date": "12/01/2026"}`),
		"bad quote type":    call(GetInsuranceQuote, `{"quote_type": "province"}`),
		"field quote no id": call(GetInsuranceQuote, `{"quote_type": "field"}`),
		"bad alert type":    call(CreateAlert, `{"field_name": "Combined", "alert_type": "hail", "threshold": 3, "operator": ">", "email": "a@b.co"}`),
		"no location":       call(GetHistoricalWeather, `{"start_date": "2025-07-01", "end_date": "2025-07-31"}`),
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			res := d.Dispatch(context.Background(), farmer, c)
			assert.Equal(t, KindInvalidArguments, res.Kind, res.Err)
		})
	}

	res := d.Dispatch(context.Background(), farmer, call(GetVegetationHealth, `{"field_id": 7, "date": "2026-13-40"}`))
	assert.Equal(t, "Invalid date format. Use YYYY-MM-DD.", res.Err)
}

func TestDispatchRecoversFromPanics(t *testing.T) {
	t.Parallel()
	d := &Dispatcher{
		handlers: map[Name]handler{
			"explode": bind[fieldsArgs]("explode", "panics", &llm.Schema{Type: "object"}, 0,
				func(context.Context, domain.ConversationContext, fieldsArgs) (any, error) {
					var m map[string]int
					m["boom"]++
					return nil, nil
				}),
		},
		order:   []Name{"explode"},
		timeout: time.Second,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	res := d.Dispatch(context.Background(), farmer, llm.ToolCall{ID: "1", Name: "explode"})
	assert.Equal(t, KindPanic, res.Kind)
	assert.Contains(t, res.Err, "explode")
}

func TestDispatchEnforcesTimeout(t *testing.T) {
	t.Parallel()
	d := &Dispatcher{
		handlers: map[Name]handler{
			"slow": bind[fieldsArgs]("slow", "waits", &llm.Schema{Type: "object"}, 20*time.Millisecond,
				func(ctx context.Context, _ domain.ConversationContext, _ fieldsArgs) (any, error) {
					<-ctx.Done()
					return nil, ctx.Err()
				}),
		},
		order:   []Name{"slow"},
		timeout: time.Minute,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	start := time.Now()
	res := d.Dispatch(context.Background(), farmer, llm.ToolCall{ID: "1", Name: "slow"})
	assert.Equal(t, KindTimeout, res.Kind)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestGetFieldsSimplifiesFeatures(t *testing.T) {
	t.Parallel()
	up := newFakeUpstreams(t)
	d := newTestDispatcher(t, up, &audittest.Recorder{}, time.Now())

	res := d.Dispatch(context.Background(), domain.ConversationContext{UserID: "42", Role: "farmer", EntityID: "e-3"}, call(GetFields, `{}`))
	require.True(t, res.OK(), res.Err)

	fields, ok := res.Value.([]Field)
	require.True(t, ok)
	require.Len(t, fields, 2)
	assert.Equal(t, 7, fields[0].ID)
	assert.Equal(t, "Field Alpha", fields[0].Name)
	assert.Equal(t, []any{31.05, -17.83}, fields[0].Location)
	assert.Equal(t, 9, fields[1].ID)
	assert.Nil(t, fields[1].AreaHa)

	body := up.lastBody("POST /bridge")
	assert.Equal(t, "get_fields", body["action"])
	assert.Equal(t, "internal-key", body["auth_key"])
	assert.Equal(t, "42", body["user_id"])
	assert.Equal(t, "e-3", body["entity_id"])
}

func TestGetWeatherCachesByRoundedCoordinates(t *testing.T) {
	t.Parallel()
	up := newFakeUpstreams(t)
	rec := &audittest.Recorder{}
	d := newTestDispatcher(t, up, rec, time.Now())

	first := d.Dispatch(context.Background(), farmer, call(GetWeather, `{"lat": -17.8312, "lon": 31.0491}`))
	require.True(t, first.OK(), first.Err)
	second := d.Dispatch(context.Background(), farmer, call(GetWeather, `{"lat": -17.8298, "lon": 31.0512}`))
	require.True(t, second.OK(), second.Err)

	assert.Equal(t, int32(1), up.weather.Load())
	assert.Equal(t, 1, rec.Count(audit.APICall))
	assert.Equal(t, 1, rec.Count(audit.CacheHit))
	assert.Equal(t, "weather:-17.83:31.05:7", rec.Events()[1].Details["key"])
	assert.Equal(t, audit.SystemUser, rec.Events()[1].UserID)

	out := decode(t, first)
	forecast := out["forecast"].(map[string]any)
	assert.Equal(t, []any{"2026-10-16", "2026-10-17"}, forecast["dates"])
	assert.Equal(t, []any{14.1, nil}, forecast["min_temp"])

	// A different horizon for the same point is fetched, not served from cache.
	short := d.Dispatch(context.Background(), farmer, call(GetWeather, `{"lat": -17.83, "lon": 31.05, "days": 2}`))
	require.True(t, short.OK(), short.Err)
	long := d.Dispatch(context.Background(), farmer, call(GetWeather, `{"lat": -17.83, "lon": 31.05, "days": 14}`))
	require.True(t, long.OK(), long.Err)
	assert.Equal(t, int32(3), up.weather.Load())
	assert.Equal(t, 1, rec.Count(audit.CacheHit))

	// The explicit default shares the entry of an omitted days argument.
	again := d.Dispatch(context.Background(), farmer, call(GetWeather, `{"lat": -17.83, "lon": 31.05, "days": 7}`))
	require.True(t, again.OK(), again.Err)
	assert.Equal(t, int32(3), up.weather.Load())
	assert.Equal(t, 2, rec.Count(audit.CacheHit))
}

func TestForecastCacheKey(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "weather:-17.83:31:7", forecastCacheKey(-17.834, 31.001, 7))
	assert.Equal(t, "weather:0.1:-0.5:14", forecastCacheKey(0.1, -0.5, 14))
}

func TestGetVegetationHealth(t *testing.T) {
	t.Parallel()
	up := newFakeUpstreams(t)
	d := newTestDispatcher(t, up, &audittest.Recorder{}, time.Now())

	res := d.Dispatch(context.Background(), farmer, call(GetVegetationHealth, `{"field_id": 7, "date": "2026-01-10"}`))
	require.True(t, res.OK(), res.Err)
	report := res.Value.(VegetationReport)
	assert.Equal(t, "High Vigor", report.HealthAssessment)
	assert.Equal(t, "Sentinel-2", report.Satellite)

	body := up.lastBody("POST /ndvi")
	assert.Equal(t, "2026-01-03", body["startDate"])
	assert.Equal(t, "2026-01-17", body["endDate"])
	assert.Equal(t, "NDVI", body["index_type"])
	assert.Equal(t, "Bearer gee-token", up.header("POST /ndvi").Get("Authorization"))
}

func TestGetVegetationHealthNoImagery(t *testing.T) {
	t.Parallel()
	up := newFakeUpstreams(t)
	up.ndviCode.Store(http.StatusNotFound)
	d := newTestDispatcher(t, up, &audittest.Recorder{}, time.Now())

	res := d.Dispatch(context.Background(), farmer, call(GetVegetationHealth, `{"field_id": 9, "date": "2026-01-10"}`))
	require.True(t, res.OK(), res.Err)
	out := decode(t, res)
	assert.Equal(t, "No Data", out["status"])
	assert.Nil(t, out["avg_ndvi"])
	assert.Contains(t, out["message"], "between 2026-01-03 and 2026-01-17")
}

func TestGetVegetationHealthRejectsForeignField(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, newFakeUpstreams(t), &audittest.Recorder{}, time.Now())

	res := d.Dispatch(context.Background(), farmer, call(GetVegetationHealth, `{"field_id": 1000, "date": "2026-01-10"}`))
	assert.Equal(t, KindNotFound, res.Kind)
	assert.Equal(t, "Field ID 1000 not found or access denied.", res.Err)
}

func TestHealthBand(t *testing.T) {
	t.Parallel()
	v := func(f float64) *float64 { return &f }
	assert.Equal(t, "Unknown", healthBand(nil))
	assert.Equal(t, "Bare Soil / Dead", healthBand(v(0.1)))
	assert.Equal(t, "Sparse / Stressed", healthBand(v(0.2)))
	assert.Equal(t, "Moderate Vigor", healthBand(v(0.5)))
	assert.Equal(t, "High Vigor", healthBand(v(0.79)))
	assert.Equal(t, "Very High Vigor", healthBand(v(0.8)))
}

func TestGetHistoricalWeatherResolvesFieldLocation(t *testing.T) {
	t.Parallel()
	up := newFakeUpstreams(t)
	d := newTestDispatcher(t, up, &audittest.Recorder{}, time.Now())

	res := d.Dispatch(context.Background(), farmer, call(GetHistoricalWeather, `{"field_id": 7, "start_date": "2025-07-01", "end_date": "2025-07-02"}`))
	require.True(t, res.OK(), res.Err)

	body := up.lastBody("POST /frost/frost-monitor")
	assert.Equal(t, map[string]any{"lat": -17.83, "lon": 31.05}, body["coordinates"])
	assert.Equal(t, "daily", body["output_type"])

	hist := res.Value.(HistoricalWeather)
	assert.Equal(t, 2, hist.RecordsCount)
	assert.Equal(t, "Lat: -17.83, Lon: 31.05", hist.Location)
	assert.Equal(t, "2025-07-01 to 2025-07-02", hist.Period)
	assert.InDelta(t, 2.5, *hist.Data[0].TempMinCelsius, 1e-9)
	assert.Equal(t, "dual_consensus", hist.Data[0].Source)
	assert.InDelta(t, -0.4, *hist.Data[1].TempMinCelsius, 1e-9)
	assert.Equal(t, "nasa", hist.Data[1].Source)
}

func TestPointOfPolygonUsesVertexAverage(t *testing.T) {
	t.Parallel()
	var loc any
	require.NoError(t, json.Unmarshal([]byte(`[[[30.0, -18.0], [30.2, -18.0], [30.2, -18.2], [30.0, -18.2]]]`), &loc))
	lat, lon, ok := point(loc)
	require.True(t, ok)
	assert.InDelta(t, -18.1, lat, 1e-9)
	assert.InDelta(t, 30.1, lon, 1e-9)

	_, _, ok = point(nil)
	assert.False(t, ok)
}

func TestGetAlertsFiltersActive(t *testing.T) {
	t.Parallel()
	up := newFakeUpstreams(t)
	d := newTestDispatcher(t, up, &audittest.Recorder{}, time.Now())

	res := d.Dispatch(context.Background(), farmer, call(GetAlerts, `{}`))
	require.True(t, res.OK(), res.Err)
	alerts := res.Value.([]Alert)
	require.Len(t, alerts, 1)
	assert.Equal(t, "greater_than", alerts[0].Condition)
	assert.True(t, alerts[0].Active)
	assert.Equal(t, "Bearer internal-key", up.header("GET /alerts-api/alerts").Get("Authorization"))

	res = d.Dispatch(context.Background(), farmer, call(GetAlerts, `{"status": "all"}`))
	require.True(t, res.OK(), res.Err)
	assert.Len(t, res.Value.([]Alert), 2)
}

func TestCreateAlert(t *testing.T) {
	t.Parallel()
	up := newFakeUpstreams(t)
	d := newTestDispatcher(t, up, &audittest.Recorder{}, time.Now())

	res := d.Dispatch(context.Background(), farmer, call(CreateAlert,
		`{"field_name": "field alpha", "alert_type": "temperature", "threshold": 40, "operator": ">=", "email": "ops@farm.zw"}`))
	require.True(t, res.OK(), res.Err)

	created := res.Value.(AlertCreated)
	assert.True(t, created.Success)
	assert.Equal(t, float64(55), created.AlertID)
	assert.Equal(t, "Created temperature alert for field 'field alpha'. Will notify ops@farm.zw when temperature >= 40", created.Message)

	body := up.lastBody("POST /alerts-api/alerts")
	assert.Equal(t, float64(7), body["field_id"])
	assert.Equal(t, "greater_than", body["condition_type"])
	assert.Equal(t, float64(1), body["active"])
}

func TestCreateAlertUnknownField(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, newFakeUpstreams(t), &audittest.Recorder{}, time.Now())

	res := d.Dispatch(context.Background(), farmer, call(CreateAlert,
		`{"field_name": "Field Omega", "alert_type": "rainfall", "threshold": 5, "operator": "<", "email": "ops@farm.zw"}`))
	assert.Equal(t, KindNotFound, res.Kind)
	assert.Equal(t, "Field 'Field Omega' not found in your portfolio", res.Err)
}

func TestInsuranceRegionQuote(t *testing.T) {
	t.Parallel()
	up := newFakeUpstreams(t)
	september := time.Date(2026, time.September, 3, 10, 0, 0, 0, time.UTC)
	d := newTestDispatcher(t, up, &audittest.Recorder{}, september)

	res := d.Dispatch(context.Background(), farmer, call(GetInsuranceQuote, `{"quote_type": "region", "region_name": "Bindura"}`))
	require.True(t, res.OK(), res.Err)

	q := res.Value.(*Quote)
	assert.Equal(t, "region", q.QuoteType)
	assert.Equal(t, "Bindura District, Mashonaland Central", q.Location)
	assert.Equal(t, "$1,500.00", q.SumInsured)
	assert.Equal(t, "$170.81", q.GrossPremium)
	assert.Equal(t, "9.65%", q.PremiumRate)
	assert.Equal(t, "5.0%", q.Deductible)
	require.NotNil(t, q.PDFDownloadURL)
	assert.Equal(t, up.URL+"/index/api/quotes/Q-1/pdf", *q.PDFDownloadURL)
	require.NotNil(t, q.DistrictInfo)
	assert.InDelta(t, -17.0, q.DistrictInfo.Latitude, 1e-9)

	body := up.lastBody("POST /index/api/quotes/prospective")
	assert.Equal(t, float64(2027), body["year"])
	assert.Equal(t, "maize", body["crop"])
	assert.Equal(t, 5.0, body["expected_yield"])
	assert.Equal(t, 300.0, body["price_per_ton"])
	assert.NotContains(t, body, "area_ha")
}

func TestInsuranceFieldQuote(t *testing.T) {
	t.Parallel()
	up := newFakeUpstreams(t)
	march := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	d := newTestDispatcher(t, up, &audittest.Recorder{}, march)

	res := d.Dispatch(context.Background(), farmer, call(GetInsuranceQuote, `{"quote_type": "field", "field_id": 7, "area_ha": 12.5}`))
	require.True(t, res.OK(), res.Err)

	q := res.Value.(*Quote)
	assert.Equal(t, "Field Alpha", q.FieldName)
	assert.Equal(t, "$18,750.00", q.SumInsured)
	assert.Equal(t, "6.40%", q.PremiumRate)
	assert.Equal(t, up.URL+"/index/api/quotes/88/pdf", *q.PDFDownloadURL)

	body := up.lastBody("POST /index/api/quotes/field/7")
	assert.Equal(t, float64(2026), body["year"])
	assert.Equal(t, 12.5, body["area_ha"])

	res = d.Dispatch(context.Background(), farmer, call(GetInsuranceQuote, `{"quote_type": "field", "field_id": 404}`))
	assert.Equal(t, KindUpstream, res.Kind)
	assert.Equal(t, "Field has no boundary", res.Err)
}

func TestInsuranceUnknownDistrict(t *testing.T) {
	t.Parallel()
	d := newTestDispatcher(t, newFakeUpstreams(t), &audittest.Recorder{}, time.Now())

	res := d.Dispatch(context.Background(), farmer, call(GetInsuranceQuote, `{"quote_type": "region", "region_name": "Atlantis"}`))
	assert.Equal(t, KindNotFound, res.Kind)
	assert.Contains(t, res.Err, "District 'Atlantis' not found. Available districts: ")
	assert.Contains(t, res.Err, "more)")
}
