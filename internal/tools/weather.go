package tools

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"

	"github.com/yieldera/advisor/internal/audit"
	"github.com/yieldera/advisor/internal/domain"
	"github.com/yieldera/advisor/internal/llm"
)

const (
	defaultForecastDays = 7
	maxForecastDays     = 16
	dailyForecastFields = "temperature_2m_max,temperature_2m_min,precipitation_sum,precipitation_probability_max"
)

var weatherSchema = &llm.Schema{
	Type: "object",
	Properties: map[string]*llm.Schema{
		"lat":  {Type: "number"},
		"lon":  {Type: "number"},
		"days": {Type: "integer", Default: defaultForecastDays},
	},
	Required: []string{"lat", "lon"},
}

type weatherArgs struct {
	Lat  *float64 `mapstructure:"lat"`
	Lon  *float64 `mapstructure:"lon"`
	Days int      `mapstructure:"days"`
}

func (a weatherArgs) Validate() error {
	if a.Lat == nil || a.Lon == nil {
		return invalidArgs("lat and lon are required")
	}
	if err := validateCoordinates(*a.Lat, *a.Lon); err != nil {
		return err
	}
	if a.Days < 0 || a.Days > maxForecastDays {
		return invalidArgs("days must be between 1 and %d", maxForecastDays)
	}
	return nil
}

func validateCoordinates(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return invalidArgs("latitude %v out of range", lat)
	}
	if lon < -180 || lon > 180 {
		return invalidArgs("longitude %v out of range", lon)
	}
	return nil
}

// Forecast is the simplified daily forecast handed to the model.
type Forecast struct {
	Location Coordinates    `json:"location"`
	Forecast DailyForecast  `json:"forecast"`
	Units    map[string]any `json:"units"`
}

// Coordinates is a latitude/longitude pair.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// DailyForecast holds parallel per-day series.
type DailyForecast struct {
	Dates    []string   `json:"dates"`
	MaxTemp  []*float64 `json:"max_temp"`
	MinTemp  []*float64 `json:"min_temp"`
	RainMM   []*float64 `json:"rain_mm"`
	RainProb []*float64 `json:"rain_prob"`
}

type openMeteoResponse struct {
	Daily struct {
		Time                        []string   `json:"time"`
		Temperature2mMax            []*float64 `json:"temperature_2m_max"`
		Temperature2mMin            []*float64 `json:"temperature_2m_min"`
		PrecipitationSum            []*float64 `json:"precipitation_sum"`
		PrecipitationProbabilityMax []*float64 `json:"precipitation_probability_max"`
	} `json:"daily"`
	DailyUnits map[string]any `json:"daily_units"`
}

// forecastCacheKey rounds coordinates to two decimals so nearby requests
// share an entry. The horizon is part of the key.
func forecastCacheKey(lat, lon float64, days int) string {
	return fmt.Sprintf("weather:%s:%s:%d", round2(lat), round2(lon), days)
}

func round2(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}

func (tk *toolkit) getWeather(ctx context.Context, _ domain.ConversationContext, args weatherArgs) (any, error) {
	lat, lon := *args.Lat, *args.Lon
	days := args.Days
	if days == 0 {
		days = defaultForecastDays
	}

	key := forecastCacheKey(lat, lon, days)
	if tk.cfg.Cache != nil {
		var cached Forecast
		if tk.cfg.Cache.GetJSON(ctx, key, &cached) {
			tk.cfg.Audit.Log(audit.New(audit.SystemUser, audit.CacheHit, map[string]any{"tool": "weather", "key": key}))
			return cached, nil
		}
	}

	query := url.Values{}
	query.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	query.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	query.Set("daily", dailyForecastFields)
	query.Set("timezone", "auto")
	query.Set("forecast_days", strconv.Itoa(days))

	var raw openMeteoResponse
	if err := tk.http.getJSON(ctx, tk.cfg.OpenMeteoURL, query, "", &raw); err != nil {
		return nil, upstreamErr("Weather service unavailable", err)
	}

	units := raw.DailyUnits
	if units == nil {
		units = map[string]any{}
	}
	result := Forecast{
		Location: Coordinates{Lat: lat, Lon: lon},
		Forecast: DailyForecast{
			Dates:    nonNilStrings(raw.Daily.Time),
			MaxTemp:  nonNilSeries(raw.Daily.Temperature2mMax),
			MinTemp:  nonNilSeries(raw.Daily.Temperature2mMin),
			RainMM:   nonNilSeries(raw.Daily.PrecipitationSum),
			RainProb: nonNilSeries(raw.Daily.PrecipitationProbabilityMax),
		},
		Units: units,
	}

	if tk.cfg.Cache != nil {
		tk.cfg.Cache.SetJSON(ctx, key, result, tk.cfg.ForecastTTL)
	}
	tk.cfg.Audit.Log(audit.New(audit.SystemUser, audit.APICall, map[string]any{"tool": "weather", "status": "success"}))
	return result, nil
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilSeries(s []*float64) []*float64 {
	if s == nil {
		return []*float64{}
	}
	return s
}
