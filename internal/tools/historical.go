package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/yieldera/advisor/internal/domain"
	"github.com/yieldera/advisor/internal/llm"
)

var historicalSchema = &llm.Schema{
	Type: "object",
	Properties: map[string]*llm.Schema{
		"field_id":   {Type: "integer", Description: "Field ID (PREFERRED - use this when user asks about a field)"},
		"lat":        {Type: "number", Description: "Latitude (optional if field_id provided)"},
		"lon":        {Type: "number", Description: "Longitude (optional if field_id provided)"},
		"start_date": {Type: "string", Description: "Start date YYYY-MM-DD"},
		"end_date":   {Type: "string", Description: "End date YYYY-MM-DD"},
	},
	Required: []string{"start_date", "end_date"},
}

type historicalArgs struct {
	FieldID   *int     `mapstructure:"field_id"`
	Lat       *float64 `mapstructure:"lat"`
	Lon       *float64 `mapstructure:"lon"`
	StartDate string   `mapstructure:"start_date"`
	EndDate   string   `mapstructure:"end_date"`
}

func (a historicalArgs) Validate() error {
	start, err := time.Parse(dateLayout, a.StartDate)
	if err != nil {
		return invalidArgs("start_date must be YYYY-MM-DD")
	}
	end, err := time.Parse(dateLayout, a.EndDate)
	if err != nil {
		return invalidArgs("end_date must be YYYY-MM-DD")
	}
	if end.Before(start) {
		return invalidArgs("end_date must not be before start_date")
	}
	hasPoint := a.Lat != nil && a.Lon != nil
	if !hasPoint && a.FieldID == nil {
		return invalidArgs("either field_id or both lat and lon are required")
	}
	if hasPoint {
		return validateCoordinates(*a.Lat, *a.Lon)
	}
	return nil
}

// HistoricalWeather is a daily minimum-temperature series.
type HistoricalWeather struct {
	Location     string         `json:"location"`
	Period       string         `json:"period"`
	RecordsCount int            `json:"records_count"`
	Data         []DailyMinTemp `json:"data"`
}

// DailyMinTemp is one day of the series.
type DailyMinTemp struct {
	Date           string   `json:"date"`
	TempMinCelsius *float64 `json:"temp_min_celsius"`
	Source         string   `json:"source"`
}

type frostRequest struct {
	Coordinates Coordinates `json:"coordinates"`
	StartDate   string      `json:"start_date"`
	EndDate     string      `json:"end_date"`
	Threshold   float64     `json:"threshold"`
	OutputType  string      `json:"output_type"`
}

type frostResponse struct {
	Status  string `json:"status"`
	Results struct {
		Daily []struct {
			Date          string   `json:"date"`
			OpenMeteoTmin *float64 `json:"openmeteo_tmin"`
			NASATmin      *float64 `json:"nasa_tmin"`
			Source        string   `json:"source"`
		} `json:"daily"`
	} `json:"results"`
}

func (tk *toolkit) getHistoricalWeather(ctx context.Context, uc domain.ConversationContext, args historicalArgs) (any, error) {
	var lat, lon float64
	if args.Lat != nil && args.Lon != nil {
		lat, lon = *args.Lat, *args.Lon
	} else {
		field, err := tk.fieldByID(ctx, uc, *args.FieldID)
		if err != nil {
			return nil, err
		}
		var ok bool
		if lat, lon, ok = point(field.Location); !ok {
			return nil, notFound("Field ID %d has no usable location data.", field.ID)
		}
	}

	req := frostRequest{
		Coordinates: Coordinates{Lat: lat, Lon: lon},
		StartDate:   args.StartDate,
		EndDate:     args.EndDate,
		Threshold:   0.0,
		OutputType:  "daily",
	}
	var resp frostResponse
	if err := tk.http.postJSON(ctx, tk.cfg.FrostURL+"/frost-monitor", "", req, &resp); err != nil {
		return nil, upstreamErr("Failed to fetch historical weather", err)
	}
	if resp.Status != "success" {
		return nil, upstreamErr("Failed to retrieve historical weather data", nil)
	}

	data := make([]DailyMinTemp, 0, len(resp.Results.Daily))
	for _, rec := range resp.Results.Daily {
		tmin := rec.OpenMeteoTmin
		if tmin == nil {
			tmin = rec.NASATmin
		}
		source := rec.Source
		if source == "" {
			source = "dual_consensus"
		}
		data = append(data, DailyMinTemp{Date: rec.Date, TempMinCelsius: tmin, Source: source})
	}

	tk.cfg.Logger.Debug("Historical weather retrieved", "start", args.StartDate, "end", args.EndDate, "days", len(data))
	return HistoricalWeather{
		Location:     fmt.Sprintf("Lat: %v, Lon: %v", lat, lon),
		Period:       fmt.Sprintf("%s to %s", args.StartDate, args.EndDate),
		RecordsCount: len(data),
		Data:         data,
	}, nil
}
