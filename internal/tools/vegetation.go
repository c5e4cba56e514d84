package tools

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/yieldera/advisor/internal/domain"
	"github.com/yieldera/advisor/internal/llm"
)

const (
	dateLayout = "2006-01-02"
	// Sentinel-2 revisits every ~5 days, so look a week either side.
	imageryWindow = 7 * 24 * time.Hour
)

var vegetationSchema = &llm.Schema{
	Type: "object",
	Properties: map[string]*llm.Schema{
		"field_id": {Type: "integer", Description: "The ID of the field to analyze."},
		"date":     {Type: "string", Description: "The target date in YYYY-MM-DD format."},
	},
	Required: []string{"field_id", "date"},
}

type vegetationArgs struct {
	FieldID *int   `mapstructure:"field_id"`
	Date    string `mapstructure:"date"`
}

func (a vegetationArgs) Validate() error {
	if a.FieldID == nil {
		return invalidArgs("field_id is required")
	}
	if _, err := time.Parse(dateLayout, a.Date); err != nil {
		return invalidArgs("Invalid date format. Use YYYY-MM-DD.")
	}
	return nil
}

// VegetationReport is the NDVI summary for one field around a date.
type VegetationReport struct {
	FieldID          int      `json:"field_id"`
	TargetDate       string   `json:"target_date"`
	SatelliteDate    any      `json:"satellite_date"`
	AvgNDVI          *float64 `json:"avg_ndvi"`
	CloudCoverPct    any      `json:"cloud_cover_pct"`
	Satellite        string   `json:"satellite"`
	HealthAssessment string   `json:"health_assessment"`
}

// VegetationNoData is returned when no clear imagery exists in the window.
type VegetationNoData struct {
	Status  string   `json:"status"`
	AvgNDVI *float64 `json:"avg_ndvi"`
	Message string   `json:"message"`
}

type ndviRequest struct {
	Coordinates any    `json:"coordinates"`
	StartDate   string `json:"startDate"`
	EndDate     string `json:"endDate"`
	IndexType   string `json:"index_type"`
}

type ndviResponse struct {
	ImageDate  any      `json:"image_date"`
	Mean       *float64 `json:"mean"`
	CloudCover any      `json:"cloud_cover"`
	Satellite  struct {
		Name string `json:"name"`
	} `json:"satellite"`
}

func (tk *toolkit) getVegetationHealth(ctx context.Context, uc domain.ConversationContext, args vegetationArgs) (any, error) {
	field, err := tk.fieldByID(ctx, uc, *args.FieldID)
	if err != nil {
		return nil, err
	}
	if field.Location == nil {
		return nil, notFound("Field ID %d has no location data.", field.ID)
	}

	target, _ := time.Parse(dateLayout, args.Date)
	start := target.Add(-imageryWindow).Format(dateLayout)
	end := target.Add(imageryWindow).Format(dateLayout)

	req := ndviRequest{
		Coordinates: field.Location,
		StartDate:   start,
		EndDate:     end,
		IndexType:   "NDVI",
	}
	var resp ndviResponse
	if err := tk.http.postJSON(ctx, tk.cfg.NDVIURL, tk.cfg.NDVIToken, req, &resp); err != nil {
		var status *StatusError
		if errors.As(err, &status) && status.StatusCode == http.StatusNotFound {
			return VegetationNoData{
				Status:  "No Data",
				Message: fmt.Sprintf("No clear satellite imagery available between %s and %s (likely clouds).", start, end),
			}, nil
		}
		return nil, upstreamErr("Failed to fetch vegetation data", err)
	}

	satellite := resp.Satellite.Name
	if satellite == "" {
		satellite = "Sentinel-2"
	}
	return VegetationReport{
		FieldID:          field.ID,
		TargetDate:       args.Date,
		SatelliteDate:    resp.ImageDate,
		AvgNDVI:          resp.Mean,
		CloudCoverPct:    resp.CloudCover,
		Satellite:        satellite,
		HealthAssessment: healthBand(resp.Mean),
	}, nil
}

// healthBand classifies a mean NDVI value.
func healthBand(ndvi *float64) string {
	if ndvi == nil {
		return "Unknown"
	}
	switch v := *ndvi; {
	case v < 0.2:
		return "Bare Soil / Dead"
	case v < 0.4:
		return "Sparse / Stressed"
	case v < 0.6:
		return "Moderate Vigor"
	case v < 0.8:
		return "High Vigor"
	default:
		return "Very High Vigor"
	}
}
