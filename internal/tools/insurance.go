package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/yieldera/advisor/internal/domain"
	"github.com/yieldera/advisor/internal/llm"
)

// Quotes run satellite and rainfall analysis upstream and take well over a
// minute.
const insuranceTimeout = 120 * time.Second

const (
	quoteField       = "field"
	quoteCoordinates = "coordinates"
	quoteRegion      = "region"

	defaultExpectedYield  = 5.0
	defaultPricePerTon    = 300.0
	defaultCrop           = "maize"
	defaultDeductibleRate = 0.05
)

var insuranceSchema = &llm.Schema{
	Type: "object",
	Properties: map[string]*llm.Schema{
		"quote_type":      {Type: "string", Enum: []string{quoteField, quoteCoordinates, quoteRegion}, Description: "Quote method"},
		"field_id":        {Type: "integer", Description: "Field ID (required if quote_type='field')"},
		"latitude":        {Type: "number", Description: "Latitude (required if quote_type='coordinates')"},
		"longitude":       {Type: "number", Description: "Longitude (required if quote_type='coordinates')"},
		"region_name":     {Type: "string", Description: "Region name like 'Mazowe' (required if quote_type='region')"},
		"expected_yield":  {Type: "number", Description: "Expected yield tons/ha (default: 5.0)"},
		"price_per_ton":   {Type: "number", Description: "Price per ton in $ (default: 300)"},
		"year":            {Type: "integer", Description: "Quote year (optional, defaults to next season)"},
		"crop":            {Type: "string", Description: "Crop type (default: 'maize')"},
		"deductible_rate": {Type: "number", Description: "Deductible as decimal (default: 0.05 = 5%)"},
		"area_ha":         {Type: "number", Description: "Area in hectares (optional)"},
	},
	Required: []string{"quote_type"},
}

type insuranceArgs struct {
	QuoteType      string   `mapstructure:"quote_type"`
	FieldID        *int     `mapstructure:"field_id"`
	Latitude       *float64 `mapstructure:"latitude"`
	Longitude      *float64 `mapstructure:"longitude"`
	RegionName     string   `mapstructure:"region_name"`
	ExpectedYield  *float64 `mapstructure:"expected_yield"`
	PricePerTon    *float64 `mapstructure:"price_per_ton"`
	Year           *int     `mapstructure:"year"`
	Crop           string   `mapstructure:"crop"`
	DeductibleRate *float64 `mapstructure:"deductible_rate"`
	AreaHa         *float64 `mapstructure:"area_ha"`
}

func (a insuranceArgs) Validate() error {
	switch a.QuoteType {
	case quoteField:
		if a.FieldID == nil {
			return invalidArgs("field_id is required for field-based quotes")
		}
	case quoteCoordinates:
		if a.Latitude == nil || a.Longitude == nil {
			return invalidArgs("latitude and longitude are required for coordinate-based quotes")
		}
		return validateCoordinates(*a.Latitude, *a.Longitude)
	case quoteRegion:
		if strings.TrimSpace(a.RegionName) == "" {
			return invalidArgs("region_name is required for region-based quotes")
		}
	default:
		return invalidArgs("Invalid quote_type: %s. Use 'field', 'coordinates', or 'region'", a.QuoteType)
	}
	if a.DeductibleRate != nil && (*a.DeductibleRate < 0 || *a.DeductibleRate >= 1) {
		return invalidArgs("deductible_rate must be a decimal between 0 and 1")
	}
	return nil
}

// quoteTerms are the pricing inputs after defaults are applied.
type quoteTerms struct {
	ExpectedYield  float64  `json:"expected_yield"`
	PricePerTon    float64  `json:"price_per_ton"`
	Year           int      `json:"year"`
	DeductibleRate float64  `json:"deductible_rate"`
	AreaHa         *float64 `json:"area_ha,omitempty"`
}

type prospectiveQuoteRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Crop      string  `json:"crop"`
	quoteTerms
}

type quoteResponse struct {
	Status        string         `json:"status"`
	Message       string         `json:"message"`
	Quote         map[string]any `json:"quote"`
	FieldData     map[string]any `json:"field_data"`
	ExecutionTime any            `json:"execution_time_seconds"`
}

type quoteFigures struct {
	QuoteID      any     `mapstructure:"quote_id"`
	SumInsured   float64 `mapstructure:"sum_insured"`
	GrossPremium float64 `mapstructure:"gross_premium"`
	PremiumRate  float64 `mapstructure:"premium_rate"`
	AISummary    string  `mapstructure:"ai_summary"`
}

// Quote is the summarized insurance quote handed to the model.
type Quote struct {
	Status         string         `json:"status"`
	QuoteType      string         `json:"quote_type"`
	FieldID        *int           `json:"field_id,omitempty"`
	FieldName      string         `json:"field_name,omitempty"`
	Location       string         `json:"location,omitempty"`
	SumInsured     string         `json:"sum_insured"`
	GrossPremium   string         `json:"gross_premium"`
	PremiumRate    string         `json:"premium_rate"`
	Deductible     string         `json:"deductible"`
	AISummary      string         `json:"ai_summary"`
	QuoteID        any            `json:"quote_id"`
	PDFDownloadURL *string        `json:"pdf_download_url"`
	ExecutionTime  any            `json:"execution_time"`
	RawQuote       map[string]any `json:"raw_quote"`
	DistrictInfo   *District      `json:"district_info,omitempty"`
}

func (tk *toolkit) getInsuranceQuote(ctx context.Context, _ domain.ConversationContext, args insuranceArgs) (any, error) {
	terms := tk.termsFor(args)
	crop := args.Crop
	if crop == "" {
		crop = defaultCrop
	}
	tk.cfg.Logger.Info("Generating insurance quote", "quote_type", args.QuoteType, "year", terms.Year)

	switch args.QuoteType {
	case quoteField:
		return tk.fieldQuote(ctx, *args.FieldID, terms)
	case quoteCoordinates:
		return tk.coordinateQuote(ctx, *args.Latitude, *args.Longitude, crop, terms)
	default:
		district, ok := tk.gazetteer.Lookup(args.RegionName)
		if !ok {
			names := tk.gazetteer.Names()
			shown := names
			if len(shown) > 10 {
				shown = shown[:10]
			}
			return nil, notFound("District '%s' not found. Available districts: %s... (and %d more)",
				args.RegionName, strings.Join(shown, ", "), len(names)-len(shown))
		}
		q, err := tk.coordinateQuote(ctx, district.Latitude, district.Longitude, crop, terms)
		if err != nil {
			return nil, err
		}
		q.QuoteType = quoteRegion
		q.Location = fmt.Sprintf("%s District, %s", district.Name, district.Province)
		q.DistrictInfo = &district
		return q, nil
	}
}

// termsFor applies defaults. Without a year the quote targets the next
// season, which starts being quoted in August.
func (tk *toolkit) termsFor(args insuranceArgs) quoteTerms {
	t := quoteTerms{
		ExpectedYield:  defaultExpectedYield,
		PricePerTon:    defaultPricePerTon,
		DeductibleRate: defaultDeductibleRate,
	}
	if args.ExpectedYield != nil {
		t.ExpectedYield = *args.ExpectedYield
	}
	if args.PricePerTon != nil {
		t.PricePerTon = *args.PricePerTon
	}
	if args.DeductibleRate != nil {
		t.DeductibleRate = *args.DeductibleRate
	}
	if args.AreaHa != nil && *args.AreaHa > 0 {
		t.AreaHa = args.AreaHa
	}
	if args.Year != nil {
		t.Year = *args.Year
	} else {
		now := tk.cfg.Now()
		t.Year = now.Year()
		if now.Month() >= time.August {
			t.Year++
		}
	}
	return t
}

func (tk *toolkit) fieldQuote(ctx context.Context, fieldID int, terms quoteTerms) (*Quote, error) {
	var resp quoteResponse
	endpoint := fmt.Sprintf("%s/api/quotes/field/%d", tk.cfg.IndexURL, fieldID)
	if err := tk.http.postJSON(ctx, endpoint, "", terms, &resp); err != nil {
		return nil, upstreamErr("Failed to generate quote", err)
	}
	q, err := tk.summarizeQuote(resp, terms)
	if err != nil {
		return nil, err
	}
	q.QuoteType = quoteField
	q.FieldID = &fieldID
	q.FieldName = fmt.Sprintf("Field %d", fieldID)
	if name, ok := resp.FieldData["name"].(string); ok && name != "" {
		q.FieldName = name
	}
	return q, nil
}

func (tk *toolkit) coordinateQuote(ctx context.Context, lat, lon float64, crop string, terms quoteTerms) (*Quote, error) {
	req := prospectiveQuoteRequest{Latitude: lat, Longitude: lon, Crop: crop, quoteTerms: terms}
	var resp quoteResponse
	if err := tk.http.postJSON(ctx, tk.cfg.IndexURL+"/api/quotes/prospective", "", req, &resp); err != nil {
		return nil, upstreamErr("Failed to generate quote", err)
	}
	q, err := tk.summarizeQuote(resp, terms)
	if err != nil {
		return nil, err
	}
	q.QuoteType = quoteCoordinates
	q.Location = fmt.Sprintf("Lat: %v, Lon: %v", lat, lon)
	return q, nil
}

func (tk *toolkit) summarizeQuote(resp quoteResponse, terms quoteTerms) (*Quote, error) {
	if resp.Status != "success" {
		msg := resp.Message
		if msg == "" {
			msg = "Quote generation failed"
		}
		return nil, &Error{Kind: KindUpstream, Message: msg}
	}

	var fig quoteFigures
	if err := mapstructure.WeakDecode(resp.Quote, &fig); err != nil {
		return nil, upstreamErr("Pricing service returned an unexpected quote", err)
	}
	if fig.AISummary == "" {
		fig.AISummary = "Summary not available"
	}

	p := message.NewPrinter(language.English)
	q := &Quote{
		Status:        "success",
		SumInsured:    p.Sprintf("$%.2f", fig.SumInsured),
		GrossPremium:  p.Sprintf("$%.2f", fig.GrossPremium),
		PremiumRate:   fmt.Sprintf("%.2f%%", fig.PremiumRate*100),
		Deductible:    fmt.Sprintf("%.1f%%", terms.DeductibleRate*100),
		AISummary:     fig.AISummary,
		QuoteID:       fig.QuoteID,
		ExecutionTime: resp.ExecutionTime,
		RawQuote:      resp.Quote,
	}
	if q.RawQuote == nil {
		q.RawQuote = map[string]any{}
	}
	if fig.QuoteID != nil && fig.QuoteID != "" {
		pdf := fmt.Sprintf("%s/api/quotes/%v/pdf", tk.cfg.IndexURL, fig.QuoteID)
		q.PDFDownloadURL = &pdf
	}
	return q, nil
}
