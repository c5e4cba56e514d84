package tools

import (
	"context"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/yieldera/advisor/internal/domain"
)

// Field is a simplified field registry entry.
type Field struct {
	ID       int      `json:"id" mapstructure:"id"`
	Name     string   `json:"name" mapstructure:"name"`
	Crop     string   `json:"crop" mapstructure:"crop"`
	AreaHa   *float64 `json:"area_ha" mapstructure:"area_ha"`
	Location any      `json:"location" mapstructure:"-"` // GeoJSON coordinates, [lon, lat] for points
}

type fieldsArgs struct{}

type bridgeRequest struct {
	Action   string `json:"action"`
	AuthKey  string `json:"auth_key"`
	UserID   string `json:"user_id"`
	Role     string `json:"role"`
	EntityID string `json:"entity_id,omitempty"`
}

type featureCollection struct {
	Features []struct {
		Properties map[string]any `json:"properties"`
		Geometry   struct {
			Coordinates any `json:"coordinates"`
		} `json:"geometry"`
	} `json:"features"`
}

func (tk *toolkit) getFields(ctx context.Context, uc domain.ConversationContext, _ fieldsArgs) (any, error) {
	fields, err := tk.fetchFields(ctx, uc)
	if err != nil {
		return nil, err
	}
	return fields, nil
}

// fetchFields asks the field registry bridge for the caller's fields. The
// registry scopes the answer to the caller, so it doubles as an ownership
// check for the other tools.
func (tk *toolkit) fetchFields(ctx context.Context, uc domain.ConversationContext) ([]Field, error) {
	req := bridgeRequest{
		Action:   "get_fields",
		AuthKey:  tk.cfg.InternalAPIKey,
		UserID:   uc.UserID,
		Role:     uc.Role,
		EntityID: uc.EntityID,
	}
	var fc featureCollection
	if err := tk.http.postJSON(ctx, tk.cfg.BridgeURL, "", req, &fc); err != nil {
		return nil, upstreamErr("Could not fetch fields", err)
	}

	fields := make([]Field, 0, len(fc.Features))
	for _, f := range fc.Features {
		var field Field
		if err := mapstructure.WeakDecode(f.Properties, &field); err != nil {
			return nil, upstreamErr("Field registry returned an unexpected record", err)
		}
		field.Location = f.Geometry.Coordinates
		fields = append(fields, field)
	}
	return fields, nil
}

func (tk *toolkit) fieldByID(ctx context.Context, uc domain.ConversationContext, id int) (Field, error) {
	fields, err := tk.fetchFields(ctx, uc)
	if err != nil {
		return Field{}, err
	}
	for _, f := range fields {
		if f.ID == id {
			return f, nil
		}
	}
	return Field{}, notFound("Field ID %d not found or access denied.", id)
}

func (tk *toolkit) fieldByName(ctx context.Context, uc domain.ConversationContext, name string) (Field, error) {
	fields, err := tk.fetchFields(ctx, uc)
	if err != nil {
		return Field{}, upstreamErr("Could not look up fields", err)
	}
	for _, f := range fields {
		if strings.EqualFold(f.Name, name) {
			return f, nil
		}
	}
	return Field{}, notFound("Field '%s' not found in your portfolio", name)
}

// point extracts a representative latitude and longitude from GeoJSON
// coordinates: the point itself, or the vertex average of a polygon's outer
// ring.
func point(location any) (lat, lon float64, ok bool) {
	coords, isList := location.([]any)
	if !isList || len(coords) == 0 {
		return 0, 0, false
	}
	if x, okX := coords[0].(float64); okX {
		if len(coords) < 2 {
			return 0, 0, false
		}
		y, okY := coords[1].(float64)
		if !okY {
			return 0, 0, false
		}
		return y, x, true
	}

	// Polygon: [[[lon, lat], ...]] or MultiPolygon one level deeper.
	ring := coords
	for {
		first, isNested := ring[0].([]any)
		if !isNested || len(first) == 0 {
			return 0, 0, false
		}
		if _, isNum := first[0].(float64); isNum {
			break
		}
		ring = first
	}

	var sumLat, sumLon float64
	n := 0
	for _, v := range ring {
		pair, isPair := v.([]any)
		if !isPair || len(pair) < 2 {
			continue
		}
		x, okX := pair[0].(float64)
		y, okY := pair[1].(float64)
		if !okX || !okY {
			continue
		}
		sumLon += x
		sumLat += y
		n++
	}
	if n == 0 {
		return 0, 0, false
	}
	return sumLat / float64(n), sumLon / float64(n), true
}
