package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/yieldera/advisor/internal/domain"
	"github.com/yieldera/advisor/internal/llm"
)

var alertsSchema = &llm.Schema{
	Type: "object",
	Properties: map[string]*llm.Schema{
		"status": {Type: "string", Enum: []string{"active", "all"}, Default: "active"},
	},
}

var createAlertSchema = &llm.Schema{
	Type: "object",
	Properties: map[string]*llm.Schema{
		"field_name": {Type: "string", Description: "Name of the field (e.g., 'Combined', 'Field Alpha')"},
		"alert_type": {Type: "string", Enum: alertTypes, Description: "Type of alert"},
		"threshold":  {Type: "number", Description: "Threshold value (e.g., 40 for temperature)"},
		"operator":   {Type: "string", Enum: []string{">", "<", ">=", "<=", "="}, Description: "Comparison operator"},
		"email":      {Type: "string", Description: "Email address for notifications"},
	},
	Required: []string{"field_name", "alert_type", "threshold", "operator", "email"},
}

var alertTypes = []string{"temperature", "windspeed", "rainfall", "ndvi"}

// conditions maps comparison operators to the alert service's condition
// names. Anything else is treated as greater_than.
var conditions = map[string]string{
	">":  "greater_than",
	">=": "greater_than",
	"<":  "less_than",
	"<=": "less_than",
	"=":  "equal_to",
	"==": "equal_to",
}

type alertsArgs struct {
	Status string `mapstructure:"status"`
}

func (a alertsArgs) Validate() error {
	switch a.Status {
	case "", "active", "all":
		return nil
	default:
		return invalidArgs("status must be active or all")
	}
}

type createAlertArgs struct {
	FieldName string   `mapstructure:"field_name"`
	AlertType string   `mapstructure:"alert_type"`
	Threshold *float64 `mapstructure:"threshold"`
	Operator  string   `mapstructure:"operator"`
	Email     string   `mapstructure:"email"`
}

func (a createAlertArgs) Validate() error {
	switch {
	case strings.TrimSpace(a.FieldName) == "":
		return invalidArgs("field_name is required")
	case a.Threshold == nil:
		return invalidArgs("threshold is required")
	case !strings.Contains(a.Email, "@"):
		return invalidArgs("a valid email is required")
	}
	for _, t := range alertTypes {
		if a.AlertType == t {
			return nil
		}
	}
	return invalidArgs("alert_type must be one of %s", strings.Join(alertTypes, ", "))
}

// Alert is a configured monitoring rule.
type Alert struct {
	ID        any    `json:"id" mapstructure:"id"`
	FieldName string `json:"field_name" mapstructure:"field_name"`
	FieldID   any    `json:"field_id" mapstructure:"field_id"`
	AlertType string `json:"alert_type" mapstructure:"alert_type"`
	Condition string `json:"condition" mapstructure:"condition_type"`
	Threshold any    `json:"threshold" mapstructure:"threshold_value"`
	Emails    any    `json:"emails" mapstructure:"notification_emails"`
	Active    bool   `json:"active" mapstructure:"-"`
}

// AlertCreated confirms a new alert.
type AlertCreated struct {
	Success bool   `json:"success"`
	AlertID any    `json:"alert_id"`
	Message string `json:"message"`
}

type newAlert struct {
	FieldID            int     `json:"field_id"`
	AlertType          string  `json:"alert_type"`
	ConditionType      string  `json:"condition_type"`
	ThresholdValue     float64 `json:"threshold_value"`
	NotificationEmails string  `json:"notification_emails"`
	Active             int     `json:"active"`
}

func (tk *toolkit) getAlerts(ctx context.Context, _ domain.ConversationContext, args alertsArgs) (any, error) {
	var records []map[string]any
	if err := tk.http.getJSON(ctx, tk.cfg.AlertsURL+"/alerts", nil, tk.cfg.InternalAPIKey, &records); err != nil {
		return nil, upstreamErr("Could not fetch alerts", err)
	}

	activeOnly := args.Status == "" || args.Status == "active"
	alerts := make([]Alert, 0, len(records))
	for _, rec := range records {
		active := isActive(rec["active"])
		if activeOnly && !active {
			continue
		}
		var a Alert
		if err := mapstructure.WeakDecode(rec, &a); err != nil {
			return nil, upstreamErr("Alerts service returned an unexpected record", err)
		}
		a.Active = active
		alerts = append(alerts, a)
	}
	return alerts, nil
}

// isActive treats 1 and true as active.
func isActive(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t == 1
	case string:
		return t == "1"
	default:
		return false
	}
}

func (tk *toolkit) createAlert(ctx context.Context, uc domain.ConversationContext, args createAlertArgs) (any, error) {
	field, err := tk.fieldByName(ctx, uc, args.FieldName)
	if err != nil {
		return nil, err
	}

	condition, ok := conditions[args.Operator]
	if !ok {
		condition = "greater_than"
	}
	req := newAlert{
		FieldID:            field.ID,
		AlertType:          args.AlertType,
		ConditionType:      condition,
		ThresholdValue:     *args.Threshold,
		NotificationEmails: args.Email,
		Active:             1,
	}
	var resp struct {
		ID any `json:"id"`
	}
	if err := tk.http.postJSON(ctx, tk.cfg.AlertsURL+"/alerts", tk.cfg.InternalAPIKey, req, &resp); err != nil {
		return nil, upstreamErr("Could not create alert", err)
	}

	return AlertCreated{
		Success: true,
		AlertID: resp.ID,
		Message: fmt.Sprintf("Created %s alert for field '%s'. Will notify %s when %s %s %s",
			args.AlertType, args.FieldName, args.Email, args.AlertType, args.Operator,
			strconv.FormatFloat(*args.Threshold, 'f', -1, 64)),
	}, nil
}
