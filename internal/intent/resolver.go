package intent

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/sprchuoi/Smart-Server/internal/device"
)

// ErrNoMatch indicates the text could not be mapped to an intent.
var ErrNoMatch = errors.New("intent: no match")

// Intent is a structured command derived from free text.
type Intent struct {
	// DeviceID is the matched device, empty when the action targets
	// the whole fleet (e.g. a status summary).
	DeviceID string `json:"device_id,omitempty"`

	// Action is the canonical action name (turn_on, turn_off, status, report).
	Action string `json:"action"`

	// Parameters carries action arguments extracted from the text.
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Resolver maps free text to an Intent.
//
// The boundary is deliberately narrow so the rule engine can be
// swapped for a model-backed implementation without touching callers.
type Resolver interface {
	// Resolve parses the text. Returns ErrNoMatch when no rule applies.
	Resolve(ctx context.Context, text string) (Intent, error)
}

// DeviceLister supplies the device snapshot used for name matching.
// Satisfied by *device.Registry.
type DeviceLister interface {
	ListDevices(ctx context.Context) ([]device.Device, error)
}

// Canonical actions produced by the rule resolver.
const (
	ActionTurnOn  = "turn_on"
	ActionTurnOff = "turn_off"
	ActionStatus  = "status"
	ActionReport  = "report"
)

// actionRule maps trigger phrases to a canonical action.
type actionRule struct {
	action   string
	phrases  []string
	needsDev bool
}

// Rules are checked in order; the first phrase hit wins.
var rules = []actionRule{
	{action: ActionTurnOff, phrases: []string{"turn off", "switch off", "power off", "shut down", "disable"}, needsDev: true},
	{action: ActionTurnOn, phrases: []string{"turn on", "switch on", "power on", "enable"}, needsDev: true},
	{action: ActionReport, phrases: []string{"report", "reading", "readings", "measure", "how warm", "how cold", "temperature", "humidity"}},
	{action: ActionStatus, phrases: []string{"status", "state", "online", "offline", "alive", "up?"}},
}

// RuleResolver is a phrase-matching Resolver backed by the device
// registry for name resolution.
type RuleResolver struct {
	devices DeviceLister
}

// NewRuleResolver creates a rule-based resolver.
func NewRuleResolver(devices DeviceLister) *RuleResolver {
	return &RuleResolver{devices: devices}
}

// Resolve parses the text against the phrase rules.
//
// The off rules run before the on rules so "turn off" never matches
// the "on" substring. Device matching is longest-name-first so
// "kitchen light strip" beats "kitchen light".
func (r *RuleResolver) Resolve(ctx context.Context, text string) (Intent, error) {
	normalised := strings.ToLower(strings.TrimSpace(text))
	if normalised == "" {
		return Intent{}, ErrNoMatch
	}

	rule, ok := matchRule(normalised)
	if !ok {
		return Intent{}, ErrNoMatch
	}

	deviceID, err := r.matchDevice(ctx, normalised)
	if err != nil {
		return Intent{}, err
	}
	if deviceID == "" && rule.needsDev {
		return Intent{}, ErrNoMatch
	}

	intent := Intent{DeviceID: deviceID, Action: rule.action}
	if rule.action == ActionReport {
		if sensor := matchSensorType(normalised); sensor != "" {
			intent.Parameters = map[string]any{"sensor_type": sensor}
		}
	}
	return intent, nil
}

// matchRule finds the first rule with a phrase in the text.
func matchRule(text string) (actionRule, bool) {
	for _, rule := range rules {
		for _, phrase := range rule.phrases {
			if strings.Contains(text, phrase) {
				return rule, true
			}
		}
	}
	return actionRule{}, false
}

// matchDevice finds the device whose name or id appears in the text.
func (r *RuleResolver) matchDevice(ctx context.Context, text string) (string, error) {
	devices, err := r.devices.ListDevices(ctx)
	if err != nil {
		return "", err
	}

	// Longest candidate first so more specific names win.
	sort.Slice(devices, func(i, j int) bool {
		return len(candidateName(devices[i])) > len(candidateName(devices[j]))
	})

	for _, d := range devices {
		name := candidateName(d)
		if name != "" && strings.Contains(text, name) {
			return d.ID, nil
		}
		if strings.Contains(text, strings.ToLower(d.ID)) {
			return d.ID, nil
		}
	}
	return "", nil
}

// candidateName returns the lowercase display name used for matching.
func candidateName(d device.Device) string {
	return strings.ToLower(strings.TrimSpace(d.Name))
}

// matchSensorType pulls a sensor hint out of report-style requests.
func matchSensorType(text string) string {
	for _, sensor := range []string{"temperature", "humidity", "pressure", "light", "motion", "co2"} {
		if strings.Contains(text, sensor) {
			return sensor
		}
	}
	return ""
}
