package processing

import (
	"strconv"
	"strings"
)

// DeviceActions is the action list offered for every light and switch.
const DeviceActions = "toggle,turn_off,turn_on"

// BuildInventory renders the exposed devices into the entity block of the
// instruction prompt. Devices that are not exposed are skipped. An empty
// string is returned when nothing is exposed.
func BuildInventory(devices []Device, render EntityRenderer, fs FeatureSet) string {
	var b strings.Builder
	for _, d := range devices {
		if !d.Exposed {
			continue
		}

		fields := EntityFields{
			ID:      d.ID,
			State:   d.State,
			Actions: DeviceActions,
		}
		if fields.State == "" {
			fields.State = "unknown"
		}
		if fs == Color {
			fields.Brightness = formatBrightness(d.Attributes["brightness"])
			fields.HSColor = formatHSColor(d.Attributes["hs_color"])
		}

		b.WriteString(render(fields))
	}
	return b.String()
}

func formatBrightness(v any) string {
	switch b := v.(type) {
	case float64:
		return strconv.FormatInt(int64(b), 10)
	case int:
		return strconv.Itoa(b)
	case int64:
		return strconv.FormatInt(b, 10)
	default:
		return ""
	}
}

func formatHSColor(v any) string {
	var parts []string
	switch hs := v.(type) {
	case []any:
		for _, c := range hs {
			f, ok := c.(float64)
			if !ok {
				return ""
			}
			parts = append(parts, strconv.FormatFloat(f, 'f', -1, 64))
		}
	case []float64:
		for _, f := range hs {
			parts = append(parts, strconv.FormatFloat(f, 'f', -1, 64))
		}
	default:
		return ""
	}
	return strings.Join(parts, ",")
}
