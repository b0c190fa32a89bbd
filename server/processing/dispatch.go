package processing

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/teilomillet/hearth/errors"
	"go.uber.org/zap"
)

// ErrMalformedAction is returned when an entities entry lacks an id or an
// action. Entries after it are not dispatched.
var ErrMalformedAction = errors.New("malformed action")

// Category returns the command category for an entity id. Unknown prefixes
// yield an empty category; the call is still made and the invoker decides.
func Category(id string) string {
	switch {
	case strings.HasPrefix(id, "switch."):
		return "switch"
	case strings.HasPrefix(id, "light."):
		return "light"
	default:
		return ""
	}
}

// Dispatcher maps extracted actions onto device commands.
type Dispatcher struct {
	invoker CommandInvoker
	logger  *zap.Logger
}

// NewDispatcher creates a dispatcher that sends commands through invoker.
func NewDispatcher(invoker CommandInvoker, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{invoker: invoker, logger: logger}
}

// Dispatch invokes actions in order and returns how many commands were
// sent. It stops at the first malformed entry or failed command; commands
// already sent are not rolled back. Brightness and color fields are only
// forwarded in the Color feature set.
func (d *Dispatcher) Dispatch(ctx context.Context, actions []Action, fs FeatureSet) (int, error) {
	dispatched := 0
	for i, a := range actions {
		if !a.HasID || !a.HasAction {
			d.logger.Warn("stopping at malformed action",
				zap.Int("index", i),
				zap.String("entity_id", a.ID),
				zap.Bool("has_id", a.HasID),
				zap.Bool("has_action", a.HasAction),
			)
			return dispatched, fmt.Errorf("entry %d: %w", i, ErrMalformedAction)
		}

		data := map[string]any{"entity_id": a.ID}
		if fs == Color {
			d.addColorFields(a, data)
		}

		category := Category(a.ID)
		if err := d.invoker.Invoke(ctx, category, a.Action, data); err != nil {
			return dispatched, fmt.Errorf("%s.%s on %s: %w", category, a.Action, a.ID, err)
		}
		dispatched++

		d.logger.Info("executed action",
			zap.String("action", a.Action),
			zap.String("entity_id", a.ID),
			zap.Any("data", data),
		)
	}
	return dispatched, nil
}

func (d *Dispatcher) addColorFields(a Action, data map[string]any) {
	if present(a.Brightness) {
		if b, ok := coerceBrightness(a.Brightness); ok {
			data["brightness"] = b
		} else {
			d.logger.Error("dropping invalid brightness",
				zap.String("entity_id", a.ID),
				zap.Any("brightness", a.Brightness),
			)
		}
	}
	if present(a.HSColor) {
		if hs, ok := coerceHSColor(a.HSColor); ok {
			data["hs_color"] = hs
		} else {
			d.logger.Error("dropping invalid hs_color",
				zap.String("entity_id", a.ID),
				zap.Any("hs_color", a.HSColor),
			)
		}
	}
}

// present reports whether a decoded JSON value is set and non-empty.
func present(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case string:
		return x != ""
	case float64:
		return x != 0
	case bool:
		return x
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	default:
		return true
	}
}

func coerceBrightness(v any) (int, bool) {
	switch x := v.(type) {
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, false
		}
		return n, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func coerceHSColor(v any) ([]float64, bool) {
	var parts []any
	switch x := v.(type) {
	case string:
		for _, p := range strings.Split(x, ",") {
			parts = append(parts, p)
		}
	case []any:
		parts = x
	default:
		return nil, false
	}
	if len(parts) != 2 {
		return nil, false
	}

	hs := make([]float64, 0, 2)
	for _, p := range parts {
		switch c := p.(type) {
		case float64:
			hs = append(hs, c)
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(c), 64)
			if err != nil {
				return nil, false
			}
			hs = append(hs, f)
		default:
			return nil, false
		}
	}
	return hs, true
}
