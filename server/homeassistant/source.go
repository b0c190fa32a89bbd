package homeassistant

import (
	"context"
	"sort"
	"strings"

	"github.com/teilomillet/hearth/server/processing"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// StateReader lists entity states.
type StateReader interface {
	GetStates(ctx context.Context) ([]State, error)
}

// ExposureLister reports which entities are exposed to an assistant.
type ExposureLister interface {
	ExposedEntities(ctx context.Context, assistant string) (map[string]bool, error)
}

// Source implements processing.DeviceSource. Every snapshot is fetched
// fresh; concurrent snapshots of the same domains share one fetch.
type Source struct {
	states    StateReader
	exposure  ExposureLister
	assistant string
	group     singleflight.Group
	logger    *zap.Logger
}

var _ processing.DeviceSource = (*Source)(nil)

// NewSource creates a device source that marks devices exposed to assistant.
func NewSource(states StateReader, exposure ExposureLister, assistant string, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{
		states:    states,
		exposure:  exposure,
		assistant: assistant,
		logger:    logger,
	}
}

// Snapshot returns the devices in domains, in Home Assistant order.
func (s *Source) Snapshot(ctx context.Context, domains ...string) ([]processing.Device, error) {
	key := append([]string(nil), domains...)
	sort.Strings(key)

	// The shared fetch must not die with the caller that started it, but
	// each caller stops waiting when its own context ends.
	fetchCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(strings.Join(key, ","), func() (any, error) {
		return s.fetch(fetchCtx, domains)
	})

	select {
	case <-ctx.Done():
		s.logger.Debug("stopped waiting for device snapshot",
			zap.Strings("domains", domains),
			zap.Error(ctx.Err()),
		)
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			s.logger.Debug("shared device snapshot", zap.Strings("domains", domains))
		}
		devices := res.Val.([]processing.Device)
		return append([]processing.Device(nil), devices...), nil
	}
}

func (s *Source) fetch(ctx context.Context, domains []string) ([]processing.Device, error) {
	states, err := s.states.GetStates(ctx)
	if err != nil {
		return nil, err
	}
	exposed, err := s.exposure.ExposedEntities(ctx, s.assistant)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(domains))
	for _, d := range domains {
		wanted[d] = true
	}

	devices := make([]processing.Device, 0, len(states))
	for _, st := range states {
		if len(wanted) > 0 && !wanted[st.Domain()] {
			continue
		}
		devices = append(devices, processing.Device{
			ID:         st.EntityID,
			State:      st.State,
			Attributes: st.Attributes,
			Exposed:    exposed[st.EntityID],
		})
	}

	s.logger.Debug("fetched devices",
		zap.Int("states", len(states)),
		zap.Int("devices", len(devices)),
		zap.Int("exposed", len(exposed)),
	)
	return devices, nil
}
