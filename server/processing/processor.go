package processing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/teilomillet/hearth/config"
	"github.com/teilomillet/hearth/errors"
	"github.com/teilomillet/hearth/server/metrics"
	"github.com/teilomillet/hearth/server/session"
	"go.uber.org/zap"
)

// Domains whose devices are offered to the model.
var supportedDomains = []string{"light", "switch"}

// Messages returned to the user when a turn fails.
const (
	msgDevices       = "Sorry, I could not read your devices: %v"
	msgTemplate      = "Sorry, I had a problem with my template: %v"
	msgModel         = "Sorry, I had a problem talking to the model: %v"
	msgUnderstanding = "Sorry, there was an error understanding the model: %v"
	msgDispatch      = "Sorry, I had a problem controlling your devices: %v"
)

// Processor runs conversation turns.
type Processor struct {
	devices    DeviceSource
	completer  Completer
	dispatcher *Dispatcher
	store      session.Store
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// ProcessorOption configures a Processor.
type ProcessorOption func(*Processor)

// WithMetrics records turn outcomes, extraction strategies and dispatched
// actions on m.
func WithMetrics(m *metrics.Metrics) ProcessorOption {
	return func(p *Processor) {
		p.metrics = m
	}
}

// NewProcessor wires a processor from its collaborators.
func NewProcessor(devices DeviceSource, completer Completer, invoker CommandInvoker, store session.Store, logger *zap.Logger, opts ...ProcessorOption) (*Processor, error) {
	if devices == nil {
		return nil, fmt.Errorf("device source is required")
	}
	if completer == nil {
		return nil, fmt.Errorf("completer is required")
	}
	if invoker == nil {
		return nil, fmt.Errorf("command invoker is required")
	}
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Processor{
		devices:    devices,
		completer:  completer,
		dispatcher: NewDispatcher(invoker, logger),
		store:      store,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Process runs one turn. It never returns nil; failures are reported on
// Result.Err with a user-facing message in Result.Speech.
func (p *Processor) Process(ctx context.Context, settings Settings, turn Turn) *Result {
	requestID := errors.RequestIDFrom(ctx)
	logger := p.logger.With(zap.String("request_id", requestID))
	if turn.Language != "" {
		// The instruction language comes from the configured mode; the
		// requested one is only recorded.
		logger = logger.With(zap.String("language", turn.Language))
	}

	preamble, err := RenderPreamble(settings.Preamble, PreambleVars{LocationName: settings.LocationName})
	if err != nil {
		logger.Error("error rendering preamble", zap.Error(err))
		id := turn.ConversationID
		if id == "" {
			id = uuid.NewString()
		}
		return p.fail(id, errors.NewTemplateError(requestID, fmt.Sprintf(msgTemplate, err), err))
	}

	conversationID, history, created := session.GetOrCreate(p.store, turn.ConversationID, preamble)
	logger = logger.With(zap.String("conversation_id", conversationID))
	if created {
		logger.Debug("starting conversation", zap.String("requested_id", turn.ConversationID))
	}

	tmpl := Resolve(settings.Mode)
	logger.Debug("resolved mode",
		zap.Stringer("mode", settings.Mode),
		zap.String("template", tmpl.Instruction.Name()),
	)

	devices, err := p.devices.Snapshot(ctx, supportedDomains...)
	if err != nil {
		logger.Error("error reading devices", zap.Error(err))
		return p.fail(conversationID, errors.NewDeviceError(requestID, fmt.Sprintf(msgDevices, err), err))
	}

	inventory := BuildInventory(devices, tmpl.Entity, tmpl.FeatureSet)
	messages, err := Compose(preamble, tmpl.Instruction, inventory, turn.Text)
	if err != nil {
		logger.Error("error composing prompt", zap.Error(err))
		return p.fail(conversationID, errors.NewTemplateError(requestID, fmt.Sprintf(msgTemplate, err), err))
	}
	logger.Debug("prompt", zap.String("model", settings.Model), zap.Any("messages", messages))

	content, err := p.completer.Complete(ctx, Completion{
		Model:       settings.Model,
		Messages:    messages,
		MaxTokens:   settings.MaxTokens,
		TopP:        settings.TopP,
		Temperature: settings.Temperature,
		User:        conversationID,
	})
	if err != nil {
		logger.Error("error calling model", zap.Error(err))
		return p.fail(conversationID, errors.NewProviderError(requestID, fmt.Sprintf(msgModel, err), err))
	}
	logger.Debug("model reply", zap.String("model", settings.Model), zap.String("content", content))

	extraction := Extract(content)
	if p.metrics != nil {
		p.metrics.ExtractionsTotal.WithLabelValues(extraction.Strategy).Inc()
	}
	if extraction.Strategy != StrategyStrict {
		logger.Warn("model reply was not a bare JSON envelope", zap.String("strategy", extraction.Strategy))
	}

	result := &Result{
		ConversationID: conversationID,
		Speech:         extraction.Reply,
		Strategy:       extraction.Strategy,
	}

	if env := extraction.Envelope; env != nil {
		if !env.HasEntities {
			logger.Warn("model reply has no entities list")
		}

		n, err := p.dispatcher.Dispatch(ctx, env.Actions, tmpl.FeatureSet)
		result.Actions = n
		p.countActions(env.Actions[:n])
		if err != nil && !errors.Is(err, ErrMalformedAction) {
			logger.Error("error dispatching actions", zap.Int("dispatched", n), zap.Error(err))
			result.Err = errors.NewDispatchError(requestID, fmt.Sprintf(msgDispatch, err), err)
			result.Speech = result.Err.Message
			p.countTurn(result)
			return result
		}

		if !env.HasAssistant {
			cause := fmt.Errorf("reply has no assistant field")
			logger.Error("error extracting assistant reply", zap.String("text", turn.Text))
			result.Err = errors.NewUnderstandingError(requestID, fmt.Sprintf(msgUnderstanding, cause), cause)
			result.Speech = result.Err.Message
			p.countTurn(result)
			return result
		}
	}

	history = append(history,
		session.Message{Role: session.RoleUser, Content: messages[1].Content},
		session.Message{Role: session.RoleAssistant, Content: result.Speech},
	)
	p.store.Put(conversationID, history)
	if p.metrics != nil {
		p.metrics.SessionsActive.Set(float64(p.store.Len()))
	}

	p.countTurn(result)
	return result
}

func (p *Processor) fail(conversationID string, err *errors.HearthError) *Result {
	r := &Result{
		ConversationID: conversationID,
		Speech:         err.Message,
		Err:            err,
	}
	p.countTurn(r)
	return r
}

func (p *Processor) countTurn(r *Result) {
	if p.metrics == nil {
		return
	}
	outcome := "ok"
	if r.Err != nil {
		outcome = string(r.Err.Type)
	}
	p.metrics.TurnsTotal.WithLabelValues(outcome).Inc()
}

func (p *Processor) countActions(sent []Action) {
	if p.metrics == nil {
		return
	}
	for _, a := range sent {
		p.metrics.ActionsTotal.WithLabelValues(Category(a.ID)).Inc()
	}
}

// SettingsFromConfig derives the per-turn settings from a loaded
// configuration. locationName is used when the configuration does not
// override it. Unknown language_and_mode values are logged and fall back to
// DefaultMode.
func SettingsFromConfig(cfg *config.Config, locationName string, logger *zap.Logger) Settings {
	mode, known := ParseMode(cfg.Assistant.LanguageAndMode)
	if !known && logger != nil {
		logger.Warn("unknown language_and_mode, using default",
			zap.String("language_and_mode", cfg.Assistant.LanguageAndMode),
			zap.Stringer("mode", mode),
		)
	}
	if cfg.Assistant.LocationName != "" {
		locationName = cfg.Assistant.LocationName
	}
	return Settings{
		Model:        cfg.LLM.Model,
		MaxTokens:    cfg.LLM.MaxTokens,
		TopP:         cfg.LLM.TopP,
		Temperature:  cfg.LLM.Temperature,
		Preamble:     cfg.Assistant.EffectivePrompt(),
		LocationName: locationName,
		Mode:         mode,
	}
}
