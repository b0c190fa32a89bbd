package processing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name         string
		raw          string
		strategy     string
		reply        string
		actions      []Action
		hasEnvelope  bool
		hasAssistant bool
	}{
		{
			name:         "bare envelope",
			raw:          `{"entities":[],"assistant":"ok"}`,
			strategy:     StrategyStrict,
			reply:        "ok",
			actions:      []Action{},
			hasEnvelope:  true,
			hasAssistant: true,
		},
		{
			name:     "envelope after prose",
			raw:      `Sure! {"entities":[{"id":"light.x","action":"turn_on"}],"assistant":"done"}`,
			strategy: StrategyBraceScan,
			reply:    "done",
			actions: []Action{
				{ID: "light.x", Action: "turn_on", HasID: true, HasAction: true},
			},
			hasEnvelope:  true,
			hasAssistant: true,
		},
		{
			name:     "not json",
			raw:      "not json at all",
			strategy: StrategyFallback,
			reply:    "not json at all",
		},
		{
			name:     "closing brace before opening brace",
			raw:      "} oops {",
			strategy: StrategyFallback,
			reply:    "} oops {",
		},
		{
			name:     "unbalanced braces",
			raw:      `Here: {"entities": [`,
			strategy: StrategyFallback,
			reply:    `Here: {"entities": [`,
		},
		{
			name:         "empty assistant is a valid reply",
			raw:          `{"entities":[],"assistant":""}`,
			strategy:     StrategyStrict,
			reply:        "",
			actions:      []Action{},
			hasEnvelope:  true,
			hasAssistant: true,
		},
		{
			name:        "missing assistant keeps raw reply",
			raw:         `{"entities":[]}`,
			strategy:    StrategyStrict,
			reply:       `{"entities":[]}`,
			actions:     []Action{},
			hasEnvelope: true,
		},
		{
			name:        "null assistant counts as missing",
			raw:         `{"entities":[],"assistant":null}`,
			strategy:    StrategyStrict,
			reply:       `{"entities":[],"assistant":null}`,
			actions:     []Action{},
			hasEnvelope: true,
		},
		{
			name:         "envelope followed by prose",
			raw:          `{"entities":[],"assistant":"ok"} Let me know if you need anything else.`,
			strategy:     StrategyBraceScan,
			reply:        "ok",
			actions:      []Action{},
			hasEnvelope:  true,
			hasAssistant: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := Extract(tt.raw)
			assert.Equal(t, tt.strategy, ex.Strategy)
			assert.Equal(t, tt.reply, ex.Reply)
			if !tt.hasEnvelope {
				assert.Nil(t, ex.Envelope)
				return
			}
			require.NotNil(t, ex.Envelope)
			assert.Equal(t, tt.hasAssistant, ex.Envelope.HasAssistant)
			assert.Equal(t, tt.actions, ex.Envelope.Actions)
		})
	}
}

func TestExtractEntitiesShape(t *testing.T) {
	ex := Extract(`{"assistant":"hi"}`)
	require.NotNil(t, ex.Envelope)
	assert.False(t, ex.Envelope.HasEntities)
	assert.Empty(t, ex.Envelope.Actions)

	ex = Extract(`{"entities":"light.a","assistant":"hi"}`)
	require.NotNil(t, ex.Envelope)
	assert.False(t, ex.Envelope.HasEntities)
	assert.Empty(t, ex.Envelope.Actions)
}

func TestExtractActionFields(t *testing.T) {
	ex := Extract(`{"entities":[
		{"id":"light.a","action":"turn_on","brightness":"128","hs_color":"30,50"},
		{"id":"light.b","action":"turn_on","brightness":200,"hs_color":[10,20]},
		{"id":"light.c"},
		{"action":"toggle"},
		{"id":null,"action":"toggle"},
		"light.d"
	],"assistant":"ok"}`)
	require.NotNil(t, ex.Envelope)
	actions := ex.Envelope.Actions
	require.Len(t, actions, 6)

	assert.Equal(t, "128", actions[0].Brightness)
	assert.Equal(t, "30,50", actions[0].HSColor)
	assert.Equal(t, 200.0, actions[1].Brightness)
	assert.Equal(t, []any{10.0, 20.0}, actions[1].HSColor)

	assert.True(t, actions[2].HasID)
	assert.False(t, actions[2].HasAction)
	assert.False(t, actions[3].HasID)
	assert.True(t, actions[3].HasAction)
	assert.False(t, actions[4].HasID)
	assert.Equal(t, Action{}, actions[5])
}
