package processing

import (
	"encoding/json"
	"strings"
)

// Extraction strategy names, reported in logs and metrics.
const (
	StrategyStrict    = "strict"
	StrategyBraceScan = "brace_scan"
	StrategyFallback  = "fallback"
)

// Action is one entry of the envelope's entities list. HasID and HasAction
// record whether the keys were present with a string value.
type Action struct {
	ID         string
	Action     string
	Brightness any
	HSColor    any
	HasID      bool
	HasAction  bool
}

// Envelope is the structured reply the model is asked to produce.
type Envelope struct {
	Actions   []Action
	Assistant string
	// HasAssistant is false when the assistant key is missing or null.
	HasAssistant bool
	// HasEntities is false when the entities key is missing or not a list.
	HasEntities bool
}

// Extraction is the result of reading a model reply.
type Extraction struct {
	// Envelope is nil when no strategy could parse the reply.
	Envelope *Envelope
	Strategy string
	// Reply is the assistant text when present, the raw reply otherwise.
	Reply string
}

type extractStrategy struct {
	name  string
	parse func(raw string) (*Envelope, bool)
}

var extractStrategies = []extractStrategy{
	{name: StrategyStrict, parse: parseEnvelope},
	{name: StrategyBraceScan, parse: parseBraceScan},
}

// Extract reads a model reply. Strategies run in order and the first one
// that yields an envelope wins; when none does the raw text becomes the
// reply and there are no actions.
func Extract(raw string) Extraction {
	for _, s := range extractStrategies {
		env, ok := s.parse(raw)
		if !ok {
			continue
		}
		reply := raw
		if env.HasAssistant {
			reply = env.Assistant
		}
		return Extraction{Envelope: env, Strategy: s.name, Reply: reply}
	}
	return Extraction{Strategy: StrategyFallback, Reply: raw}
}

// parseBraceScan parses the text between the first '{' and the last '}',
// which recovers envelopes the model wrapped in prose.
func parseBraceScan(raw string) (*Envelope, bool) {
	first := strings.Index(raw, "{")
	last := strings.LastIndex(raw, "}")
	if first == -1 || last == -1 || last <= first {
		return nil, false
	}
	return parseEnvelope(raw[first : last+1])
}

func parseEnvelope(text string) (*Envelope, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &fields); err != nil || fields == nil {
		return nil, false
	}

	env := &Envelope{}

	if raw, ok := fields["assistant"]; ok && !isNull(raw) {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			env.Assistant = s
		} else {
			env.Assistant = string(raw)
		}
		env.HasAssistant = true
	}

	if raw, ok := fields["entities"]; ok {
		var entries []json.RawMessage
		if err := json.Unmarshal(raw, &entries); err == nil && entries != nil {
			env.HasEntities = true
			env.Actions = make([]Action, 0, len(entries))
			for _, entry := range entries {
				env.Actions = append(env.Actions, parseAction(entry))
			}
		}
	}

	return env, true
}

// parseAction decodes one entities entry. Entries that are not objects, or
// whose id or action is not a string, come back without the matching Has
// flag so the dispatcher treats them as malformed.
func parseAction(raw json.RawMessage) Action {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Action{}
	}

	var a Action
	if v, ok := fields["id"]; ok {
		a.HasID = json.Unmarshal(v, &a.ID) == nil && !isNull(v)
	}
	if v, ok := fields["action"]; ok {
		a.HasAction = json.Unmarshal(v, &a.Action) == nil && !isNull(v)
	}
	if v, ok := fields["brightness"]; ok {
		_ = json.Unmarshal(v, &a.Brightness)
	}
	if v, ok := fields["hs_color"]; ok {
		_ = json.Unmarshal(v, &a.HSColor)
	}
	return a
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}
