package processing

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/teilomillet/hearth/server/session"
)

// PreambleVars are the values available to the user-editable preamble.
type PreambleVars struct {
	LocationName string
}

// RenderPreamble executes the preamble template. Referencing an unknown
// field is an error.
func RenderPreamble(tmpl string, vars PreambleVars) (string, error) {
	t, err := template.New("preamble").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse preamble: %w", err)
	}
	var b strings.Builder
	if err := t.Execute(&b, vars); err != nil {
		return "", fmt.Errorf("render preamble: %w", err)
	}
	return b.String(), nil
}

// Compose builds the messages sent to the model: the preamble as the system
// message and the rendered instruction as the user message. Earlier turns of
// the conversation are never included.
func Compose(preamble string, instruction InstructionTemplate, inventory, utterance string) ([]session.Message, error) {
	rendered, err := instruction.Render(InstructionParams{
		Entities: inventory,
		Prompt:   utterance,
	})
	if err != nil {
		return nil, fmt.Errorf("render %s instruction: %w", instruction.Name(), err)
	}
	return []session.Message{
		{Role: session.RoleSystem, Content: preamble},
		{Role: session.RoleUser, Content: rendered},
	}, nil
}
