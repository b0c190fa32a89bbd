package processing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teilomillet/hearth/server/session"
)

func TestRenderPreamble(t *testing.T) {
	out, err := RenderPreamble("You run the house at {{.LocationName}}.", PreambleVars{LocationName: "Home"})
	require.NoError(t, err)
	assert.Equal(t, "You run the house at Home.", out)

	out, err = RenderPreamble("This smart home is controlled by Home Assistant.", PreambleVars{})
	require.NoError(t, err)
	assert.Equal(t, "This smart home is controlled by Home Assistant.", out)
}

func TestRenderPreambleErrors(t *testing.T) {
	_, err := RenderPreamble("{{.LocationName", PreambleVars{})
	assert.Error(t, err, "parse failure")

	_, err = RenderPreamble("{{.HouseName}}", PreambleVars{})
	assert.Error(t, err, "unknown field")
}

func TestCompose(t *testing.T) {
	tmpl := Resolve(DefaultMode)
	msgs, err := Compose("preamble", tmpl.Instruction, "light.a<>on<>toggle,turn_off,turn_on\n", "lights off")
	require.NoError(t, err)

	require.Len(t, msgs, 2)
	assert.Equal(t, session.Message{Role: session.RoleSystem, Content: "preamble"}, msgs[0])
	assert.Equal(t, session.RoleUser, msgs[1].Role)
	assert.Contains(t, msgs[1].Content, "light.a<>on")
	assert.Contains(t, msgs[1].Content, `Prompt: "lights off"`)
}
