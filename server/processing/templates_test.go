package processing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveIsIdempotent(t *testing.T) {
	modes := []Mode{
		{English, Basic}, {English, Color}, {Dutch, Basic}, {Dutch, Color},
	}
	fields := EntityFields{ID: "light.a", State: "on", Actions: DeviceActions, Brightness: "10", HSColor: "1,2"}

	for _, m := range modes {
		t.Run(m.String(), func(t *testing.T) {
			first, second := Resolve(m), Resolve(m)
			assert.Same(t, first.Instruction.tmpl, second.Instruction.tmpl)
			assert.Equal(t, first.Instruction.Name(), second.Instruction.Name())
			assert.Equal(t, first.Entity(fields), second.Entity(fields))
			assert.Equal(t, m.FeatureSet, first.FeatureSet)
		})
	}
}

func TestResolveOutOfRangeUsesDefault(t *testing.T) {
	got := Resolve(Mode{Language: Language(42), FeatureSet: Color})
	want := Resolve(DefaultMode)
	assert.Equal(t, want.Instruction.Name(), got.Instruction.Name())
	assert.Equal(t, Basic, got.FeatureSet)
}

func TestEntityRenderers(t *testing.T) {
	fields := EntityFields{ID: "light.a", State: "on", Actions: DeviceActions, Brightness: "128", HSColor: "30,50"}

	assert.Equal(t, "light.a<>on<>toggle,turn_off,turn_on\n", Resolve(Mode{English, Basic}).Entity(fields))
	assert.Equal(t, "light.a<>on<>toggle,turn_off,turn_on<>128<>30,50\n", Resolve(Mode{Dutch, Color}).Entity(fields))
}

func TestInstructionTemplatesRender(t *testing.T) {
	modes := []Mode{
		{English, Basic}, {English, Color}, {Dutch, Basic}, {Dutch, Color},
	}
	for _, m := range modes {
		t.Run(m.String(), func(t *testing.T) {
			out, err := Resolve(m).Instruction.Render(InstructionParams{
				Entities: "light.a<>on<>toggle,turn_off,turn_on\n",
				Prompt:   "turn on the lamp",
			})
			require.NoError(t, err)
			assert.Contains(t, out, "light.a<>on<>toggle,turn_off,turn_on")
			assert.Contains(t, out, `"turn on the lamp"`)
			assert.Contains(t, out, `"assistant"`)
			if m.FeatureSet == Color {
				assert.Contains(t, out, `"hs_color"`)
			} else {
				assert.NotContains(t, out, "hs_color")
			}
		})
	}
}

func TestInstructionRendersWithEmptyInventory(t *testing.T) {
	out, err := Resolve(DefaultMode).Instruction.Render(InstructionParams{Prompt: "hello"})
	require.NoError(t, err)
	assert.True(t, strings.Contains(out, "Entities:\n\n"))
}
