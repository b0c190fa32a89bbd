package processing

import (
	"strings"
	"text/template"
)

// FieldSeparator joins the fields of one entity record.
const FieldSeparator = "<>"

// EntityFields are the values rendered for one exposed device.
type EntityFields struct {
	ID         string
	State      string
	Actions    string
	Brightness string
	HSColor    string
}

// EntityRenderer renders one inventory record, newline included.
type EntityRenderer func(EntityFields) string

// InstructionParams are the values substituted into an instruction template.
type InstructionParams struct {
	Entities string
	Prompt   string
}

// InstructionTemplate is a parsed instruction prompt.
type InstructionTemplate struct {
	name string
	tmpl *template.Template
}

// Name identifies the template in logs.
func (t InstructionTemplate) Name() string {
	return t.name
}

// Render executes the template against p.
func (t InstructionTemplate) Render(p InstructionParams) (string, error) {
	var b strings.Builder
	if err := t.tmpl.Execute(&b, p); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Templates is the entity renderer and instruction template pair for a mode,
// along with the feature set both of them describe.
type Templates struct {
	Entity      EntityRenderer
	Instruction InstructionTemplate
	FeatureSet  FeatureSet
}

func renderBasicEntity(f EntityFields) string {
	return strings.Join([]string{f.ID, f.State, f.Actions}, FieldSeparator) + "\n"
}

func renderColorEntity(f EntityFields) string {
	return strings.Join([]string{f.ID, f.State, f.Actions, f.Brightness, f.HSColor}, FieldSeparator) + "\n"
}

func mustInstruction(name, text string) InstructionTemplate {
	return InstructionTemplate{
		name: name,
		tmpl: template.Must(template.New(name).Option("missingkey=error").Parse(text)),
	}
}

var (
	englishBasic = mustInstruction("english_basic", `Below is a list of devices, containing the device id, state, and actions to perform.
The sections of the string are delimited by the string "<>"

Entities:
{{.Entities}}

Prompt: "{{.Prompt}}"

JSON Template: { "entities": [ { "id": "", "action": "" } ], "assistant": "" }

Determine if the above prompt is a command related to the above entities. Respond only in JSON.

If the prompt is a command then determine which entities relate to the above prompt and which action should be taken on those entities.
Respond only in the format of the above JSON Template.
Fill in the "assistant" field as a natural language response for the action being taken.
Respond only with the JSON Template.
`)

	englishColor = mustInstruction("english_color", `Below is a list of devices, containing the device id, state, actions to perform, brightness (0-255) and HS color (Hue 0-360, Saturation 0-100).
The sections of the string are delimited by the string "<>"

Entities:
{{.Entities}}

Prompt: "{{.Prompt}}"

JSON Template: { "entities": [ { "id": "", "action": "", "brightness": "", "hs_color": "" } ], "assistant": "" }

Determine if the above prompt is a command related to the above entities. Respond only in JSON.

If the prompt is a command then determine which entities relate to the above prompt and which action should be taken on those entities.
Fill in "brightness" (0-255) only when the prompt asks for a brightness; otherwise leave it empty.
Fill in "hs_color" as "Hue,Saturation" only when the prompt asks for a color; otherwise leave it empty.
Respond only in the format of the above JSON Template.
Fill in the "assistant" field as a natural language response for the action being taken.
Respond only with the JSON Template.
`)

	dutchBasic = mustInstruction("dutch_basic", `Hieronder staat een lijst van devices, met daarin de device id, state en acties die uitgevoerd kunnen worden.
De secties van de string worden gescheiden door de string "<>"

Entities:
{{.Entities}}

Prompt: "{{.Prompt}}"

JSON Template: { "entities": [ { "id": "", "action": "" } ], "assistant": "" }

Bepaal of de bovenstaande prompt een opdracht is die gerelateerd is aan de bovengenoemde entities. Antwoord alleen in JSON.

Als de prompt een opdracht is, bepaal dan welke entities betrekking hebben op de bovenstaande prompt en welke actie ondernomen moet worden voor die entities.
Antwoord enkel in het formaat van het bovenstaande JSON Template.
Vul het "assistant" veld in met een antwoord in natuurlijke taal voor de actie die wordt ondernomen.
Antwoord alleen met het JSON Template.
`)

	dutchColor = mustInstruction("dutch_color", `Op basis van de gegeven prompt, moet je de relevante entiteiten identificeren en de juiste acties uitvoeren.

Prompt: "{{.Prompt}}"

Entities:
{{.Entities}}

Elke entiteit heeft een device id, state, acties, brightness (0-255) en HS color (Hue 0-360, Saturation 0-100), gescheiden door "<>". Gebruik deze informatie om de volgende taken uit te voeren:

- Identificeer elke entiteit in de prompt. De locatie of ruimte van de entiteit staat in de device id, direct na "light." of "switch.". Bijvoorbeeld, in "light.keukenlamp_zijkant" is "keuken" de locatie.
- Kies alleen de entiteiten die exact overeenkomen met de beschrijvingen in de prompt.
- Bepaal de gewenste actie voor elke entiteit, rekening houdend met de huidige status.
- Voeg brightness (0-255) toe indien gespecificeerd; anders laat leeg.
- Voeg HS color als "Hue,Saturation" toe indien gespecificeerd; anders laat leeg.

Je antwoord moet voldoen aan het volgende JSON Template formaat:
{ "entities": [ { "id": "", "action": "", "brightness": "", "hs_color": "" } ], "assistant": "" }

In het "assistant" veld, geef in natuurlijke taal een duidelijke uitleg over de uitgevoerde acties.
`)
)

// Resolve returns the template pair for mode. Values outside the known
// languages and feature sets fall back to the DefaultMode pair.
func Resolve(mode Mode) Templates {
	switch mode {
	case Mode{English, Color}:
		return Templates{Entity: renderColorEntity, Instruction: englishColor, FeatureSet: Color}
	case Mode{Dutch, Basic}:
		return Templates{Entity: renderBasicEntity, Instruction: dutchBasic, FeatureSet: Basic}
	case Mode{Dutch, Color}:
		return Templates{Entity: renderColorEntity, Instruction: dutchColor, FeatureSet: Color}
	default:
		return Templates{Entity: renderBasicEntity, Instruction: englishBasic, FeatureSet: Basic}
	}
}
