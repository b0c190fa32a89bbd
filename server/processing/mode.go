package processing

import (
	"strings"
)

// Language is the language the instruction template is written in.
type Language int

const (
	English Language = iota
	Dutch
)

func (l Language) String() string {
	switch l {
	case Dutch:
		return "Dutch"
	default:
		return "English"
	}
}

// FeatureSet selects whether brightness and color fields are rendered and
// dispatched.
type FeatureSet int

const (
	Basic FeatureSet = iota
	Color
)

func (f FeatureSet) String() string {
	switch f {
	case Color:
		return "color"
	default:
		return "basic"
	}
}

// Mode is the language and feature set a turn is processed with.
type Mode struct {
	Language   Language
	FeatureSet FeatureSet
}

// DefaultMode is used for unknown or empty selectors.
var DefaultMode = Mode{Language: English, FeatureSet: Basic}

func (m Mode) String() string {
	return m.Language.String() + "/" + m.FeatureSet.String()
}

var modeSelectors = map[string]Mode{
	"english":                              {English, Basic},
	"dutch":                                {Dutch, Basic},
	"english + brightness + color control": {English, Color},
	"dutch + brightness + color control":   {Dutch, Color},
	"en":                                   {English, Basic},
	"nl":                                   {Dutch, Basic},
	"en+color":                             {English, Color},
	"nl+color":                             {Dutch, Color},
}

// ParseMode resolves a language_and_mode selector. Matching ignores case and
// surrounding whitespace. The boolean is false when the selector is unknown,
// in which case DefaultMode is returned.
func ParseMode(selector string) (Mode, bool) {
	mode, ok := modeSelectors[strings.ToLower(strings.TrimSpace(selector))]
	if !ok {
		return DefaultMode, false
	}
	return mode, true
}
