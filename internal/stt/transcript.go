package stt

import "strings"

// Transcript accumulates final text and holds the latest interim text, which
// each partial update replaces.
type Transcript struct {
	final   []string
	interim string
}

func (t *Transcript) AppendFinal(text string) {
	if text = strings.TrimSpace(text); text != "" {
		t.final = append(t.final, text)
	}
	t.interim = ""
}

func (t *Transcript) SetInterim(text string) {
	t.interim = strings.TrimSpace(text)
}

func (t *Transcript) ClearInterim() {
	t.interim = ""
}

func (t *Transcript) Final() string {
	return strings.Join(t.final, " ")
}

func (t *Transcript) Interim() string {
	return t.interim
}

// Render shows final text followed by the bracketed interim text.
func (t *Transcript) Render() string {
	final := t.Final()
	switch {
	case t.interim == "":
		return final
	case final == "":
		return "[" + t.interim + "]"
	default:
		return final + " [" + t.interim + "]"
	}
}
