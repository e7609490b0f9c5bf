package conversation

import "strings"

const (
	// ExhibitPlaceholder подставляется в шаблон персоны.
	ExhibitPlaceholder = "{exhibit}"

	DefaultPersonaTemplate = "As Richard Feynman, the famous physicist, you are currently guiding a tour at the {exhibit} exhibit in a science museum for middle and high school students."
	DefaultExhibit         = "Newton"
)

// Preamble шаблон системного промпта персоны.
type Preamble struct {
	Template       string
	DefaultExhibit string
}

// Render подставляет экспонат в шаблон. Пустой exhibit заменяется DefaultExhibit.
func (p Preamble) Render(exhibit string) string {
	tmpl := p.Template
	if tmpl == "" {
		tmpl = DefaultPersonaTemplate
	}
	exhibit = strings.TrimSpace(exhibit)
	if exhibit == "" {
		exhibit = p.DefaultExhibit
	}
	if exhibit == "" {
		exhibit = DefaultExhibit
	}
	return strings.ReplaceAll(tmpl, ExhibitPlaceholder, exhibit)
}
