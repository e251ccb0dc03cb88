package draft

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/zulandar/stylequeue/internal/models"
)

// Rendered is a draft ready for the transport.
type Rendered struct {
	Subject string
	Text    string
	HTML    string
}

type htmlModule struct {
	models.EmailModule
	RationaleHTML template.HTML
}

var emailTemplate = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html><body>
{{- range .Modules}}
<section class="module module-{{.Type}}"{{if .BackgroundStyle}} data-background="{{.BackgroundStyle}}"{{end}}>
{{- if .Title}}<h2>{{.Title}}</h2>{{end}}
{{- if .GeneratedImageURL}}<img src="{{.GeneratedImageURL}}" alt="{{.Title}}">{{end}}
{{- .RationaleHTML}}
{{- if .Items}}<ul class="items">
{{- range .Items}}<li>{{if .ImageURL}}<img src="{{.ImageURL}}" alt="{{.Title}}"> {{end}}<strong>{{.Brand}}</strong> {{.Title}} {{printf "$%.2f" .PriceQuoted}}{{if .SizeRecommendation}} (size {{.SizeRecommendation}}){{end}}{{if .FitNotes}}<br><em>{{.FitNotes}}</em>{{end}}</li>{{end}}
</ul>{{end}}
{{- range .Actions}}<p><a href="{{.URL}}" data-kind="{{.Kind}}">{{.Label}}</a></p>{{end}}
</section>
{{- end}}
{{- if .NotesHTML}}<footer>{{.NotesHTML}}</footer>{{end}}
</body></html>
`))

// Render produces the text and HTML bodies of d. Rationale and notes are
// markdown; raw HTML inside them is not passed through.
func Render(d *models.EmailDraft) (Rendered, error) {
	mods := make([]htmlModule, len(d.Modules))
	for i, m := range d.Modules {
		h, err := markdown(m.Rationale)
		if err != nil {
			return Rendered{}, fmt.Errorf("draft: render module %s: %w", m.ModuleID, err)
		}
		mods[i] = htmlModule{EmailModule: m, RationaleHTML: h}
	}
	notes, err := markdown(d.Notes)
	if err != nil {
		return Rendered{}, fmt.Errorf("draft: render notes: %w", err)
	}

	var buf bytes.Buffer
	if err := emailTemplate.Execute(&buf, struct {
		Modules   []htmlModule
		NotesHTML template.HTML
	}{mods, notes}); err != nil {
		return Rendered{}, fmt.Errorf("draft: render html: %w", err)
	}

	return Rendered{
		Subject: d.SubjectLine,
		Text:    renderText(d),
		HTML:    buf.String(),
	}, nil
}

func markdown(src string) (template.HTML, error) {
	if strings.TrimSpace(src) == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}

func renderText(d *models.EmailDraft) string {
	var b strings.Builder
	for i, m := range d.Modules {
		if i > 0 {
			b.WriteString("\n")
		}
		if m.Title != "" {
			fmt.Fprintf(&b, "%s\n%s\n", m.Title, strings.Repeat("=", len(m.Title)))
		}
		if r := strings.TrimSpace(m.Rationale); r != "" {
			b.WriteString(r)
			b.WriteString("\n")
		}
		for _, it := range m.Items {
			fmt.Fprintf(&b, "- %s %s $%.2f", it.Brand, it.Title, it.PriceQuoted)
			if it.SizeRecommendation != "" {
				fmt.Fprintf(&b, " (size %s)", it.SizeRecommendation)
			}
			b.WriteString("\n")
		}
		for _, a := range m.Actions {
			if a.URL != "" {
				fmt.Fprintf(&b, "%s: %s\n", a.Label, a.URL)
			} else {
				fmt.Fprintf(&b, "%s\n", a.Label)
			}
		}
	}
	if n := strings.TrimSpace(d.Notes); n != "" {
		fmt.Fprintf(&b, "\n%s\n", n)
	}
	return b.String()
}
