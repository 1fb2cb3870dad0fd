package notify

import (
	"bytes"
	"fmt"
	"os"
	"text/template"

	"gopkg.in/yaml.v3"
)

// TemplateData carries the fields the message templates may reference.
type TemplateData struct {
	Requestor     string
	Approver      string
	Role          string
	Project       string
	Justification string
	Start         string
	End           string
	ActionURL     string
}

// templateSpec is one subject/body pair as stored in the template file.
type templateSpec struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

const (
	// TemplateRequestActivation is sent to reviewers when an MPA request
	// is raised.
	TemplateRequestActivation = "request_activation"
	// TemplateActivationApproved is sent to the beneficiary when a request
	// is approved.
	TemplateActivationApproved = "activation_approved"
)

var defaultTemplates = map[string]templateSpec{
	TemplateRequestActivation: {
		Subject: "{{.Requestor}} requests access to project {{.Project}}",
		Body: "{{.Requestor}} is asking for approval to activate {{.Role}} on project {{.Project}}.\n\n" +
			"Justification: {{.Justification}}\n" +
			"Requested window: {{.Start}} to {{.End}}\n\n" +
			"Review and approve: {{.ActionURL}}\n",
	},
	TemplateActivationApproved: {
		Subject: "Access to project {{.Project}} approved",
		Body: "{{.Approver}} approved the activation of {{.Role}} on project {{.Project}} for {{.Requestor}}.\n\n" +
			"Justification: {{.Justification}}\n" +
			"Active window: {{.Start}} to {{.End}}\n",
	},
}

// Templates renders notification messages.
type Templates struct {
	parsed map[string]struct {
		subject *template.Template
		body    *template.Template
	}
}

// DefaultTemplates returns the embedded templates.
func DefaultTemplates() (*Templates, error) {
	return parseTemplates(defaultTemplates)
}

// LoadTemplates reads a YAML template file and overlays it on the embedded
// defaults. Unknown template names are rejected.
func LoadTemplates(path string) (*Templates, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template file: %w", err)
	}
	var overrides map[string]templateSpec
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("parse template file: %w", err)
	}

	merged := make(map[string]templateSpec, len(defaultTemplates))
	for name, spec := range defaultTemplates {
		merged[name] = spec
	}
	for name, spec := range overrides {
		if _, known := merged[name]; !known {
			return nil, fmt.Errorf("unknown template %q", name)
		}
		merged[name] = spec
	}
	return parseTemplates(merged)
}

func parseTemplates(specs map[string]templateSpec) (*Templates, error) {
	t := &Templates{parsed: make(map[string]struct {
		subject *template.Template
		body    *template.Template
	}, len(specs))}

	for name, spec := range specs {
		subject, err := template.New(name + ".subject").Parse(spec.Subject)
		if err != nil {
			return nil, fmt.Errorf("parse subject of %q: %w", name, err)
		}
		body, err := template.New(name + ".body").Parse(spec.Body)
		if err != nil {
			return nil, fmt.Errorf("parse body of %q: %w", name, err)
		}
		t.parsed[name] = struct {
			subject *template.Template
			body    *template.Template
		}{subject, body}
	}
	return t, nil
}

// Render produces the subject and body of the named template.
func (t *Templates) Render(name string, data TemplateData) (subject, body string, err error) {
	parsed, ok := t.parsed[name]
	if !ok {
		return "", "", fmt.Errorf("unknown template %q", name)
	}
	var sb, bb bytes.Buffer
	if err := parsed.subject.Execute(&sb, data); err != nil {
		return "", "", fmt.Errorf("render subject of %q: %w", name, err)
	}
	if err := parsed.body.Execute(&bb, data); err != nil {
		return "", "", fmt.Errorf("render body of %q: %w", name, err)
	}
	return sb.String(), bb.String(), nil
}
