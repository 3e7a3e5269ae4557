// Package template renders message templates and variable bindings with text/template.
package template

import (
	"fmt"
	"strings"
	"text/template"
	"time"
)

var funcs = template.FuncMap{
	"now": func() string {
		return time.Now().UTC().Format(time.RFC3339)
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"trim":  strings.TrimSpace,
	"default": func(fallback, value any) any {
		if value == nil {
			return fallback
		}

		if s, ok := value.(string); ok && s == "" {
			return fallback
		}

		return value
	},
	"money": func(value any) string {
		switch v := value.(type) {
		case float64:
			return fmt.Sprintf("%.2f", v)
		case float32:
			return fmt.Sprintf("%.2f", v)
		case int:
			return fmt.Sprintf("%d.00", v)
		case int64:
			return fmt.Sprintf("%d.00", v)
		default:
			return fmt.Sprint(v)
		}
	},
	"date": func(layout string, value any) string {
		switch v := value.(type) {
		case time.Time:
			return v.Format(layout)
		case string:
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return v
			}

			return t.Format(layout)
		default:
			return fmt.Sprint(v)
		}
	},
}

// Parse compiles text so syntax errors surface before an execution reaches the template.
func Parse(name, text string) (*template.Template, error) {
	tmpl, err := template.New(name).Option("missingkey=zero").Funcs(funcs).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", name, err)
	}

	return tmpl, nil
}

// RenderString renders text against data.
func RenderString(name, text string, data any) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	tmpl, err := Parse(name, text)
	if err != nil {
		return "", err
	}

	var buf strings.Builder

	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", name, err)
	}

	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}

// RenderMap renders every value of bindings against data.
func RenderMap(bindings map[string]string, data any) (map[string]string, error) {
	out := make(map[string]string, len(bindings))

	for key, text := range bindings {
		rendered, err := RenderString(key, text, data)
		if err != nil {
			return nil, err
		}

		out[key] = rendered
	}

	return out, nil
}
