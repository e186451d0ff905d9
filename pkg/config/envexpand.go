package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv substitutes {{.VAR}} references in YAML content with values
// from the process environment. The template syntax leaves literal $ in
// URLs and secrets alone. Unset variables expand to the empty string;
// content that is not a valid template is returned unchanged.
func ExpandEnv(data []byte) []byte {
	return expandWith(data, environMap())
}

func environMap() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			env[k] = v
		}
	}
	return env
}

func expandWith(data []byte, env map[string]string) []byte {
	if !bytes.Contains(data, []byte("{{")) {
		return data
	}
	tmpl, err := template.New("director.yaml").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, env); err != nil {
		return data
	}
	return buf.Bytes()
}
