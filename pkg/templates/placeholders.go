package templates

import "strings"

// Recognized placeholder names. Substitution only ever touches these, so a
// typo in a template body stays visible instead of silently expanding.
var recognized = []string{
	"port",
	"uuid",
	"sni",
	"domain",
	"reality_private",
	"reality_pbk",
	"reality_sid",
}

// Substitute replaces {{name}} tokens in a template body with the given
// values. Names outside the recognized set are left in place.
func Substitute(body string, values map[string]string) string {
	for _, name := range recognized {
		v, ok := values[name]
		if !ok {
			continue
		}
		body = strings.ReplaceAll(body, "{{"+name+"}}", v)
	}
	return body
}
