// Package templates substitutes ___VAR___ placeholders in notification
// and message text.
package templates

import "strings"

// Render replaces every occurrence of each vars key in s with its value.
// Keys carry their own delimiters (e.g. "___JOB_ID___").
func Render(s string, vars map[string]string) string {
	if len(vars) == 0 || s == "" {
		return s
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, k, v)
	}
	return strings.NewReplacer(pairs...).Replace(s)
}
