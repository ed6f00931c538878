// Package secrets models the credential payload an execution unit
// consumes, and its encryption at rest.
package secrets

import (
	"bufio"
	"fmt"
	"sort"
	"strings"
)

// Shape tags the two supported credential payload forms.
type Shape string

const (
	// ShapeAuthFile is a complete authentication-file blob written
	// verbatim to the agent's auth path.
	ShapeAuthFile Shape = "authfile"
	// ShapeDotenv is a set of KEY=VALUE pairs exported as process
	// environment.
	ShapeDotenv Shape = "dotenv"
)

// Valid reports whether the shape tag is known.
func (s Shape) Valid() bool {
	return s == ShapeAuthFile || s == ShapeDotenv
}

// ParseDotenv parses KEY=VALUE lines into a map. Comments and blank
// lines are skipped; malformed lines are an error.
func ParseDotenv(data []byte) (map[string]string, error) {
	vars := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("malformed credential line %q", line)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("malformed credential line %q", line)
		}
		vars[key] = unquote(strings.TrimSpace(value))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return vars, nil
}

// FormatDotenv serializes env pairs as KEY=VALUE lines, sorted by key.
func FormatDotenv(vars map[string]string) []byte {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(quoteValue(vars[k]))
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// unquote strips matching surrounding quotes. Double-quoted values
// reverse the escaping quoteValue applies; single-quoted values are
// taken literally.
func unquote(s string) string {
	if len(s) < 2 {
		return s
	}
	if s[0] == '\'' && s[len(s)-1] == '\'' {
		return s[1 : len(s)-1]
	}
	if s[0] == '"' && s[len(s)-1] == '"' {
		inner := s[1 : len(s)-1]
		var b strings.Builder
		for i := 0; i < len(inner); i++ {
			if inner[i] == '\\' && i+1 < len(inner) && (inner[i+1] == '\\' || inner[i+1] == '"') {
				i++
			}
			b.WriteByte(inner[i])
		}
		return b.String()
	}
	return s
}

// quoteValue wraps the value in double quotes if it contains special chars.
func quoteValue(v string) string {
	if strings.ContainsAny(v, " \t\"'\\#$") {
		escaped := strings.ReplaceAll(v, `\`, `\\`)
		escaped = strings.ReplaceAll(escaped, `"`, `\"`)
		return `"` + escaped + `"`
	}
	return v
}
