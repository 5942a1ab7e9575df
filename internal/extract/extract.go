// Package extract pulls a single JSON object out of free-form model
// output. Models wrap their answers in prose, markdown fences, or
// thinking preambles; the functions here find the object and decode it
// into a [Response].
package extract

import (
	"encoding/json"
	"regexp"
	"strings"
)

// fenceRe matches the first fenced code block whose body is a brace
// delimited object. The language tag is optional.
var fenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// JSON returns the first JSON object found in text and true. Strategies
// are tried in order: a fenced code block, a left-to-right brace scan,
// and a string-aware scan. When no strategy finds a decodable object,
// text is returned unchanged with false.
func JSON(text string) (string, bool) {
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		body := strings.TrimSpace(m[1])
		if valid(body) {
			return body, true
		}
	}

	for _, candidate := range braceCandidates(text) {
		if valid(candidate) {
			return candidate, true
		}
	}

	if candidate, ok := scanStringAware(text); ok {
		return candidate, true
	}

	return text, false
}

// braceCandidates returns every balanced {...} span in text using a
// plain depth counter. A closing brace at depth zero is ignored.
func braceCandidates(text string) []string {
	var out []string
	depth, start := 0, -1
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				out = append(out, text[start:i+1])
			}
		}
	}
	return out
}

// scanStringAware walks text tracking whether it is inside a JSON
// string literal, so braces in strings do not change the depth. It
// returns the first balanced span that decodes. Each '{' restarts the
// scan, so cost is quadratic in the worst case; role output is bounded
// by the role's max_tokens.
func scanStringAware(text string) (string, bool) {
	for start := strings.IndexByte(text, '{'); start >= 0; {
		depth := 0
		inString, escaped := false, false
		end := -1
	scan:
		for i := start; i < len(text); i++ {
			c := text[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					end = i
					break scan
				}
			}
		}
		if end >= 0 && valid(text[start:end+1]) {
			return text[start : end+1], true
		}

		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func valid(s string) bool {
	return json.Valid([]byte(s))
}
