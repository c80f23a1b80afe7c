// Package toolcall extracts tool-call directives from model output.
//
// A directive occupies one line:
//
//	@tool <name> key="value" key2='value' key3=bareword
//
// and may be followed immediately by a fenced block whose lines become
// the "content" parameter verbatim:
//
//	@tool file_write path="notes.txt"
//	```
//	line one
//	line two
//	```
//
// Parsing never fails. Lines that do not form a directive are ignored
// and malformed parameter fragments are dropped.
package toolcall

import (
	"iter"
	"regexp"
	"strings"
)

// ContentParam is the parameter that receives a fenced block.
const ContentParam = "content"

const fence = "```"

var (
	directiveRe = regexp.MustCompile(`^@tool\s+(\S+)(.*)$`)
	paramRe     = regexp.MustCompile(`(\w+)\s*=\s*(?:"((?:[^"\\]|\\.)*)"|'((?:[^'\\]|\\.)*)'|(\S+))`)

	unescaper = strings.NewReplacer(`\n`, "\n", `\t`, "\t", `\"`, `"`)
)

// Call is one parsed directive.
type Call struct {
	Name   string            `json:"name"`
	Params map[string]string `json:"params"`
	// Raw is the trimmed directive line as it appeared in the text.
	Raw string `json:"raw"`
}

// Param returns the named parameter, or "" when absent.
func (c Call) Param(key string) string {
	return c.Params[key]
}

// All returns a lazy sequence of the calls in text, in source order.
// Breaking out of the range stops the scan.
func All(text string) iter.Seq[Call] {
	return func(yield func(Call) bool) {
		lines := strings.Split(text, "\n")
		for i := 0; i < len(lines); i++ {
			line := strings.TrimSpace(lines[i])
			m := directiveRe.FindStringSubmatch(line)
			if m == nil {
				continue
			}

			call := Call{
				Name:   m[1],
				Params: parseParams(m[2]),
				Raw:    line,
			}

			if i+1 < len(lines) && isFence(lines[i+1]) {
				var block []string
				i += 2
				for i < len(lines) && !isFence(lines[i]) {
					block = append(block, lines[i])
					i++
				}
				call.Params[ContentParam] = strings.Join(block, "\n")
			}

			if !yield(call) {
				return
			}
		}
	}
}

// Parse returns every call in text. It is the eager form of [All].
func Parse(text string) []Call {
	var calls []Call
	for c := range All(text) {
		calls = append(calls, c)
	}
	return calls
}

// Contains reports whether text holds at least one directive.
func Contains(text string) bool {
	for range All(text) {
		return true
	}
	return false
}

func isFence(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), fence)
}

func parseParams(s string) map[string]string {
	params := make(map[string]string)
	for _, m := range paramRe.FindAllStringSubmatchIndex(s, -1) {
		key := s[m[2]:m[3]]
		switch {
		case m[4] >= 0:
			params[key] = unescaper.Replace(s[m[4]:m[5]])
		case m[6] >= 0:
			params[key] = unescaper.Replace(s[m[6]:m[7]])
		case m[8] >= 0:
			params[key] = s[m[8]:m[9]]
		}
	}
	return params
}
