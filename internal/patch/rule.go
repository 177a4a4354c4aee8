package patch

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRule indicates a rule that cannot be applied, such as an empty needle.
var ErrInvalidRule = errors.New("invalid patch rule")

// Kind identifies a patch rule.
type Kind string

const (
	// KindDeleteLines drops every line containing the needle.
	KindDeleteLines Kind = "delete-lines"

	// KindReplaceInLines replaces every occurrence of the needle within
	// lines that contain it.
	KindReplaceInLines Kind = "replace-in-lines"

	// KindReplaceAll replaces every occurrence of the needle in the whole file.
	KindReplaceAll Kind = "replace-all"

	// KindAppend appends text verbatim.
	KindAppend Kind = "append"
)

// Rule is a single text transformation.
type Rule struct {
	Kind        Kind
	Needle      string
	Replacement string

	// Text is appended verbatim (KindAppend only)
	Text string
}

// DeleteLines returns a rule dropping every line containing needle.
func DeleteLines(needle string) Rule {
	return Rule{Kind: KindDeleteLines, Needle: needle}
}

// ReplaceInLines returns a rule replacing needle within matching lines.
func ReplaceInLines(needle, replacement string) Rule {
	return Rule{Kind: KindReplaceInLines, Needle: needle, Replacement: replacement}
}

// ReplaceAll returns a rule replacing needle across the whole file.
func ReplaceAll(needle, replacement string) Rule {
	return Rule{Kind: KindReplaceAll, Needle: needle, Replacement: replacement}
}

// Append returns a rule appending the concatenation of chunks verbatim.
// No terminators are added.
func Append(chunks ...string) Rule {
	return Rule{Kind: KindAppend, Text: strings.Join(chunks, "")}
}

// Validate checks that the rule can be applied.
func (r Rule) Validate() error {
	switch r.Kind {
	case KindDeleteLines, KindReplaceInLines, KindReplaceAll:
		if r.Needle == "" {
			return fmt.Errorf("%w: %s needs a non-empty needle", ErrInvalidRule, r.Kind)
		}
		return nil
	case KindAppend:
		return nil
	default:
		return fmt.Errorf("%w: unknown rule kind %q", ErrInvalidRule, r.Kind)
	}
}

// String describes the rule for logs.
func (r Rule) String() string {
	switch r.Kind {
	case KindAppend:
		return fmt.Sprintf("%s(%d bytes)", r.Kind, len(r.Text))
	case KindDeleteLines:
		return fmt.Sprintf("%s(%q)", r.Kind, r.Needle)
	default:
		return fmt.Sprintf("%s(%q -> %q)", r.Kind, r.Needle, r.Replacement)
	}
}

// selfMatching reports whether applying the rule again would match again.
func (r Rule) selfMatching() bool {
	switch r.Kind {
	case KindReplaceInLines, KindReplaceAll:
		return strings.Contains(r.Replacement, r.Needle)
	default:
		return false
	}
}

// transform applies the rule to content. content is not modified.
func (r Rule) transform(content []byte) ([]byte, Result) {
	var res Result
	needle := []byte(r.Needle)

	switch r.Kind {
	case KindDeleteLines:
		out := make([]byte, 0, len(content))
		for _, line := range splitLines(content) {
			body, _ := cutTerminator(line)
			if bytes.Contains(body, needle) {
				res.LinesRemoved++
				continue
			}
			out = append(out, line...)
		}
		return out, res

	case KindReplaceInLines:
		replacement := []byte(r.Replacement)
		out := make([]byte, 0, len(content))
		for _, line := range splitLines(content) {
			body, term := cutTerminator(line)
			n := bytes.Count(body, needle)
			if n == 0 {
				out = append(out, line...)
				continue
			}
			res.LinesChanged++
			res.Replacements += n
			out = append(out, bytes.ReplaceAll(body, needle, replacement)...)
			out = append(out, term...)
		}
		return out, res

	case KindReplaceAll:
		res.Replacements = bytes.Count(content, needle)
		if res.Replacements == 0 {
			return content, res
		}
		return bytes.ReplaceAll(content, needle, []byte(r.Replacement)), res

	default:
		return content, res
	}
}

// splitLines splits content after each '\n'. The last line may lack a
// terminator. Empty content has no lines.
func splitLines(content []byte) [][]byte {
	if len(content) == 0 {
		return nil
	}
	lines := bytes.SplitAfter(content, []byte("\n"))
	if len(lines[len(lines)-1]) == 0 {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// cutTerminator splits a line into its body and its "\n" or "\r\n" terminator.
func cutTerminator(line []byte) (body, term []byte) {
	if bytes.HasSuffix(line, []byte("\r\n")) {
		return line[:len(line)-2], line[len(line)-2:]
	}
	if bytes.HasSuffix(line, []byte("\n")) {
		return line[:len(line)-1], line[len(line)-1:]
	}
	return line, nil
}
