package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// RawCmd is the tokenised argv for a backend's launch command. It accepts
// either a YAML sequence (the preferred, unambiguous form) or a scalar
// string, tokenised at load time with quote-aware splitting.
//
// The source this system's design is modelled on tokenises command lines
// by splitting on whitespace, which mishandles quoted arguments
// (paths with spaces, values containing shell metacharacters). Operators
// SHOULD prefer the sequence form; the scalar form exists for config
// files ported from that style and is tokenised correctly here rather
// than naively split.
type RawCmd []string

// UnmarshalYAML implements yaml.Unmarshaler, accepting either form.
func (c *RawCmd) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var argv []string
		if err := node.Decode(&argv); err != nil {
			return fmt.Errorf("cmd: %w", err)
		}
		*c = argv
		return nil
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return fmt.Errorf("cmd: %w", err)
		}
		argv, err := Tokenize(s)
		if err != nil {
			return fmt.Errorf("cmd: %w", err)
		}
		*c = argv
		return nil
	default:
		return fmt.Errorf("cmd: expected a string or a sequence of strings")
	}
}

// Tokenize splits a shell-style command line on whitespace while
// respecting single and double quoted spans and backslash escapes inside
// double quotes. It does not perform variable expansion, globbing, or
// pipeline parsing — only enough quoting awareness to keep a quoted
// argument (e.g. a path containing spaces) as one token.
func Tokenize(s string) ([]string, error) {
	var (
		tokens  []string
		cur     strings.Builder
		haveCur bool
		inSingle, inDouble bool
	)
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case inSingle:
			if r == '\'' {
				inSingle = false
			} else {
				cur.WriteRune(r)
			}
		case inDouble:
			switch r {
			case '"':
				inDouble = false
			case '\\':
				if i+1 < len(runes) {
					next := runes[i+1]
					if next == '"' || next == '\\' || next == '$' {
						cur.WriteRune(next)
						i++
						continue
					}
				}
				cur.WriteRune(r)
			default:
				cur.WriteRune(r)
			}
		case r == '\'':
			inSingle = true
			haveCur = true
		case r == '"':
			inDouble = true
			haveCur = true
		case r == ' ' || r == '\t' || r == '\n':
			if haveCur {
				tokens = append(tokens, cur.String())
				cur.Reset()
				haveCur = false
			}
		default:
			cur.WriteRune(r)
			haveCur = true
		}
	}
	if inSingle || inDouble {
		return nil, fmt.Errorf("unterminated quote in command line: %q", s)
	}
	if haveCur {
		tokens = append(tokens, cur.String())
	}
	return tokens, nil
}
