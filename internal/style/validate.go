package style

import (
	"fmt"

	"github.com/gorilla/css/scanner"
)

// ValidateCSS tokenizes user CSS and reports the first lexical error along
// with unbalanced braces.
func ValidateCSS(css string) error {
	s := scanner.New(css)
	depth := 0
	for {
		tok := s.Next()
		switch tok.Type {
		case scanner.TokenEOF:
			if depth != 0 {
				return fmt.Errorf("unclosed block: %d missing '}'", depth)
			}
			return nil
		case scanner.TokenError:
			return fmt.Errorf("line %d column %d: invalid token %q", tok.Line, tok.Column, tok.Value)
		case scanner.TokenChar:
			switch tok.Value {
			case "{":
				depth++
			case "}":
				depth--
				if depth < 0 {
					return fmt.Errorf("line %d column %d: unexpected '}'", tok.Line, tok.Column)
				}
			}
		}
	}
}
