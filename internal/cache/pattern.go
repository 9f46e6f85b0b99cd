package cache

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
)

// compilePattern translates a Redis glob into an anchored regexp:
//
//	*      any run of characters, ':' and '/' included
//	?      one character
//	[abc]  one of a, b or c; ranges like [a-z0-9]; [^x] negates
//	\x     x taken literally
//
// Every other character, '{', '}', ',' and '!' included, is literal.
// An unterminated class or a trailing backslash is rejected so both
// backends see the same set of valid patterns.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, ErrEmptyPattern
	}

	p := []rune(pattern)
	var re strings.Builder
	re.WriteString(`(?s)^`)

	for i := 0; i < len(p); i++ {
		switch p[i] {
		case '*':
			re.WriteString(`.*`)
		case '?':
			re.WriteString(`.`)
		case '\\':
			if i == len(p)-1 {
				return nil, invalidPattern(pattern, "trailing backslash")
			}
			i++
			writeLiteral(&re, p[i])
		case '[':
			end, ok := writeClass(&re, p, i+1)
			if !ok {
				return nil, invalidPattern(pattern, "unterminated character class")
			}
			i = end
		default:
			writeLiteral(&re, p[i])
		}
	}
	re.WriteString(`$`)

	compiled, err := regexp.Compile(re.String())
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "compile pattern %q", pattern), ErrInvalidPattern)
	}
	return compiled, nil
}

// writeClass consumes a class body starting at p[start] and returns the
// index of its closing ']'. Reversed ranges are swapped as Redis does.
func writeClass(re *strings.Builder, p []rune, start int) (int, bool) {
	i := start
	negate := i < len(p) && p[i] == '^'
	if negate {
		i++
	}

	var items strings.Builder
	for ; i < len(p); i++ {
		c := p[i]
		switch {
		case c == ']':
			switch {
			case items.Len() > 0 && negate:
				fmt.Fprintf(re, `[^%s]`, items.String())
			case items.Len() > 0:
				fmt.Fprintf(re, `[%s]`, items.String())
			case negate:
				re.WriteString(`.`)
			default:
				// "[]" matches nothing
				re.WriteString(`[^\x00-\x{10FFFF}]`)
			}
			return i, true
		case c == '\\' && i+1 < len(p):
			i++
			writeClassRune(&items, p[i])
		case i+2 < len(p) && p[i+1] == '-' && p[i+2] != ']':
			lo, hi := c, p[i+2]
			if lo > hi {
				lo, hi = hi, lo
			}
			writeClassRune(&items, lo)
			items.WriteByte('-')
			writeClassRune(&items, hi)
			i += 2
		default:
			writeClassRune(&items, c)
		}
	}
	return 0, false
}

func writeLiteral(re *strings.Builder, r rune) {
	re.WriteString(regexp.QuoteMeta(string(r)))
}

func writeClassRune(re *strings.Builder, r rune) {
	fmt.Fprintf(re, `\x{%x}`, r)
}

func invalidPattern(pattern, reason string) error {
	return errors.Mark(errors.Newf("invalid pattern %q: %s", pattern, reason), ErrInvalidPattern)
}
