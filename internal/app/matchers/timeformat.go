package matchers

import (
	"strings"

	"github.com/pkg/errors"
)

// GoLayout converts a SimpleDateFormat style pattern ("yyyy-MM-dd'T'HH:mm:ss.SSSXXX") into a
// layout understood by time.Parse.
func GoLayout(format string) (string, error) {
	var layout strings.Builder
	runes := []rune(format)

	for i := 0; i < len(runes); {
		c := runes[i]

		if c == '\'' {
			// '' is an escaped quote, anything else opens a literal section
			if i+1 < len(runes) && runes[i+1] == '\'' {
				layout.WriteRune('\'')
				i += 2
				continue
			}
			end := i + 1
			for ; end < len(runes); end++ {
				if runes[end] == '\'' {
					if end+1 < len(runes) && runes[end+1] == '\'' {
						layout.WriteRune('\'')
						end++
						continue
					}
					break
				}
				layout.WriteRune(runes[end])
			}
			if end >= len(runes) {
				return "", errors.Errorf("unterminated quote in date format '%s'", format)
			}
			i = end + 1
			continue
		}

		if !isPatternLetter(c) {
			layout.WriteRune(c)
			i++
			continue
		}

		n := 1
		for i+n < len(runes) && runes[i+n] == c {
			n++
		}
		token, err := layoutToken(c, n)
		if err != nil {
			return "", errors.Wrapf(err, "invalid date format '%s'", format)
		}
		layout.WriteString(token)
		i += n
	}

	return layout.String(), nil
}

func isPatternLetter(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func layoutToken(c rune, n int) (string, error) {
	switch c {
	case 'y', 'u':
		if n == 2 {
			return "06", nil
		}
		return "2006", nil
	case 'M', 'L':
		switch {
		case n == 1:
			return "1", nil
		case n == 2:
			return "01", nil
		case n == 3:
			return "Jan", nil
		default:
			return "January", nil
		}
	case 'd':
		if n == 1 {
			return "2", nil
		}
		return "02", nil
	case 'D':
		return "002", nil
	case 'H', 'k':
		return "15", nil
	case 'h', 'K':
		if n == 1 {
			return "3", nil
		}
		return "03", nil
	case 'm':
		if n == 1 {
			return "4", nil
		}
		return "04", nil
	case 's':
		if n == 1 {
			return "5", nil
		}
		return "05", nil
	case 'S':
		return strings.Repeat("0", n), nil
	case 'a':
		return "PM", nil
	case 'E':
		if n <= 3 {
			return "Mon", nil
		}
		return "Monday", nil
	case 'X':
		switch n {
		case 1:
			return "Z07", nil
		case 2:
			return "Z0700", nil
		default:
			return "Z07:00", nil
		}
	case 'x':
		switch n {
		case 1:
			return "-07", nil
		case 2:
			return "-0700", nil
		default:
			return "-07:00", nil
		}
	case 'Z':
		return "-0700", nil
	case 'z':
		return "MST", nil
	}
	return "", errors.Errorf("unsupported pattern letter '%c'", c)
}
