package expr

import "strings"

// toHCL rewrites JavaScript-flavoured expression text into HCL expression
// syntax: both quote styles become double-quoted HCL strings with template
// sequences escaped, and strict equality operators become plain ones.
func toHCL(src string) string {
	var sb strings.Builder
	sb.Grow(len(src))

	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '\'' || c == '"':
			j := i + 1
			sb.WriteByte('"')
			for j < len(src) && src[j] != c {
				switch {
				case src[j] == '\\' && j+1 < len(src):
					if src[j+1] == '\'' {
						sb.WriteByte('\'')
					} else {
						sb.WriteByte('\\')
						sb.WriteByte(src[j+1])
					}
					j += 2
					continue
				case src[j] == '"':
					sb.WriteString(`\"`)
				case (src[j] == '$' || src[j] == '%') && j+1 < len(src) && src[j+1] == '{':
					// "${" and "%{" open HCL templates; doubling the sigil keeps them literal.
					sb.WriteByte(src[j])
					sb.WriteByte(src[j])
				default:
					sb.WriteByte(src[j])
				}
				j++
			}
			sb.WriteByte('"')
			i = j + 1
		case strings.HasPrefix(src[i:], "==="):
			sb.WriteString("==")
			i += 3
		case strings.HasPrefix(src[i:], "!=="):
			sb.WriteString("!=")
			i += 3
		default:
			sb.WriteByte(c)
			i++
		}
	}
	return sb.String()
}
