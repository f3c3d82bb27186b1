package ptyterm

import "strings"

// quoteWindowsArg quotes one argument for CreateProcess following the
// CommandLineToArgvW rules: backslashes are doubled only when they precede a
// double quote, quotes are backslash-escaped, and the argument is wrapped in
// quotes only when it contains a space or tab.
func quoteWindowsArg(s string) string {
	if s == "" {
		return `""`
	}
	wrap := strings.ContainsAny(s, " \t")
	if !wrap && !strings.ContainsAny(s, `"\`) {
		return s
	}

	var b strings.Builder
	if wrap {
		b.WriteByte('"')
	}
	slashes := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\':
			slashes++
		case '"':
			b.WriteString(strings.Repeat(`\`, slashes+1))
			slashes = 0
		default:
			slashes = 0
		}
		b.WriteByte(c)
	}
	if wrap {
		b.WriteString(strings.Repeat(`\`, slashes))
		b.WriteByte('"')
	}
	return b.String()
}

// joinCommandLine builds a Windows command line from argv.
func joinCommandLine(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = quoteWindowsArg(a)
	}
	return strings.Join(quoted, " ")
}
