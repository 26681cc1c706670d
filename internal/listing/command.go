package listing

import "strings"

// IsListingCommand reports whether command invokes ls.
func IsListingCommand(command string) bool {
	words := splitWords(command)
	return len(words) > 0 && words[0] == "ls"
}

// TargetDirectory returns the directory an ls command lists when run from
// cwd: its last operand, resolved against cwd when relative, or cwd itself
// when there is no operand.
func TargetDirectory(command, cwd string) string {
	words := splitWords(command)
	if len(words) == 0 || words[0] != "ls" {
		return cwd
	}

	target := ""
	optionsDone := false
	for _, w := range words[1:] {
		if !optionsDone && w == "--" {
			optionsDone = true
			continue
		}
		if !optionsDone && strings.HasPrefix(w, "-") && w != "-" {
			continue
		}
		target = w
	}

	switch {
	case target == "":
		return cwd
	case strings.HasPrefix(target, "/"), target == "~", strings.HasPrefix(target, "~/"):
		return target
	default:
		return JoinPath(cwd, target)
	}
}

// splitWords splits a command line into words the way a POSIX shell would
// for simple commands: single quotes, double quotes and backslash escapes.
// Splitting stops at the first unquoted ;, &, | or newline.
func splitWords(s string) []string {
	var (
		words  []string
		cur    strings.Builder
		inWord bool
		quote  byte
	)

	flush := func() {
		if inWord {
			words = append(words, cur.String())
			cur.Reset()
			inWord = false
		}
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote == '\'':
			if c == '\'' {
				quote = 0
			} else {
				cur.WriteByte(c)
			}
		case quote == '"':
			switch {
			case c == '"':
				quote = 0
			case c == '\\' && i+1 < len(s) && strings.IndexByte("\"\\$`", s[i+1]) >= 0:
				i++
				cur.WriteByte(s[i])
			default:
				cur.WriteByte(c)
			}
		case c == '\'' || c == '"':
			quote = c
			inWord = true
		case c == '\\' && i+1 < len(s):
			i++
			cur.WriteByte(s[i])
			inWord = true
		case c == ' ' || c == '\t':
			flush()
		case c == ';' || c == '&' || c == '|' || c == '\n':
			flush()
			return words
		default:
			cur.WriteByte(c)
			inWord = true
		}
	}
	flush()
	return words
}
