package extraction

import (
	"regexp"
	"strings"
)

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-[A-Za-z0-9_\-]{16,}`),
	regexp.MustCompile(`sk-ant-[A-Za-z0-9_\-]{16,}`),
	regexp.MustCompile(`sk-proj-[A-Za-z0-9_\-]{16,}`),
	regexp.MustCompile(`AIza[0-9A-Za-z_\-]{10,}`),
	regexp.MustCompile(`OPENAI_[A-Za-z0-9_\-]{6,}`),
}

var (
	incorrectKeyPattern = regexp.MustCompile(`(?i)(Incorrect API key provided:\s*)([^\s,}]+)`)
	jsonKeyPattern      = regexp.MustCompile(`("api_key"\s*:\s*")([^"]+)(")`)
	assignedKeyPattern  = regexp.MustCompile(`(?i)(api[_-]?key\s*[:=]\s*)([A-Za-z0-9_\-]{8,})`)
)

func tail4(s string) string {
	if len(s) <= 4 {
		return s
	}
	return s[len(s)-4:]
}

// Sanitize masks credential-looking substrings so provider errors can be
// stored and shown. Masked secrets keep their last four characters.
func Sanitize(message string) string {
	if message == "" {
		return message
	}
	out := message
	for _, p := range secretPatterns {
		out = p.ReplaceAllStringFunc(out, func(m string) string {
			return "***" + tail4(m)
		})
	}
	out = incorrectKeyPattern.ReplaceAllStringFunc(out, func(m string) string {
		parts := incorrectKeyPattern.FindStringSubmatch(m)
		if strings.HasPrefix(parts[2], "***") {
			return m
		}
		return parts[1] + "***" + tail4(parts[2])
	})
	out = jsonKeyPattern.ReplaceAllStringFunc(out, func(m string) string {
		parts := jsonKeyPattern.FindStringSubmatch(m)
		return parts[1] + "***" + tail4(parts[2]) + parts[3]
	})
	out = assignedKeyPattern.ReplaceAllStringFunc(out, func(m string) string {
		parts := assignedKeyPattern.FindStringSubmatch(m)
		return parts[1] + "***" + tail4(parts[2])
	})
	return out
}
