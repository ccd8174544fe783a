package masking

import "strings"

const maskToken = "****"

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	at := strings.LastIndex(trimmed, "@")
	if at <= 0 {
		return maskToken
	}
	return trimmed[:1] + maskToken + trimmed[at:]
}

// MaskEmails masks every address in values.
func MaskEmails(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if masked := MaskEmail(v); masked != "" {
			out = append(out, masked)
		}
	}
	return out
}
