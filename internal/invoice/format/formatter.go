package format

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	seqPadRe = regexp.MustCompile(`\{SEQ(\d+)\}`)
	tokenRe  = regexp.MustCompile(`\{[A-Z0-9]+\}`)
)

const DefaultPrefix = "R-"

// TemplateForPrefix builds the yearly numbering template, e.g. R-{YYYY}-{SEQ4}.
func TemplateForPrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + "{YYYY}-{SEQ4}"
}

// FormatInvoiceNumber formats a human-readable invoice number
// based on a template, invoice date, and yearly sequence.
func FormatInvoiceNumber(
	template string,
	issuedAt time.Time,
	seq int64,
) (string, error) {

	if template == "" {
		return "", fmt.Errorf("invoice number template is empty")
	}

	if seq <= 0 {
		return "", fmt.Errorf("invalid invoice sequence: %d", seq)
	}

	out := template

	out = strings.ReplaceAll(out, "{YYYY}", issuedAt.Format("2006"))
	out = strings.ReplaceAll(out, "{YY}", issuedAt.Format("06"))
	out = strings.ReplaceAll(out, "{MM}", issuedAt.Format("01"))

	out = strings.ReplaceAll(out, "{SEQ}", strconv.FormatInt(seq, 10))

	out = seqPadRe.ReplaceAllStringFunc(out, func(m string) string {
		match := seqPadRe.FindStringSubmatch(m)
		if len(match) != 2 {
			return m
		}

		width, err := strconv.Atoi(match[1])
		if err != nil || width <= 0 {
			return m
		}

		return fmt.Sprintf("%0*d", width, seq)
	})

	if strings.Contains(out, "{") || strings.Contains(out, "}") {
		return "", fmt.Errorf("unresolved token in invoice format: %s", out)
	}

	return out, nil
}

// ParseInvoiceNumber recovers year and sequence from a number produced by
// template. Legacy numbers that do not follow the template report false.
func ParseInvoiceNumber(template, number string) (int, int64, bool) {
	var pattern strings.Builder
	pattern.WriteString("^")
	last := 0
	for _, loc := range tokenRe.FindAllStringIndex(template, -1) {
		pattern.WriteString(regexp.QuoteMeta(template[last:loc[0]]))
		switch token := template[loc[0]:loc[1]]; {
		case token == "{YYYY}":
			pattern.WriteString(`(?P<year>\d{4})`)
		case token == "{YY}", token == "{MM}":
			pattern.WriteString(`\d{2}`)
		case token == "{SEQ}" || seqPadRe.MatchString(token):
			pattern.WriteString(`(?P<seq>\d+)`)
		default:
			return 0, 0, false
		}
		last = loc[1]
	}
	pattern.WriteString(regexp.QuoteMeta(template[last:]))
	pattern.WriteString("$")

	re, err := regexp.Compile(pattern.String())
	if err != nil {
		return 0, 0, false
	}
	match := re.FindStringSubmatch(strings.TrimSpace(number))
	if match == nil {
		return 0, 0, false
	}

	yearIdx, seqIdx := re.SubexpIndex("year"), re.SubexpIndex("seq")
	if yearIdx < 0 || seqIdx < 0 {
		return 0, 0, false
	}
	year, err := strconv.Atoi(match[yearIdx])
	if err != nil {
		return 0, 0, false
	}
	seq, err := strconv.ParseInt(match[seqIdx], 10, 64)
	if err != nil || seq <= 0 {
		return 0, 0, false
	}
	return year, seq, true
}
