package render

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Stage carries the wording of one escalation level.
type Stage struct {
	Title        string
	Color        string
	Intro        string
	Followup     string
	DeadlineDays int
	Deadline     string
	LegalNote    string
}

var stages = map[string]Stage{
	"first": {
		Title:        "Erste Mahnung",
		Color:        "#f59e0b",
		Intro:        "Wir möchten Sie freundlich daran erinnern, dass die Rechnung %s über %s noch nicht bei uns eingegangen ist.",
		DeadlineDays: 7,
		Deadline:     "Bitte überweisen Sie den Betrag innerhalb der nächsten %d Tage auf unser Konto.",
	},
	"second": {
		Title:        "Zweite Mahnung - Dringende Zahlungsaufforderung",
		Color:        "#f97316",
		Intro:        "Wir müssen Sie erneut auf die ausstehende Zahlung der Rechnung %s über %s hinweisen.",
		Followup:     "Bisher haben wir trotz unserer ersten Mahnung keine Zahlung erhalten.",
		DeadlineDays: 5,
		Deadline:     "Wir fordern Sie hiermit dringend auf, den Betrag innerhalb der nächsten %d Tage zu begleichen.",
		LegalNote:    "Sollte die Zahlung nicht innerhalb dieser Frist eingehen, behalten wir uns rechtliche Schritte vor.",
	},
	"final": {
		Title:        "Letzte Mahnung - Letzte Aufforderung vor rechtlichen Schritten",
		Color:        "#dc2626",
		Intro:        "Wir müssen Sie letztmalig auf die ausstehende Zahlung der Rechnung %s über %s hinweisen.",
		Followup:     "Trotz mehrfacher Mahnungen haben wir bisher keine Zahlung erhalten.",
		DeadlineDays: 3,
		Deadline:     "Dies ist unsere letzte Aufforderung. Bitte überweisen Sie den Betrag innerhalb der nächsten %d Tage.",
		LegalNote:    "Sollte die Zahlung nicht innerhalb dieser Frist eingehen, werden wir die Forderung an ein Inkassobüro übergeben und rechtliche Schritte einleiten. Dies führt zu zusätzlichen Kosten, die Ihnen in Rechnung gestellt werden.",
	},
}

// DeadlineDays is the payment deadline printed for stage.
func DeadlineDays(stage string) int {
	return stages[stage].DeadlineDays
}

const reminderHTMLTemplate = `<!doctype html>
<html lang="de">
<head>
  <meta charset="utf-8" />
  <title>{{.Stage.Title}} - Rechnung {{.InvoiceNumber}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
    .container { max-width: 600px; margin: 0 auto; padding: 20px; }
    .header { background: {{.Stage.Color}}; color: white; padding: 20px; border-radius: 8px 8px 0 0; }
    .content { background: #f9fafb; padding: 20px; border-radius: 0 0 8px 8px; }
    .invoice-details { background: white; padding: 15px; border-radius: 4px; margin: 20px 0; border-left: 4px solid {{.Stage.Color}}; }
    .amount { font-size: 24px; font-weight: bold; color: {{.Stage.Color}}; margin: 20px 0; }
    .legal { color: #dc2626; font-weight: bold; }
    .footer { margin-top: 20px; padding-top: 20px; border-top: 1px solid #e5e7eb; font-size: 12px; color: #6b7280; }
  </style>
</head>
<body>
  <div class="container">
    <div class="header">
      <h1>{{.Stage.Title}}</h1>
    </div>
    <div class="content">
      <h2>Rechnung {{.InvoiceNumber}}</h2>
      <p>Sehr geehrte/r {{.CustomerName}},</p>
      <p>{{.IntroText}}</p>
      <p>Die Rechnung war fällig am <strong>{{formatDate .DueDate}}</strong> und ist bereits {{overdueText .OverdueDays}} überfällig.</p>
      {{if .Stage.Followup}}<p>{{.Stage.Followup}}</p>{{end}}
      <div class="invoice-details">
        <p><strong>Rechnungsnummer:</strong> {{.InvoiceNumber}}</p>
        <p><strong>Rechnungsdatum:</strong> {{formatDate .InvoiceDate}}</p>
        <p><strong>Fälligkeitsdatum:</strong> {{formatDate .DueDate}}</p>
        <p><strong>Auftragsnummer:</strong> {{.OrderNumber}}</p>
        {{if .LateInterest.IsPositive}}<p><strong>Verzugszinsen:</strong> {{formatMoney .LateInterest}}</p>{{end}}
        <p class="amount">Offener Betrag: {{formatMoney .Amount}}</p>
      </div>
      <p><strong>{{.DeadlineText}}</strong></p>
      {{if .Stage.LegalNote}}<p class="legal">{{.Stage.LegalNote}}</p>{{end}}
      <p>Mit freundlichen Grüßen<br>{{.CompanyName}}</p>
    </div>
    <div class="footer">
      <p>Diese E-Mail wurde automatisch generiert. Bitte antworten Sie nicht direkt auf diese E-Mail.</p>
    </div>
  </div>
</body>
</html>
`

type Renderer interface {
	Render(input RenderInput) (Rendered, error)
}

type RenderInput struct {
	Stage         string
	InvoiceNumber string
	InvoiceDate   time.Time
	DueDate       time.Time
	OverdueDays   int
	Amount        decimal.Decimal
	LateInterest  decimal.Decimal
	CustomerName  string
	OrderNumber   string
	CompanyName   string
}

type Rendered struct {
	Subject string
	HTML    string
}

type view struct {
	RenderInput
	Stage        Stage
	IntroText    string
	DeadlineText string
}

type HTMLRenderer struct {
	tpl *template.Template
}

func NewRenderer() Renderer {
	funcs := template.FuncMap{
		"formatMoney": FormatMoney,
		"formatDate":  FormatDate,
		"overdueText": overdueText,
	}
	return &HTMLRenderer{
		tpl: template.Must(template.New("reminder").Funcs(funcs).Parse(reminderHTMLTemplate)),
	}
}

func (r *HTMLRenderer) Render(input RenderInput) (Rendered, error) {
	stage, ok := stages[input.Stage]
	if !ok {
		return Rendered{}, fmt.Errorf("unknown reminder stage %q", input.Stage)
	}
	if strings.TrimSpace(input.CompanyName) == "" {
		input.CompanyName = "Ihr Unternehmen"
	}

	data := view{
		RenderInput:  input,
		Stage:        stage,
		IntroText:    fmt.Sprintf(stage.Intro, input.InvoiceNumber, FormatMoney(input.Amount)),
		DeadlineText: fmt.Sprintf(stage.Deadline, stage.DeadlineDays),
	}

	var buf bytes.Buffer
	if err := r.tpl.Execute(&buf, data); err != nil {
		return Rendered{}, err
	}

	return Rendered{
		Subject: fmt.Sprintf("%s - Rechnung %s", stage.Title, input.InvoiceNumber),
		HTML:    buf.String(),
	}, nil
}

// FormatMoney prints an amount the German way, e.g. 1.234,56 €.
func FormatMoney(amount decimal.Decimal) string {
	fixed := amount.Abs().StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")

	var grouped strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			grouped.WriteByte('.')
		}
		grouped.WriteRune(r)
	}

	sign := ""
	if amount.IsNegative() {
		sign = "-"
	}
	return sign + grouped.String() + "," + frac + " €"
}

func FormatDate(value time.Time) string {
	if value.IsZero() {
		return "-"
	}
	return value.UTC().Format("02.01.2006")
}

func overdueText(days int) string {
	switch {
	case days <= 0:
		return "heute"
	case days == 1:
		return "1 Tag"
	default:
		return fmt.Sprintf("%d Tage", days)
	}
}
