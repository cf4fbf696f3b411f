package report

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/rebel-tools/groupsync/models"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// Outcome holds who succeeded and who failed for one operation, in completion order.
type Outcome struct {
	Success []*models.Person
	Failure []*models.Person
}

// Empty reports whether nothing was recorded.
func (o Outcome) Empty() bool {
	return len(o.Success) == 0 && len(o.Failure) == 0
}

// Report is the ledger of one group for one resolution run. Writers may
// record outcomes from several goroutines at once.
type Report struct {
	Group string

	mu         sync.Mutex
	operations map[models.Operation]*Outcome
}

func New(group string) *Report {
	return &Report{
		Group:      group,
		operations: map[models.Operation]*Outcome{},
	}
}

// AddOperation makes sure a section exists for op. Calling it again is a no-op.
func (r *Report) AddOperation(op models.Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.operations[op]; !ok {
		r.operations[op] = &Outcome{}
	}
}

// Writer returns the narrow handle a backend uses to record outcomes for op.
func (r *Report) Writer(op models.Operation) *Writer {
	r.AddOperation(op)
	return &Writer{report: r, op: op}
}

func (r *Report) addSuccess(op models.Operation, p *models.Person) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operations[op].Success = append(r.operations[op].Success, p)
}

func (r *Report) addFailure(op models.Operation, p *models.Person) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operations[op].Failure = append(r.operations[op].Failure, p)
}

// Outcome returns a snapshot of the section for op. The second value is false
// if the operation was never added.
func (r *Report) Outcome(op models.Operation) (Outcome, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.operations[op]
	if !ok {
		return Outcome{}, false
	}
	return Outcome{
		Success: append([]*models.Person(nil), o.Success...),
		Failure: append([]*models.Person(nil), o.Failure...),
	}, true
}

// SuccessfulEmails lists the email of every person recorded as a success for op.
func (r *Report) SuccessfulEmails(op models.Operation) []string {
	o, _ := r.Outcome(op)
	emails := make([]string, 0, len(o.Success))
	for _, p := range o.Success {
		emails = append(emails, p.Email)
	}
	return emails
}

// Print writes the console summary for op.
func (r *Report) Print(w io.Writer, op models.Operation) {
	o, _ := r.Outcome(op)

	fmt.Fprintln(w, successStyle.Render(fmt.Sprintf("\nNo. Successes %d", len(o.Success))))
	for _, p := range o.Success {
		fmt.Fprintf(w, "\t%s\n", line(p))
	}

	fmt.Fprintln(w, failureStyle.Render(fmt.Sprintf("No. Failures %d", len(o.Failure))))
	for _, p := range o.Failure {
		fmt.Fprintf(w, "\t%s\n", line(p))
	}
}

func line(p *models.Person) string {
	return fmt.Sprintf("%s -- %s", p.Name(), p.Email)
}

// Writer records outcomes for a single operation of a single report.
type Writer struct {
	report *Report
	op     models.Operation
}

func (w *Writer) AddSuccess(p *models.Person) {
	w.report.addSuccess(w.op, p)
}

func (w *Writer) AddFailure(p *models.Person) {
	w.report.addFailure(w.op, p)
}

const (
	addedIntro  = "I've added the following rebels to your working group. Do take the time to welcome them and answer any questions they might have!"
	failedIntro = "I've failed to add the following rebels to the working group. You may want to follow up on this so no one falls through the cracks"
)

// ColeadSummary renders the plain text sections sent to coleads. It returns ""
// when there is nothing worth reporting.
func (r *Report) ColeadSummary() string {
	o, ok := r.Outcome(models.OpAdd)
	if !ok || o.Empty() {
		return ""
	}

	var b strings.Builder
	if len(o.Success) > 0 {
		fmt.Fprintf(&b, "\n%s\n\n", addedIntro)
		for _, p := range o.Success {
			fmt.Fprintf(&b, "\t%s\n", line(p))
		}
	}
	if len(o.Failure) > 0 {
		fmt.Fprintf(&b, "\n%s\n\n", failedIntro)
		for _, p := range o.Failure {
			fmt.Fprintf(&b, "\t%s\n", line(p))
		}
	}
	return b.String()
}

var summaryHTML = template.Must(template.New("summary").Parse(`{{if .Success}}<p>{{.AddedIntro}}</p>
<ul>{{range .Success}}
<li>{{.Name}} -- {{.Email}}</li>{{end}}
</ul>
{{end}}{{if .Failure}}<p>{{.FailedIntro}}</p>
<ul>{{range .Failure}}
<li>{{.Name}} -- {{.Email}}</li>{{end}}
</ul>
{{end}}`))

type summaryEntry struct {
	Name  string
	Email string
}

// ColeadSummaryHTML is the HTML variant of ColeadSummary.
func (r *Report) ColeadSummaryHTML() (string, error) {
	o, ok := r.Outcome(models.OpAdd)
	if !ok || o.Empty() {
		return "", nil
	}

	data := struct {
		AddedIntro  string
		FailedIntro string
		Success     []summaryEntry
		Failure     []summaryEntry
	}{AddedIntro: addedIntro, FailedIntro: failedIntro}

	for _, p := range o.Success {
		data.Success = append(data.Success, summaryEntry{p.Name(), p.Email})
	}
	for _, p := range o.Failure {
		data.Failure = append(data.Failure, summaryEntry{p.Name(), p.Email})
	}

	var buf bytes.Buffer
	if err := summaryHTML.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render summary: %w", err)
	}
	return buf.String(), nil
}
