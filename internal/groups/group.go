package groups

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rebel-tools/groupsync/internal/plugins"
	"github.com/rebel-tools/groupsync/internal/report"
	"github.com/rebel-tools/groupsync/models"
	"github.com/rs/zerolog"
)

// MasterAbbreviation is the reserved key of the organisation wide group.
const MasterAbbreviation = "MASTER"

// ErrResolutionStarted is returned when a group is changed after its
// operations began resolving.
var ErrResolutionStarted = errors.New("resolution already started")

// Resolver applies queued operations against the backend. *plugins.Manager
// is the production implementation.
type Resolver interface {
	ResolveAdd(ctx context.Context, group plugins.Group) error
}

type state int

const (
	stateIdle state = iota
	stateQueued
	stateResolving
	stateResolved
)

// Contact is a colead or shepherd as named in the configuration.
type Contact struct {
	Name  string
	Email string
}

// group holds what working groups and subgroups have in common: identity,
// credentials, one queue per initialised operation and the report of the
// latest resolution.
type group struct {
	abbrev      string
	name        string
	credentials models.Credentials
	coleads     []Contact

	mu      sync.Mutex
	state   state
	ops     []models.Operation
	queues  map[models.Operation][]*models.Person
	report  *report.Report
	lastErr error
}

func newGroup(abbrev, name string, credentials models.Credentials, coleads []Contact) *group {
	return &group{
		abbrev:      abbrev,
		name:        name,
		credentials: credentials,
		coleads:     coleads,
		queues:      map[models.Operation][]*models.Person{},
		report:      report.New(name),
	}
}

func (g *group) Abbreviation() string            { return g.abbrev }
func (g *group) Name() string                    { return g.name }
func (g *group) Credentials() models.Credentials { return g.credentials }

// Report is the ledger of the latest resolution.
func (g *group) Report() *report.Report {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.report
}

// Queue returns a copy of the people scheduled for op.
func (g *group) Queue(op models.Operation) []*models.Person {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*models.Person(nil), g.queues[op]...)
}

// EnsureOperation initialises the queue for op. Further calls are no-ops and
// never clear what was already scheduled.
func (g *group) EnsureOperation(op models.Operation) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ensureOperationLocked(op)
}

func (g *group) ensureOperationLocked(op models.Operation) error {
	if g.state >= stateResolving {
		return ErrResolutionStarted
	}
	if _, ok := g.queues[op]; !ok {
		g.queues[op] = []*models.Person{}
		g.ops = append(g.ops, op)
	}
	g.state = stateQueued
	return nil
}

// ScheduleAdd appends p to the add queue. Validity and membership are the
// caller's concern.
func (g *group) ScheduleAdd(p *models.Person) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.ensureOperationLocked(models.OpAdd); err != nil {
		return err
	}
	g.queues[models.OpAdd] = append(g.queues[models.OpAdd], p)
	return nil
}

// begin moves the group into resolution and swaps in a fresh report.
func (g *group) begin() ([]models.Operation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == stateResolving {
		return nil, ErrResolutionStarted
	}
	g.state = stateResolving
	g.report = report.New(g.name)
	g.lastErr = nil
	for _, op := range g.ops {
		g.report.AddOperation(op)
	}
	return append([]models.Operation(nil), g.ops...), nil
}

func (g *group) finish(err error) {
	g.mu.Lock()
	g.state = stateResolved
	g.lastErr = err
	g.mu.Unlock()
}

// run resolves each operation returned by begin. Only add is implemented.
func (g *group) run(ctx context.Context, resolver Resolver, ops []models.Operation) error {
	var errs []error
	for _, op := range ops {
		switch op {
		case models.OpAdd:
			if err := g.resolveAdd(ctx, resolver); err != nil {
				errs = append(errs, err)
			}
		}
	}

	err := errors.Join(errs...)
	g.finish(err)
	return err
}

func (g *group) resolveAdd(ctx context.Context, resolver Resolver) error {
	err := resolver.ResolveAdd(ctx, g)
	if err == nil {
		return nil
	}

	zerolog.Ctx(ctx).Error().Err(err).Str("group", g.abbrev).Msg("could not resolve additions, marking queue as failed")
	g.failUnrecorded(models.OpAdd)
	return fmt.Errorf("group %s: %w", g.name, err)
}

// failUnrecorded records a failure for every queued person without an outcome
// so that the report always accounts for the whole queue.
func (g *group) failUnrecorded(op models.Operation) {
	rep := g.Report()
	outcome, _ := rep.Outcome(op)

	seen := map[*models.Person]bool{}
	for _, p := range outcome.Success {
		seen[p] = true
	}
	for _, p := range outcome.Failure {
		seen[p] = true
	}

	w := rep.Writer(op)
	for _, p := range g.Queue(op) {
		if !seen[p] {
			w.AddFailure(p)
		}
	}
}

// PrintReport writes the console summary of the latest resolution.
func (g *group) PrintReport(w io.Writer, label string) {
	g.mu.Lock()
	ops := append([]models.Operation(nil), g.ops...)
	rep := g.report
	lastErr := g.lastErr
	g.mu.Unlock()

	for _, op := range ops {
		switch op {
		case models.OpAdd:
			fmt.Fprintf(w, "\nAttempted to Add %d people to %s%s\n", len(g.Queue(op)), g.name, label)
		}
		rep.Print(w, op)
	}
	if lastErr != nil {
		fmt.Fprintf(w, "Error: %v\n", lastErr)
	}
}

// coleadEmails lists the colead addresses in configuration order.
func (g *group) coleadEmails() []string {
	emails := make([]string, 0, len(g.coleads))
	for _, c := range g.coleads {
		emails = append(emails, c.Email)
	}
	return emails
}

// coleadString joins colead names for prose: "A", "A and B", "A, B, and C".
func (g *group) coleadString() string {
	names := make([]string, 0, len(g.coleads))
	for _, c := range g.coleads {
		names = append(names, c.Name)
	}
	return oxfordJoin(names)
}

func oxfordJoin(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " and " + items[1]
	}

	last := len(items) - 1
	return strings.Join(items[:last], ", ") + ", and " + items[last]
}
