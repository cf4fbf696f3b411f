package groups

import (
	"context"
	"html"
	"io"

	"github.com/rebel-tools/groupsync/internal/appconfig"
	"github.com/rebel-tools/groupsync/internal/templates"
)

// WorkingGroup is a team with its own mailing list. New members get a welcome
// email and the coleads get a summary of every run.
type WorkingGroup struct {
	*group

	// welcomeTemplate is a path to a custom welcome email, empty for the built-in one.
	welcomeTemplate string

	resolver Resolver
	notify   *notifier
}

func newWorkingGroup(abbrev string, def appconfig.WorkingGroupConfig, resolver Resolver, n *notifier) *WorkingGroup {
	coleads := contacts(def.Coleads)

	// The colead variant is only meaningful when there are coleads to name.
	welcome := def.WelcomeEmailNoColeads
	if len(coleads) > 0 {
		welcome = def.WelcomeEmail
	}

	return &WorkingGroup{
		group:           newGroup(abbrev, def.Name, def.Credentials, coleads),
		welcomeTemplate: welcome,
		resolver:        resolver,
		notify:          n,
	}
}

// ResolveOperations applies every queued operation, then sends the colead
// summary and the welcome email unless the run is silent.
func (wg *WorkingGroup) ResolveOperations(ctx context.Context) error {
	ops, err := wg.begin()
	if err != nil {
		return err
	}

	err = wg.run(ctx, wg.resolver, ops)

	if wg.notify.enabled(ctx) {
		wg.notify.coleadSummary(ctx, wg.group, "Working Group")
		wg.notify.welcome(ctx, wg)
	}
	return err
}

func (wg *WorkingGroup) PrintReport(w io.Writer) {
	wg.group.PrintReport(w, "")
}

// welcomeBody renders the welcome email for this group.
func (wg *WorkingGroup) welcomeBody(masterName, masterEmail string) (string, error) {
	fallback := templates.MemberWelcomeNoColead
	if len(wg.coleads) > 0 {
		fallback = templates.MemberWelcome
	}

	tmpl, err := templates.Load(wg.welcomeTemplate, fallback)
	if err != nil {
		return "", err
	}

	plural, verb := "co-lead", "is"
	if len(wg.coleads) > 1 {
		plural, verb = "co-leads", "are"
	}

	return templates.Fill(tmpl, map[string]string{
		"{WORKING_GROUP}":      html.EscapeString(wg.name),
		"{MASTER_GROUP}":       html.EscapeString(masterName),
		"{CO_LEADS}":           html.EscapeString(wg.coleadString()),
		"{MASTER_GROUP_EMAIL}": html.EscapeString(masterEmail),
		"{CO_LEAD_PLURAL}":     plural,
		"{CO_LEAD_VERB}":       verb,
	}), nil
}

func contacts(cfg []appconfig.ContactConfig) []Contact {
	out := make([]Contact, 0, len(cfg))
	for _, c := range cfg {
		out = append(out, Contact{Name: c.Name, Email: c.Email})
	}
	return out
}
