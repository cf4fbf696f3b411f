package groups

import (
	"context"
	"io"

	"github.com/rebel-tools/groupsync/internal/appconfig"
)

// Subgroup is a looser group with a mailing list but no onboarding of its
// own. New members are welcomed once for all subgroups by the shepherd.
type Subgroup struct {
	*group

	Description string

	resolver Resolver
	notify   *notifier
}

func newSubgroup(abbrev string, def appconfig.SubgroupConfig, resolver Resolver, n *notifier) *Subgroup {
	return &Subgroup{
		group:       newGroup(abbrev, def.Name, def.Credentials, contacts(def.Coleads)),
		Description: def.Description,
		resolver:    resolver,
		notify:      n,
	}
}

// ResolveOperations applies every queued operation and, when the subgroup
// has coleads and the run is not silent, sends them a summary.
func (sg *Subgroup) ResolveOperations(ctx context.Context) error {
	ops, err := sg.begin()
	if err != nil {
		return err
	}

	err = sg.run(ctx, sg.resolver, ops)

	if len(sg.coleads) > 0 && sg.notify.enabled(ctx) {
		sg.notify.coleadSummary(ctx, sg.group, "Subgroup")
	}
	return err
}

func (sg *Subgroup) PrintReport(w io.Writer) {
	sg.group.PrintReport(w, " SG")
}
