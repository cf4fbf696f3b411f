package groups

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/rebel-tools/groupsync/internal/appconfig"
	"github.com/rebel-tools/groupsync/internal/mailer"
	"github.com/rebel-tools/groupsync/internal/templates"
	"github.com/rebel-tools/groupsync/models"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type member interface {
	EnsureOperation(op models.Operation) error
	ScheduleAdd(p *models.Person) error
	ResolveOperations(ctx context.Context) error
	PrintReport(w io.Writer)
}

// ordered returns the abbreviations of m sorted, the master group first.
func ordered[M any](m map[string]M) []string {
	keys := slices.Sorted(maps.Keys(m))
	if i := slices.Index(keys, MasterAbbreviation); i > 0 {
		keys = slices.Insert(slices.Delete(keys, i, i+1), 0, MasterAbbreviation)
	}
	return keys
}

func ensureAll[M member](members map[string]M, op models.Operation) error {
	for _, m := range members {
		if err := m.EnsureOperation(op); err != nil {
			return err
		}
	}
	return nil
}

// scheduleInto adds p to each named group once. Unknown names are logged and
// skipped; names already in seen are ignored.
func scheduleInto[M member](ctx context.Context, members map[string]M, p *models.Person, abbrevs []string, seen map[string]bool) error {
	for _, abbrev := range abbrevs {
		if seen[abbrev] {
			continue
		}
		seen[abbrev] = true

		m, ok := members[abbrev]
		if !ok {
			zerolog.Ctx(ctx).Warn().Str("person", p.Name()).Str("group", abbrev).Msg("unrecognised group")
			continue
		}
		if err := m.ScheduleAdd(p); err != nil {
			return err
		}
	}
	return nil
}

// resolveAll resolves every member concurrently, at most limit at a time when
// limit is positive, and joins their errors once all have finished.
func resolveAll[M member](ctx context.Context, members map[string]M, limit int) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	if limit > 0 {
		g.SetLimit(limit)
	}

	for _, abbrev := range ordered(members) {
		m := members[abbrev]
		g.Go(func() error {
			if err := m.ResolveOperations(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}

	_ = g.Wait()
	return errors.Join(errs...)
}

// WorkingGroupSet holds the master group and every well defined working group.
type WorkingGroupSet struct {
	groups map[string]*WorkingGroup
	limit  int
	out    io.Writer
}

// NewWorkingGroupSet loads the working groups of cfg. Definitions missing a
// name or credentials are dropped with a warning.
func NewWorkingGroupSet(ctx context.Context, cfg *appconfig.Config, deps Deps) *WorkingGroupSet {
	logger := zerolog.Ctx(ctx)
	n := newNotifier(cfg, deps)
	s := &WorkingGroupSet{
		groups: map[string]*WorkingGroup{},
		limit:  cfg.Concurrency.Groups,
		out:    deps.out(),
	}

	if cfg.HasMasterGroup() {
		s.groups[MasterAbbreviation] = newWorkingGroup(MasterAbbreviation, appconfig.WorkingGroupConfig{
			Name:        cfg.MasterGroupName,
			Credentials: cfg.MasterGroupCredentials,
			Coleads:     cfg.MasterGroupColeads,
		}, deps.Resolver, n)
	}

	for abbrev, def := range cfg.WorkingGroups {
		if abbrev == MasterAbbreviation {
			logger.Warn().Str("group", abbrev).Msg("abbreviation is reserved for the master group, skipping")
			continue
		}
		if err := appconfig.ValidateGroup(def); err != nil {
			logger.Warn().Err(err).Str("group", abbrev).Msg("working group is not well defined, proceeding without it")
			continue
		}
		s.groups[abbrev] = newWorkingGroup(abbrev, def, deps.Resolver, n)
	}

	return s
}

// Group looks up a working group by abbreviation.
func (s *WorkingGroupSet) Group(abbrev string) (*WorkingGroup, bool) {
	g, ok := s.groups[abbrev]
	return g, ok
}

// Abbreviations lists the loaded groups, master first.
func (s *WorkingGroupSet) Abbreviations() []string {
	return ordered(s.groups)
}

// ScheduleAddOperation queues p for the master group and every working group
// on its record. Invalid people are skipped without error.
func (s *WorkingGroupSet) ScheduleAddOperation(ctx context.Context, p *models.Person) error {
	if err := ensureAll(s.groups, models.OpAdd); err != nil {
		return err
	}

	if !p.IsValid() {
		zerolog.Ctx(ctx).Debug().Str("person", p.Name()).Msg("skipping invalid person")
		return nil
	}

	if master, ok := s.groups[MasterAbbreviation]; ok {
		if err := master.ScheduleAdd(p); err != nil {
			return err
		}
	}

	return scheduleInto(ctx, s.groups, p, p.WorkingGroups, map[string]bool{MasterAbbreviation: true})
}

// ResolveOperations resolves every working group, prints their reports and
// returns the joined group level errors.
func (s *WorkingGroupSet) ResolveOperations(ctx context.Context) error {
	err := resolveAll(ctx, s.groups, s.limit)
	for _, abbrev := range ordered(s.groups) {
		s.groups[abbrev].PrintReport(s.out)
	}
	return err
}

// SubgroupSet holds every well defined subgroup.
type SubgroupSet struct {
	groups map[string]*Subgroup
	limit  int
	out    io.Writer
	notify *notifier
}

// NewSubgroupSet loads the subgroups of cfg. Definitions missing a name,
// credentials or a description are dropped with a warning.
func NewSubgroupSet(ctx context.Context, cfg *appconfig.Config, deps Deps) *SubgroupSet {
	logger := zerolog.Ctx(ctx)
	n := newNotifier(cfg, deps)
	s := &SubgroupSet{
		groups: map[string]*Subgroup{},
		limit:  cfg.Concurrency.Groups,
		out:    deps.out(),
		notify: n,
	}

	for abbrev, def := range cfg.Subgroups {
		if err := appconfig.ValidateGroup(def); err != nil {
			logger.Warn().Err(err).Str("group", abbrev).Msg("subgroup is not well defined, proceeding without it")
			continue
		}
		s.groups[abbrev] = newSubgroup(abbrev, def, deps.Resolver, n)
	}

	return s
}

// Group looks up a subgroup by abbreviation.
func (s *SubgroupSet) Group(abbrev string) (*Subgroup, bool) {
	g, ok := s.groups[abbrev]
	return g, ok
}

// Abbreviations lists the loaded subgroups in order.
func (s *SubgroupSet) Abbreviations() []string {
	return ordered(s.groups)
}

// ScheduleAddOperation queues p for every subgroup on its record.
func (s *SubgroupSet) ScheduleAddOperation(ctx context.Context, p *models.Person) error {
	if err := ensureAll(s.groups, models.OpAdd); err != nil {
		return err
	}

	if !p.IsValid() {
		zerolog.Ctx(ctx).Debug().Str("person", p.Name()).Msg("skipping invalid person")
		return nil
	}

	return scheduleInto(ctx, s.groups, p, p.Subgroups, map[string]bool{})
}

// ResolveOperations resolves every subgroup, prints their reports, then
// welcomes the new members through the shepherd.
func (s *SubgroupSet) ResolveOperations(ctx context.Context) error {
	err := resolveAll(ctx, s.groups, s.limit)
	for _, abbrev := range ordered(s.groups) {
		s.groups[abbrev].PrintReport(s.out)
	}

	s.notifyShepherd(ctx)
	return err
}

// NewMemberEmails is the sorted set of addresses added to at least one
// subgroup in the latest resolution.
func (s *SubgroupSet) NewMemberEmails() []string {
	seen := map[string]struct{}{}
	for _, sg := range s.groups {
		for _, email := range sg.Report().SuccessfulEmails(models.OpAdd) {
			seen[email] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(seen))
}

// descriptions renders one paragraph per subgroup.
func (s *SubgroupSet) descriptions() string {
	var b strings.Builder
	for _, abbrev := range ordered(s.groups) {
		sg := s.groups[abbrev]
		fmt.Fprintf(&b, "<p><b>%s</b>: %s</p>\n", html.EscapeString(sg.name), sg.Description)
	}
	return b.String()
}

// notifyShepherd sends a single email introducing every new subgroup member
// to the shepherd. Members are blind copied so they do not see each other.
func (s *SubgroupSet) notifyShepherd(ctx context.Context) {
	n := s.notify
	logger := zerolog.Ctx(ctx)

	bcc := s.NewMemberEmails()
	if len(bcc) == 0 || !n.enabled(ctx) {
		return
	}
	if n.shepherd.Email == "" {
		logger.Warn().Msg("no subgroup shepherd configured, new members were not welcomed")
		return
	}

	tmpl, err := templates.Load(n.subgroupTemplate, templates.SubgroupWelcome)
	if err != nil {
		n.record(ctx, kindShepherd, bcc, err)
		return
	}
	body := templates.Fill(tmpl, map[string]string{
		"{SUBGROUP_DESCRIPTIONS}": s.descriptions(),
		"{SHEPHERD}":              n.shepherd.Name,
		"{MASTER_GROUP}":          n.masterName,
		"{MASTER_GROUP_EMAIL}":    n.masterEmail,
	})

	to := n.botAddress
	if to == "" {
		to = n.shepherd.Email
	}
	subject := "Welcome to our subgroups"
	if n.masterName != "" {
		subject = fmt.Sprintf("Welcome to the %s subgroups", n.masterName)
	}

	cc := mailer.CarbonCopy{CC: []string{n.shepherd.Email}, BCC: bcc}
	n.record(ctx, kindShepherd, bcc, n.sender.SendWithCC(ctx, []string{to}, subject, body, cc, true))
}
