package workflows

import (
	"context"
	"errors"

	"github.com/rebel-tools/groupsync/internal/appconfig"
	"github.com/rebel-tools/groupsync/internal/groups"
	"github.com/rebel-tools/groupsync/models"
	"github.com/rs/zerolog"
)

// AddPersons onboards a batch of roster records: every valid person is added
// to the master group, their working groups and their subgroups. Working
// groups resolve before subgroups. The returned error joins every group level
// failure; per person failures only show up in the reports.
func AddPersons(ctx context.Context, cfg *appconfig.Config, deps groups.Deps, records []models.RawRecord) error {
	logger := zerolog.Ctx(ctx)

	people := make([]*models.Person, 0, len(records))
	for _, raw := range records {
		people = append(people, models.NewPerson(raw, cfg.NameDefaults()))
	}
	logger.Info().Int("people", len(people)).Msg("roster loaded")

	workingGroups := groups.NewWorkingGroupSet(ctx, cfg, deps)
	subgroups := groups.NewSubgroupSet(ctx, cfg, deps)

	for _, p := range people {
		if err := workingGroups.ScheduleAddOperation(ctx, p); err != nil {
			return err
		}
		if err := subgroups.ScheduleAddOperation(ctx, p); err != nil {
			return err
		}
	}

	wgErr := workingGroups.ResolveOperations(ctx)
	sgErr := subgroups.ResolveOperations(ctx)
	return errors.Join(wgErr, sgErr)
}
