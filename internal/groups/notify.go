package groups

import (
	"context"
	"fmt"
	"html"
	"io"
	"os"

	"github.com/rebel-tools/groupsync/internal/appconfig"
	"github.com/rebel-tools/groupsync/internal/mailer"
	"github.com/rebel-tools/groupsync/internal/metrics"
	"github.com/rebel-tools/groupsync/models"
	"github.com/rs/zerolog"
)

const (
	kindColeadSummary = "colead_summary"
	kindWelcome       = "welcome"
	kindShepherd      = "shepherd"
)

// Deps are the collaborators shared by every group of a set.
type Deps struct {
	Resolver Resolver
	// Sender may be nil when the configuration is silent.
	Sender  mailer.Sender
	Metrics *metrics.Recorder
	// Out receives the console reports. Defaults to stdout.
	Out io.Writer
}

func (d Deps) out() io.Writer {
	if d.Out == nil {
		return os.Stdout
	}
	return d.Out
}

// notifier sends the post-resolution emails of one run.
type notifier struct {
	sender  mailer.Sender
	silent  bool
	format  string
	metrics *metrics.Recorder

	masterName       string
	masterEmail      string
	botAddress       string
	shepherd         Contact
	subgroupTemplate string
}

func newNotifier(cfg *appconfig.Config, deps Deps) *notifier {
	return &notifier{
		sender:           deps.Sender,
		silent:           cfg.Silent,
		format:           cfg.ColeadSummaryFormat,
		metrics:          deps.Metrics,
		masterName:       cfg.MasterGroupName,
		masterEmail:      cfg.MasterGroupEmail,
		botAddress:       cfg.BotEmail.Address,
		shepherd:         Contact{Name: cfg.SubGroupShepherd.Name, Email: cfg.SubGroupShepherd.Email},
		subgroupTemplate: cfg.SubgroupWelcomeEmail,
	}
}

// enabled reports whether emails may go out at all.
func (n *notifier) enabled(ctx context.Context) bool {
	if n.silent {
		return false
	}
	if n.sender == nil {
		zerolog.Ctx(ctx).Warn().Msg("no mailer configured, skipping notifications")
		return false
	}
	return true
}

func (n *notifier) record(ctx context.Context, kind string, to []string, err error) {
	n.metrics.Email(kind, err == nil)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("kind", kind).Strs("to", to).Msg("could not send mail")
		return
	}
	zerolog.Ctx(ctx).Debug().Str("kind", kind).Strs("to", to).Msg("mail sent")
}

// coleadSummary sends each colead of g an account of the latest additions.
// Nothing is sent when the report holds no outcome.
func (n *notifier) coleadSummary(ctx context.Context, g *group, kind string) {
	logger := zerolog.Ctx(ctx).With().Str("group", g.abbrev).Logger()
	if len(g.coleads) == 0 {
		logger.Info().Msg("no coleads to notify")
		return
	}

	isHTML := n.format == appconfig.SummaryHTML
	sections := g.Report().ColeadSummary()
	if isHTML {
		var err error
		if sections, err = g.Report().ColeadSummaryHTML(); err != nil {
			logger.Error().Err(err).Msg("failed to render colead summary")
			return
		}
	}
	if sections == "" {
		return
	}

	subject := fmt.Sprintf("AUTOMATED MESSAGE: Updates to %s", g.name)
	for _, colead := range g.coleads {
		body := coleadMessage(colead.Name, g.name, kind, sections, isHTML)
		to := []string{colead.Email}
		n.record(ctx, kindColeadSummary, to, n.sender.SendBasic(ctx, to, subject, body, isHTML))
	}
}

func coleadMessage(colead, group, kind, sections string, isHTML bool) string {
	if isHTML {
		return fmt.Sprintf(`<p>Hello %s,</p>
<p>I want to notify you of the following changes I've made to the %s %s:</p>
%s
<p>If you feel any of these modifications were done in error, do reach out. My handlers will work with you to rectify the problem!</p>
<p>Yours in Robotic Excellence<br>
Robot</p>
`, html.EscapeString(colead), html.EscapeString(group), kind, sections)
	}

	return fmt.Sprintf("Hello %s,\n\nI want to notify you of the following changes I've made to the %s %s:\n%s"+
		"\nIf you feel any of these modifications were done in error, do reach out. My handlers will work with you to rectify the problem!\n"+
		"\n\nYours in Robotic Excellence\nRobot", colead, group, kind, sections)
}

// welcome greets every person added to wg, copying the coleads if any.
func (n *notifier) welcome(ctx context.Context, wg *WorkingGroup) {
	to := wg.Report().SuccessfulEmails(models.OpAdd)
	if len(to) == 0 {
		return
	}

	body, err := wg.welcomeBody(n.masterName, n.masterEmail)
	if err != nil {
		n.record(ctx, kindWelcome, to, err)
		return
	}

	subject := fmt.Sprintf("Welcome to the %s group", wg.name)
	if len(wg.coleads) > 0 {
		cc := mailer.CarbonCopy{CC: wg.coleadEmails()}
		err = n.sender.SendWithCC(ctx, to, subject, body, cc, true)
	} else {
		err = n.sender.SendBasic(ctx, to, subject, body, true)
	}
	n.record(ctx, kindWelcome, to, err)
}
