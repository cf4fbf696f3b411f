package groups

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/rebel-tools/groupsync/internal/appconfig"
	"github.com/rebel-tools/groupsync/internal/mailer"
	"github.com/rebel-tools/groupsync/internal/plugins"
	"github.com/rebel-tools/groupsync/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockSender struct {
	mock.Mock
}

func (m *MockSender) SendBasic(ctx context.Context, to []string, subject, body string, isHTML bool) error {
	args := m.Called(ctx, to, subject, body, isHTML)
	return args.Error(0)
}

func (m *MockSender) SendWithCC(ctx context.Context, to []string, subject, body string, cc mailer.CarbonCopy, isHTML bool) error {
	args := m.Called(ctx, to, subject, body, cc, isHTML)
	return args.Error(0)
}

// fakeResolver succeeds for everyone except the emails in fail, and fails
// endpoint discovery for the abbreviations in unreachable.
type fakeResolver struct {
	fail        map[string]bool
	unreachable map[string]bool
	delay       time.Duration

	mu        sync.Mutex
	calls     map[string]int
	active    int
	maxActive int
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{fail: map[string]bool{}, unreachable: map[string]bool{}, calls: map[string]int{}}
}

func (f *fakeResolver) ResolveAdd(_ context.Context, g plugins.Group) error {
	f.mu.Lock()
	f.calls[g.Abbreviation()]++
	f.active++
	f.maxActive = max(f.maxActive, f.active)
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	time.Sleep(f.delay)

	if f.unreachable[g.Abbreviation()] {
		return fmt.Errorf("%w for %s: status 401", plugins.ErrEndpointDiscovery, g.Name())
	}

	w := g.Report().Writer(models.OpAdd)
	for _, p := range g.Queue(models.OpAdd) {
		if f.fail[p.Email] {
			w.AddFailure(p)
		} else {
			w.AddSuccess(p)
		}
	}
	return nil
}

func credentials(key string) models.Credentials {
	return models.Credentials{"privateKey": key}
}

func testConfig() *appconfig.Config {
	cfg := &appconfig.Config{
		MasterGroupName:  "XR Toronto",
		MasterGroupEmail: "hello@xrtoronto.ca",
		DefaultFirstName: "Rebel",
		DefaultSurname:   "Unknown",
		WorkingGroups: map[string]appconfig.WorkingGroupConfig{
			"OUT": {
				Name:        "Outreach",
				Credentials: credentials("out"),
				Coleads: []appconfig.ContactConfig{
					{Name: "Ada Lovelace", Email: "ada.lead@example.org"},
					{Name: "Grace Hopper", Email: "grace@example.org"},
				},
			},
			"FUN": {Name: "Fundraising", Credentials: credentials("fun")},
		},
		Subgroups: map[string]appconfig.SubgroupConfig{
			"ART": {Name: "Art", Credentials: credentials("art"), Description: "Makes banners"},
			"MUS": {Name: "Music", Credentials: credentials("mus"), Description: "Drums at actions"},
		},
		BotEmail:         appconfig.BotEmailConfig{Service: "gmail", Address: "bot@example.org"},
		SubGroupShepherd: appconfig.ContactConfig{Name: "Sam Shepherd", Email: "sam@example.org"},
	}
	cfg.ApplyDefaults()
	return cfg
}

func rebel(first, email, workingGroups, subgroups string) *models.Person {
	return models.NewPerson(models.RawRecord{
		FirstName:     first,
		Surname:       "Rebel",
		Email:         email,
		WorkingGroups: workingGroups,
		SubGroups:     subgroups,
	}, models.NameDefaults{FirstName: "Rebel", Surname: "Unknown"})
}

func schedule(t *testing.T, s interface {
	ScheduleAddOperation(context.Context, *models.Person) error
}, people ...*models.Person) {
	t.Helper()
	for _, p := range people {
		require.NoError(t, s.ScheduleAddOperation(context.Background(), p))
	}
}

func TestMasterGroupScenarioAgainstStubBackend(t *testing.T) {
	var mu sync.Mutex
	posted := map[string]int{}

	r := mux.NewRouter()
	var server *httptest.Server
	r.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"_links": {"osdi:person_signup_helper": {"href": "%s/signup"}}}`, server.URL)
	}).Methods(http.MethodGet)
	r.HandleFunc("/signup", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		posted[r.Header.Get("OSDI-API-TOKEN")]++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodPost)
	server = httptest.NewServer(r)
	defer server.Close()

	cfg := &appconfig.Config{
		MasterGroupName:        "XR Toronto",
		MasterGroupCredentials: credentials("master-key"),
		Silent:                 true,
	}
	cfg.ApplyDefaults()
	cfg.ActionNetwork.BaseURL = server.URL + "/"

	manager, err := plugins.NewManager(cfg, plugins.WithHTTPClient(server.Client()))
	require.NoError(t, err)

	var out bytes.Buffer
	set := NewWorkingGroupSet(context.Background(), cfg, Deps{Resolver: manager, Out: &out})

	missingEmail := rebel("Cy", "", "", "")
	schedule(t, set, rebel("Ada", "ada@example.org", "", ""), rebel("Bo", "bo@example.org", "", ""), missingEmail)

	require.NoError(t, set.ResolveOperations(context.Background()))

	master, ok := set.Group(MasterAbbreviation)
	require.True(t, ok)
	assert.Len(t, master.Queue(models.OpAdd), 2)
	assert.NotContains(t, master.Queue(models.OpAdd), missingEmail)

	outcome, ok := master.Report().Outcome(models.OpAdd)
	require.True(t, ok)
	assert.Len(t, outcome.Success, 2)
	assert.Empty(t, outcome.Failure)
	assert.Equal(t, 2, posted["master-key"])

	assert.Contains(t, out.String(), "Attempted to Add 2 people to XR Toronto")
	assert.Contains(t, out.String(), "No. Successes 2")
}

func TestWorkingGroupNotifications(t *testing.T) {
	cfg := testConfig()
	resolver := newFakeResolver()
	resolver.fail["dee@example.org"] = true

	sender := new(MockSender)
	for _, lead := range []string{"ada.lead@example.org", "grace@example.org"} {
		sender.On("SendBasic", mock.Anything, []string{lead}, "AUTOMATED MESSAGE: Updates to Outreach",
			mock.MatchedBy(func(body string) bool {
				return strings.Contains(body, "I've added the following rebels") &&
					strings.Contains(body, "Cy Rebel -- cy@example.org") &&
					strings.Contains(body, "I've failed to add the following rebels") &&
					strings.Contains(body, "Dee Rebel -- dee@example.org")
			}), false).Return(nil).Once()
	}
	sender.On("SendWithCC", mock.Anything, []string{"cy@example.org"}, "Welcome to the Outreach group",
		mock.MatchedBy(func(body string) bool {
			return strings.Contains(body, "Ada Lovelace and Grace Hopper") &&
				strings.Contains(body, "co-leads") &&
				!strings.Contains(body, "{")
		}),
		mailer.CarbonCopy{CC: []string{"ada.lead@example.org", "grace@example.org"}}, true).Return(nil).Once()
	sender.On("SendBasic", mock.Anything, []string{"bo@example.org"}, "Welcome to the Fundraising group",
		mock.MatchedBy(func(body string) bool {
			return strings.Contains(body, "Fundraising") && !strings.Contains(body, "{")
		}), true).Return(nil).Once()

	set := NewWorkingGroupSet(context.Background(), cfg, Deps{Resolver: resolver, Sender: sender, Out: &bytes.Buffer{}})
	schedule(t, set,
		rebel("Cy", "cy@example.org", "OUT", ""),
		rebel("Dee", "dee@example.org", "OUT", ""),
		rebel("Bo", "bo@example.org", "FUN", ""),
	)

	require.NoError(t, set.ResolveOperations(context.Background()))
	sender.AssertExpectations(t)
}

func TestSilentModeSendsNothing(t *testing.T) {
	cfg := testConfig()
	cfg.Silent = true
	resolver := newFakeResolver()
	sender := new(MockSender)

	deps := Deps{Resolver: resolver, Sender: sender, Out: &bytes.Buffer{}}
	wgs := NewWorkingGroupSet(context.Background(), cfg, deps)
	sgs := NewSubgroupSet(context.Background(), cfg, deps)

	people := []*models.Person{
		rebel("Cy", "cy@example.org", "OUT", "ART"),
		rebel("Bo", "bo@example.org", "FUN", "ART, MUS"),
	}
	schedule(t, wgs, people...)
	schedule(t, sgs, people...)

	require.NoError(t, wgs.ResolveOperations(context.Background()))
	require.NoError(t, sgs.ResolveOperations(context.Background()))

	sender.AssertNotCalled(t, "SendBasic", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	sender.AssertNotCalled(t, "SendWithCC", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, 1, resolver.calls["ART"])
}

func TestNoColeadSummaryWithoutOutcomes(t *testing.T) {
	cfg := testConfig()
	sender := new(MockSender)
	set := NewWorkingGroupSet(context.Background(), cfg, Deps{Resolver: newFakeResolver(), Sender: sender, Out: &bytes.Buffer{}})

	// Only an invalid person: every queue is initialised but stays empty.
	schedule(t, set, rebel("Cy", "not-an-email", "OUT", ""))

	require.NoError(t, set.ResolveOperations(context.Background()))
	sender.AssertNotCalled(t, "SendBasic", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	sender.AssertNotCalled(t, "SendWithCC", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestShepherdReceivesDeduplicatedMembers(t *testing.T) {
	cfg := testConfig()
	sender := new(MockSender)
	sender.On("SendWithCC", mock.Anything, []string{"bot@example.org"}, "Welcome to the XR Toronto subgroups",
		mock.MatchedBy(func(body string) bool {
			return strings.Contains(body, "<b>Art</b>: Makes banners") &&
				strings.Contains(body, "<b>Music</b>: Drums at actions") &&
				strings.Contains(body, "Sam Shepherd")
		}),
		mailer.CarbonCopy{
			CC:  []string{"sam@example.org"},
			BCC: []string{"bo@example.org", "cy@example.org"},
		}, true).Return(nil).Once()

	set := NewSubgroupSet(context.Background(), cfg, Deps{Resolver: newFakeResolver(), Sender: sender, Out: &bytes.Buffer{}})
	schedule(t, set,
		rebel("Cy", "cy@example.org", "", "ART, MUS"),
		rebel("Bo", "bo@example.org", "", "ART"),
	)

	require.NoError(t, set.ResolveOperations(context.Background()))
	assert.Equal(t, []string{"bo@example.org", "cy@example.org"}, set.NewMemberEmails())
	sender.AssertExpectations(t)
}

func TestShepherdSkippedWhenNobodyAdded(t *testing.T) {
	cfg := testConfig()
	resolver := newFakeResolver()
	resolver.fail["cy@example.org"] = true
	sender := new(MockSender)

	set := NewSubgroupSet(context.Background(), cfg, Deps{Resolver: resolver, Sender: sender, Out: &bytes.Buffer{}})
	schedule(t, set, rebel("Cy", "cy@example.org", "", "ART"))

	require.NoError(t, set.ResolveOperations(context.Background()))
	assert.Empty(t, set.NewMemberEmails())
	sender.AssertNotCalled(t, "SendWithCC", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestUnknownGroupIsSkipped(t *testing.T) {
	cfg := testConfig()
	set := NewWorkingGroupSet(context.Background(), cfg, Deps{Resolver: newFakeResolver(), Out: &bytes.Buffer{}})

	cy := rebel("Cy", "cy@example.org", "NOPE, OUT, OUT", "")
	require.NoError(t, set.ScheduleAddOperation(context.Background(), cy))

	out, _ := set.Group("OUT")
	assert.Equal(t, []*models.Person{cy}, out.Queue(models.OpAdd))
	fun, _ := set.Group("FUN")
	assert.Empty(t, fun.Queue(models.OpAdd))
}

func TestMalformedDefinitionsAreDropped(t *testing.T) {
	cfg := testConfig()
	cfg.WorkingGroups["BAD"] = appconfig.WorkingGroupConfig{Name: "No credentials"}
	cfg.WorkingGroups[MasterAbbreviation] = appconfig.WorkingGroupConfig{Name: "Impostor", Credentials: credentials("x")}
	cfg.Subgroups["SAD"] = appconfig.SubgroupConfig{Name: "No description", Credentials: credentials("sad")}
	cfg.MasterGroupCredentials = credentials("master")

	wgs := NewWorkingGroupSet(context.Background(), cfg, Deps{Resolver: newFakeResolver()})
	sgs := NewSubgroupSet(context.Background(), cfg, Deps{Resolver: newFakeResolver()})

	assert.Equal(t, []string{MasterAbbreviation, "FUN", "OUT"}, wgs.Abbreviations())
	assert.Equal(t, []string{"ART", "MUS"}, sgs.Abbreviations())

	master, _ := wgs.Group(MasterAbbreviation)
	assert.Equal(t, "XR Toronto", master.Name())
}

func TestDiscoveryFailureFailsOnlyThatGroup(t *testing.T) {
	cfg := testConfig()
	cfg.Silent = true
	resolver := newFakeResolver()
	resolver.unreachable["OUT"] = true

	var out bytes.Buffer
	set := NewWorkingGroupSet(context.Background(), cfg, Deps{Resolver: resolver, Out: &out})
	schedule(t, set,
		rebel("Cy", "cy@example.org", "OUT, FUN", ""),
		rebel("Dee", "dee@example.org", "OUT", ""),
	)

	err := set.ResolveOperations(context.Background())
	require.ErrorIs(t, err, plugins.ErrEndpointDiscovery)

	outGroup, _ := set.Group("OUT")
	outcome, _ := outGroup.Report().Outcome(models.OpAdd)
	assert.Empty(t, outcome.Success)
	assert.Len(t, outcome.Failure, 2)

	fun, _ := set.Group("FUN")
	outcome, _ = fun.Report().Outcome(models.OpAdd)
	assert.Len(t, outcome.Success, 1)

	assert.Contains(t, out.String(), "No. Failures 2")
}

func TestScheduleAfterResolutionFails(t *testing.T) {
	cfg := testConfig()
	set := NewWorkingGroupSet(context.Background(), cfg, Deps{Resolver: newFakeResolver(), Out: &bytes.Buffer{}})
	schedule(t, set, rebel("Cy", "cy@example.org", "OUT", ""))
	require.NoError(t, set.ResolveOperations(context.Background()))

	err := set.ScheduleAddOperation(context.Background(), rebel("Dee", "dee@example.org", "OUT", ""))
	assert.ErrorIs(t, err, ErrResolutionStarted)
}

func TestEachResolutionStartsAFreshReport(t *testing.T) {
	cfg := testConfig()
	cfg.Silent = true
	set := NewWorkingGroupSet(context.Background(), cfg, Deps{Resolver: newFakeResolver(), Out: &bytes.Buffer{}})
	schedule(t, set, rebel("Cy", "cy@example.org", "OUT", ""))

	outGroup, _ := set.Group("OUT")
	require.NoError(t, outGroup.ResolveOperations(context.Background()))
	first := outGroup.Report()

	require.NoError(t, outGroup.ResolveOperations(context.Background()))
	second := outGroup.Report()

	assert.NotSame(t, first, second)
	outcome, _ := second.Outcome(models.OpAdd)
	assert.Len(t, outcome.Success, 1)
}

func TestGroupConcurrencyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Silent = true
	cfg.Concurrency.Groups = 1
	resolver := newFakeResolver()
	resolver.delay = 10 * time.Millisecond

	set := NewSubgroupSet(context.Background(), cfg, Deps{Resolver: resolver, Out: &bytes.Buffer{}})
	schedule(t, set, rebel("Cy", "cy@example.org", "", "ART, MUS"))
	require.NoError(t, set.ResolveOperations(context.Background()))

	assert.Equal(t, 1, resolver.maxActive)
	assert.Equal(t, 1, resolver.calls["ART"])
	assert.Equal(t, 1, resolver.calls["MUS"])
}

func TestWelcomeTemplateSelection(t *testing.T) {
	dir := t.TempDir()
	withLeads := filepath.Join(dir, "leads.html")
	noLeads := filepath.Join(dir, "solo.html")
	require.NoError(t, os.WriteFile(withLeads, []byte("{WORKING_GROUP}: {CO_LEAD_PLURAL} {CO_LEADS} {CO_LEAD_VERB} here"), 0o600))
	require.NoError(t, os.WriteFile(noLeads, []byte("{WORKING_GROUP} of {MASTER_GROUP} <{MASTER_GROUP_EMAIL}>"), 0o600))

	n := newNotifier(testConfig(), Deps{})
	def := appconfig.WorkingGroupConfig{
		Name:                  "Outreach",
		Credentials:           credentials("out"),
		Coleads:               []appconfig.ContactConfig{{Name: "Ada Lovelace", Email: "ada@example.org"}},
		WelcomeEmail:          withLeads,
		WelcomeEmailNoColeads: noLeads,
	}

	body, err := newWorkingGroup("OUT", def, nil, n).welcomeBody("XR Toronto", "hello@xrtoronto.ca")
	require.NoError(t, err)
	assert.Equal(t, "Outreach: co-lead Ada Lovelace is here", body)

	def.Coleads = nil
	body, err = newWorkingGroup("OUT", def, nil, n).welcomeBody("XR Toronto", "hello@xrtoronto.ca")
	require.NoError(t, err)
	assert.Equal(t, "Outreach of XR Toronto <hello@xrtoronto.ca>", body)
}

func TestWelcomeBodyEscapesNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "welcome.html")
	require.NoError(t, os.WriteFile(path, []byte("<p>{WORKING_GROUP} / {MASTER_GROUP} / {CO_LEADS}</p>"), 0o600))

	n := newNotifier(testConfig(), Deps{})
	def := appconfig.WorkingGroupConfig{
		Name:         "Art & Design",
		Credentials:  credentials("art"),
		Coleads:      []appconfig.ContactConfig{{Name: "Ada <Ace>", Email: "ada@example.org"}, {Name: "Bo", Email: "bo@example.org"}},
		WelcomeEmail: path,
	}

	body, err := newWorkingGroup("ART", def, nil, n).welcomeBody("XR \"Toronto\"", "hello@xrtoronto.ca")
	require.NoError(t, err)
	assert.Equal(t, "<p>Art &amp; Design / XR &#34;Toronto&#34; / Ada &lt;Ace&gt; and Bo</p>", body)
}

func TestOxfordJoin(t *testing.T) {
	tests := []struct {
		items []string
		want  string
	}{
		{nil, ""},
		{[]string{"Ada"}, "Ada"},
		{[]string{"Ada", "Grace"}, "Ada and Grace"},
		{[]string{"Ada", "Grace", "Katherine"}, "Ada, Grace, and Katherine"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, oxfordJoin(tt.items))
	}
}

func TestTallyMatchesQueue(t *testing.T) {
	cfg := testConfig()
	cfg.Silent = true
	resolver := newFakeResolver()

	set := NewWorkingGroupSet(context.Background(), cfg, Deps{Resolver: resolver, Out: &bytes.Buffer{}})
	for i := range 12 {
		email := fmt.Sprintf("rebel%d@example.org", i)
		if i%4 == 0 {
			resolver.fail[email] = true
		}
		schedule(t, set, rebel("Rebel", email, "OUT, FUN", ""))
	}
	require.NoError(t, set.ResolveOperations(context.Background()))

	for _, abbrev := range set.Abbreviations() {
		g, _ := set.Group(abbrev)
		outcome, _ := g.Report().Outcome(models.OpAdd)
		assert.Equal(t, len(g.Queue(models.OpAdd)), len(outcome.Success)+len(outcome.Failure), abbrev)
	}
}
