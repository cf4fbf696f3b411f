package plugins

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rebel-tools/groupsync/internal/appconfig"
	"github.com/rebel-tools/groupsync/internal/metrics"
	"github.com/rebel-tools/groupsync/internal/report"
	"github.com/rebel-tools/groupsync/models"
)

var (
	// ErrUnknownDatastore is returned for a datastore selector with no plugin.
	ErrUnknownDatastore = errors.New("unknown datastore")

	// ErrEndpointDiscovery means the backend could not tell us where to send
	// people for a group. Nothing was attempted for that group.
	ErrEndpointDiscovery = errors.New("endpoint discovery failed")
)

// Group is what a backend needs to know about a destination group.
type Group interface {
	Abbreviation() string
	Name() string
	Credentials() models.Credentials
	Queue(op models.Operation) []*models.Person
	Report() *report.Report
}

// Plugin applies queued operations of a group to one backend service.
type Plugin interface {
	ResolveAdd(ctx context.Context, group Group) error
}

// Manager picks the configured backend and forwards resolution calls to it,
// so groups never depend on a concrete backend.
type Manager struct {
	Datastore string
	plugin    Plugin
}

// Option customises the plugin built by NewManager.
type Option func(*options)

type options struct {
	httpClient *http.Client
	metrics    *metrics.Recorder
}

// WithHTTPClient overrides the HTTP client used by HTTP based backends.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithMetrics records signup attempts and outcomes.
func WithMetrics(r *metrics.Recorder) Option {
	return func(o *options) { o.metrics = r }
}

// NewManager builds exactly one plugin for the datastore named in cfg.
func NewManager(cfg *appconfig.Config, opts ...Option) (*Manager, error) {
	o := options{httpClient: &http.Client{}}
	for _, opt := range opts {
		opt(&o)
	}

	datastore := cfg.Datastore
	if datastore == "" {
		datastore = appconfig.DatastoreActionNetwork
	}

	var plugin Plugin
	switch datastore {
	case appconfig.DatastoreActionNetwork:
		plugin = NewActionNetworkPlugin(cfg.ActionNetwork, o.httpClient, o.metrics)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDatastore, datastore)
	}

	return &Manager{Datastore: datastore, plugin: plugin}, nil
}

// NewManagerWithPlugin wraps an already built plugin.
func NewManagerWithPlugin(name string, p Plugin) *Manager {
	return &Manager{Datastore: name, plugin: p}
}

func (m *Manager) ResolveAdd(ctx context.Context, group Group) error {
	return m.plugin.ResolveAdd(ctx, group)
}
