package plugins

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rebel-tools/groupsync/internal/appconfig"
	"github.com/rebel-tools/groupsync/internal/metrics"
	"github.com/rebel-tools/groupsync/models"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	apiTokenHeader  = "OSDI-API-TOKEN"
	signupHelperRel = "osdi:person_signup_helper"
	credentialKey   = "privateKey"
)

// HTTPError is a non-success response from the backend.
type HTTPError struct {
	Message string
	Status  int
}

func (e *HTTPError) Error() string {
	return e.Message
}

// ActionNetworkPlugin registers people with Action Network through the
// person signup helper, one group (one API key) at a time.
type ActionNetworkPlugin struct {
	BaseURL     string
	HTTPClient  *http.Client
	MaxAttempts int
	RetryDelay  time.Duration

	// ColeadField, when set, is a custom field set to true for coleads of the group.
	ColeadField string
	// ColeadTag, when set, is a tag added to coleads of the group.
	ColeadTag string

	metrics *metrics.Recorder
}

func NewActionNetworkPlugin(cfg appconfig.ActionNetworkConfig, client *http.Client, rec *metrics.Recorder) *ActionNetworkPlugin {
	if client == nil {
		client = &http.Client{}
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = appconfig.DefaultActionNetworkURL
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = appconfig.DefaultMaxAttempts
	}

	return &ActionNetworkPlugin{
		BaseURL:     baseURL,
		HTTPClient:  client,
		MaxAttempts: attempts,
		RetryDelay:  cfg.RetryDelay(),
		ColeadField: cfg.ColeadField,
		ColeadTag:   cfg.ColeadTag,
		metrics:     rec,
	}
}

// ResolveAdd signs up every person queued for the add operation of group, all
// at once, and records each terminal outcome in the group's report. It only
// returns an error when the signup endpoint itself could not be discovered, in
// which case every queued person is recorded as a failure.
func (an *ActionNetworkPlugin) ResolveAdd(ctx context.Context, group Group) error {
	abbrev := group.Abbreviation()
	logger := zerolog.Ctx(ctx).With().Str("group", abbrev).Str("operation", models.OpAdd.String()).Logger()

	people := group.Queue(models.OpAdd)
	writer := group.Report().Writer(models.OpAdd)
	if len(people) == 0 {
		logger.Debug().Msg("nothing queued, skipping backend")
		return nil
	}

	token := group.Credentials().Get(credentialKey)
	endpoint, err := an.signupHelper(ctx, token)
	if err != nil {
		for _, person := range people {
			writer.AddFailure(person)
			an.metrics.SignupOutcome(abbrev, false)
		}
		return fmt.Errorf("%w for %s: %w", ErrEndpointDiscovery, group.Name(), err)
	}

	var g errgroup.Group
	for _, person := range people {
		g.Go(func() error {
			plog := logger.With().Str("email", person.Email).Logger()

			body, err := json.Marshal(an.signupRequest(abbrev, person))
			if err != nil {
				plog.Error().Err(err).Msg("failed to encode person")
				writer.AddFailure(person)
				an.metrics.SignupOutcome(abbrev, false)
				return nil
			}

			attempts, err := an.signup(ctx, endpoint, token, abbrev, body)
			if err != nil {
				plog.Warn().Err(err).Int("attempt", attempts).Msg("giving up on signup")
				writer.AddFailure(person)
				an.metrics.SignupOutcome(abbrev, false)
				return nil
			}

			plog.Debug().Int("attempt", attempts).Msg("person signed up")
			writer.AddSuccess(person)
			an.metrics.SignupOutcome(abbrev, true)
			return nil
		})
	}

	return g.Wait()
}

// signupRequest renders the body for one person. Colead markers are applied to
// a copy so the person's cached schema stays valid for other groups.
func (an *ActionNetworkPlugin) signupRequest(groupAbbrev string, person *models.Person) models.SignupRequest {
	schema := person.Schema()
	var tags []string

	if person.IsColead(groupAbbrev) {
		if an.ColeadField != "" {
			schema = schema.WithCustomField(an.ColeadField, true)
		}
		if an.ColeadTag != "" {
			tags = []string{an.ColeadTag}
		}
	}

	return models.SignupRequest{Person: *schema, AddTags: tags}
}

// signup posts body until the backend answers 200 or the attempts run out.
// It returns how many attempts were made.
func (an *ActionNetworkPlugin) signup(ctx context.Context, endpoint, token, groupAbbrev string, body []byte) (int, error) {
	attempts := 0
	operation := func() error {
		attempts++
		an.metrics.SignupAttempt(groupAbbrev)

		respBody, statusCode, err := an.makeRequest(ctx, http.MethodPost, endpoint, token, body)
		if err != nil {
			return err
		}
		if statusCode != http.StatusOK {
			return &HTTPError{
				Message: fmt.Sprintf("signup failed, status: %d, response: %s", statusCode, respBody),
				Status:  statusCode,
			}
		}
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(an.backOff(), ctx))
	return attempts, err
}

func (an *ActionNetworkPlugin) backOff() backoff.BackOff {
	var b backoff.BackOff = &backoff.ZeroBackOff{}
	if an.RetryDelay > 0 {
		b = backoff.NewConstantBackOff(an.RetryDelay)
	}
	return backoff.WithMaxRetries(b, uint64(an.MaxAttempts-1))
}

// signupHelper asks the API entry point for the person signup helper link.
func (an *ActionNetworkPlugin) signupHelper(ctx context.Context, token string) (string, error) {
	respBody, statusCode, err := an.makeRequest(ctx, http.MethodGet, an.BaseURL, token, nil)
	if err != nil {
		return "", err
	}

	if statusCode < 200 || statusCode >= 300 {
		return "", &HTTPError{
			Message: fmt.Sprintf("failed to fetch entry point, status: %d", statusCode),
			Status:  statusCode,
		}
	}

	var entry struct {
		Links map[string]struct {
			Href string `json:"href"`
		} `json:"_links"`
	}
	if err := json.Unmarshal(respBody, &entry); err != nil {
		return "", fmt.Errorf("failed to decode entry point: %w", err)
	}

	link, ok := entry.Links[signupHelperRel]
	if !ok || link.Href == "" {
		return "", fmt.Errorf("entry point has no %s link", signupHelperRel)
	}

	return link.Href, nil
}

// Helper function for making HTTP requests to the Action Network API.
func (an *ActionNetworkPlugin) makeRequest(ctx context.Context, method, url, token string, body []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set(apiTokenHeader, token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := an.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}

	return respBody, resp.StatusCode, nil
}
