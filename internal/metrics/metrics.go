package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "groupsync"

// Recorder collects counters for one run. All methods are safe on a nil receiver.
type Recorder struct {
	Registry *prometheus.Registry

	signupAttempts *prometheus.CounterVec
	signupOutcomes *prometheus.CounterVec
	emails         *prometheus.CounterVec
}

func NewRecorder() *Recorder {
	r := &Recorder{
		Registry: prometheus.NewRegistry(),
		signupAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signup_attempts_total",
			Help:      "Signup requests sent to the backend, retries included.",
		}, []string{"group"}),
		signupOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signup_outcomes_total",
			Help:      "Terminal outcome of each scheduled add.",
		}, []string{"group", "outcome"}),
		emails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emails_total",
			Help:      "Notification emails by kind and result.",
		}, []string{"kind", "result"}),
	}
	r.Registry.MustRegister(r.signupAttempts, r.signupOutcomes, r.emails)
	return r
}

func (r *Recorder) SignupAttempt(group string) {
	if r == nil {
		return
	}
	r.signupAttempts.WithLabelValues(group).Inc()
}

func (r *Recorder) SignupOutcome(group string, success bool) {
	if r == nil {
		return
	}
	r.signupOutcomes.WithLabelValues(group, result(success)).Inc()
}

func (r *Recorder) Email(kind string, success bool) {
	if r == nil {
		return
	}
	r.emails.WithLabelValues(kind, result(success)).Inc()
}

// WriteTextfile dumps the registry in the node-exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.Registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
