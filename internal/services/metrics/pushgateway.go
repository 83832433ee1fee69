// Package metrics pushes the outcome of a backup run to a Prometheus
// Pushgateway.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rs/zerolog"

	"github.com/fgeck/rsync-system-backup/internal/models"
)

// DefaultJob is the Pushgateway job name used when none is configured.
const DefaultJob = "rsync_system_backup"

const namespace = "rsync_system_backup"

// Pusher reports a finished run.
type Pusher interface {
	Push(ctx context.Context, result *models.RunResult) error
}

// Pushgateway pushes run metrics with the Prometheus push client.
type Pushgateway struct {
	url      string
	job      string
	instance string
	client   push.HTTPDoer
	logger   zerolog.Logger
}

// NewPushgateway creates a Pushgateway pusher. The instance label is the
// host name.
func NewPushgateway(logger zerolog.Logger, cfg models.MetricsConfig) *Pushgateway {
	instance, _ := os.Hostname()
	return NewPushgatewayWithClient(logger, cfg, instance, &http.Client{Timeout: 10 * time.Second})
}

// NewPushgatewayWithClient creates a Pushgateway pusher with a custom HTTP client (for testing).
func NewPushgatewayWithClient(logger zerolog.Logger, cfg models.MetricsConfig, instance string, client push.HTTPDoer) *Pushgateway {
	job := cfg.Job
	if job == "" {
		job = DefaultJob
	}
	return &Pushgateway{
		url:      strings.TrimSuffix(cfg.PushgatewayURL, "/"),
		job:      job,
		instance: instance,
		client:   client,
		logger:   logger,
	}
}

// Registry collects the metrics of one run.
func Registry(result *models.RunResult) *prometheus.Registry {
	reg := prometheus.NewRegistry()

	duration := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "duration_seconds",
		Help:      "Duration of the last backup run.",
	})
	success := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "success",
		Help:      "Whether the last backup run succeeded.",
	})
	lastRun := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "last_run_timestamp_seconds",
		Help:      "Start time of the last backup run.",
	})
	phases := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "phase_duration_seconds",
		Help:      "Duration of each phase of the last backup run.",
	}, []string{"phase"})
	reg.MustRegister(duration, success, lastRun, phases)

	duration.Set(result.Duration.Seconds())
	lastRun.Set(float64(result.StartTime.Unix()))
	for phase, d := range result.Phases {
		phases.WithLabelValues(phase).Set(d.Seconds())
	}

	if result.Transfer != nil {
		exitCode := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rsync_exit_code",
			Help:      "Exit code of rsync in the last backup run.",
		})
		partial := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "partial_transfer",
			Help:      "Whether rsync reported a partial transfer in the last backup run.",
		})
		reg.MustRegister(exitCode, partial)
		exitCode.Set(float64(result.Transfer.ExitCode))
		if result.Transfer.Partial {
			partial.Set(1)
		}
	}

	if result.Success() {
		success.Set(1)
		// Left out on failure; the Pushgateway keeps the previous value.
		lastSuccess := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Completion time of the last successful backup run.",
		})
		reg.MustRegister(lastSuccess)
		lastSuccess.Set(float64(result.StartTime.Add(result.Duration).Unix()))
	}

	return reg
}

// Push adds the metrics of result to the job's group.
func (p *Pushgateway) Push(ctx context.Context, result *models.RunResult) error {
	p.logger.Debug().
		Str("url", p.url).
		Str("job", p.job).
		Str("instance", p.instance).
		Msg("pushing metrics to pushgateway")

	pusher := push.New(p.url, p.job).
		Grouping("instance", p.instance).
		Gatherer(Registry(result)).
		Client(p.client)

	if err := pusher.AddContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}

	p.logger.Debug().Msg("metrics pushed successfully")
	return nil
}

var _ Pusher = (*Pushgateway)(nil)
