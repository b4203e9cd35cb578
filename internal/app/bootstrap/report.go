package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/mangwale/voice-platform/cmd/mainconfig"
	"github.com/mangwale/voice-platform/internal/call"
	appconfig "github.com/mangwale/voice-platform/internal/config"
	"github.com/mangwale/voice-platform/internal/notify"
	"github.com/mangwale/voice-platform/internal/observability/metrics"
	"github.com/mangwale/voice-platform/internal/report"
	"github.com/mangwale/voice-platform/pkg/logging"
)

const reportQueueBuffer = 256

// BuildAlertSender picks the operator alert channel from config: SES when
// AWS is reachable, SendGrid when an API key is present, otherwise a stub
// that only logs. Returns nil when no recipient is configured at all.
func BuildAlertSender(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) *notify.Service {
	if cfg == nil || strings.TrimSpace(cfg.AlertEmailTo) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}

	var sender notify.EmailSender
	switch cfg.AlertEmailProvider {
	case "sendgrid":
		if cfg.SendGridAPIKey != "" && cfg.AlertEmailFrom != "" {
			sender = notify.NewSendGridSender(notify.SendGridConfig{
				APIKey:    cfg.SendGridAPIKey,
				FromEmail: cfg.AlertEmailFrom,
			}, logger)
			logger.Info("operator alerts enabled", "provider", "sendgrid", "to", cfg.AlertEmailTo)
		}
	case "ses":
		if cfg.AlertEmailFrom == "" {
			break
		}
		awsConfig, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Warn("operator alerts disabled: aws config failed", "error", err)
			break
		}
		sender = notify.NewSESSender(sesv2.NewFromConfig(awsConfig), notify.SESConfig{
			FromEmail: cfg.AlertEmailFrom,
		}, logger)
		logger.Info("operator alerts enabled", "provider", "ses", "to", cfg.AlertEmailTo)
	}

	if sender == nil {
		sender = notify.NewStubEmailSender(logger)
		logger.Warn("operator alert email not configured, dead letters will only be logged",
			"provider", cfg.AlertEmailProvider)
	}
	return notify.NewService(sender, cfg.AlertEmailTo, cfg.Env, logger)
}

// BuildReportPipeline assembles the outcome delivery path: queue, reporter,
// and consumer workers. USE_MEMORY_QUEUE=true (or a missing queue URL) keeps
// reports in process; otherwise jobs ride SQS so they survive a consumer
// restart. The DynamoDB journal and operator alerts attach when configured;
// the journal is returned so the ops endpoints can query delivery trails.
func BuildReportPipeline(
	ctx context.Context,
	cfg *appconfig.Config,
	store *call.Store,
	snapshots *call.Snapshotter,
	callMetrics *metrics.CallMetrics,
	logger *logging.Logger,
) (*report.Reporter, *report.Worker, *report.Journal, error) {
	if cfg == nil {
		return nil, nil, nil, fmt.Errorf("bootstrap: config required")
	}
	if store == nil {
		return nil, nil, nil, fmt.Errorf("bootstrap: session store required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	useMemory := cfg.UseMemoryQueue || strings.TrimSpace(cfg.ReportQueueURL) == ""

	var awsConfig aws.Config
	if !useMemory || cfg.ReportJournalTable != "" {
		loaded, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("bootstrap: aws config: %w", err)
		}
		awsConfig = loaded
	}

	opts := []report.ReporterOption{
		report.WithSnapshotter(snapshots),
		report.WithMetrics(callMetrics),
	}
	var journal *report.Journal
	if cfg.ReportJournalTable != "" {
		journal = report.NewJournal(dynamodb.NewFromConfig(awsConfig), cfg.ReportJournalTable, logger)
		opts = append(opts, report.WithJournal(journal))
		logger.Info("report delivery journal enabled", "table", cfg.ReportJournalTable)
	}
	if alerts := BuildAlertSender(ctx, cfg, logger); alerts != nil {
		opts = append(opts, report.WithAlerts(alerts))
	}

	workerOpts := []report.WorkerOption{
		report.WithWorkerCount(cfg.WorkerCount),
	}

	if useMemory {
		if !cfg.UseMemoryQueue {
			logger.Warn("REPORT_QUEUE_URL not set, using in-memory report queue")
		}
		queue := report.NewMemoryQueue(reportQueueBuffer)
		reporter := report.NewReporter(queue, store, cfg.UpstreamOutcomeURL, logger, opts...)
		return reporter, report.NewWorker(queue, reporter, logger, workerOpts...), journal, nil
	}

	queue := report.NewSQSQueue(sqs.NewFromConfig(awsConfig), cfg.ReportQueueURL)
	reporter := report.NewReporter(queue, store, cfg.UpstreamOutcomeURL, logger, opts...)
	logger.Info("report queue backed by SQS", "queue_url", cfg.ReportQueueURL)
	return reporter, report.NewWorker(queue, reporter, logger, workerOpts...), journal, nil
}
