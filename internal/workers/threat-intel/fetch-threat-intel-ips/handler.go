package fetchthreatintelips

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	apperrors "threatintel-workers/internal/common/errors"
	"threatintel-workers/internal/common/logger"
	"threatintel-workers/internal/common/metrics"
	"threatintel-workers/internal/common/observability"
	"threatintel-workers/internal/models"
	"threatintel-workers/internal/threatintel"
	"threatintel-workers/internal/workers/threat-intel/fetch-threat-intel-ips/queries"
)

const (
	TaskType = "fetch-threat-intel-ips"
)

// IPSource is satisfied by *threatintel.API.
type IPSource interface {
	GetCurrentThreatIntelIPs(ctx context.Context) ([]string, error)
	Config() threatintel.Config
}

// SnapshotPublisher is satisfied by *database.RedisClient.
type SnapshotPublisher interface {
	PublishSnapshot(ctx context.Context, snapshot models.IPSnapshot, ttl time.Duration) error
}

type Handler struct {
	config     *Config
	source     IPSource
	db         *sql.DB
	publisher  SnapshotPublisher
	obs        *observability.Observability
	errHandler *apperrors.ErrorHandler
	logger     logger.Logger
	now        func() time.Time
}

// NewHandler wires the worker. db, publisher and obs may be nil; a nil db
// skips run history.
func NewHandler(config *Config, source IPSource, db *sql.DB, publisher SnapshotPublisher, obs *observability.Observability, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:     config,
		source:     source,
		db:         db,
		publisher:  publisher,
		obs:        obs,
		errHandler: apperrors.NewErrorHandler(log),
		logger:     log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	startTime := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx := context.Background()

	input, err := parseInput(job.Variables)
	if err != nil {
		h.fail(ctx, client, job, apperrors.NewInvalidJobInputError(err.Error()), startTime)
		return
	}

	output, err := h.execute(ctx, input)
	if err != nil {
		h.fail(ctx, client, job, err, startTime)
		return
	}

	h.completeJob(ctx, client, job, output)

	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(startTime).Seconds())
	h.obs.RecordJobProcessed(ctx, "completed")
	h.obs.RecordJobDuration(ctx, time.Since(startTime), "completed")
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	tiConfig := h.source.Config()
	runID := uuid.New().String()
	startedAt := h.now()

	run := models.ThreatIntelRun{
		ID:               runID,
		StartedAt:        startedAt,
		ExclusionApplied: tiConfig.HasExclusion(),
		RequestedBy:      input.RequestedBy,
	}
	if tiConfig.MinConfidence != nil {
		run.MinConfidence = *tiConfig.MinConfidence
	}

	log := h.logger.WithFields(map[string]interface{}{"runId": runID})

	ips, err := h.fetch(ctx, run)
	run.FinishedAt = h.now()

	if err != nil {
		stdErr, reason := classifyError(err)
		metrics.ThreatIntelQueryFailures.WithLabelValues(reason).Inc()

		run.Status = models.RunStatusFailed
		run.ErrorCode = string(stdErr.Code)
		run.ErrorMessage = err.Error()
		if recErr := h.recordRun(ctx, run); recErr != nil {
			log.Warn("failed to record failed run", map[string]interface{}{"error": recErr})
		}

		return nil, stdErr.WithMetadata("runId", runID)
	}

	run.Status = models.RunStatusSucceeded
	run.IPCount = len(ips)
	if err := h.recordRun(ctx, run); err != nil {
		return nil, apperrors.NewRunHistoryWriteFailedError(err).WithMetadata("runId", runID)
	}

	metrics.ThreatIntelIPsReturned.Set(float64(len(ips)))
	h.obs.RecordIPCount(ctx, len(ips), run.ExclusionApplied)

	output := &Output{
		IPs:              ips,
		Count:            len(ips),
		RunID:            runID,
		FetchedAt:        run.FinishedAt.Format(time.RFC3339),
		ExclusionApplied: run.ExclusionApplied,
	}

	if h.shouldPublish(input) {
		snapshot := models.IPSnapshot{
			RunID:            runID,
			FetchedAt:        run.FinishedAt,
			IPs:              ips,
			Count:            len(ips),
			ExclusionApplied: run.ExclusionApplied,
			MinConfidence:    run.MinConfidence,
		}
		if err := h.publisher.PublishSnapshot(ctx, snapshot, h.config.SnapshotTTL); err != nil {
			return nil, apperrors.NewSnapshotPublishFailedError(err).WithMetadata("runId", runID)
		}
		output.SnapshotPublished = true
	}

	log.Info("threat intel IPs fetched", map[string]interface{}{
		"count":             output.Count,
		"exclusionApplied":  output.ExclusionApplied,
		"snapshotPublished": output.SnapshotPublished,
	})

	return output, nil
}

func (h *Handler) fetch(ctx context.Context, run models.ThreatIntelRun) ([]string, error) {
	queryCtx, cancel := context.WithTimeout(ctx, h.config.QueryTimeout)
	defer cancel()

	queryCtx, span := h.obs.StartSpan(queryCtx, "threatintel.query",
		attribute.String("run.id", run.ID),
		attribute.Int("min_confidence", run.MinConfidence),
		attribute.Bool("exclusion", run.ExclusionApplied),
	)
	defer span.End()

	start := time.Now()
	ips, err := h.source.GetCurrentThreatIntelIPs(queryCtx)
	metrics.ThreatIntelQueryDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		if queryCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return nil, &queryTimeoutError{timeout: h.config.QueryTimeout, cause: err}
		}
		return nil, err
	}

	span.SetAttributes(attribute.Int("ip.count", len(ips)))
	return ips, nil
}

func (h *Handler) recordRun(ctx context.Context, run models.ThreatIntelRun) error {
	if h.db == nil {
		return nil
	}
	return queries.RecordRun(ctx, h.db, run)
}

func (h *Handler) shouldPublish(input *Input) bool {
	if h.publisher == nil {
		return false
	}
	if input.PublishSnapshot != nil {
		return *input.PublishSnapshot
	}
	return h.config.PublishByDefault
}

type queryTimeoutError struct {
	timeout time.Duration
	cause   error
}

func (e *queryTimeoutError) Error() string {
	return "query timed out after " + e.timeout.String() + ": " + e.cause.Error()
}

func (e *queryTimeoutError) Unwrap() error {
	return e.cause
}

// classifyError maps core errors to worker error codes plus a metrics label.
func classifyError(err error) (*apperrors.StandardError, string) {
	var timeoutErr *queryTimeoutError
	switch {
	case errors.Is(err, threatintel.ErrInvalidConfiguration):
		return apperrors.NewThreatIntelConfigInvalidError(err), "config"
	case errors.Is(err, threatintel.ErrSchemaMismatch):
		return apperrors.NewThreatIntelSchemaMismatchError(err), "schema"
	case errors.Is(err, threatintel.ErrQueryExecution):
		return apperrors.NewThreatIntelQueryFailedError(err), "service"
	case errors.As(err, &timeoutErr):
		return apperrors.NewThreatIntelQueryTimeoutError(timeoutErr.timeout), "timeout"
	default:
		return apperrors.NewLogAnalyticsUnavailableError(err), "transport"
	}
}

func (h *Handler) fail(ctx context.Context, client worker.JobClient, job entities.Job, err error, startTime time.Time) {
	stdErr := apperrors.Normalize(err)
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(stdErr.Code)).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(startTime).Seconds())
	h.obs.RecordJobProcessed(ctx, "failed")
	h.obs.RecordJobDuration(ctx, time.Since(startTime), "failed")

	h.errHandler.HandleJobError(ctx, client, job, stdErr)
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err,
		})
	}
}

// Execute runs the job logic without a job client; used by tests and the
// one-shot tool.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if input == nil {
		input = &Input{}
	}
	return h.execute(ctx, input)
}
