package scheduler

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/trapline/internal/domain"
)

// PipelineJob runs the EOD decision batch and delivers the daily
// report. The pipeline owns its error handling; this job only wires
// the result to the reporter and the notifier.
type PipelineJob struct {
	log      zerolog.Logger
	runner   DecisionRunner
	reporter ReportRenderer
	notifier domain.Notifier
}

// PipelineConfig holds the pipeline job dependencies.
type PipelineConfig struct {
	Log      zerolog.Logger
	Runner   DecisionRunner
	Reporter ReportRenderer
	Notifier domain.Notifier
}

// NewPipelineJob creates the EOD pipeline job.
func NewPipelineJob(cfg PipelineConfig) *PipelineJob {
	return &PipelineJob{
		log:      cfg.Log.With().Str("job", "eod_pipeline").Logger(),
		runner:   cfg.Runner,
		reporter: cfg.Reporter,
		notifier: cfg.Notifier,
	}
}

// Name returns the job name.
func (j *PipelineJob) Name() string {
	return "eod_pipeline"
}

// Run executes the batch and sends the report. A failed delivery is
// logged but does not fail the run: the decisions are already
// journaled and the report is reproducible from them.
func (j *PipelineJob) Run() error {
	result, err := j.runner.Run()
	if err != nil {
		return fmt.Errorf("pipeline run failed: %w", err)
	}

	j.log.Info().
		Str("run_id", result.Run.ID).
		Int("signals", result.Run.Signals).
		Int("assets", result.Run.AssetsTotal).
		Msg("Pipeline run completed")

	text := j.reporter.Render(result)
	if text == "" {
		return nil
	}
	if err := j.notifier.SendReport(text); err != nil {
		j.log.Error().Err(err).Msg("Report delivery failed")
	}
	return nil
}
