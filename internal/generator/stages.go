package generator

import (
	"context"
	"errors"
	"fmt"
	"time"

	ferrors "git.home.luguber.info/inful/stalagmite/internal/foundation/errors"
	"git.home.luguber.info/inful/stalagmite/internal/logfields"
	"git.home.luguber.info/inful/stalagmite/internal/metrics"
)

// Stage is a discrete unit of work in a generation run.
type Stage func(ctx context.Context, bs *buildState) error

// StageErrorKind enumerates structured stage error categories.
type StageErrorKind string

const (
	StageErrorFatal    StageErrorKind = "fatal"    // Run must abort.
	StageErrorWarning  StageErrorKind = "warning"  // Non-fatal; record and continue.
	StageErrorCanceled StageErrorKind = "canceled" // Context cancellation.
)

// StageError is a structured error carrying category and underlying cause.
type StageError struct {
	Kind  StageErrorKind
	Stage StageName
	Err   error
}

func (e *StageError) Error() string { return fmt.Sprintf("%s stage %s: %v", e.Kind, e.Stage, e.Err) }
func (e *StageError) Unwrap() error { return e.Err }

func newFatalStageError(stage StageName, err error) *StageError {
	return &StageError{Kind: StageErrorFatal, Stage: stage, Err: err}
}
func newWarnStageError(stage StageName, err error) *StageError {
	return &StageError{Kind: StageErrorWarning, Stage: stage, Err: err}
}
func newCanceledStageError(stage StageName, err error) *StageError {
	return &StageError{Kind: StageErrorCanceled, Stage: stage, Err: err}
}

// classifyStageError wraps err in a StageError according to its
// classification. Unknown errors are fatal.
func classifyStageError(ctx context.Context, stage StageName, err error) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || ferrors.HasCategory(err, ferrors.CategoryCanceled) {
		return newCanceledStageError(stage, err)
	}
	if ce, ok := ferrors.AsClassified(err); ok && ce.Severity() == ferrors.SeverityWarning {
		return newWarnStageError(stage, err)
	}
	return newFatalStageError(stage, err)
}

// runStages executes stages in order, recording timing and stopping on the
// first fatal or canceled stage.
func runStages(ctx context.Context, bs *buildState, stages []StageDef) error {
	rec := bs.recorder
	for _, st := range stages {
		select {
		case <-ctx.Done():
			se := newCanceledStageError(st.Name, ctx.Err())
			bs.report.Errors = append(bs.report.Errors, se)
			bs.report.StageErrorKinds[st.Name] = se.Kind
			rec.IncStageResult(string(st.Name), metrics.ResultCanceled)
			return se
		default:
		}

		t0 := time.Now()
		err := st.Fn(ctx, bs)
		dur := time.Since(t0)
		bs.report.StageDurations[string(st.Name)] = dur
		rec.ObserveStageDuration(string(st.Name), dur)

		sc := bs.report.StageCounts[st.Name]
		if err == nil {
			sc.Success++
			bs.report.StageCounts[st.Name] = sc
			rec.IncStageResult(string(st.Name), metrics.ResultSuccess)
			bs.logger.Debug("Stage complete", logfields.Stage(string(st.Name)), logfields.DurationMS(float64(dur.Microseconds())/1000))
			continue
		}

		se := classifyStageError(ctx, st.Name, err)
		bs.report.StageErrorKinds[st.Name] = se.Kind
		switch se.Kind {
		case StageErrorWarning:
			sc.Warning++
			bs.report.StageCounts[st.Name] = sc
			bs.report.Warnings = append(bs.report.Warnings, se)
			rec.IncStageResult(string(st.Name), metrics.ResultWarning)
			bs.logger.Warn("Stage completed with warnings", logfields.Stage(string(st.Name)), logfields.Error(se.Err))
			continue
		case StageErrorCanceled:
			sc.Canceled++
			bs.report.StageCounts[st.Name] = sc
			bs.report.Errors = append(bs.report.Errors, se)
			rec.IncStageResult(string(st.Name), metrics.ResultCanceled)
			return se
		default:
			sc.Fatal++
			bs.report.StageCounts[st.Name] = sc
			bs.report.Errors = append(bs.report.Errors, se)
			rec.IncStageResult(string(st.Name), metrics.ResultFatal)
			return se
		}
	}
	return nil
}
