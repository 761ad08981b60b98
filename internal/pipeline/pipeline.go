package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"time"

	chaterrors "github.com/chatdb/chatdb/internal/errors"
	"github.com/chatdb/chatdb/internal/nl2sql"
	"github.com/chatdb/chatdb/internal/observability"
	"github.com/chatdb/chatdb/internal/store"
	"github.com/chatdb/chatdb/internal/summarize"
)

// ModifyAck is the response text of a committed modify flow.
const ModifyAck = "Operation completed."

type Flow string

const (
	FlowQuery  Flow = "query"
	FlowModify Flow = "modify"
)

type Stage string

const (
	StageTranslation   Stage = "translation"
	StageExecution     Stage = "execution"
	StageSummarization Stage = "summarization"
)

// prefix names the phase that failed in user-facing messages.
func (s Stage) prefix() string {
	switch s {
	case StageTranslation:
		return "Error generating SQL"
	case StageExecution:
		return "Error executing SQL"
	case StageSummarization:
		return "Error generating summary"
	default:
		return "Error"
	}
}

type State string

const (
	StateReceived    State = "received"
	StateTranslating State = "translating"
	StateTranslated  State = "translated"
	StateExecuting   State = "executing"
	StateExecuted    State = "executed"
	StateSummarizing State = "summarizing"
	StateCompleted   State = "completed"
	StateFailed      State = "failed"
)

type OutcomeKind string

const (
	OutcomeSummary OutcomeKind = "summary"
	OutcomeAck     OutcomeKind = "ack"
	OutcomeFailure OutcomeKind = "failure"
)

// Outcome is the terminal result of one pipeline run. Kind selects which
// fields are meaningful: Text for summary and ack, Stage/Message/Err for
// failure.
type Outcome struct {
	Kind     OutcomeKind
	Flow     Flow
	Text     string
	SQL      string
	Rows     int
	Affected int64
	Degraded bool

	Stage   Stage
	Message string
	Err     error

	States   []State
	Duration time.Duration
}

func (o Outcome) Failed() bool { return o.Kind == OutcomeFailure }

type Executor interface {
	ExecuteRead(ctx context.Context, sqlText string) (store.ResultSet, error)
	ExecuteWrite(ctx context.Context, sqlText string) (store.CommitAck, error)
}

// Recorder receives every finished outcome. Implementations must not block.
type Recorder interface {
	Record(ctx context.Context, question string, outcome Outcome)
}

type Options struct {
	Logger   *slog.Logger
	Recorder Recorder
	// Timeout bounds a whole run when positive.
	Timeout time.Duration
}

type Orchestrator struct {
	translator nl2sql.Translator
	executor   Executor
	summarizer summarize.Summarizer
	logger     *slog.Logger
	recorder   Recorder
	timeout    time.Duration
}

func New(translator nl2sql.Translator, executor Executor, summarizer summarize.Summarizer, opts Options) (*Orchestrator, error) {
	if translator == nil {
		return nil, fmt.Errorf("translator is required")
	}
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if summarizer == nil {
		return nil, fmt.Errorf("summarizer is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Orchestrator{
		translator: translator,
		executor:   executor,
		summarizer: summarizer,
		logger:     logger,
		recorder:   opts.Recorder,
		timeout:    opts.Timeout,
	}, nil
}

// RunQuery answers a read-only question in prose.
func (o *Orchestrator) RunQuery(ctx context.Context, question string) Outcome {
	return o.run(ctx, FlowQuery, question)
}

// RunModify translates and commits a mutating request.
func (o *Orchestrator) RunModify(ctx context.Context, question string) Outcome {
	return o.run(ctx, FlowModify, question)
}

func (o *Orchestrator) run(ctx context.Context, flow Flow, question string) Outcome {
	start := time.Now()
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	out := Outcome{Flow: flow, States: []State{StateReceived}}
	o.advance(ctx, flow, question, &out)
	out.Duration = time.Since(start)

	o.finish(ctx, question, out)
	return out
}

func (o *Orchestrator) advance(ctx context.Context, flow Flow, question string, out *Outcome) {
	var stmt nl2sql.Statement
	err := o.stage(out, StageTranslation, StateTranslating, func() error {
		var err error
		stmt, err = o.translator.Translate(ctx, nl2sql.Request{Question: question})
		return err
	})
	if err != nil {
		return
	}
	out.SQL = stmt.SQL
	out.States = append(out.States, StateTranslated)

	if flow == FlowModify {
		var ack store.CommitAck
		if err := o.stage(out, StageExecution, StateExecuting, func() error {
			var err error
			ack, err = o.executor.ExecuteWrite(ctx, stmt.SQL)
			return err
		}); err != nil {
			return
		}
		out.Affected = ack.RowsAffected
		out.States = append(out.States, StateExecuted, StateCompleted)
		out.Kind = OutcomeAck
		out.Text = ModifyAck
		return
	}

	var rows store.ResultSet
	if err := o.stage(out, StageExecution, StateExecuting, func() error {
		var err error
		rows, err = o.executor.ExecuteRead(ctx, stmt.SQL)
		return err
	}); err != nil {
		return
	}
	out.Rows = rows.Len()
	out.States = append(out.States, StateExecuted)

	var summary summarize.Summary
	if err := o.stage(out, StageSummarization, StateSummarizing, func() error {
		var err error
		summary, err = o.summarizer.Summarize(ctx, rows.Serialize())
		return err
	}); err != nil {
		return
	}
	if summary.Degraded {
		observability.IncrementRateLimited()
	}
	out.States = append(out.States, StateCompleted)
	out.Kind = OutcomeSummary
	out.Text = summary.Text
	out.Degraded = summary.Degraded
}

// stage enters state, runs fn and turns its error into a terminal failure.
func (o *Orchestrator) stage(out *Outcome, stage Stage, state State, fn func() error) error {
	out.States = append(out.States, state)
	start := time.Now()
	err := o.call(stage, fn)
	observability.ObserveStage(string(stage), time.Since(start), err != nil)
	if err != nil {
		out.States = append(out.States, StateFailed)
		out.Kind = OutcomeFailure
		out.Stage = stage
		out.Err = err
		out.Message = fmt.Sprintf("%s: %s", stage.prefix(), err.Error())
	}
	return err
}

// call runs fn and reports a panic as an error of the stage's kind.
func (o *Orchestrator) call(stage Stage, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("pipeline_stage_panic",
				slog.String("stage", string(stage)),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = chaterrors.New(chaterrors.Kind(stage), fmt.Sprintf("internal error: %v", r))
		}
	}()
	return fn()
}

func (o *Orchestrator) finish(ctx context.Context, question string, out Outcome) {
	observability.ObservePipelineRun(string(out.Flow), string(out.Kind))

	traceID := observability.TraceIDFromContext(ctx)
	if out.Failed() {
		o.logger.WarnContext(ctx, "pipeline_failed",
			slog.String("trace_id", traceID),
			slog.String("flow", string(out.Flow)),
			slog.String("stage", string(out.Stage)),
			slog.String("sql", out.SQL),
			slog.String("duration", out.Duration.String()),
			slog.String("error", out.Message),
		)
	} else {
		o.logger.InfoContext(ctx, "pipeline_completed",
			slog.String("trace_id", traceID),
			slog.String("flow", string(out.Flow)),
			slog.String("outcome", string(out.Kind)),
			slog.Int("rows", out.Rows),
			slog.Bool("degraded", out.Degraded),
			slog.String("duration", out.Duration.String()),
		)
	}

	if o.recorder != nil {
		o.recorder.Record(ctx, question, out)
	}
}
