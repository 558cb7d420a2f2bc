// Package analysis runs the upload, registration, inference and cleanup
// sequence for one user request.
package analysis

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"videoinsight/internal/logging"
	"videoinsight/internal/media"
	"videoinsight/internal/models"

	"github.com/google/uuid"
)

// Store persists uploads for the duration of a run.
type Store interface {
	Store(upload models.UploadedMedia) (*models.LocalMedia, error)
	Release(local *models.LocalMedia)
}

// Registrar makes a local file available to the provider.
type Registrar interface {
	Register(ctx context.Context, local *models.LocalMedia) (*models.RemoteMedia, error)
}

// Forgetter removes the provider copy after the run.
type Forgetter interface {
	Forget(ctx context.Context, remote *models.RemoteMedia)
}

// Agent answers a prompt about a registered video.
type Agent interface {
	Run(ctx context.Context, prompt string, media *models.RemoteMedia) (*models.AgentReply, error)
}

// Recorder persists finished runs.
type Recorder interface {
	Record(ctx context.Context, record *models.AnalysisRecord) error
}

// Observer receives every state transition of a run, terminal state included.
type Observer func(state models.RunState)

// Outcome is the result of one run: either Result or Failure is set.
type Outcome struct {
	RunID   string
	State   models.RunState
	Result  *models.AnalysisResult
	Failure *Failure
}

// Err returns the failure as an error, or nil on success.
func (o Outcome) Err() error {
	if o.Failure == nil {
		return nil
	}
	return o.Failure
}

type Options struct {
	// Timeout bounds a whole run; zero means no timeout.
	Timeout time.Duration
	// DeleteRemote removes the provider copy after the run when the registrar supports it.
	DeleteRemote bool
	Recorder     Recorder
	Logger       *slog.Logger
}

// Workflow wires the store, registrar and agent together.
type Workflow struct {
	store     Store
	registrar Registrar
	agent     Agent
	forgetter Forgetter
	recorder  Recorder
	timeout   time.Duration
	logger    *slog.Logger
	newRunID  func() string
}

func NewWorkflow(store Store, registrar Registrar, agent Agent, opts Options) *Workflow {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	w := &Workflow{
		store:     store,
		registrar: registrar,
		agent:     agent,
		recorder:  opts.Recorder,
		timeout:   opts.Timeout,
		logger:    logging.WithComponent(logger, "workflow"),
		newRunID:  uuid.NewString,
	}
	if opts.DeleteRemote {
		if f, ok := registrar.(Forgetter); ok {
			w.forgetter = f
		}
	}
	return w
}

// Analyze validates the query, composes the prompt and asks the agent. The
// agent's content is returned unchanged.
func (w *Workflow) Analyze(ctx context.Context, remote *models.RemoteMedia, query string) (*models.AnalysisResult, error) {
	prompt, err := BuildPrompt(query)
	if err != nil {
		return nil, newFailure(KindValidation, err)
	}
	reply, err := w.agent.Run(ctx, prompt, remote)
	if err != nil {
		return nil, newFailure(KindInference, err)
	}
	return &models.AnalysisResult{Content: reply.Content}, nil
}

// Run executes one full analysis. The scratch file is released before the
// terminal state is reported; no failure escapes as a panic or error return.
func (w *Workflow) Run(ctx context.Context, upload models.UploadedMedia, query string, observe Observer) Outcome {
	runID := w.newRunID()
	ctx = logging.ContextWithRunID(ctx, runID)
	logger := logging.WithRunID(w.logger, runID)
	notify := func(state models.RunState) {
		if observe != nil {
			observe(state)
		}
	}

	record := &models.AnalysisRecord{
		RunID:     runID,
		FileName:  upload.FileName,
		Extension: strings.ToLower(strings.TrimPrefix(upload.Extension, ".")),
		Size:      upload.Size,
		Query:     query,
		CreatedAt: time.Now().UTC(),
	}

	out := Outcome{RunID: runID}
	result, err := w.run(ctx, upload, query, notify, record)
	if err != nil {
		f, ok := AsFailure(err)
		if !ok {
			f = newFailure(KindIO, err)
		}
		out.State = models.StateFailed
		out.Failure = f
		record.ErrorKind = string(f.Kind)
		record.ErrorMessage = f.Err.Error()
		logger.Warn("analysis failed", "kind", f.Kind, "error", f.Err)
	} else {
		out.State = models.StateSucceeded
		out.Result = result
		record.Result = result.Content
		logger.Info("analysis succeeded", "chars", len(result.Content))
	}
	record.State = out.State
	record.FinishedAt = time.Now().UTC()
	notify(out.State)

	if w.recorder != nil {
		if err := w.recorder.Record(context.WithoutCancel(ctx), record); err != nil {
			logger.Warn("record analysis failed", "error", err)
		}
	}
	return out
}

func (w *Workflow) run(ctx context.Context, upload models.UploadedMedia, query string, notify Observer, record *models.AnalysisRecord) (*models.AnalysisResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, newFailure(KindValidation, ErrEmptyQuery)
	}
	if _, err := media.NormalizeExtension(upload.Extension); err != nil {
		return nil, newFailure(KindValidation, err)
	}
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	notify(models.StateUploading)
	local, err := w.store.Store(upload)
	if err != nil {
		if errors.Is(err, media.ErrTooLarge) || errors.Is(err, media.ErrEmptyUpload) || errors.Is(err, media.ErrUnsupportedExtension) {
			return nil, newFailure(KindValidation, err)
		}
		return nil, newFailure(KindIO, err)
	}
	defer w.store.Release(local)
	record.Size = local.Size

	remote, err := w.registrar.Register(ctx, local)
	if err != nil {
		return nil, newFailure(KindUpload, err)
	}
	record.RemoteName = remote.Name
	notify(models.StateRegistered)
	if w.forgetter != nil {
		defer w.forgetter.Forget(context.WithoutCancel(ctx), remote)
	}

	notify(models.StateAnalyzing)
	return w.Analyze(ctx, remote, query)
}
