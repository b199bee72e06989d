// Package executor drives one backup run against one device: connect,
// authenticate, run the profile steps in order, download the artifact and
// close the session.
package executor

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/yourusername/network-backup-manager/internal/backuperr"
	"github.com/yourusername/network-backup-manager/internal/logging"
	"github.com/yourusername/network-backup-manager/internal/models"
	"github.com/yourusername/network-backup-manager/internal/profile"
	"github.com/yourusername/network-backup-manager/internal/transport"
)

// State is a position in the run state machine.
type State string

const (
	StateIdle           State = "idle"
	StateConnecting     State = "connecting"
	StateAuthenticating State = "authenticating"
	StateExecuting      State = "executing"
	StateDownloading    State = "downloading"
	StateClosing        State = "closing"
	StateSucceeded      State = "succeeded"
	StateFailed         State = "failed"
)

// Transition is one entry in the state trace. Step is 1-based and only set
// for executing and downloading.
type Transition struct {
	State State     `json:"state"`
	Step  int       `json:"step,omitempty"`
	At    time.Time `json:"at"`
}

// Artifact is a verified configuration backup held in memory.
type Artifact struct {
	FileName string
	Data     []byte
	Size     int64
	Checksum string
	Source   string
}

// Result is the outcome of one run.
type Result struct {
	EquipmentID string
	Profile     string
	Artifact    *Artifact
	Err         error
	Trace       []Transition
	StartedAt   time.Time
	FinishedAt  time.Time
	// CleanupErrors lists cleanup steps that failed. They never fail the run.
	CleanupErrors []string
}

// Succeeded reports whether the run produced an artifact.
func (r *Result) Succeeded() bool {
	return r.Err == nil && r.Artifact != nil
}

// States returns the trace as a list of states.
func (r *Result) States() []State {
	out := make([]State, len(r.Trace))
	for i, t := range r.Trace {
		out[i] = t.State
	}
	return out
}

// Options configures timeouts.
type Options struct {
	StepTimeout      time.Duration
	ExecutionTimeout time.Duration
	CleanupTimeout   time.Duration
}

// Executor runs backups. It is safe for concurrent use; each Run owns its
// own session.
type Executor struct {
	registry *profile.Registry
	opener   transport.Opener
	opts     Options
	now      func() time.Time
}

// New creates an Executor.
func New(registry *profile.Registry, opener transport.Opener, opts Options) *Executor {
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 60 * time.Second
	}
	if opts.ExecutionTimeout <= 0 {
		opts.ExecutionTimeout = 10 * time.Minute
	}
	if opts.CleanupTimeout <= 0 {
		opts.CleanupTimeout = 10 * time.Second
	}
	return &Executor{registry: registry, opener: opener, opts: opts, now: time.Now}
}

// Preflight resolves the profile and checks access without touching the
// network.
func (e *Executor) Preflight(equipment *models.Equipment) (profile.Profile, error) {
	prof, ok := e.registry.Resolve(equipment.Type)
	if !ok {
		return profile.Profile{}, backuperr.Configuration("executor.preflight", "no backup profile for equipment type %q", equipment.Type)
	}
	if err := transport.CheckAccess(prof.ConnectionType, equipment); err != nil {
		return profile.Profile{}, err
	}
	if len(prof.Steps) == 0 {
		return profile.Profile{}, backuperr.Configuration("executor.preflight", "profile %s has no steps", prof.Name)
	}
	return prof, nil
}

// Run executes the backup sequence for equipment. It never panics and always
// returns a Result; Result.Err carries a *backuperr.Error on failure.
func (e *Executor) Run(ctx context.Context, equipment *models.Equipment) *Result {
	r := &run{
		exec:      e,
		equipment: equipment,
		result:    &Result{EquipmentID: equipment.ID, StartedAt: e.now().UTC()},
		log:       logging.Component("executor").With("equipment_id", equipment.ID),
	}
	r.baseName = ArtifactBaseName(equipment, r.result.StartedAt)
	r.enter(StateIdle, 0)
	r.execute(ctx)
	r.result.FinishedAt = e.now().UTC()

	if r.result.Err != nil {
		r.log.Warn("backup_failed",
			"profile", r.result.Profile,
			"error_kind", backuperr.KindOf(r.result.Err),
			"step", backuperr.StepOf(r.result.Err),
			"error", r.result.Err,
		)
	} else {
		r.log.Info("backup_captured",
			"profile", r.result.Profile,
			"file_name", r.result.Artifact.FileName,
			"bytes", r.result.Artifact.Size,
			"duration_ms", r.result.FinishedAt.Sub(r.result.StartedAt).Milliseconds(),
		)
	}
	return r.result
}

type run struct {
	exec      *Executor
	equipment *models.Equipment
	result    *Result
	log       *slog.Logger
	baseName  string

	activeStep    int
	authenticated bool
}

func (r *run) enter(state State, step int) {
	r.result.Trace = append(r.result.Trace, Transition{State: state, Step: step, At: r.exec.now().UTC()})
	r.activeStep = step
}

func (r *run) execute(parent context.Context) {
	prof, err := r.exec.Preflight(r.equipment)
	if err != nil {
		r.fail(err)
		return
	}
	r.result.Profile = prof.Name

	session, err := r.exec.opener.Open(prof, r.equipment)
	if err != nil {
		r.fail(backuperr.Configuration("executor.open", "%v", err))
		return
	}

	ctx, cancel := context.WithTimeout(parent, r.exec.opts.ExecutionTimeout)
	defer cancel()

	artifact, runErr := r.drive(ctx, session, prof)
	r.close(session, prof)

	if runErr != nil {
		r.fail(runErr)
		return
	}
	r.result.Artifact = artifact
	r.enter(StateSucceeded, 0)
}

func (r *run) fail(err error) {
	r.result.Err = err
	r.result.Artifact = nil
	r.enter(StateFailed, 0)
}

// drive runs everything between Idle and Closing. Panics inside a transport
// become failures of the active step.
func (r *run) drive(ctx context.Context, session transport.Session, prof profile.Profile) (artifact *Artifact, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Warn("executor_panic", "panic", rec)
			if step := r.activeStep; step > 0 {
				err = backuperr.Execution("executor.step", step, "", fmt.Errorf("step aborted: %v", rec))
			} else {
				err = backuperr.Connectivity("executor.session", fmt.Errorf("session aborted: %v", rec))
			}
			artifact = nil
		}
	}()

	r.enter(StateConnecting, 0)
	if err := session.Connect(ctx); err != nil {
		return nil, backuperr.Connectivity("executor.connect", r.timeoutOr(ctx, err))
	}

	r.enter(StateAuthenticating, 0)
	if err := session.Authenticate(ctx); err != nil {
		if errors.Is(err, transport.ErrAuthRejected) {
			return nil, backuperr.Authentication("executor.authenticate", err)
		}
		return nil, backuperr.Connectivity("executor.authenticate", r.timeoutOr(ctx, err))
	}
	r.authenticated = true

	vars := map[string]string{
		"name":     r.baseName,
		"username": r.equipment.SSH.Username,
		"password": r.equipment.SSH.Password,
	}
	if prof.ConnectionType == profile.HTTP {
		vars["username"] = r.equipment.HTTP.Username
		vars["password"] = r.equipment.HTTP.Password
	}

	for i, raw := range prof.Steps {
		index := i + 1
		step := profile.RenderStep(raw, vars)

		if step.ProducesArtifact() {
			r.enter(StateDownloading, index)
			artifact, err := r.download(ctx, session, step, index)
			if err != nil {
				return nil, err
			}
			artifact.FileName = r.baseName + prof.Extension(artifact.Source)
			return artifact, nil
		}

		r.enter(StateExecuting, index)
		if err := r.runStep(ctx, session, step, index); err != nil {
			return nil, err
		}
	}

	return nil, backuperr.Configuration("executor.steps", "profile %s produced no artifact", prof.Name)
}

func (r *run) stepContext(ctx context.Context, step profile.Step) (context.Context, context.CancelFunc) {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = r.exec.opts.StepTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func (r *run) runStep(ctx context.Context, session transport.Session, step profile.Step, index int) error {
	stepCtx, cancel := r.stepContext(ctx, step)
	defer cancel()

	output, err := session.RunStep(stepCtx, step)
	if err != nil {
		return backuperr.Execution("executor.step", index, output, r.stepErr(ctx, stepCtx, step, err))
	}
	if marker, found := step.FindErrorMarker(output); found {
		return backuperr.Execution("executor.step", index, output, fmt.Errorf("device reported %q for %s", marker, step.Describe()))
	}
	return nil
}

func (r *run) download(ctx context.Context, session transport.Session, step profile.Step, index int) (*Artifact, error) {
	stepCtx, cancel := r.stepContext(ctx, step)
	defer cancel()

	var buf bytes.Buffer
	hasher := sha256.New()
	transfer, err := session.Download(stepCtx, step, io.MultiWriter(&buf, hasher))
	if err != nil {
		switch {
		case errors.Is(err, transport.ErrChecksumMismatch):
			return nil, backuperr.Transfer("executor.download", err)
		case step.Kind == profile.KindCapture:
			return nil, backuperr.Execution("executor.capture", index, buf.String(), r.stepErr(ctx, stepCtx, step, err))
		default:
			return nil, backuperr.Transfer("executor.download", r.stepErr(ctx, stepCtx, step, err))
		}
	}

	if step.Kind == profile.KindCapture {
		if marker, found := step.FindErrorMarker(buf.String()); found {
			return nil, backuperr.Execution("executor.capture", index, buf.String(), fmt.Errorf("device reported %q for %s", marker, step.Describe()))
		}
	}

	size := int64(buf.Len())
	switch {
	case size == 0:
		return nil, backuperr.Transfer("executor.download", errors.New("artifact is empty"))
	case transfer.Bytes != size:
		return nil, backuperr.Transfer("executor.download", fmt.Errorf("received %d bytes but transport reported %d", size, transfer.Bytes))
	case transfer.Expected >= 0 && transfer.Expected != size:
		return nil, backuperr.Transfer("executor.download", fmt.Errorf("incomplete transfer: got %d of %d bytes", size, transfer.Expected))
	}

	streamed := hex.EncodeToString(hasher.Sum(nil))
	sum := sha256.Sum256(buf.Bytes())
	if hex.EncodeToString(sum[:]) != streamed {
		return nil, backuperr.Transfer("executor.download", transport.ErrChecksumMismatch)
	}

	source := transfer.Source
	if source == "" {
		source = step.Describe()
	}
	return &Artifact{Data: buf.Bytes(), Size: size, Checksum: streamed, Source: source}, nil
}

// stepErr names timeouts so they read clearly in history.
func (r *run) stepErr(runCtx, stepCtx context.Context, step profile.Step, err error) error {
	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		return fmt.Errorf("execution timeout during %s: %w", step.Describe(), err)
	case stepCtx.Err() == context.DeadlineExceeded:
		return fmt.Errorf("step timeout during %s: %w", step.Describe(), err)
	}
	return err
}

func (r *run) timeoutOr(ctx context.Context, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("timeout: %w", err)
	}
	return err
}

// close runs cleanup best-effort and always closes the session.
func (r *run) close(session transport.Session, prof profile.Profile) {
	r.enter(StateClosing, 0)
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Warn("executor_close_panic", "panic", rec)
		}
	}()
	defer session.Close()

	if !r.authenticated || len(prof.Cleanup) == 0 {
		return
	}

	vars := map[string]string{"name": r.baseName}
	for _, raw := range prof.Cleanup {
		step := profile.RenderStep(raw, vars)
		ctx, cancel := context.WithTimeout(context.Background(), r.exec.opts.CleanupTimeout)
		_, err := session.RunStep(ctx, step)
		cancel()
		if err != nil {
			r.result.CleanupErrors = append(r.result.CleanupErrors, fmt.Sprintf("%s: %v", step.Describe(), err))
		}
	}
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ArtifactBaseName builds the file name stem for a backup taken at t.
func ArtifactBaseName(equipment *models.Equipment, t time.Time) string {
	name := strings.Trim(unsafeName.ReplaceAllString(equipment.Name, "_"), "_")
	if name == "" {
		name = equipment.ID
	}
	return fmt.Sprintf("%s_%s", name, t.UTC().Format("20060102_150405"))
}
