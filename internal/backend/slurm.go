package backend

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spool-sh/spool/internal/record"
)

// TypeSlurm is the type tag of the Slurm batch-scheduler backend.
const TypeSlurm = "slurm"

// Slurm submits tasks to the Slurm queue. Unlike screen, the scheduler
// hands the job id back directly (sbatch --parsable), so there is no
// listing diff; activity is a fresh squeue probe for that id.
type Slurm struct {
	runner Runner
	log    *slog.Logger
}

// NewSlurm builds the slurm backend with the real exec runner.
func NewSlurm() Backend {
	return &Slurm{runner: ExecRunner{}, log: slog.Default().With("backend", TypeSlurm)}
}

// NewSlurmWithRunner is NewSlurm with an injected runner, for tests.
func NewSlurmWithRunner(r Runner) *Slurm {
	return &Slurm{runner: r, log: slog.Default().With("backend", TypeSlurm)}
}

func (b *Slurm) Type() string { return TypeSlurm }

func (b *Slurm) Submit(ctx context.Context, j *Job) error {
	if err := validateJob(TypeSlurm, "submit", j, false); err != nil {
		return err
	}
	logPath := filepath.Join(j.Dir, BackendLogFilename)
	record.Set(j.Node.Meta(), logPath, "log_path")
	record.Set(j.Node.Meta(), j.Command, "start_command")

	args := []string{"--parsable", "--output", logPath, "--job-name", "spool-" + j.ID}
	args = append(args, j.Options()...)
	args = append(args, "--wrap", j.Command)

	out, err := b.runner.Run(ctx, "sbatch", args...)
	if err != nil {
		return &Error{Backend: TypeSlurm, Op: "submit", Err: err}
	}
	// --parsable prints "jobid" or "jobid;cluster".
	id, _, _ := strings.Cut(strings.TrimSpace(out), ";")
	if id == "" {
		return &Error{Backend: TypeSlurm, Op: "submit", Err: fmt.Errorf("sbatch returned no job id: %q", out)}
	}
	j.SetBackendID(id)
	b.log.Debug("submitted slurm job", "task", j.ID, "job", id)
	return nil
}

func (b *Slurm) Term(ctx context.Context, j *Job) error {
	if err := validateJob(TypeSlurm, "term", j, true); err != nil {
		return err
	}
	id, _ := j.BackendID()
	if _, err := b.runner.Run(ctx, "scancel", id); err != nil {
		return &Error{Backend: TypeSlurm, Op: "term", Err: err}
	}
	return nil
}

func (b *Slurm) Kill(ctx context.Context, j *Job) error {
	if err := validateJob(TypeSlurm, "kill", j, true); err != nil {
		return err
	}
	id, _ := j.BackendID()
	if _, err := b.runner.Run(ctx, "scancel", "--signal=KILL", id); err != nil {
		return &Error{Backend: TypeSlurm, Op: "kill", Err: err}
	}
	return nil
}

func (b *Slurm) IsActive(ctx context.Context, j *Job) (bool, error) {
	if err := validateJob(TypeSlurm, "is_active", j, false); err != nil {
		return false, err
	}
	id, ok := j.BackendID()
	if !ok || id == "" {
		return false, nil
	}
	out, err := b.runner.Run(ctx, "squeue", "-h", "-o", "%A", "-j", id)
	if err != nil {
		// squeue fails for ids it no longer knows; that is "inactive",
		// not an error, once the job left the queue.
		if strings.Contains(out+err.Error(), "Invalid job id") {
			return false, nil
		}
		return false, &Error{Backend: TypeSlurm, Op: "is_active", Err: err}
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == id {
			return true, nil
		}
	}
	return false, nil
}

func init() { Register(TypeSlurm, NewSlurm) }
