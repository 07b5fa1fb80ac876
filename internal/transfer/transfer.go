// Package transfer drives the external dump and restore tools that move a
// database between a MongoDB server and the filesystem staging area.
package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/johndauphine/mongo-scrubber/internal/config"
	"github.com/johndauphine/mongo-scrubber/internal/logging"
)

// Runner executes an external program and returns its captured output.
type Runner interface {
	Run(ctx context.Context, name string, args []string) (stdout, stderr []byte, err error)
}

// ExecRunner runs programs with os/exec.
type ExecRunner struct{}

// Run starts name with args and waits for it to exit.
func (ExecRunner) Run(ctx context.Context, name string, args []string) ([]byte, []byte, error) {
	var outbuf, errbuf bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &outbuf
	cmd.Stderr = &errbuf
	err := cmd.Run()
	return outbuf.Bytes(), errbuf.Bytes(), err
}

// ToolError is returned when a dump or restore invocation fails. Output
// holds the tool's combined diagnostics, unparsed.
type ToolError struct {
	Op     string // "export" or "import"
	Tool   string
	Output string
	Err    error
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s failed: %s: %v", e.Op, e.Tool, e.Err)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *ToolError) Unwrap() error { return e.Err }

// Options configures both adapters.
type Options struct {
	Dump       string
	Restore    string
	StagingDir string
	Gzip       bool
	// Timeout bounds a single tool invocation. Zero means no limit.
	Timeout time.Duration
}

// OptionsFromConfig maps the tools section of the configuration.
func OptionsFromConfig(cfg config.ToolsConfig) Options {
	return Options{
		Dump:       cfg.Dump,
		Restore:    cfg.Restore,
		StagingDir: cfg.StagingDir,
		Gzip:       !cfg.DisableGzip,
		Timeout:    cfg.Timeout,
	}
}

// Exporter dumps one database into the staging area.
type Exporter struct {
	runner Runner
	opts   Options
}

// NewExporter creates an exporter. A nil runner uses ExecRunner.
func NewExporter(runner Runner, opts Options) *Exporter {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Exporter{runner: runner, opts: opts}
}

// Export dumps ep.Database and returns the final dump directory. The tool
// writes <staging>/<database>, which is then renamed to
// <staging>/<backup dirname>. Stale directories from earlier runs are
// removed first.
func (e *Exporter) Export(ctx context.Context, ep config.Endpoint) (string, error) {
	intermediate := filepath.Join(e.opts.StagingDir, ep.Database)
	final := intermediate
	if ep.BackupDirname != "" {
		final = filepath.Join(e.opts.StagingDir, ep.BackupDirname)
	}

	for _, dir := range []string{intermediate, final} {
		if err := os.RemoveAll(dir); err != nil {
			return "", fmt.Errorf("removing stale dump %s: %w", dir, err)
		}
	}

	args := append(connectionArgs(ep), "--db", ep.Database, "--out", e.opts.StagingDir)
	if e.opts.Gzip {
		args = append(args, "--gzip")
	}

	logging.Info("Exporting %s from %s to %s", ep.Database, ep.Address(), final)
	if err := invoke(ctx, e.runner, "export", e.opts.Dump, args, e.opts.Timeout); err != nil {
		return "", err
	}

	if final != intermediate {
		if err := os.Rename(intermediate, final); err != nil {
			return "", fmt.Errorf("moving dump %s to %s: %w", intermediate, final, err)
		}
	}
	logging.Success("Exported %s to %s", ep.Database, final)
	return final, nil
}

// Importer restores a dump directory into one database.
type Importer struct {
	runner Runner
	opts   Options
}

// NewImporter creates an importer. A nil runner uses ExecRunner.
func NewImporter(runner Runner, opts Options) *Importer {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Importer{runner: runner, opts: opts}
}

// Import restores dir into ep.Database.
func (i *Importer) Import(ctx context.Context, ep config.Endpoint, dir string) error {
	args := append(connectionArgs(ep), "--db", ep.Database, "--dir", dir)
	if i.opts.Gzip {
		args = append(args, "--gzip")
	}

	logging.Info("Importing %s into %s on %s", dir, ep.Database, ep.Address())
	if err := invoke(ctx, i.runner, "import", i.opts.Restore, args, i.opts.Timeout); err != nil {
		return err
	}
	logging.Success("Imported %s into %s", dir, ep.Database)
	return nil
}

func connectionArgs(ep config.Endpoint) []string {
	args := []string{"--host", ep.Host, "--port", strconv.Itoa(ep.Port)}
	if ep.HasCredentials() {
		args = append(args, "--username", ep.Username, "--password", ep.Password)
	}
	return args
}

func invoke(ctx context.Context, runner Runner, op, tool string, args []string, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	logging.Debug("Running command: %s %s", tool, strings.Join(redact(args), " "))
	stdout, stderr, err := runner.Run(ctx, tool, args)
	if len(stdout) > 0 {
		logging.Info("STDOUT >\n%s", stdout)
	}
	if len(stderr) > 0 {
		logging.Info("STDERR >\n%s", stderr)
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", timeout, err)
		}
		return &ToolError{
			Op:     op,
			Tool:   tool,
			Output: string(stdout) + string(stderr),
			Err:    err,
		}
	}
	return nil
}

func redact(args []string) []string {
	out := make([]string, len(args))
	copy(out, args)
	for i := 0; i < len(out)-1; i++ {
		if out[i] == "--password" {
			out[i+1] = "xxxxx"
		}
	}
	return out
}
