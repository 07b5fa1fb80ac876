package transfer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/johndauphine/mongo-scrubber/internal/config"
)

type call struct {
	name string
	args []string
}

// fakeRunner records invocations and optionally creates the dump directory
// the real tool would write.
type fakeRunner struct {
	calls  []call
	err    error
	stderr string
	onRun  func(ctx context.Context, args []string)
}

func (f *fakeRunner) Run(ctx context.Context, name string, args []string) ([]byte, []byte, error) {
	f.calls = append(f.calls, call{name: name, args: args})
	if f.onRun != nil {
		f.onRun(ctx, args)
	}
	return []byte("done"), []byte(f.stderr), f.err
}

func argValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func hasArg(args []string, flag string) bool {
	for _, a := range args {
		if a == flag {
			return true
		}
	}
	return false
}

func dumpWriter(t *testing.T) func(context.Context, []string) {
	return func(_ context.Context, args []string) {
		dir := filepath.Join(argValue(args, "--out"), argValue(args, "--db"))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, "users.bson.gz"), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func testOptions(t *testing.T) Options {
	return Options{
		Dump:       "mongodump",
		Restore:    "mongorestore",
		StagingDir: t.TempDir(),
		Gzip:       true,
	}
}

func TestExportRenamesToBackupDir(t *testing.T) {
	opts := testOptions(t)
	runner := &fakeRunner{onRun: dumpWriter(t)}

	// stale output from an earlier run
	stale := filepath.Join(opts.StagingDir, "devexbackup", "old.bson")
	if err := os.MkdirAll(filepath.Dir(stale), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}

	ep := config.Endpoint{Host: "db.local", Port: 27018, Database: "devex", BackupDirname: "devexbackup"}
	dir, err := NewExporter(runner, opts).Export(context.Background(), ep)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	want := filepath.Join(opts.StagingDir, "devexbackup")
	if dir != want {
		t.Errorf("dir = %q, want %q", dir, want)
	}
	if _, err := os.Stat(filepath.Join(dir, "users.bson.gz")); err != nil {
		t.Errorf("dump not moved: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Errorf("stale dump should be removed, stat err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(opts.StagingDir, "devex")); !os.IsNotExist(err) {
		t.Errorf("intermediate dir should be gone, stat err = %v", err)
	}

	if len(runner.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(runner.calls))
	}
	c := runner.calls[0]
	if c.name != "mongodump" {
		t.Errorf("tool = %q", c.name)
	}
	if argValue(c.args, "--host") != "db.local" || argValue(c.args, "--port") != "27018" {
		t.Errorf("connection args = %v", c.args)
	}
	if argValue(c.args, "--db") != "devex" || argValue(c.args, "--out") != opts.StagingDir {
		t.Errorf("db/out args = %v", c.args)
	}
	if !hasArg(c.args, "--gzip") {
		t.Error("expected --gzip")
	}
	if hasArg(c.args, "--username") {
		t.Error("no credentials expected")
	}
}

func TestExportSameDirectorySkipsRename(t *testing.T) {
	opts := testOptions(t)
	runner := &fakeRunner{onRun: dumpWriter(t)}
	ep := config.Endpoint{Host: "h", Port: 1, Database: "devexbackup", BackupDirname: "devexbackup"}

	dir, err := NewExporter(runner, opts).Export(context.Background(), ep)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("dump dir missing: %v", err)
	}
}

func TestExportFailure(t *testing.T) {
	opts := testOptions(t)
	runner := &fakeRunner{err: errors.New("exit status 1"), stderr: "Failed: can't connect"}
	ep := config.Endpoint{Host: "h", Port: 1, Database: "devex", BackupDirname: "devexbackup"}

	_, err := NewExporter(runner, opts).Export(context.Background(), ep)
	var toolErr *ToolError
	if !errors.As(err, &toolErr) {
		t.Fatalf("expected *ToolError, got %v", err)
	}
	if toolErr.Op != "export" {
		t.Errorf("Op = %q", toolErr.Op)
	}
	if !strings.Contains(toolErr.Output, "can't connect") {
		t.Errorf("Output = %q", toolErr.Output)
	}
	if !strings.Contains(err.Error(), "can't connect") {
		t.Errorf("Error() should carry diagnostics: %q", err.Error())
	}
}

func TestImportArgs(t *testing.T) {
	opts := testOptions(t)
	opts.Gzip = false
	runner := &fakeRunner{}
	ep := config.Endpoint{Host: "h", Port: 27017, Database: "devexbackup", Username: "u", Password: "p"}

	if err := NewImporter(runner, opts).Import(context.Background(), ep, "/tmp/devexbackup"); err != nil {
		t.Fatalf("Import: %v", err)
	}
	c := runner.calls[0]
	if c.name != "mongorestore" {
		t.Errorf("tool = %q", c.name)
	}
	if argValue(c.args, "--dir") != "/tmp/devexbackup" || argValue(c.args, "--db") != "devexbackup" {
		t.Errorf("args = %v", c.args)
	}
	if argValue(c.args, "--username") != "u" || argValue(c.args, "--password") != "p" {
		t.Errorf("credential args = %v", c.args)
	}
	if hasArg(c.args, "--gzip") {
		t.Error("gzip disabled")
	}
}

func TestImportFailure(t *testing.T) {
	runner := &fakeRunner{err: errors.New("exit status 2")}
	err := NewImporter(runner, testOptions(t)).Import(context.Background(), config.Endpoint{Host: "h", Port: 1, Database: "d"}, "/x")

	var toolErr *ToolError
	if !errors.As(err, &toolErr) || toolErr.Op != "import" {
		t.Fatalf("expected import ToolError, got %v", err)
	}
}

func TestInvokeTimeout(t *testing.T) {
	opts := testOptions(t)
	opts.Timeout = time.Millisecond
	runner := &fakeRunner{}
	runner.onRun = func(ctx context.Context, _ []string) {
		<-ctx.Done()
		runner.err = ctx.Err()
	}

	err := NewImporter(runner, opts).Import(context.Background(), config.Endpoint{Host: "h", Port: 1, Database: "d"}, "/x")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestRedact(t *testing.T) {
	got := redact([]string{"--username", "u", "--password", "secret", "--db", "x"})
	if strings.Contains(strings.Join(got, " "), "secret") {
		t.Errorf("password leaked: %v", got)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	opts := OptionsFromConfig(config.ToolsConfig{Dump: "d", Restore: "r", StagingDir: "/s", DisableGzip: true})
	if opts.Gzip || opts.Dump != "d" || opts.Restore != "r" || opts.StagingDir != "/s" {
		t.Errorf("opts = %+v", opts)
	}
}
