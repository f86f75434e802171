// Package runner implements the batch subcommand: it runs N
// independent .luac files concurrently, one vm.State per file, per
// spec.md §5's explicit allowance for independent VMs to run in
// separate threads. Grounded on the teacher pack's errgroup fan-out
// pattern (internal/frontend/urls.go's URLs, cmd/zb/serve_ui.go).
package runner

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"zombiezen.com/go/log"

	"github.com/speedata/go-lua54vm/chunk"
	"github.com/speedata/go-lua54vm/errs"
	"github.com/speedata/go-lua54vm/value"
	"github.com/speedata/go-lua54vm/vm"
)

// Result is one file's outcome: either Values is populated or Err is.
type Result struct {
	File   string
	RunID  string
	Values []value.Value
	Err    error
}

// RunOne loads and runs a single .luac file, tagging the attempt with
// a fresh run ID for log correlation.
func RunOne(ctx context.Context, file string) Result {
	runID := uuid.New().String()
	log.Debugf(ctx, "run %s: loading %s", runID, file)
	f, err := os.Open(file)
	if err != nil {
		return Result{File: file, RunID: runID, Err: &errs.RunError{RunID: runID, File: file, Err: err}}
	}
	defer f.Close()

	p, err := chunk.Load(f, file)
	if err != nil {
		return Result{File: file, RunID: runID, Err: &errs.RunError{RunID: runID, File: file, Err: err}}
	}
	values, err := vm.Run(p)
	if err != nil {
		log.Errorf(ctx, "run %s: %s: %v", runID, file, err)
		return Result{File: file, RunID: runID, Err: &errs.RunError{RunID: runID, File: file, Err: err}}
	}
	log.Debugf(ctx, "run %s: %s completed with %d result value(s)", runID, file, len(values))
	return Result{File: file, RunID: runID, Values: values}
}

// Batch runs every file in files concurrently (bounded by limit
// in-flight at once) and returns one Result per file, in input order.
// The first failing run's error is also returned directly so the CLI
// can set a non-zero exit code without scanning every Result.
func Batch(ctx context.Context, files []string, limit int) ([]Result, error) {
	results := make([]Result, len(files))
	grp, grpCtx := errgroup.WithContext(ctx)
	if limit > 0 {
		grp.SetLimit(limit)
	}
	for i, file := range files {
		i, file := i, file
		grp.Go(func() error {
			r := RunOne(grpCtx, file)
			results[i] = r
			return r.Err
		})
	}
	if err := grp.Wait(); err != nil {
		return results, fmt.Errorf("batch: %w", err)
	}
	return results, nil
}
