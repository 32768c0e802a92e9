// Package compile is the driver: it discovers policy source files,
// renders each one against the definitions for every platform its
// headers target, and writes only the outputs that changed.
package compile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/aclforge/aclforge/internal/analysis"
	"github.com/aclforge/aclforge/internal/config"
	"github.com/aclforge/aclforge/internal/generator"
	"github.com/aclforge/aclforge/internal/logging"
	"github.com/aclforge/aclforge/internal/naming"
	"github.com/aclforge/aclforge/internal/policy"
)

// Job pairs one policy source file with the directory its rendered
// outputs belong in.
type Job struct {
	Input     string
	OutputDir string
}

// FileOutput is one rendered configuration destined for disk.
type FileOutput struct {
	Path string
	Text string
}

// DirIncluder resolves #include directives against a base directory.
type DirIncluder string

func (d DirIncluder) Include(name string) (string, error) {
	if filepath.IsAbs(name) || strings.Contains(name, "..") {
		return "", fmt.Errorf("include %q must be relative to the policy base", name)
	}
	data, err := os.ReadFile(filepath.Join(string(d), name))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Runner holds everything one compilation run needs: settings, the
// loaded definitions snapshot, and a logger.
type Runner struct {
	cfg  config.Config
	defs *naming.Definitions
	log  *logging.Logger
}

// NewRunner loads the definitions directory and prepares a run.
func NewRunner(cfg config.Config, log *logging.Logger) (*Runner, error) {
	if log == nil {
		log = logging.Default()
	}
	defs, err := naming.LoadDirectory(cfg.DefinitionsDirectory)
	if err != nil {
		return nil, fmt.Errorf("bad definitions directory %s: %w", cfg.DefinitionsDirectory, err)
	}
	return &Runner{cfg: cfg, defs: defs, log: log}, nil
}

// Run compiles every discovered policy file, in parallel, and writes
// the changed outputs. A single file's failure is logged and counted
// but never stops the others.
func (r *Runner) Run() error {
	var jobs []Job
	if r.cfg.PolicyFile != "" {
		r.log.Info("rendering one file", "policy", r.cfg.PolicyFile)
		jobs = []Job{{Input: r.cfg.PolicyFile, OutputDir: r.cfg.OutputDirectory}}
	} else {
		r.log.Info("finding policies", "base", r.cfg.BaseDirectory)
		var err error
		jobs, err = Discover(r.cfg.BaseDirectory, r.cfg.OutputDirectory, r.cfg.Recursive, r.cfg.IgnoreDirectories)
		if err != nil {
			return err
		}
		r.log.Info("policies found", "count", len(jobs))
	}

	outputs, failed := r.renderAll(jobs)

	if err := r.writeFiles(outputs); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d policy files failed", failed, len(jobs))
	}
	return nil
}

type renderResult struct {
	input   string
	outputs []FileOutput
	err     error
}

// renderAll fans the jobs out over a bounded worker pool and collects
// the changed outputs.
func (r *Runner) renderAll(jobs []Job) ([]FileOutput, int) {
	workers := r.cfg.MaxRenderers
	if workers > len(jobs) {
		workers = len(jobs)
	}
	if workers < 1 {
		workers = 1
	}

	jobCh := make(chan Job)
	resCh := make(chan renderResult)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobCh {
				outputs, err := r.RenderFile(j.Input, j.OutputDir)
				resCh <- renderResult{input: j.Input, outputs: outputs, err: err}
			}
		}()
	}
	go func() {
		for _, j := range jobs {
			jobCh <- j
		}
		close(jobCh)
		wg.Wait()
		close(resCh)
	}()

	var outputs []FileOutput
	failed := 0
	for res := range resCh {
		if res.err != nil {
			failed++
			r.log.Error("rendering failed", "policy", res.input, "error", res.err)
			continue
		}
		outputs = append(outputs, res.outputs...)
	}
	return outputs, failed
}

// RenderFile compiles one policy source file and returns the outputs
// whose on-disk content would change. A fully shaded policy under a
// shade check is skipped with a warning rather than failed.
func (r *Runner) RenderFile(inFile, outDir string) ([]FileOutput, error) {
	r.log.Debug("rendering file", "policy", inFile, "output", outDir)

	data, err := os.ReadFile(inFile)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", inFile, err)
	}

	pol, err := policy.Parse(string(data), policy.Options{
		Definitions: r.defs,
		Includer:    DirIncluder(r.cfg.BaseDirectory),
		Filename:    inFile,
		ExpWeeks:    r.cfg.ExpInfo,
	})
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", inFile, err)
	}

	err = analysis.Analyze(pol, analysis.Options{
		ShadeCheck: r.cfg.ShadeCheck,
		Optimize:   r.cfg.Optimize,
	})
	var shading *analysis.ShadingError
	if errors.As(err, &shading) {
		r.log.Warn("shading error, skipping policy", "policy", inFile, "error", err)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("analyzing %s: %w", inFile, err)
	}

	for _, n := range pol.Notices {
		r.log.Warn(n.Message, "policy", inFile, "term", n.Term)
	}

	var outputs []FileOutput
	for _, platform := range pol.Platforms() {
		if !generator.Registered(platform) {
			r.log.Debug("no generator for platform", "platform", platform, "policy", inFile)
			continue
		}
		g, err := generator.New(platform, pol)
		if err != nil {
			return nil, fmt.Errorf("generating %s for %s: %w", platform, inFile, err)
		}
		text, err := g.Render()
		if err != nil {
			return nil, fmt.Errorf("rendering %s for %s: %w", platform, inFile, err)
		}

		stem := strings.TrimSuffix(filepath.Base(inFile), filepath.Ext(inFile))
		outFile := filepath.Join(outDir, stem+g.Suffix())
		if r.fileUpdated(outFile, text) {
			r.log.Info("file changed", "path", outFile)
			outputs = append(outputs, FileOutput{Path: outFile, Text: text})
		} else {
			r.log.Debug("file not changed", "path", outFile)
		}
	}
	return outputs, nil
}

// fileUpdated diffs the rendered text against what is on disk. A file
// that cannot be read counts as updated.
func (r *Runner) fileUpdated(path, newText string) bool {
	old, err := os.ReadFile(path)
	if err != nil {
		return true
	}
	if string(old) == newText {
		return false
	}
	if r.log.GetLevel() <= logging.LevelDebug {
		diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
			A:        difflib.SplitLines(string(old)),
			B:        difflib.SplitLines(newText),
			FromFile: path + " (on disk)",
			ToFile:   path + " (rendered)",
			Context:  3,
		})
		if err == nil {
			r.log.Debug("output diff", "path", path, "diff", diff)
		}
	}
	return true
}

// writeFiles commits the changed outputs, creating parent directories
// as needed.
func (r *Runner) writeFiles(outputs []FileOutput) error {
	if len(outputs) == 0 {
		r.log.Info("no files changed, not writing to disk")
		return nil
	}
	r.log.Info("writing files to disk", "count", len(outputs))
	for _, out := range outputs {
		if err := os.MkdirAll(filepath.Dir(out.Path), 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", filepath.Dir(out.Path), err)
		}
		r.log.Info("writing file", "path", out.Path)
		if err := os.WriteFile(out.Path, []byte(out.Text), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", out.Path, err)
		}
	}
	return nil
}
