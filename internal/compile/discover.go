package compile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Discover collects policy files beneath baseDir. Policies live in
// directories named pol; the surrounding directory structure is
// mirrored into outDir. Directory names in ignore are never entered.
func Discover(baseDir, outDir string, recursive bool, ignore []string) ([]Job, error) {
	baseDir = strings.TrimRight(baseDir, "/")
	outDir = strings.TrimRight(outDir, "/")

	ignored := make(map[string]bool, len(ignore))
	for _, name := range ignore {
		ignored[name] = true
	}

	jobs, err := descend(baseDir, outDir, recursive, ignored)
	if err != nil {
		return nil, err
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Input < jobs[j].Input })
	return jobs, nil
}

func descend(dir, outDir string, recursive bool, ignored map[string]bool) ([]Job, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	var jobs []Job
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if e.Name() == "pol" {
			polDir := filepath.Join(dir, "pol")
			polEntries, err := os.ReadDir(polDir)
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", polDir, err)
			}
			for _, pe := range polEntries {
				if pe.IsDir() || !strings.HasSuffix(pe.Name(), ".pol") {
					continue
				}
				jobs = append(jobs, Job{
					Input:     filepath.Join(polDir, pe.Name()),
					OutputDir: outDir,
				})
			}
			continue
		}
		if !recursive || ignored[e.Name()] {
			continue
		}
		nested, err := descend(filepath.Join(dir, e.Name()), filepath.Join(outDir, e.Name()), recursive, ignored)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, nested...)
	}
	return jobs, nil
}
