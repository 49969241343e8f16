package backend

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-shellwords"
)

// SplitWords splits a command line with shell quoting rules. Jobs never run
// through a shell, so an unquoted operator (; & | < >) is an error rather than
// the end of the line.
func SplitWords(line string) ([]string, error) {
	p := shellwords.NewParser()
	words, err := p.Parse(line)
	if err != nil {
		return nil, err
	}
	if p.Position != -1 {
		op := "operator"
		if runes := []rune(line); p.Position >= 0 && p.Position < len(runes) {
			op = fmt.Sprintf("%q", runes[p.Position])
		}
		return nil, fmt.Errorf("unquoted shell %s in %q: quote it, or wrap the command in sh -c", op, line)
	}
	return words, nil
}

// nativeOptions are the qsub-style options understood by the local backend.
type nativeOptions struct {
	name    string
	workDir string
	env     []string
	stdout  string
	stderr  string
}

// parseNativeOptions parses a native specification such as
// `-wd /scratch -v OMP_NUM_THREADS=4 -o out.$JOB_ID`.
// Unknown options are rejected.
func parseNativeOptions(spec string) (nativeOptions, error) {
	var opts nativeOptions
	words, err := SplitWords(spec)
	if err != nil {
		return opts, fmt.Errorf("parse native options %q: %w", spec, err)
	}

	for i := 0; i < len(words); i++ {
		flag := words[i]
		value := func() (string, error) {
			if i+1 >= len(words) {
				return "", fmt.Errorf("native option %s needs a value", flag)
			}
			i++
			return words[i], nil
		}

		switch flag {
		case "-cwd":
			wd, err := os.Getwd()
			if err != nil {
				return opts, fmt.Errorf("native option -cwd: %w", err)
			}
			opts.workDir = wd
		case "-V":
			// The local backend always exports the submitting environment.
		case "-wd", "-o", "-e", "-N", "-v":
			v, err := value()
			if err != nil {
				return opts, err
			}
			switch flag {
			case "-wd":
				opts.workDir = v
			case "-o":
				opts.stdout = v
			case "-e":
				opts.stderr = v
			case "-N":
				opts.name = v
			case "-v":
				for _, kv := range strings.Split(v, ",") {
					if kv == "" {
						continue
					}
					if !strings.Contains(kv, "=") {
						kv = kv + "=" + os.Getenv(kv)
					}
					opts.env = append(opts.env, kv)
				}
			}
		default:
			return opts, fmt.Errorf("unsupported native option %q", flag)
		}
	}
	return opts, nil
}

// outputPath resolves an -o/-e path for job id relative to dir.
// An empty path discards the stream.
func outputPath(path, id, dir string) string {
	if path == "" {
		return os.DevNull
	}
	path = strings.ReplaceAll(path, "$JOB_ID", id)
	if !filepath.IsAbs(path) && dir != "" {
		path = filepath.Join(dir, path)
	}
	return path
}
