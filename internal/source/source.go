// Package source reads job definitions from command files and YAML job lists.
package source

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/me/qsync/internal/backend"
	"github.com/me/qsync/pkg/model"
)

// StdinName labels jobs read from standard input.
const StdinName = "<stdin>"

// FileCommands parses one job per line of r. A line is split with shell
// quoting rules; words before a "--" token are native scheduler options,
// the first word after it is the command and the rest are its arguments.
// Blank lines and lines starting with # are skipped. Each job's Source is
// name:line.
func FileCommands(name string, r io.Reader) ([]*model.Job, error) {
	var jobs []*model.Job
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		job, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", name, lineNo, err)
		}
		job.Source = fmt.Sprintf("%s:%d", name, lineNo)
		jobs = append(jobs, job)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return jobs, nil
}

func parseLine(line string) (*model.Job, error) {
	words, err := backend.SplitWords(line)
	if err != nil {
		return nil, err
	}

	var native []string
	for i, w := range words {
		if w == "--" {
			native, words = words[:i], words[i+1:]
			break
		}
	}
	if len(words) == 0 {
		return nil, errors.New("no command")
	}
	return &model.Job{
		RemoteCommand: words[0],
		Args:          words[1:],
		NativeOptions: joinQuoted(native),
	}, nil
}

// joinQuoted rebuilds a command line that backend.SplitWords splits back
// into words.
func joinQuoted(words []string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		if w != "" && !strings.ContainsAny(w, " \t\n'\"\\$`;&|<>(){}*?[]#~") {
			quoted[i] = w
			continue
		}
		quoted[i] = "'" + strings.ReplaceAll(w, "'", `'\''`) + "'"
	}
	return strings.Join(quoted, " ")
}

// yamlJob is the on-disk shape of one YAML job entry.
type yamlJob struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Native  string   `yaml:"native"`
	WorkDir string   `yaml:"workdir"`
	Source  string   `yaml:"source"`
}

// YAMLJobs parses a YAML list of jobs. Entries without a source are
// labelled name#index, counting from 1.
func YAMLJobs(name string, r io.Reader) ([]*model.Job, error) {
	var entries []yamlJob
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&entries); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}

	jobs := make([]*model.Job, 0, len(entries))
	for i, e := range entries {
		if e.Command == "" {
			return nil, fmt.Errorf("%s: job %d: missing command", name, i+1)
		}
		src := e.Source
		if src == "" {
			src = fmt.Sprintf("%s#%d", name, i+1)
		}
		jobs = append(jobs, &model.Job{
			RemoteCommand: e.Command,
			Args:          e.Args,
			NativeOptions: e.Native,
			WorkDir:       e.WorkDir,
			Source:        src,
		})
	}
	return jobs, nil
}

// Load reads every path in order and concatenates their jobs. Files ending
// in .yaml or .yml are YAML job lists; anything else is a command file.
// With no paths, commands are read from stdin.
func Load(paths []string, stdin io.Reader) ([]*model.Job, error) {
	if len(paths) == 0 {
		return FileCommands(StdinName, stdin)
	}

	var all []*model.Job
	for _, p := range paths {
		jobs, err := loadFile(p)
		if err != nil {
			return nil, err
		}
		all = append(all, jobs...)
	}
	return all, nil
}

func loadFile(path string) ([]*model.Job, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open job file: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAMLJobs(path, f)
	}
	return FileCommands(path, f)
}
