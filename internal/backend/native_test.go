package backend

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestParseNativeOptions(t *testing.T) {
	t.Setenv("QSYNC_TEST_VAR", "from-env")

	opts, err := parseNativeOptions(`-wd /scratch -N "my job" -o out.log -e err.log -v A=1,QSYNC_TEST_VAR -V`)
	if err != nil {
		t.Fatalf("parseNativeOptions: %v", err)
	}
	if opts.workDir != "/scratch" {
		t.Errorf("workDir = %q", opts.workDir)
	}
	if opts.name != "my job" {
		t.Errorf("name = %q", opts.name)
	}
	if opts.stdout != "out.log" || opts.stderr != "err.log" {
		t.Errorf("stdout, stderr = %q, %q", opts.stdout, opts.stderr)
	}
	want := []string{"A=1", "QSYNC_TEST_VAR=from-env"}
	if !slices.Equal(opts.env, want) {
		t.Errorf("env = %v, want %v", opts.env, want)
	}
}

func TestParseNativeOptions_Cwd(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	opts, err := parseNativeOptions("-cwd")
	if err != nil {
		t.Fatalf("parseNativeOptions: %v", err)
	}
	if opts.workDir != wd {
		t.Errorf("workDir = %q, want %q", opts.workDir, wd)
	}
}

func TestParseNativeOptions_Empty(t *testing.T) {
	opts, err := parseNativeOptions("")
	if err != nil {
		t.Fatalf("parseNativeOptions: %v", err)
	}
	if opts.workDir != "" || len(opts.env) != 0 {
		t.Errorf("opts = %+v, want zero value", opts)
	}
}

func TestParseNativeOptions_Errors(t *testing.T) {
	for _, spec := range []string{
		"-pe smp 4",
		"-o",
		`-N "unterminated`,
		"-N a;b",
		"-o out.log > other.log",
		"-N x | y",
	} {
		if _, err := parseNativeOptions(spec); err == nil {
			t.Errorf("parseNativeOptions(%q): expected error", spec)
		}
	}
}

func TestSplitWords(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{"grep 'a;b' file.txt", []string{"grep", "a;b", "file.txt"}},
		{`./tool "x > out.txt"`, []string{"./tool", "x > out.txt"}},
		{`sh -c 'sort in | uniq > out'`, []string{"sh", "-c", "sort in | uniq > out"}},
		{`echo a\&b`, []string{"echo", "a&b"}},
	}
	for _, tt := range tests {
		got, err := SplitWords(tt.line)
		if err != nil {
			t.Errorf("SplitWords(%q): %v", tt.line, err)
			continue
		}
		if !slices.Equal(got, tt.want) {
			t.Errorf("SplitWords(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}

func TestOutputPath(t *testing.T) {
	tests := []struct {
		path, id, dir string
		want          string
	}{
		{"", "42", "/tmp", os.DevNull},
		{"out.$JOB_ID", "42", "/work", filepath.Join("/work", "out.42")},
		{"/abs/$JOB_ID.log", "7", "/work", "/abs/7.log"},
		{"rel.log", "7", "", "rel.log"},
	}
	for _, tt := range tests {
		if got := outputPath(tt.path, tt.id, tt.dir); got != tt.want {
			t.Errorf("outputPath(%q, %q, %q) = %q, want %q", tt.path, tt.id, tt.dir, got, tt.want)
		}
	}
}
