package envfile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := `# comment
OPENAI_API_KEY=sk-from-file
export TESTMEND_MODEL="o3-mini"
EMPTY=
not a valid line
QUOTED='single'
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("OPENAI_API_KEY", "sk-preexisting")
	for _, key := range []string{"TESTMEND_MODEL", "QUOTED", "EMPTY"} {
		os.Unsetenv(key)
		t.Cleanup(func() { os.Unsetenv(key) })
	}

	set, err := LoadPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if set != 3 {
		t.Fatalf("set = %d, want 3", set)
	}
	if got := os.Getenv("OPENAI_API_KEY"); got != "sk-preexisting" {
		t.Fatalf("existing variable overridden: %q", got)
	}
	if got := os.Getenv("TESTMEND_MODEL"); got != "o3-mini" {
		t.Fatalf("TESTMEND_MODEL = %q", got)
	}
	if got := os.Getenv("QUOTED"); got != "single" {
		t.Fatalf("QUOTED = %q", got)
	}
}

func TestLoadPathMissingFile(t *testing.T) {
	if _, err := LoadPath(filepath.Join(t.TempDir(), ".env")); err == nil {
		t.Fatal("missing file must be an error")
	}
}

func TestLoadHonorsPathOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.env")
	if err := os.WriteFile(path, []byte("ENVFILE_CUSTOM_PATH_KEY=yes\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("TESTMEND_ENV_PATH", path)
	os.Unsetenv("ENVFILE_CUSTOM_PATH_KEY")
	t.Cleanup(func() { os.Unsetenv("ENVFILE_CUSTOM_PATH_KEY") })
	set, err := Load()
	if err != nil || set != 1 {
		t.Fatalf("set = %d, err = %v", set, err)
	}
	if os.Getenv("ENVFILE_CUSTOM_PATH_KEY") != "yes" {
		t.Fatal("override path not loaded")
	}
}

func TestParseLine(t *testing.T) {
	cases := []struct {
		line, key, value string
		ok               bool
	}{
		{"KEY=value", "KEY", "value", true},
		{"  export KEY = \"quoted\" ", "KEY", "quoted", true},
		{"# KEY=comment", "", "", false},
		{"no equals sign", "", "", false},
		{"=orphan", "", "", false},
	}
	for _, tc := range cases {
		key, value, ok := parseLine(tc.line)
		if key != tc.key || value != tc.value || ok != tc.ok {
			t.Fatalf("parseLine(%q) = %q, %q, %v", tc.line, key, value, ok)
		}
	}
}
