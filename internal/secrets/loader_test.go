package secrets

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeSecret(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "secret")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing secret: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	t.Setenv("HH_SCREENER_TEST_TOKEN", " from-env \n")

	tests := []struct {
		name string
		src  Source
		want string
	}{
		{name: "file wins", src: Source{File: writeSecret(t, "from-file\n"), Value: "inline", Env: "HH_SCREENER_TEST_TOKEN"}, want: "from-file"},
		{name: "inline value", src: Source{Value: "  inline  ", Env: "HH_SCREENER_TEST_TOKEN"}, want: "inline"},
		{name: "environment", src: Source{Env: "HH_SCREENER_TEST_TOKEN"}, want: "from-env"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Load(tt.src)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestLoadErrors(t *testing.T) {
	t.Setenv("HH_SCREENER_EMPTY_TOKEN", "")

	tests := []struct {
		name          string
		src           Source
		notConfigured bool
	}{
		{name: "nothing set", src: Source{Name: "access token"}, notConfigured: true},
		{name: "empty env", src: Source{Env: "HH_SCREENER_EMPTY_TOKEN"}, notConfigured: true},
		{name: "empty file", src: Source{File: writeSecret(t, " \n")}},
		{name: "missing file", src: Source{File: filepath.Join(t.TempDir(), "absent")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.src)
			if err == nil {
				t.Fatalf("expected error")
			}
			if errors.Is(err, ErrNotConfigured) != tt.notConfigured {
				t.Fatalf("unexpected error classification: %v", err)
			}
		})
	}
}

func TestLoadOptional(t *testing.T) {
	got, err := LoadOptional(Source{Name: "client secret"})
	if err != nil || got != "" {
		t.Fatalf("expected empty secret without error, got %q, %v", got, err)
	}

	if _, err := LoadOptional(Source{File: writeSecret(t, "")}); err == nil {
		t.Fatalf("expected an empty file to stay an error")
	}
}
