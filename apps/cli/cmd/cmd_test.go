package cmd

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/abdul-hamid-achik/specrun/packages/output"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSuite(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// resetFlags restores every flag to its default so invocations do not leak
// values into each other.
func resetFlags(root *cobra.Command) {
	for _, c := range append([]*cobra.Command{root}, root.Commands()...) {
		c.Flags().VisitAll(func(f *pflag.Flag) {
			if !strings.HasSuffix(f.Value.Type(), "Array") {
				_ = f.Value.Set(f.DefValue)
			}
			f.Changed = false
		})
	}
	varFlags, headerFlags = nil, nil
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return executeContext(t, context.Background(), args...)
}

func executeContext(t *testing.T, ctx context.Context, args ...string) (string, string, error) {
	t.Helper()
	resetFlags(rootCmd)
	for _, c := range rootCmd.Commands() {
		c.SetContext(ctx)
	}

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func TestParseVars(t *testing.T) {
	vars, err := parseVars([]string{"tenant=acme", "query=a=b", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"tenant": "acme", "query": "a=b", "empty": ""}, vars)

	_, err = parseVars([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseVars([]string{"1bad=x"})
	assert.Error(t, err)

	vars, err = parseVars(nil)
	assert.NoError(t, err)
	assert.Nil(t, vars)
}

func TestParseHeaders(t *testing.T) {
	headers, err := parseHeaders([]string{"X-Client: specrun", "Accept:application/json"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"X-Client": "specrun", "Accept": "application/json"}, headers)

	_, err = parseHeaders([]string{"no-colon"})
	assert.Error(t, err)
	_, err = parseHeaders([]string{": value"})
	assert.Error(t, err)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"prometheus", "json"}, splitList(" prometheus, ,json "))
	assert.Nil(t, splitList(""))
}

func TestIsWatchedFile(t *testing.T) {
	pattern := "**/*.{yaml,yml,json}"
	assert.True(t, isWatchedFile("/work/tests/users.yaml", pattern))
	assert.True(t, isWatchedFile("tests/user.schema.json", pattern))
	assert.False(t, isWatchedFile("/work/tests/notes.md", pattern))
	assert.True(t, isWatchedFile("/work/smoke/a.yaml", "smoke/*.yaml"))
	assert.False(t, isWatchedFile("/work/a.yaml", ""))
}

func TestWatchDirs(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "nested", "deeper"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git"), 0755))
	file := writeSuite(t, t.TempDir(), "single.yaml", "")

	dirs := watchDirs([]string{root, file, filepath.Join(root, "missing")})

	assert.Contains(t, dirs, root)
	assert.Contains(t, dirs, filepath.Join(root, "nested"))
	assert.Contains(t, dirs, filepath.Join(root, "nested", "deeper"))
	assert.Contains(t, dirs, filepath.Dir(file))
	assert.NotContains(t, dirs, filepath.Join(root, ".git"))
}

func TestRunCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/users":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id": 7}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	dir := t.TempDir()
	report := filepath.Join(dir, "report.xml")

	t.Run("passing suite exits cleanly and writes junit", func(t *testing.T) {
		file := writeSuite(t, dir, "ok.yaml", `
- name: health
  request: { method: GET, url: /health }
  expect: { status: 200 }
- name: create
  request: { method: POST, url: /users, json: { name: ada } }
  expect:
    status: 201
    save: { $.id: id }
`)
		stdout, _, err := execute(t, "run", file, "--base-url", server.URL, "--junit", report, "--no-color", "--retries", "0")
		require.NoError(t, err)
		assert.Contains(t, stdout, "specrun "+version)
		assert.Contains(t, stdout, "✓ health")
		assert.Contains(t, stdout, "Total: 2, Failed: 0")

		data, err := os.ReadFile(report)
		require.NoError(t, err)
		var doc output.JUnitTestSuites
		require.NoError(t, xml.Unmarshal(data, &doc))
		assert.Equal(t, 2, doc.Tests)
		assert.Equal(t, 0, doc.Failures)
	})

	t.Run("failing case returns an error", func(t *testing.T) {
		file := writeSuite(t, dir, "bad.yaml", `
- name: missing
  request: { method: GET, url: /nope }
  expect: { status: 200 }
`)
		var notified []byte
		slack := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			notified, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusOK)
		}))
		defer slack.Close()

		stdout, _, err := execute(t, "run", file, "--base-url", server.URL, "--junit", report, "--no-color", "--retries", "0", "--slack-webhook", slack.URL)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "1 case(s) failed")
		assert.Contains(t, stdout, "expected status 200, got 404")
		assert.Contains(t, string(notified), "bad / missing: expected status 200, got 404")
	})

	t.Run("invalid document fails before any request", func(t *testing.T) {
		file := writeSuite(t, dir, "broken.yaml", `
- name: broken
  request: { method: FETCH, url: /health }
`)
		_, _, err := execute(t, "run", file, "--base-url", server.URL, "--junit", report, "--no-color", "--retries", "0")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "request.method")
	})

	t.Run("oauth2 token is sent as bearer", func(t *testing.T) {
		auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"access_token":"fetched","expires_in":3600}`))
		}))
		defer auth.Close()

		var got string
		api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got = r.Header.Get("Authorization")
			w.WriteHeader(http.StatusOK)
		}))
		defer api.Close()

		file := writeSuite(t, dir, "auth.yaml", `
- name: me
  request: { method: GET, url: /me }
  expect: { status: 200 }
`)
		_, _, err := execute(t, "run", file, "--base-url", api.URL, "--junit", report, "--no-color", "--retries", "0",
			"--oauth2-token-url", auth.URL, "--oauth2-client-id", "specrun")
		require.NoError(t, err)
		assert.Equal(t, "Bearer fetched", got)
	})
}

func TestRunCommand_InterruptStillReportsEverySuite(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancel()
		<-r.Context().Done()
	}))
	defer server.Close()

	dir := t.TempDir()
	report := filepath.Join(t.TempDir(), "report.xml")
	writeSuite(t, dir, "a.yaml", `
- name: slow
  request: { method: GET, url: /slow }
  expect: { status: 200 }
`)
	writeSuite(t, dir, "b.yaml", `
- name: first
  request: { method: GET, url: /one }
- name: second
  request: { method: GET, url: /two }
`)

	stdout, _, err := executeContext(t, ctx, "run", dir, "--base-url", server.URL, "--junit", report,
		"--no-color", "--retries", "0", "--grace-period", "10ms")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run interrupted")
	assert.Contains(t, stdout, "slow")
	assert.Contains(t, stdout, "second")

	data, err := os.ReadFile(report)
	require.NoError(t, err)
	var doc output.JUnitTestSuites
	require.NoError(t, xml.Unmarshal(data, &doc))
	require.Len(t, doc.TestSuites, 2)
	assert.Equal(t, 3, doc.Tests)
	assert.Equal(t, 3, doc.Failures+doc.Errors)
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	writeSuite(t, dir, "ok.yaml", `
- name: health
  request: { method: GET, url: /health }
`)

	stdout, _, err := execute(t, "validate", dir)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Valid: ")
	assert.Contains(t, stdout, "(1 cases)")

	writeSuite(t, dir, "bad.yaml", `
- name: bad
  request: { method: GET, url: /x }
  expect: { status: 42 }
`)
	_, stderr, err := execute(t, "validate", dir)
	require.Error(t, err)
	assert.Contains(t, stderr, "expect.status")
}

func TestListCommand(t *testing.T) {
	dir := t.TempDir()
	file := writeSuite(t, dir, "users.yaml", `
- name: create
  request: { method: POST, url: /users }
  expect:
    status: 201
    save: { $.id: id }
- name: fetch
  request: { method: GET, url: "/users/{id}" }
  dependsOn: [create]
`)

	stdout, _, err := execute(t, "list", file)
	require.NoError(t, err)
	assert.Contains(t, stdout, "users (")
	assert.Contains(t, stdout, "- create: POST /users")
	assert.Contains(t, stdout, "expect: status 201, save $.id as id")
	assert.Contains(t, stdout, "expect: any response")
	assert.Contains(t, stdout, "dependsOn: create")
}
