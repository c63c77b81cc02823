package cli

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitdiagram/internal/orchestrator"
	"gitdiagram/internal/remote"
)

type upstream struct {
	generateCalls atomic.Int32
	srv           *httptest.Server
}

// newUpstream fakes the generation service and a mermaid.ink style renderer
// on one server.
func newUpstream(t *testing.T, generate http.HandlerFunc) *upstream {
	t.Helper()
	u := &upstream{}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/generate":
			u.generateCalls.Add(1)
			generate(w, r)
		case r.URL.Path == "/modify":
			_, _ = io.WriteString(w, `{"diagram":"graph TD; A-->C"}`)
		case r.URL.Path == "/generate/cost":
			_, _ = io.WriteString(w, `{"cost":"$0.05 USD"}`)
		case r.URL.Path == "/generate/ask":
			_, _ = io.WriteString(w, `{"answer":"It is a CLI."}`)
		case r.URL.Path == "/generate/gherkin":
			_, _ = io.WriteString(w, "{\"gherkin_scenarios\":\"```gherkin\\nFeature: Widgets\\n```\"}")
		case strings.HasPrefix(r.URL.Path, "/render/svg/"):
			_, _ = io.WriteString(w, "<svg/>")
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func okGenerate(w http.ResponseWriter, _ *http.Request) {
	_, _ = io.WriteString(w, `{"diagram":"graph TD; A-->B","explanation":"simple flow"}`)
}

// setEnv points config at u and a private cache dir.
func setEnv(t *testing.T, u *upstream) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("GITDIAGRAM_CONFIG", "")
	t.Setenv("APP_ENV", "test")
	t.Setenv("GITDIAGRAM_API_URL", u.srv.URL)
	t.Setenv("RENDER_URL", u.srv.URL+"/render")
	t.Setenv("CACHE_BACKEND", "disk")
	t.Setenv("CACHE_DIR", dir)
	t.Setenv("GITDIAGRAM_API_KEY", "")
	t.Setenv("GITHUB_PAT", "")
	return dir
}

func run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := Execute(context.Background(), args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestGenerateThenServeFromCache(t *testing.T) {
	u := newUpstream(t, okGenerate)
	setEnv(t, u)

	code, out, errOut := run(t, "generate", "acme/widgets", "--explain")
	require.Equal(t, ExitSuccess, code, errOut)
	assert.Contains(t, out, "graph TD; A-->B")
	assert.Contains(t, out, "simple flow")
	assert.Contains(t, errOut, "Ready")

	code, out, errOut = run(t, "generate", "https://github.com/Acme/Widgets")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "graph TD; A-->B")
	assert.Contains(t, errOut, "(cached)")
	assert.Equal(t, int32(1), u.generateCalls.Load())

	code, _, _ = run(t, "generate", "acme/widgets", "--regenerate")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, int32(2), u.generateCalls.Load())
}

func TestRegenerateOnColdCacheCallsServiceOnce(t *testing.T) {
	u := newUpstream(t, okGenerate)
	setEnv(t, u)

	code, out, errOut := run(t, "generate", "acme/widgets", "--regenerate")
	require.Equal(t, ExitSuccess, code, errOut)
	assert.Contains(t, out, "graph TD; A-->B")
	assert.NotContains(t, errOut, "(cached)")
	assert.Equal(t, int32(1), u.generateCalls.Load())
}

func TestGenerateWritesOutputFile(t *testing.T) {
	u := newUpstream(t, okGenerate)
	setEnv(t, u)
	path := filepath.Join(t.TempDir(), "out", "diagram.mmd")

	code, out, errOut := run(t, "generate", "acme/widgets", "--estimate", "-o", path)
	require.Equal(t, ExitSuccess, code, errOut)
	assert.Empty(t, out)
	assert.Contains(t, errOut, "Estimated cost: $0.05 USD")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "graph TD; A-->B", string(raw))
}

func TestModifyRequiresCachedDiagram(t *testing.T) {
	u := newUpstream(t, okGenerate)
	setEnv(t, u)

	code, _, errOut := run(t, "modify", "acme/widgets", "rename", "B")
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, errOut, orchestrator.MessageNoExistingArtifact)
}

func TestModifyPrintsDiff(t *testing.T) {
	u := newUpstream(t, okGenerate)
	setEnv(t, u)
	code, _, _ := run(t, "generate", "acme/widgets")
	require.Equal(t, ExitSuccess, code)

	code, out, errOut := run(t, "modify", "acme/widgets", "rename", "B", "to", "C", "--diff")
	require.Equal(t, ExitSuccess, code, errOut)
	assert.Contains(t, out, "-graph TD; A-->B")
	assert.Contains(t, out, "+graph TD; A-->C")

	code, out, _ = run(t, "generate", "acme/widgets")
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, out, "graph TD; A-->C", "modified diagram replaces the cached one")
}

func TestSideCommands(t *testing.T) {
	u := newUpstream(t, okGenerate)
	setEnv(t, u)

	code, out, _ := run(t, "cost", "acme/widgets")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "$0.05 USD\n", out)

	code, out, _ = run(t, "ask", "acme/widgets", "what", "is", "it?")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "It is a CLI.\n", out)

	code, out, _ = run(t, "scenarios", "acme/widgets")
	require.Equal(t, ExitSuccess, code)
	assert.Equal(t, "Feature: Widgets\n", out)
	assert.Equal(t, int32(0), u.generateCalls.Load())
}

func TestExportWritesImage(t *testing.T) {
	u := newUpstream(t, okGenerate)
	setEnv(t, u)
	dir := t.TempDir()

	code, out, errOut := run(t, "export", "acme/widgets", "--out", dir)
	require.Equal(t, ExitSuccess, code, errOut)
	path := filepath.Join(dir, "acme-widgets-diagram.svg")
	assert.Equal(t, path+"\n", out)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "<svg/>", string(raw))

	code, _, errOut = run(t, "export", "acme/widgets", "--format", "gif")
	assert.Equal(t, ExitUsageError, code)
	assert.Contains(t, errOut, "unsupported export format")
}

func TestFailureExitCodes(t *testing.T) {
	t.Run("rate limited", func(t *testing.T) {
		u := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		})
		setEnv(t, u)
		code, _, errOut := run(t, "generate", "acme/widgets")
		assert.Equal(t, ExitRateLimited, code)
		assert.Contains(t, errOut, remote.RateLimitMessage)
	})

	t.Run("needs api key", func(t *testing.T) {
		u := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{"error":"Token limit exceeded. You can continue by providing your own API key.","requires_api_key":true}`)
		})
		setEnv(t, u)
		code, _, errOut := run(t, "generate", "acme/widgets")
		assert.Equal(t, ExitNeedsAPIKey, code)
		assert.Contains(t, errOut, "your own API key")
		assert.Contains(t, errOut, "--api-key")
	})

	t.Run("invalid repository", func(t *testing.T) {
		u := newUpstream(t, okGenerate)
		setEnv(t, u)
		code, _, errOut := run(t, "generate", "not-a-repo")
		assert.Equal(t, ExitUsageError, code)
		assert.Contains(t, errOut, orchestrator.MessageInvalidIdentity)
		assert.Equal(t, int32(0), u.generateCalls.Load())
	})

	t.Run("instructions too long", func(t *testing.T) {
		u := newUpstream(t, okGenerate)
		setEnv(t, u)
		code, _, _ := run(t, "generate", "acme/widgets", "--instructions", strings.Repeat("x", 1001))
		assert.Equal(t, ExitUsageError, code)
		assert.Equal(t, int32(0), u.generateCalls.Load())
	})

	t.Run("bad args", func(t *testing.T) {
		code, _, errOut := run(t, "generate")
		assert.Equal(t, ExitUsageError, code)
		assert.Contains(t, errOut, "Error:")
	})
}

func TestVersion(t *testing.T) {
	code, out, _ := run(t, "version")
	assert.Equal(t, ExitSuccess, code)
	assert.Equal(t, "gitdiagram version "+version+"\n", out)
}

func TestUnifiedDiff(t *testing.T) {
	diff, err := unifiedDiff("a\nb", "a\nc")
	require.NoError(t, err)
	assert.Contains(t, diff, "--- before")
	assert.Contains(t, diff, "+++ after")
	assert.Contains(t, diff, "-b\n")
	assert.Contains(t, diff, "+c\n")

	same, err := unifiedDiff("a", "a")
	require.NoError(t, err)
	assert.Empty(t, same)
}
