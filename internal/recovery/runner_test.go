package recovery

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/srcrecover/internal/archive"
	"github.com/roach88/srcrecover/internal/config"
	"github.com/roach88/srcrecover/internal/pipeline"
	"github.com/roach88/srcrecover/internal/process"
	"github.com/roach88/srcrecover/internal/testutil"
	"github.com/roach88/srcrecover/internal/toolchain"
)

type stubResolver struct {
	attempts []toolchain.FetchAttempt
}

func (s stubResolver) Resolve(_ context.Context, capability string) (toolchain.Tool, error) {
	return toolchain.Tool{Capability: capability, Path: "/fake/" + capability}, nil
}

func (s stubResolver) Attempts() []toolchain.FetchAttempt {
	return s.attempts
}

var epoch = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Workers = 2
	cfg.Tools = map[string]config.Tool{
		"jadx": {Sources: []config.Source{{Kind: config.SourceLocal, Location: "jadx"}}},
	}
	cfg.Strategies = []config.Strategy{{
		Name:  "jadx",
		Steps: []config.Step{{Tool: "jadx", Args: []string{"-d", "{output}", "{input}"}}},
	}}
	cfg.Reconcile.Namespace = "com/example"
	return cfg
}

// writeDistribution builds an apk with three units; classes3.dex has a
// damaged header.
func writeDistribution(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "app-release.apk")
	sections := testutil.DexSections{SymbolCount: 12, SymbolOffset: 0x70, TypeCount: 4, TypeOffset: 0xa0}
	testutil.WriteZip(t, path, map[string][]byte{
		"AndroidManifest.xml": []byte("<manifest/>"),
		"classes.dex":         testutil.DexBytes("035", sections, 64),
		"classes2.dex":        testutil.DexBytes("039", sections, 64),
		"classes3.dex":        []byte("PK\x03\x04 not a dex at all, just noise bytes here"),
	})
	return path
}

// decompiler writes <stem>.java under sources/com/example, except for
// classes2 which always times out.
func decompiler() *testutil.FakeInvoker {
	return testutil.NewFakeInvoker(func(_ context.Context, req process.Request) (process.Result, error) {
		input := req.Args[len(req.Args)-1]
		stem := strings.TrimSuffix(filepath.Base(input), ".dex")
		if stem == "classes2" {
			return process.Result{ExitCode: -1}, fmt.Errorf("%w after 3m0s", process.ErrTimedOut)
		}
		out := testutil.ArgAfter(req.Args, "-d")
		return process.Result{ExitCode: 1}, testutil.WriteSources(out, "sources/com/example/"+stem+".java", "sources/okhttp3/Call.java")
	})
}

func newTestRunner(inv process.Invoker) *Runner {
	return &Runner{
		Config: testConfig(),
		Resolver: stubResolver{attempts: []toolchain.FetchAttempt{
			{Capability: "jadx", URL: "https://mirror.invalid/jadx.zip", Succeeded: true, StatusCode: 200},
		}},
		Invoker: inv,
		IDs:     testutil.NewFixedRunIDGenerator("run-1"),
		Clock:   testutil.NewStepClock(epoch, time.Second),
	}
}

func TestRun_PartialSuccess(t *testing.T) {
	dest := t.TempDir()
	testutil.WriteTree(t, dest, map[string]string{"MainActivity.kt": "// stub"})

	r := newTestRunner(decompiler())
	report, err := r.Run(context.Background(), Request{
		Archive: writeDistribution(t),
		WorkDir: t.TempDir(),
		Dest:    dest,
	})
	require.NoError(t, err)

	assert.Equal(t, "run-1", report.RunID)
	assert.Equal(t, epoch, report.StartedAt)
	require.Len(t, report.Units, 3)

	names := []string{report.Units[0].Name, report.Units[1].Name, report.Units[2].Name}
	assert.Equal(t, []string{"classes.dex", "classes2.dex", "classes3.dex"}, names)
	assert.Equal(t, pipeline.OutcomeSuccess, report.Units[0].Outcome)
	assert.Equal(t, pipeline.OutcomeTimedOut, report.Units[1].Outcome)
	assert.Equal(t, pipeline.OutcomeSuccess, report.Units[2].Outcome, "bad header does not stop transformation")

	require.NotNil(t, report.Units[0].Header)
	assert.Equal(t, uint32(12), report.Units[0].Header.SymbolCount)
	assert.Equal(t, "039", report.Units[1].Header.Version)
	assert.Nil(t, report.Units[2].Header)
	assert.Contains(t, report.Units[2].HeaderError, "invalid format")

	assert.Equal(t, Summary{Total: 3, Succeeded: 2, Failed: 1, Warnings: 1, Status: StatusPartial}, report.Summary)
	assert.Len(t, report.Fetches, 1)

	require.NotNil(t, report.Reconcile)
	assert.Equal(t, 2, report.Reconcile.Copied)
	assert.Equal(t, 1, report.Reconcile.Removed)
	assert.Equal(t, 2, report.Reconcile.Skipped, "bundled library code is noise")
	assert.Empty(t, report.ReconcileError)
	assert.Equal(t, []string{"classes.java", "classes3.java"}, testutil.ListTree(t, dest))
}

func TestRun_WithoutDestinationSkipsReconcile(t *testing.T) {
	r := newTestRunner(decompiler())
	report, err := r.Run(context.Background(), Request{
		Archive: writeDistribution(t),
		WorkDir: t.TempDir(),
	})
	require.NoError(t, err)
	assert.Nil(t, report.Reconcile)
	assert.Len(t, report.Candidates(), 2)
}

func TestRun_NothingRecoveredKeepsPlaceholders(t *testing.T) {
	dest := t.TempDir()
	testutil.WriteTree(t, dest, map[string]string{"MainActivity.kt": "// stub"})

	silent := testutil.NewFakeInvoker(func(context.Context, process.Request) (process.Result, error) {
		return process.Result{}, nil
	})
	report, err := newTestRunner(silent).Run(context.Background(), Request{
		Archive: writeDistribution(t),
		WorkDir: t.TempDir(),
		Dest:    dest,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, report.Summary.Status)
	assert.Nil(t, report.Reconcile)
	assert.NotEmpty(t, report.ReconcileSkipped)
	assert.Equal(t, []string{"MainActivity.kt"}, testutil.ListTree(t, dest))
}

func TestRun_NothingUnderNamespaceKeepsPlaceholders(t *testing.T) {
	dest := t.TempDir()
	testutil.WriteTree(t, dest, map[string]string{"MainActivity.kt": "// stub"})

	foreign := testutil.NewFakeInvoker(func(_ context.Context, req process.Request) (process.Result, error) {
		out := testutil.ArgAfter(req.Args, "-d")
		return process.Result{}, testutil.WriteSources(out, "sources/org/other/X.java")
	})
	report, err := newTestRunner(foreign).Run(context.Background(), Request{
		Archive: writeDistribution(t),
		WorkDir: t.TempDir(),
		Dest:    dest,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusComplete, report.Summary.Status)
	assert.Empty(t, report.ReconcileSkipped)
	require.NotNil(t, report.Reconcile)
	assert.Equal(t, 0, report.Reconcile.Copied)
	assert.Equal(t, 0, report.Reconcile.Removed)
	assert.Equal(t, 1, report.Reconcile.Preserved)
	assert.Equal(t, 3, report.Reconcile.Skipped)
	assert.Equal(t, []string{"MainActivity.kt"}, testutil.ListTree(t, dest))
}

func TestRun_ArchiveErrorsAreFatal(t *testing.T) {
	r := newTestRunner(decompiler())

	t.Run("not found", func(t *testing.T) {
		report, err := r.Run(context.Background(), Request{
			Archive: filepath.Join(t.TempDir(), "missing.apk"),
			WorkDir: t.TempDir(),
		})
		assert.Nil(t, report)
		assert.ErrorIs(t, err, archive.ErrNotFound)
	})

	t.Run("no units", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "resources-only.apk")
		testutil.WriteZip(t, path, map[string][]byte{"res/layout/main.xml": []byte("<LinearLayout/>")})
		report, err := r.Run(context.Background(), Request{Archive: path, WorkDir: t.TempDir()})
		assert.Nil(t, report)
		assert.ErrorIs(t, err, archive.ErrNoUnits)
	})
}

func TestRun_CancelledDuringTransformLeavesDestination(t *testing.T) {
	dest := t.TempDir()
	testutil.WriteTree(t, dest, map[string]string{"MainActivity.kt": "// stub"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	inv := testutil.NewFakeInvoker(func(ctx context.Context, req process.Request) (process.Result, error) {
		_ = testutil.WriteSources(testutil.ArgAfter(req.Args, "-d"), "sources/com/example/Partial.java")
		cancel()
		return process.Result{ExitCode: -1}, ctx.Err()
	})

	r := newTestRunner(inv)
	r.Config.Workers = 1
	report, err := r.Run(ctx, Request{
		Archive: writeDistribution(t),
		WorkDir: t.TempDir(),
		Dest:    dest,
	})
	require.NoError(t, err)

	assert.True(t, report.Cancelled)
	assert.Nil(t, report.Reconcile)
	assert.Equal(t, StatusFailed, report.Summary.Status)
	assert.Equal(t, []string{"MainActivity.kt"}, testutil.ListTree(t, dest))
}

func TestInspect(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteTree(t, dir, map[string]string{
		"good.dex":  string(testutil.DexBytes("035", testutil.DexSections{DefinitionCount: 3}, 0)),
		"short.dex": "dex\n035\x00tiny",
		"junk.dex":  "MZ\x90\x00\x03\x00\x00\x00",
	})
	units := []archive.Unit{
		{Name: "good.dex", Path: filepath.Join(dir, "good.dex")},
		{Name: "short.dex", Path: filepath.Join(dir, "short.dex")},
		{Name: "junk.dex", Path: filepath.Join(dir, "junk.dex")},
		{Name: "gone.dex", Path: filepath.Join(dir, "gone.dex")},
	}

	got := Inspect(units)
	require.Len(t, got, 4)

	require.NoError(t, got[0].Err)
	assert.Equal(t, uint32(3), got[0].Header.DefinitionCount)

	require.Error(t, got[1].Err)
	require.NotNil(t, got[1].Header, "valid magic is still reported")
	assert.True(t, got[1].Header.MagicValid)

	require.Error(t, got[2].Err)
	assert.Nil(t, got[2].Header)

	require.Error(t, got[3].Err)
	assert.ErrorIs(t, got[3].Err, fs.ErrNotExist)
}

func TestSummarize(t *testing.T) {
	mk := func(outcomes ...pipeline.Outcome) []UnitReport {
		out := make([]UnitReport, len(outcomes))
		for i, o := range outcomes {
			out[i] = UnitReport{Outcome: o}
		}
		return out
	}

	tests := []struct {
		name  string
		units []UnitReport
		want  Summary
	}{
		{"all succeed", mk(pipeline.OutcomeSuccess, pipeline.OutcomeSuccess),
			Summary{Total: 2, Succeeded: 2, Status: StatusComplete}},
		{"even indices", mk(pipeline.OutcomeSuccess, pipeline.OutcomeFailed, pipeline.OutcomeSuccess, pipeline.OutcomeFailed, pipeline.OutcomeSuccess),
			Summary{Total: 5, Succeeded: 3, Failed: 2, Warnings: 2, Status: StatusPartial}},
		{"none succeed", mk(pipeline.OutcomeToolUnavailable, pipeline.OutcomeTimedOut),
			Summary{Total: 2, Failed: 2, Warnings: 2, Status: StatusFailed}},
		{"empty", nil, Summary{Status: StatusFailed}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Summarize(tt.units))
		})
	}
}
