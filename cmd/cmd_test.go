package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/stream-embed-audit/internal/app"
	"github.com/JakeFAU/stream-embed-audit/internal/audit"
	"github.com/JakeFAU/stream-embed-audit/internal/config"
	"github.com/JakeFAU/stream-embed-audit/internal/sink"
)

type fakeApp struct {
	cfg    config.Config
	result app.Result
	err    error
	closed bool
}

func (f *fakeApp) Close() { f.closed = true }

func (f *fakeApp) GetLogger() *zap.Logger { return zap.NewNop() }

func (f *fakeApp) Crawl(context.Context) (app.Result, error) { return f.result, f.err }

func withFakeApp(t *testing.T, fake *fakeApp) {
	t.Helper()
	original := newApp
	newApp = func(_ context.Context, cfg config.Config, _ *zap.Logger) (App, error) {
		fake.cfg = cfg
		return fake, nil
	}
	t.Cleanup(func() { newApp = original })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestCrawlCommandBindsFlags(t *testing.T) {
	fake := &fakeApp{result: app.Result{
		RunID:   "run-1",
		Summary: audit.Summary{Matches: 3},
		Files: []sink.File{
			{Path: "/tmp/a-1.csv", Rows: 2, URI: "https://acct/a-1.csv", Uploaded: true},
			{Path: "/tmp/a-2.csv", Rows: 1},
		},
	}}
	withFakeApp(t, fake)
	cfgPath := writeConfig(t, "crawl:\n  page_size: 50\n")

	out, err := execute(t, "crawl",
		"--config", cfgPath,
		"--site-id", "contoso.sharepoint.com,1,2",
		"--result-size", "0",
		"--max-retry", "5",
		"--cache-owners",
		"--output-dir", t.TempDir(),
	)
	require.NoError(t, err)

	assert.Equal(t, "contoso.sharepoint.com,1,2", fake.cfg.Crawl.SiteID)
	assert.Equal(t, 50, fake.cfg.Crawl.PageSize)
	assert.Equal(t, 0, fake.cfg.Crawl.ResultSize)
	assert.Equal(t, 5, fake.cfg.Retry.MaxRetries)
	assert.True(t, fake.cfg.Crawl.CacheOwners)
	assert.False(t, fake.cfg.Export.Enabled)
	assert.True(t, fake.closed)
	assert.Equal(t, "https://acct/a-1.csv\t2\n/tmp/a-2.csv\t1\n", out)
}

func TestCrawlCommandExportFlags(t *testing.T) {
	fake := &fakeApp{}
	withFakeApp(t, fake)

	_, err := execute(t, "crawl",
		"--config", writeConfig(t, "logging:\n  verbose: false\n"),
		"--export",
		"--storage-account", "auditacct",
		"--resource-group", "rg-audit",
		"--container", "reports",
		"--verbose",
	)
	require.NoError(t, err)

	assert.True(t, fake.cfg.Export.Enabled)
	assert.Equal(t, config.ProviderAzure, fake.cfg.Export.Provider)
	assert.Equal(t, "auditacct", fake.cfg.Export.StorageAccount)
	assert.Equal(t, "rg-audit", fake.cfg.Export.ResourceGroup)
	assert.Equal(t, "reports", fake.cfg.Export.Container)
	assert.True(t, fake.cfg.Logging.Verbose)
}

func TestCrawlCommandRejectsInvalidConfig(t *testing.T) {
	fake := &fakeApp{}
	withFakeApp(t, fake)

	_, err := execute(t, "crawl", "--config", writeConfig(t, "{}\n"), "--page-size", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page_size")
	assert.False(t, fake.closed)
}

func TestCrawlCommandReturnsCrawlError(t *testing.T) {
	boom := errors.New("boom")
	fake := &fakeApp{err: boom}
	withFakeApp(t, fake)

	_, err := execute(t, "crawl", "--config", writeConfig(t, "{}\n"))
	require.ErrorIs(t, err, boom)
	assert.True(t, fake.closed)
}

func TestResolveAppWithoutApp(t *testing.T) {
	_, err := resolveApp(context.Background())
	require.Error(t, err)
}

func TestMergeCommand(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "r-1.csv"), []byte("H\na\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "r-2.csv"), []byte("H\nb\n"), 0o600))
	output := filepath.Join(t.TempDir(), "all.csv")

	out, err := execute(t, "merge", "--folder", dir, "--output", output)
	require.NoError(t, err)
	assert.Equal(t, output+"\n", out)

	// #nosec G304 -- test reads from the controlled temp directory.
	got, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "H\na\nb\n", string(got))
}

func TestMergeCommandRequiresFolder(t *testing.T) {
	_, err := execute(t, "merge")
	require.Error(t, err)
}
