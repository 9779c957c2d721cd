package deployclient_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nais/deploywatch/pkg/deployclient"
)

func TestSummaryRender(t *testing.T) {
	summary := deployclient.Summary{
		Deployment: "dpl_8xp0dtk2",
		Build:      "READY",
		Regions: []deployclient.RegionSummary{
			{Name: "bru1", Count: 2, Elapsed: 12 * time.Second},
			{Name: "sfo1", Count: 1, Elapsed: 1500 * time.Millisecond},
		},
		Unconverged: []string{"iad1", "hnd1"},
		Outcome:     "timeout",
		Finished:    time.Now(),
	}

	rendered, err := summary.Render()
	require.NoError(t, err)

	assert.Contains(t, rendered, "* Deployment: dpl_8xp0dtk2")
	assert.Contains(t, rendered, "* Build: READY")
	assert.Contains(t, rendered, "| bru1 | 2 | 12s |")
	assert.Contains(t, rendered, "| sfo1 | 1 | 1s |")
	assert.Contains(t, rendered, "* Not converged: iad1, hnd1")
	assert.Contains(t, rendered, "* Outcome: *timeout*")
	assert.NotContains(t, rendered, "Detailed trace")
	assert.NotContains(t, rendered, "Logs:")
}

func TestSummaryRenderWithoutRegions(t *testing.T) {
	summary := deployclient.Summary{
		Deployment: "dpl_8xp0dtk2",
		LogsURL:    "https://logs.example.com/dpl_8xp0dtk2",
		Outcome:    "build failed",
	}

	rendered, err := summary.Render()
	require.NoError(t, err)

	assert.NotContains(t, rendered, "| Region |")
	assert.Contains(t, rendered, "* Logs: [dpl_8xp0dtk2](https://logs.example.com/dpl_8xp0dtk2)")
}

func TestSummaryAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summary.md")
	require.NoError(t, os.WriteFile(path, []byte("previous step\n"), 0o600))

	summary := deployclient.Summary{Deployment: "dpl_8xp0dtk2", Outcome: "success"}
	require.NoError(t, summary.Append(path))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "previous step\n## Deployment verification")
}
