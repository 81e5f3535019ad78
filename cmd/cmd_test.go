package cmd

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/fotopedia-grab/internal/config"
	"github.com/JakeFAU/fotopedia-grab/internal/item"
	"github.com/JakeFAU/fotopedia-grab/internal/metrics"
)

func TestPrintPlanAlbum(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Fetch.BindAddress = "192.0.2.7"

	var buf bytes.Buffer
	require.NoError(t, printPlan(&buf, cfg, "/opt/wget-lua", "album:abc123"))
	out := buf.String()

	assert.Contains(t, out, "item:     album:abc123 (album)")
	assert.Contains(t, out, "http://www.fotopedia.com/albums/abc123/photos")
	assert.Contains(t, out, "item_type=album")
	assert.Contains(t, out, "item_value=abc123")
	assert.Contains(t, out, "command:  /opt/wget-lua ")
	assert.Contains(t, out, "--lua-script fotopedia.lua")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), "--bind-address 192.0.2.7"))
}

func TestPrintPlanRejectsUnknownType(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("")
	require.NoError(t, err)

	var buf bytes.Buffer
	err = printPlan(&buf, cfg, "/opt/wget-lua", "gallery:1")
	require.ErrorIs(t, err, item.ErrUnknownItemType)
	assert.Empty(t, buf.String())
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	cmd := newVersionCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs(nil)
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), config.Version)
	assert.Contains(t, buf.String(), config.FetchVersion)
}

func TestRootRegistersSubcommands(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	for _, name := range []string{"run", "plan", "version"} {
		found, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, found.Name())
	}
}

func TestLogReporterAcceptsEverything(t *testing.T) {
	t.Parallel()

	r := logReporter{logger: zap.NewNop()}
	require.NoError(t, r.Report(context.Background(), &item.Item{Identifier: "photo:1"}))
}

type countingProcessor struct{ calls int }

func (c *countingProcessor) Process(context.Context, string) (item.Outcome, error) {
	c.calls++
	return item.Outcome{State: item.StateReleased}, nil
}

func TestGaugedProcessorDelegates(t *testing.T) {
	t.Parallel()

	metrics.Init()
	next := &countingProcessor{}
	out, err := gaugedProcessor{next: next}.Process(context.Background(), "story:9")
	require.NoError(t, err)
	assert.Equal(t, item.StateReleased, out.State)
	assert.Equal(t, 1, next.calls)
}
