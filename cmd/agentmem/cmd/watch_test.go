package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Aman-CERP/agentmem/internal/index"
	"github.com/Aman-CERP/agentmem/internal/output"
	"github.com/Aman-CERP/agentmem/internal/watcher"
)

func TestReportChanges(t *testing.T) {
	var buf bytes.Buffer
	out := output.NewWithColor(&buf, false)

	reportChanges(out, []index.FileChange{
		{Path: "a.jsonl", Operation: watcher.OpCreate, Result: index.ImportResult{Added: 3}},
		{Path: "b.jsonl", Operation: watcher.OpModify, Result: index.ImportResult{Added: 1, Removed: 2}},
		{Path: "c.jsonl", Operation: watcher.OpDelete, Result: index.ImportResult{Removed: 4}},
		{Path: "d.txt", Operation: watcher.OpCreate, Skipped: true},
		{Path: ".agentmem.yaml", Operation: watcher.OpConfigChange},
	})

	assert.Equal(t, "+ a.jsonl: 3 memories\n"+
		"+ b.jsonl: 1 memories, 2 removed\n"+
		"- c.jsonl: removed 4\n", buf.String())
}

func TestWatchCmd_Flags(t *testing.T) {
	cmd := newWatchCmd()

	for _, flag := range []string{"polling", "metrics-listen", "no-sync"} {
		assert.NotNil(t, cmd.Flags().Lookup(flag), flag)
	}
}
