package ui

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlainRenderer_UpdateProgress_OutputFormat(t *testing.T) {
	// Given: a plain renderer
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	// When: updating progress with a large total
	r.UpdateProgress(ProgressEvent{
		Stage:   StageIndexing,
		Current: 1500,
		Total:   12000,
		Source:  "notes.jsonl",
	})

	// Then: counts are comma-grouped and the source is shown
	assert.Equal(t, "[INDEX] 1,500/12,000 - notes.jsonl\n", buf.String())
}

func TestPlainRenderer_UpdateProgress_NoANSICodes(t *testing.T) {
	// Given: a plain renderer
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	// When: rendering progress through all stages
	for _, stage := range []Stage{StageReading, StageIndexing, StageComplete} {
		r.UpdateProgress(ProgressEvent{Stage: stage, Current: 50, Total: 100, Message: "Processing..."})
	}

	// Then: output contains no ANSI escape codes
	assert.NotContains(t, buf.String(), "\x1b[")
}

func TestPlainRenderer_UpdateProgress_MessageWinsOverSource(t *testing.T) {
	buf := &bytes.Buffer{}
	r := NewPlainRenderer(NewConfig(buf))

	r.UpdateProgress(ProgressEvent{Stage: StageReading, Current: 1, Total: 2, Source: "a.jsonl", Message: "parsing"})

	assert.Contains(t, buf.String(), "[READ] 1/2 - parsing")
	assert.NotContains(t, buf.String(), "a.jsonl")
}

func TestPlainRenderer_UpdateProgress_ZeroTotal(t *testing.T) {
	t.Run("message only", func(t *testing.T) {
		buf := &bytes.Buffer{}
		r := NewPlainRenderer(NewConfig(buf))

		r.UpdateProgress(ProgressEvent{Stage: StageReading, Message: "reading stdin"})

		assert.Equal(t, "[READ] reading stdin\n", buf.String())
	})

	t.Run("nothing to say", func(t *testing.T) {
		buf := &bytes.Buffer{}
		r := NewPlainRenderer(NewConfig(buf))

		r.UpdateProgress(ProgressEvent{Stage: StageReading})

		assert.Empty(t, buf.String())
	})
}

func TestPlainRenderer_AddError(t *testing.T) {
	tests := []struct {
		name  string
		event ErrorEvent
		want  string
	}{
		{
			name:  "error with source",
			event: ErrorEvent{Source: "bad.jsonl", Err: errors.New("line 3: unexpected EOF")},
			want:  "ERROR: bad.jsonl: line 3: unexpected EOF\n",
		},
		{
			name:  "warning without source",
			event: ErrorEvent{Err: errors.New("empty file"), IsWarn: true},
			want:  "WARN: empty file\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			r := NewPlainRenderer(NewConfig(buf))

			r.AddError(tt.event)

			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestPlainRenderer_Complete(t *testing.T) {
	tests := []struct {
		name  string
		stats CompletionStats
		want  string
	}{
		{
			name:  "clean import",
			stats: CompletionStats{Read: 1200, Added: 1200, Duration: 2340 * time.Millisecond},
			want:  "Complete: 1,200 memories imported in 2.3s\n",
		},
		{
			name:  "replace with problems",
			stats: CompletionStats{Added: 3, Removed: 5, Duration: time.Second, Errors: 1, Warnings: 2},
			want:  "Complete: 3 memories imported in 1s, 5 removed (1 errors, 2 warnings)\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			r := NewPlainRenderer(NewConfig(buf))

			r.Complete(tt.stats)

			assert.Equal(t, tt.want, buf.String())
		})
	}
}

func TestPlainRenderer_Lifecycle(t *testing.T) {
	// Given: a plain renderer
	r := NewPlainRenderer(NewConfig(&bytes.Buffer{}))

	// When/Then: start and stop are no-ops
	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Stop())
}
