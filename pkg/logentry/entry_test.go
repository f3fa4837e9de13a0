package logentry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeepCopyIsolatesLabels(t *testing.T) {
	e := New("hello", Info)
	e.SetLabel("source", "a.log")

	cp := e.DeepCopy()
	cp.SetLabel("source", "b.log")

	orig, ok := e.GetLabel("source")
	assert.True(t, ok)
	assert.Equal(t, "a.log", orig)

	copied, ok := cp.GetLabel("source")
	assert.True(t, ok)
	assert.Equal(t, "b.log", copied)
}

func TestDeepCopyNilLabels(t *testing.T) {
	e := New("hello", Info)
	cp := e.DeepCopy()
	assert.Nil(t, cp.Labels)
}

func TestGetLabelMissing(t *testing.T) {
	e := New("hello", Info)
	_, ok := e.GetLabel("missing")
	assert.False(t, ok)
}

func TestBatchLen(t *testing.T) {
	b := Batch{SessionID: 1, Entries: []LogEntry{New("a", Info), New("b", Info)}}
	assert.Equal(t, 2, b.Len())
}
