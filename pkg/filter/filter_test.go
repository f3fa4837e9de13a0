package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"logcollectord/pkg/logentry"
)

func TestKeywordFilterRejectIfPresent(t *testing.T) {
	f := KeywordFilter{Words: []string{"secret"}, RejectIfPresent: true}

	assert.True(t, f.ShouldFilter(logentry.New("contains secret data", logentry.Info)))
	assert.False(t, f.ShouldFilter(logentry.New("harmless line", logentry.Info)))
}

func TestKeywordFilterKeepOnlyMatching(t *testing.T) {
	f := KeywordFilter{Words: []string{"keep"}, RejectIfPresent: false}

	assert.False(t, f.ShouldFilter(logentry.New("please keep this", logentry.Info)))
	assert.True(t, f.ShouldFilter(logentry.New("drop this one", logentry.Info)))
}

func TestLevelFilter(t *testing.T) {
	f := LevelFilter{MinLevel: logentry.Warning}

	assert.True(t, f.ShouldFilter(logentry.New("x", logentry.Info)))
	assert.False(t, f.ShouldFilter(logentry.New("x", logentry.Error)))
}

func TestChainShortCircuitsOnFirstReject(t *testing.T) {
	c := NewChain()
	c.Add(KeywordFilter{Words: []string{"drop"}, RejectIfPresent: true})
	c.Add(LevelFilter{MinLevel: logentry.Error})

	assert.True(t, c.ShouldFilter(logentry.New("drop me", logentry.Critical)))
	assert.False(t, c.ShouldFilter(logentry.New("keep me", logentry.Error)))
	assert.Equal(t, 2, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
	assert.False(t, c.ShouldFilter(logentry.New("drop me", logentry.Critical)))
}
