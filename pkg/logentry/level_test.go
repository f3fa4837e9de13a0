package logentry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelString(t *testing.T) {
	assert.Equal(t, "TRACE", Trace.String())
	assert.Equal(t, "CRITICAL", Critical.String())
	assert.Equal(t, "UNKNOWN", Level(99).String())
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want Level
	}{
		{"debug", Debug},
		{"WARN", Warning},
		{"Warning", Warning},
		{"fatal", Critical},
		{"  error  ", Error},
		{"nonsense", Info},
		{"", Info},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ParseLevel(c.in), "input %q", c.in)
	}
}

func TestLevelOrdering(t *testing.T) {
	assert.True(t, Trace < Debug)
	assert.True(t, Debug < Info)
	assert.True(t, Info < Warning)
	assert.True(t, Warning < Error)
	assert.True(t, Error < Critical)
}
