package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDurationCommand(t *testing.T) {
	assert := assert.New(t)

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out

	assert.NoError(app.Run([]string{"warden", "duration", "1w2d", "perm", "90m"}))
	assert.Equal("\"1w2d\"\t1w2d\t777600 seconds\n\"perm\"\tindefinite\n\"90m\"\t1h30m\t5400 seconds\n", out.String())

	assert.Error(newApp().Run([]string{"warden", "duration", "3 fortnights"}))
	assert.Error(newApp().Run([]string{"warden", "duration"}))
}
