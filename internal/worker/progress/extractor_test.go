package progress

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSplitsMarkersFromPassthrough(t *testing.T) {
	var got []int
	var out bytes.Buffer
	e := &Extractor{
		OnProgress:  func(p int) { got = append(got, p) },
		Passthrough: &out,
	}

	err := e.Run(strings.NewReader("ALF_PROGRESS 10%\nsome log\nALF_PROGRESS 55%\n"))
	require.NoError(t, err)

	assert.Equal(t, []int{10, 55}, got)
	assert.Equal(t, "some log\n", out.String())
}

func TestRunMarkerInsideLine(t *testing.T) {
	var got []int
	e := &Extractor{OnProgress: func(p int) { got = append(got, p) }, Passthrough: io.Discard}

	require.NoError(t, e.Run(strings.NewReader("[karma] ALF_PROGRESS 100%\nALF_PROGRESS x%\n")))
	assert.Equal(t, []int{100}, got)
}

func TestRunLastLineWithoutNewline(t *testing.T) {
	var got []int
	e := &Extractor{OnProgress: func(p int) { got = append(got, p) }, Passthrough: io.Discard}

	require.NoError(t, e.Run(strings.NewReader("ALF_PROGRESS 99%")))
	assert.Equal(t, []int{99}, got)
}

func TestRunSurvivesCallbackPanic(t *testing.T) {
	calls := 0
	var out bytes.Buffer
	e := &Extractor{
		OnProgress: func(p int) {
			calls++
			if p == 10 {
				panic("boom")
			}
		},
		Passthrough: &out,
	}

	require.NoError(t, e.Run(strings.NewReader("ALF_PROGRESS 10%\nafter\nALF_PROGRESS 20%\n")))
	assert.Equal(t, 2, calls)
	assert.Equal(t, "after\n", out.String())
}

func TestRunReportsReadError(t *testing.T) {
	e := &Extractor{Passthrough: io.Discard}
	boom := errors.New("pipe closed")

	err := e.Run(iotest.ErrReader(boom))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestRunKeepsReadingPastOversizedLine(t *testing.T) {
	var got []int
	var out bytes.Buffer
	e := &Extractor{OnProgress: func(p int) { got = append(got, p) }, Passthrough: &out}

	long := strings.Repeat("a", 2*maxLine+10)
	require.NoError(t, e.Run(strings.NewReader(long+"\nALF_PROGRESS 50%\nALF_PROGRESS 100%\n")))

	assert.Equal(t, []int{50, 100}, got)
	assert.Equal(t, len(long), strings.Count(out.String(), "a"))
	assert.Equal(t, 3, strings.Count(out.String(), "\n"), "the long line is forwarded in bounded chunks")
}
