package logger

import (
	"bytes"
	"io"
	"log"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func restore() {
	outputs = []io.Writer{os.Stdout, os.Stdout, os.Stderr, os.Stderr}
	level = LevelDebug
	apply()
	SetLogsFlags(0)
	Debug.SetFlags(log.Lshortfile)
}

func TestSetLogsLevel(t *testing.T) {
	defer restore()

	var buf bytes.Buffer
	SetLogsOutput(&buf)
	SetLogsLevel(LevelWarn)

	Debug.Print("debug")
	Info.Print("info")
	Warn.Print("warn")
	Err.Print("err")

	out := buf.String()
	assert.NotContains(t, out, "debug")
	assert.NotContains(t, out, "info")
	assert.Contains(t, out, "[Warning] CR2: warn")
	assert.Contains(t, out, "[Error] CR2: err")

	buf.Reset()
	SetLogsLevel(LevelDebug)
	Info.Print("back")
	assert.Contains(t, buf.String(), "[Info] CR2: back")
}

func TestSilence(t *testing.T) {
	defer restore()

	var buf bytes.Buffer
	SetLogsOutput(&buf)
	Silence()
	Err.Print("dropped")
	assert.Empty(t, buf.String())
}

func TestSetLogsPrefix(t *testing.T) {
	defer func() {
		Debug.SetPrefix("[Debug] CR2: ")
		Info.SetPrefix("[Info] CR2: ")
		Warn.SetPrefix("[Warning] CR2: ")
		Err.SetPrefix("[Error] CR2: ")
		restore()
	}()

	var buf bytes.Buffer
	SetLogsOutput(&buf)
	SetLogsPrefix("x: ")
	Warn.Print("y")
	assert.Equal(t, "x: y\n", buf.String())
}
