package logger

import (
	"io"
	"log"
	"os"
)

// Level : ログの重要度
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	// Debug is a logger for debug level messages
	Debug = log.New(os.Stdout, "[Debug] CR2: ", log.Lshortfile)
	// Info is a logger for infomation level messages
	Info = log.New(os.Stdout, "[Info] CR2: ", 0)
	// Warn is a logger for warning level messages
	Warn = log.New(os.Stderr, "[Warning] CR2: ", 0)
	// Err is a logger for error level messages
	Err     = log.New(os.Stderr, "[Error] CR2: ", 0)
	loggers = []*log.Logger{Debug, Info, Warn, Err}

	// 各ロガーの本来の出力先（SetLogsLevelで無効化したものを戻すため）
	outputs = []io.Writer{os.Stdout, os.Stdout, os.Stderr, os.Stderr}
	level   = LevelDebug
)

// SetLogsFlags : すべての種類のログに設定を適用する
func SetLogsFlags(flags int) {
	for _, logger := range loggers {
		logger.SetFlags(flags)
	}
}

// SetLogsOutput : すべての種類のログの出力先を変更する
func SetLogsOutput(w io.Writer) {
	for i := range loggers {
		outputs[i] = w
	}
	apply()
}

// SetLogsPrefix : すべての種類のログメッセージのPrefixを設定する
func SetLogsPrefix(prefix string) {
	for _, logger := range loggers {
		logger.SetPrefix(prefix)
	}
}

// SetLogsLevel discards every logger below the given level.
func SetLogsLevel(l Level) {
	level = l
	apply()
}

// Silence discards all log output. Intended for tests and embedding.
func Silence() {
	SetLogsOutput(io.Discard)
}

func apply() {
	for i, logger := range loggers {
		if Level(i) < level {
			logger.SetOutput(io.Discard)
			continue
		}
		logger.SetOutput(outputs[i])
	}
}
