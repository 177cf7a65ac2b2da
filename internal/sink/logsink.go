package sink

import (
	"context"
	"encoding/json"
	"os"
	"sync"
)

// LogSink appends flag events as newline-delimited JSON to a file, or to
// stdout when FLAG_LOG_PATH=stdout.
type LogSink struct {
	dst string
	mu  sync.Mutex
	f   *os.File
}

func NewLogSink() *LogSink {
	dst := os.Getenv("FLAG_LOG_PATH")
	if dst == "" {
		dst = "flags.ndjson"
	}
	return &LogSink{dst: dst}
}

func (s *LogSink) Start(ctx context.Context) error {
	if s.dst == "stdout" {
		return nil
	}
	f, err := os.OpenFile(s.dst, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	s.f = f
	return nil
}

func (s *LogSink) Enqueue(e FlagEvent) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		_, err = os.Stdout.Write(b)
		return err
	}
	_, err = s.f.Write(b)
	return err
}

func (s *LogSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *LogSink) Name() string { return "log" }
