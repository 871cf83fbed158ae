package logcollection

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/core-tools/hsu-supervisor-go/pkg/errors"
	"github.com/core-tools/hsu-supervisor-go/pkg/logging"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Lines longer than this are split
const maxLineLength = 1024 * 1024

type logCollectionService struct {
	output StructuredLogger
	logger logging.Logger

	mutex     sync.Mutex
	processes map[string]*processLogCollector
}

// NewLogCollectionService forwards collected lines to output. Service diagnostics go to logger.
func NewLogCollectionService(output StructuredLogger, logger logging.Logger) LogCollectionService {
	if output == nil {
		output = NewStructuredLogger(nil)
	}
	return &logCollectionService{
		output:    output,
		logger:    logger,
		processes: make(map[string]*processLogCollector),
	}
}

func (s *logCollectionService) RegisterProcess(processID string, processConfig ProcessLogConfig) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.processes[processID]; exists {
		return errors.NewConflictError("process already registered", nil).WithContext("process_id", processID)
	}

	process, err := newProcessLogCollector(processID, processConfig, s.output.WithProcess(processID), s.logger)
	if err != nil {
		return err
	}
	s.processes[processID] = process

	s.logger.Debugf("Process %s registered for log collection, out_file: %q, error_file: %q",
		processID, processConfig.OutFile, processConfig.ErrorFile)
	return nil
}

func (s *logCollectionService) UnregisterProcess(processID string) error {
	s.mutex.Lock()
	process, exists := s.processes[processID]
	delete(s.processes, processID)
	s.mutex.Unlock()

	if !exists {
		return errors.NewNotFoundError("process not registered", nil).WithContext("process_id", processID)
	}

	err := process.stop()
	s.logger.Debugf("Process %s unregistered from log collection, lines: %d", processID, process.lines())
	return err
}

func (s *logCollectionService) CollectFromStream(processID string, stream io.Reader, streamType StreamType) error {
	s.mutex.Lock()
	process, exists := s.processes[processID]
	s.mutex.Unlock()

	if !exists {
		return errors.NewNotFoundError("process not registered", nil).WithContext("process_id", processID)
	}

	process.collectFromStream(stream, streamType)
	return nil
}

type processLogCollector struct {
	processID string
	logger    StructuredLogger
	diag      logging.Logger
	files     map[StreamType]*fileWriter

	mutex          sync.Mutex
	linesProcessed int64

	wg sync.WaitGroup
}

func newProcessLogCollector(processID string, config ProcessLogConfig, logger StructuredLogger, diag logging.Logger) (*processLogCollector, error) {
	collector := &processLogCollector{
		processID: processID,
		logger:    logger,
		diag:      diag,
		files:     make(map[StreamType]*fileWriter),
	}

	opened := make(map[string]*fileWriter)
	paths := map[StreamType]string{
		StdoutStream: config.OutFile,
		StderrStream: config.ErrorFile,
	}
	for streamType, path := range paths {
		if path == "" {
			continue
		}
		path = filepath.Clean(path)
		if writer, ok := opened[path]; ok {
			collector.files[streamType] = writer
			continue
		}
		writer, err := openFileWriter(path)
		if err != nil {
			for _, w := range opened {
				w.Close()
			}
			return nil, errors.NewIOError("failed to open log file", err).
				WithContext("process_id", processID).
				WithContext("path", path)
		}
		opened[path] = writer
		collector.files[streamType] = writer
	}

	return collector, nil
}

func (w *processLogCollector) collectFromStream(stream io.Reader, streamType StreamType) {
	w.wg.Add(1)
	go w.streamReader(stream, streamType)
}

func (w *processLogCollector) streamReader(stream io.Reader, streamType StreamType) {
	defer w.wg.Done()

	level := zapcore.InfoLevel
	if streamType == StderrStream {
		level = zapcore.WarnLevel
	}
	file := w.files[streamType]

	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		w.mutex.Lock()
		w.linesProcessed++
		w.mutex.Unlock()

		w.logger.Log(level, line, zap.String(StreamField, string(streamType)))
		if file != nil {
			if err := file.WriteLine(line); err != nil {
				w.diag.Warnf("Failed to write %s line of %s to %s: %v", streamType, w.processID, file.path, err)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		w.diag.Warnf("Error reading %s of %s: %v", streamType, w.processID, err)
		// Keep draining so the child never blocks on a full pipe
		_, _ = io.Copy(io.Discard, stream)
	}
}

func (w *processLogCollector) stop() error {
	w.wg.Wait()

	closed := make(map[*fileWriter]bool)
	errs := errors.NewErrorCollection()
	for _, file := range w.files {
		if closed[file] {
			continue
		}
		closed[file] = true
		if err := file.Close(); err != nil {
			errs.Add(errors.NewIOError("failed to close log file", err).WithContext("path", file.path))
		}
	}
	return errs.ToError()
}

func (w *processLogCollector) lines() int64 {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.linesProcessed
}

// fileWriter appends raw lines; it is shared when both streams use one file
type fileWriter struct {
	path  string
	file  *os.File
	mutex sync.Mutex
}

func openFileWriter(path string) (*fileWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &fileWriter{path: path, file: file}, nil
}

func (f *fileWriter) WriteLine(line string) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	_, err := f.file.WriteString(line + "\n")
	return err
}

func (f *fileWriter) Close() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	return f.file.Close()
}
