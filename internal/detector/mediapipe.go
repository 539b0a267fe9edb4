package detector

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// ScriptName is the file name of the recognizer service script.
const ScriptName = "gesture_service.py"

// ErrServiceExited is returned once the recognizer process is gone.
var ErrServiceExited = errors.New("recognizer service exited")

// MediaPipeRecognizer implements Recognizer using a Python MediaPipe
// subprocess. Frames go to its stdin as an 8-byte big-endian timestamp, a
// 4-byte big-endian length and the JPEG bytes; each frame is answered with one
// JSON line on stdout.
type MediaPipeRecognizer struct {
	logger *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	exited chan struct{}
	closed bool
}

// serviceLine is one line written by the service.
type serviceLine struct {
	Ready    bool         `json:"ready,omitempty"`
	Error    string       `json:"error,omitempty"`
	Gestures [][]Category `json:"gestures"`
	Hands    []jsonHand   `json:"hands"`
}

// MediaPipeLoader returns a Loader that starts the service with cfg.
func MediaPipeLoader(cfg Config, logger *slog.Logger) Loader {
	return func(ctx context.Context) (Recognizer, error) {
		return LoadMediaPipe(ctx, cfg, logger)
	}
}

// LoadMediaPipe starts the recognizer service and waits until it reports ready,
// ctx is done, or cfg.LoadTimeout elapses.
func LoadMediaPipe(ctx context.Context, cfg Config, logger *slog.Logger) (*MediaPipeRecognizer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "recognizer")

	script := cfg.Script
	if script == "" {
		script = findScript()
		if script == "" {
			return nil, fmt.Errorf("%s not found", ScriptName)
		}
	}

	python := cfg.Python
	if python == "" {
		python = findVenvPython()
	}
	if python == "" {
		python = "python3"
	}

	timeout := cfg.LoadTimeout
	if timeout <= 0 {
		timeout = LoadTimeout
	}

	cmd := exec.Command(python, serviceArgs(script, cfg)...)
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start recognizer service: %w", err)
	}
	logger.Info("recognizer service started", "pid", cmd.Process.Pid, "script", script)

	r := &MediaPipeRecognizer{
		logger: logger,
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
		exited: make(chan struct{}),
	}

	go r.forwardStderr(stderr)
	go func() {
		err := cmd.Wait()
		if err != nil {
			logger.Debug("recognizer service exited", "error", err)
		}
		close(r.exited)
	}()

	ready := make(chan error, 1)
	go func() {
		ready <- r.awaitReady()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-ready:
		if err != nil {
			r.kill()
			return nil, err
		}
		return r, nil
	case <-timer.C:
		r.kill()
		return nil, fmt.Errorf("recognizer not ready after %s", timeout)
	case <-ctx.Done():
		r.kill()
		return nil, ctx.Err()
	}
}

func serviceArgs(script string, cfg Config) []string {
	args := []string{script}
	if cfg.ModelPath != "" {
		args = append(args, "--model", cfg.ModelPath)
	}
	if cfg.MaxHands > 0 {
		args = append(args, "--max-hands", strconv.Itoa(cfg.MaxHands))
	}
	if cfg.MinConfidence > 0 {
		args = append(args, "--min-confidence", strconv.FormatFloat(cfg.MinConfidence, 'f', -1, 64))
	}
	if cfg.MinTrackingConf > 0 {
		args = append(args, "--min-tracking-confidence", strconv.FormatFloat(cfg.MinTrackingConf, 'f', -1, 64))
	}
	return append(args, cfg.Args...)
}

func (r *MediaPipeRecognizer) awaitReady() error {
	line, err := r.stdout.ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("%w before ready: %v", ErrServiceExited, err)
	}
	var msg serviceLine
	if err := json.Unmarshal(line, &msg); err != nil {
		return fmt.Errorf("parse ready line: %w", err)
	}
	if msg.Error != "" {
		return fmt.Errorf("recognizer service: %s", msg.Error)
	}
	if !msg.Ready {
		return fmt.Errorf("unexpected first line from recognizer service: %q", line)
	}
	return nil
}

func (r *MediaPipeRecognizer) forwardStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		r.logger.Debug("recognizer", "stderr", scanner.Text())
	}
}

// Recognize encodes frame as JPEG and classifies it.
func (r *MediaPipeRecognizer) Recognize(frame *gocv.Mat, timestampMs int64) (*Result, error) {
	buf, err := gocv.IMEncode(".jpg", *frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	return r.RecognizeJPEG(buf.GetBytes(), timestampMs)
}

// RecognizeJPEG classifies an already encoded frame.
func (r *MediaPipeRecognizer) RecognizeJPEG(data []byte, timestampMs int64) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrServiceExited
	}
	select {
	case <-r.exited:
		return nil, ErrServiceExited
	default:
	}

	if err := writeFrame(r.stdin, timestampMs, data); err != nil {
		return nil, err
	}

	line, err := r.stdout.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return decodeResult(line)
}

func writeFrame(w io.Writer, timestampMs int64, data []byte) error {
	header := make([]byte, 12)
	binary.BigEndian.PutUint64(header[:8], uint64(timestampMs))
	binary.BigEndian.PutUint32(header[8:], uint32(len(data)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	return nil
}

func decodeResult(line []byte) (*Result, error) {
	var msg serviceLine
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if msg.Error != "" {
		return nil, fmt.Errorf("recognizer: %s", msg.Error)
	}

	result := &Result{
		Gestures: msg.Gestures,
		Hands:    make([]HandLandmarks, len(msg.Hands)),
	}
	for i, h := range msg.Hands {
		result.Hands[i] = h.toHandLandmarks()
	}
	return result, nil
}

// Close shuts the service down, killing it if it does not exit promptly.
func (r *MediaPipeRecognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.stdin.Close()

	select {
	case <-r.exited:
		return nil
	case <-time.After(2 * time.Second):
		r.logger.Warn("recognizer service did not exit, killing")
		return r.kill()
	}
}

func (r *MediaPipeRecognizer) kill() error {
	if r.cmd.Process == nil {
		return nil
	}
	err := r.cmd.Process.Kill()
	<-r.exited
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

func findScript() string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		filepath.Join("scripts", ScriptName),
		filepath.Join("..", "scripts", ScriptName),
		filepath.Join(execDir, "scripts", ScriptName),
		filepath.Join(os.Getenv("HOME"), ".palmscroll", "scripts", ScriptName),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			if abs, err := filepath.Abs(path); err == nil {
				return abs
			}
			return path
		}
	}
	return ""
}

// findVenvPython looks for a Python interpreter in a virtual environment next
// to the working directory or the executable.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".palmscroll/venv/bin/python"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			if abs, err := filepath.Abs(path); err == nil {
				return abs
			}
			return path
		}
	}
	return ""
}

// jsonHand is a hand as written by the service.
type jsonHand struct {
	Points     []Point3D `json:"points"`
	Handedness string    `json:"handedness"`
	Score      float64   `json:"score"`
}

func (h jsonHand) toHandLandmarks() HandLandmarks {
	lm := HandLandmarks{
		Handedness: h.Handedness,
		Score:      h.Score,
	}
	for i := 0; i < NumLandmarks && i < len(h.Points); i++ {
		lm.Points[i] = h.Points[i]
	}
	return lm
}
