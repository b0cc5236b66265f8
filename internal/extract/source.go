package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/wegman-software/speedtiles-go/internal/logger"
	"github.com/wegman-software/speedtiles-go/internal/pbf"
)

// Stream is a record stream. Close must be called once reading is done; it
// reports any failure of the producer behind the stream.
type Stream struct {
	io.Reader
	close func() error
}

// Close releases the stream and waits for its producer
func (s *Stream) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// OpenFile opens an NDJSON file, or stdin when path is "-"
func OpenFile(path string) (*Stream, error) {
	if path == "-" {
		return &Stream{Reader: os.Stdin}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	return &Stream{Reader: f, close: f.Close}, nil
}

// OpenPBF runs the built-in converter on its own goroutine and streams its
// output through a pipe
func OpenPBF(ctx context.Context, opts pbf.Options) (*Stream, error) {
	if _, err := os.Stat(opts.Input); err != nil {
		return nil, fmt.Errorf("input file not found: %w", err)
	}

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		_, err := pbf.NewConverter(opts).Convert(ctx, pw)
		pw.CloseWithError(err)
		done <- err
	}()

	return &Stream{
		Reader: pr,
		close: func() error {
			// Unblocks the converter if the reader stopped early
			pr.Close()
			err := <-done
			if err != nil && err != io.ErrClosedPipe && ctx.Err() == nil {
				return fmt.Errorf("pbf conversion failed: %w", err)
			}
			return nil
		},
	}, nil
}

// OpenCommand runs an external converter and streams its stdout. The input
// path is appended to the command's arguments; a command containing "{}" has
// it substituted there instead. A non-zero exit is reported by Close.
func OpenCommand(ctx context.Context, command, input string) (*Stream, error) {
	args := strings.Fields(command)
	if len(args) == 0 {
		return nil, fmt.Errorf("converter command is empty")
	}
	if _, err := os.Stat(input); err != nil {
		return nil, fmt.Errorf("input file not found: %w", err)
	}

	substituted := false
	for i, a := range args {
		if strings.Contains(a, "{}") {
			args[i] = strings.ReplaceAll(a, "{}", input)
			substituted = true
		}
	}
	if !substituted {
		args = append(args, input)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start converter %q: %w", args[0], err)
	}

	logger.Get().Info("Started converter",
		zap.Strings("args", args),
		zap.Int("pid", cmd.Process.Pid))

	return &Stream{
		Reader: stdout,
		close: func() error {
			// Drain so the converter is not blocked on a full pipe
			io.Copy(io.Discard, stdout)
			err := cmd.Wait()
			if err == nil || ctx.Err() != nil {
				return nil
			}
			msg := strings.TrimSpace(stderr.String())
			if len(msg) > 512 {
				msg = msg[:512]
			}
			return fmt.Errorf("converter %q failed: %w: %s", args[0], err, msg)
		},
	}, nil
}
