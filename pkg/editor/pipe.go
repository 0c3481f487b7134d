package editor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// maxLineSize bounds a single command line.
const maxLineSize = 1 << 20

// Pipe speaks newline-delimited JSON: one Command per input line, one Reply
// per output line, in order.
type Pipe struct {
	handler *Handler

	mu sync.Mutex
	w  io.Writer
}

func NewPipe(h *Handler, w io.Writer) *Pipe {
	return &Pipe{handler: h, w: w}
}

// Serve reads commands from r until EOF or until ctx is done. Malformed lines
// are answered with an error reply.
func (p *Pipe) Serve(ctx context.Context, r io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan []byte)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					if err != nil {
						return fmt.Errorf("failed to read editor commands: %w", err)
					}
				default:
				}
				return nil
			}
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			if err := p.write(p.handleLine(ctx, line)); err != nil {
				return err
			}
		}
	}
}

func (p *Pipe) handleLine(ctx context.Context, line []byte) Reply {
	var cmd Command
	if err := json.Unmarshal(line, &cmd); err != nil {
		return Reply{Error: fmt.Sprintf("malformed command: %v", err)}
	}
	return p.handler.Handle(ctx, cmd)
}

func (p *Pipe) write(reply Reply) error {
	data, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to marshal reply: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write reply: %w", err)
	}
	return nil
}
