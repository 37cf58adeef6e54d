// Package console runs the chatbot against a terminal.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"
	"go.uber.org/zap"

	"chatbridge/internal/logger"
	"chatbridge/internal/messaging"
	"chatbridge/internal/models"
)

// LineReader yields one input line per call. *readline.Instance satisfies it.
type LineReader interface {
	Readline() (string, error)
	Close() error
}

type Config struct {
	UserID string
	Prompt string
	// OnClose runs when the input stream ends on its own (EOF or Ctrl-C).
	OnClose func()
}

// Adapter reads user lines from a terminal and prints replies.
type Adapter struct {
	cfg    Config
	logger *zap.SugaredLogger

	newReader func(prompt string) (LineReader, io.Writer, error)

	mu      sync.Mutex
	out     io.Writer
	reader  LineReader
	cancel  context.CancelFunc
	done    chan struct{}
	writeMu sync.Mutex
}

func New(cfg Config, log *zap.SugaredLogger) *Adapter {
	if cfg.UserID == "" {
		cfg.UserID = "console"
	}
	return &Adapter{
		cfg:       cfg,
		logger:    logger.Or(log).With("platform", messaging.PlatformConsole),
		newReader: newTerminalReader,
		out:       os.Stdout,
	}
}

// NewWithReader is New with a caller supplied input and output.
func NewWithReader(cfg Config, reader LineReader, out io.Writer, log *zap.SugaredLogger) *Adapter {
	a := New(cfg, log)
	a.newReader = func(string) (LineReader, io.Writer, error) { return reader, out, nil }
	return a
}

func newTerminalReader(prompt string) (LineReader, io.Writer, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, nil, err
	}
	return rl, rl.Stdout(), nil
}

func (a *Adapter) Platform() messaging.Platform {
	return messaging.PlatformConsole
}

func (a *Adapter) Connect(ctx context.Context, handler messaging.InboundHandler) error {
	if handler == nil {
		return errors.New("console: handler required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done != nil {
		return nil
	}

	reader, out, err := a.newReader(a.cfg.Prompt)
	if err != nil {
		return fmt.Errorf("console: open terminal: %w", err)
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.reader = reader
	if out != nil {
		a.out = out
	}
	a.cancel = cancel
	a.done = make(chan struct{})
	go a.readLoop(loopCtx, reader, handler, a.done)
	a.logger.Infow("console session started", "user_id", a.cfg.UserID)
	return nil
}

func (a *Adapter) readLoop(ctx context.Context, reader LineReader, handler messaging.InboundHandler, done chan struct{}) {
	defer close(done)
	for {
		line, err := reader.Readline()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, readline.ErrInterrupt) {
				a.logger.Errorw("read console input failed", "err", err)
			}
			a.logger.Infow("console input closed")
			if a.cfg.OnClose != nil {
				a.cfg.OnClose()
			}
			return
		}
		text := strings.TrimSpace(line)
		if text == "" {
			continue
		}
		payload := models.MessagePayload{
			UserID:          a.cfg.UserID,
			UserName:        a.cfg.UserID,
			Text:            text,
			Timestamp:       time.Now(),
			OriginalMessage: line,
		}
		if err := handler(ctx, payload); err != nil {
			a.logger.Errorw("handle console input failed", "err", err)
		}
	}
}

func (a *Adapter) SendMessage(_ context.Context, userID, text string) error {
	a.mu.Lock()
	out := a.out
	a.mu.Unlock()

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if _, err := fmt.Fprintf(out, "bot> %s\n", text); err != nil {
		return &messaging.DeliveryError{Platform: messaging.PlatformConsole, UserID: userID, Err: err}
	}
	return nil
}

func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	cancel, reader, done := a.cancel, a.reader, a.done
	a.cancel, a.reader, a.done = nil, nil, nil
	a.mu.Unlock()
	if done == nil {
		return nil
	}

	cancel()
	err := reader.Close()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	a.logger.Infow("console session stopped")
	return err
}
