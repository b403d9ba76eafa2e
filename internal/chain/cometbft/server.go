package cometbft

import (
	"context"
	"fmt"

	abciserver "github.com/cometbft/cometbft/abci/server"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/sirupsen/logrus"

	"proofnet/internal/logging"
)

// Serve exposes app to a CometBFT node over transport ("socket" or "grpc")
// until ctx ends.
func Serve(ctx context.Context, addr, transport string, app *App) error {
	srv, err := abciserver.NewServer(addr, transport, app)
	if err != nil {
		return fmt.Errorf("failed to create abci server: %w", err)
	}
	srv.SetLogger(NewLogger(logging.L().WithField("component", "abci")))
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start abci server on %s: %w", addr, err)
	}
	app.logger.Info("ABCI server listening", "addr", addr, "transport", transport)

	<-ctx.Done()
	if err := srv.Stop(); err != nil {
		return fmt.Errorf("failed to stop abci server: %w", err)
	}
	return nil
}

// cometLogger routes CometBFT's key/value logger onto logrus.
type cometLogger struct {
	entry *logrus.Entry
}

// NewLogger wraps entry as a CometBFT logger.
func NewLogger(entry *logrus.Entry) cmtlog.Logger {
	return cometLogger{entry: entry}
}

func (l cometLogger) Debug(msg string, keyvals ...interface{}) {
	l.entry.WithFields(fields(keyvals)).Debug(msg)
}

func (l cometLogger) Info(msg string, keyvals ...interface{}) {
	l.entry.WithFields(fields(keyvals)).Info(msg)
}

func (l cometLogger) Error(msg string, keyvals ...interface{}) {
	l.entry.WithFields(fields(keyvals)).Error(msg)
}

func (l cometLogger) With(keyvals ...interface{}) cmtlog.Logger {
	return cometLogger{entry: l.entry.WithFields(fields(keyvals))}
}

func fields(keyvals []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(keyvals)/2+1)
	for i := 0; i+1 < len(keyvals); i += 2 {
		f[fmt.Sprint(keyvals[i])] = keyvals[i+1]
	}
	if len(keyvals)%2 == 1 {
		f["extra"] = keyvals[len(keyvals)-1]
	}
	return f
}
