package main

import (
	"context"
	"io"
	"log/slog"

	"triage-ai/internal/adapter/channel"
	"triage-ai/internal/usecase"
)

type repl interface {
	Run(ctx context.Context, handle channel.Handler) error
}

type turnRunner interface {
	Run(ctx context.Context, sess *usecase.Session, input string) (*usecase.RunResult, error)
}

// runSession drives the REPL until it returns and releases bridge exactly
// once, whichever way the loop ends.
func runSession(ctx context.Context, bridge io.Closer, console repl, runner turnRunner, sess *usecase.Session, log *slog.Logger) error {
	defer func() {
		if err := bridge.Close(); err != nil {
			log.Warn("tool bridge close failed", "error", err)
		}
	}()

	return console.Run(ctx, func(ctx context.Context, input string) (channel.Reply, error) {
		res, err := runner.Run(ctx, sess, input)
		if err != nil {
			log.Error("turn failed",
				"session", sess.ID,
				"agent", sess.Active(),
				"error", err,
			)
			return channel.Reply{}, err
		}
		log.Info("turn complete",
			"session", sess.ID,
			"agent", res.LastAgent,
			"path", res.Path,
			"handoffs", res.Handoffs,
			"tool_calls", res.ToolCalls,
		)
		return channel.Reply{Text: res.FinalOutput, Agent: res.LastAgent}, nil
	})
}
