package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stewardhq/steward/pkg/logger"
	"github.com/stewardhq/steward/pkg/skills"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the steward daemon",
	Long: `Run the steward daemon: discover skills, watch skill directories for
changes, and fire schedule triggers until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		h, err := newHostRuntime(ctx)
		if err != nil {
			return err
		}
		defer h.Close()

		log := logger.G(ctx)
		log.WithField("skills", len(h.registry.Skills())).
			WithField("tick_interval", h.cfg.TickInterval).
			Info("steward started")

		watcher, err := skills.NewWatcher(h.registry)
		if err != nil {
			log.WithError(err).Warn("skill directory watching disabled")
		} else {
			go watcher.Run(ctx)
		}

		h.dispatcher.Run(ctx, h.cfg.TickInterval)

		log.Info("steward stopped")
		return nil
	},
}
