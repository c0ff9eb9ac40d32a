package main

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/stewardhq/steward/pkg/presenter"
)

var eventCmd = &cobra.Command{
	Use:   "event [type] [payload]",
	Short: "Publish an event to matching on_event skills",
	Long: `Publish an event into the host. Every enabled skill with an on_event
trigger matching the type exactly fires once. The optional payload must be
a JSON value.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var payload any
		if len(args) == 2 {
			if err := json.Unmarshal([]byte(args[1]), &payload); err != nil {
				return errors.Wrap(err, "payload is not valid JSON")
			}
		}

		h, err := newHostRuntime(ctx)
		if err != nil {
			return err
		}
		defer h.Close()

		invoked := h.dispatcher.HandleEvent(ctx, args[0], payload)
		if invoked == 0 {
			presenter.Warning("no skill subscribed to this event type")
			return nil
		}
		presenter.Success(fmt.Sprintf("%d skill(s) invoked", invoked))
		return nil
	},
}
