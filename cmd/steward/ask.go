package main

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/stewardhq/steward/pkg/presenter"
)

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Route a question to matching on_ask skills",
	Long: `Route a question to every enabled skill whose on_ask trigger matches.
Each matching skill fires once; its handler result is printed as JSON.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		h, err := newHostRuntime(ctx)
		if err != nil {
			return err
		}
		defer h.Close()

		text := strings.Join(args, " ")
		results := h.dispatcher.MatchAsk(ctx, text)
		if len(results) == 0 {
			return errors.New("no skill matched the question")
		}
		for _, res := range results {
			if len(res.Output) == 0 {
				presenter.Info(fmt.Sprintf("%s: (no result)", res.Skill))
				continue
			}
			presenter.Info(fmt.Sprintf("%s: %s", res.Skill, res.Output))
		}
		return nil
	},
}
