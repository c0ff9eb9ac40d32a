package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/stewardhq/steward/pkg/presenter"
	"github.com/stewardhq/steward/pkg/skills"
)

var skillCmd = &cobra.Command{
	Use:   "skill",
	Short: "Inspect installed skills",
}

var skillListCmd = &cobra.Command{
	Use:   "list",
	Short: "List discovered skills and their triggers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		h, err := newHostRuntime(ctx)
		if err != nil {
			return err
		}
		defer h.Close()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tVERSION\tISOLATED\tTRIGGERS\tDESCRIPTION")
		for _, skill := range h.registry.Skills() {
			triggers := make([]string, 0, len(skill.Triggers))
			for _, t := range skill.Triggers {
				triggers = append(triggers, fmt.Sprintf("%s:%s", t.Kind, t.Raw))
			}
			fmt.Fprintf(w, "%s\t%s\t%v\t%s\t%s\n",
				skill.Name, skill.Version, skill.Isolated,
				strings.Join(triggers, ", "), skill.Description)
		}
		return w.Flush()
	},
}

var skillValidateCmd = &cobra.Command{
	Use:   "validate [dir]",
	Short: "Validate a skill directory's SKILL.md manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manifest, err := skills.LoadManifest(filepath.Join(args[0], skills.ManifestFileName))
		if err != nil {
			return err
		}
		presenter.Success(fmt.Sprintf("%s %s: %d trigger(s), %d permission(s)",
			manifest.Name, manifest.Version, len(manifest.Triggers), manifest.Permissions.Len()))
		return nil
	},
}

func init() {
	skillCmd.AddCommand(skillListCmd)
	skillCmd.AddCommand(skillValidateCmd)
}
