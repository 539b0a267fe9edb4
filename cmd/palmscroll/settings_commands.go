package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ayusman/palmscroll/internal/settings"
	"github.com/ayusman/palmscroll/internal/store"
)

func newSettingsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change gesture settings",
	}
	cmd.AddCommand(newSettingsShowCommand(ctx))
	cmd.AddCommand(newSettingsSetCommand(ctx))
	return cmd
}

func newSettingsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the persisted settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(st *store.Store) error {
				s, err := st.Settings().Load(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderSettings(s))
				return nil
			})
		},
	}
}

func newSettingsSetCommand(ctx *commandContext) *cobra.Command {
	var (
		speed     float64
		distance  float64
		camera    bool
		indicator bool
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change settings; a running daemon relays them to the focused tab",
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch settings.Patch
			flags := cmd.Flags()
			if flags.Changed("scroll-speed") {
				patch.ScrollSpeed = &speed
			}
			if flags.Changed("scroll-distance") {
				patch.ScrollDistance = &distance
			}
			if flags.Changed("show-camera") {
				patch.ShowCamera = &camera
			}
			if flags.Changed("show-indicator") {
				patch.ShowIndicator = &indicator
			}
			if patch.Empty() {
				return errors.New("no settings given; see --help")
			}

			s, err := ctx.applySettings(cmd.Context(), patch)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderSettings(s))
			return nil
		},
	}

	flags := cmd.Flags()
	flags.Float64Var(&speed, "scroll-speed", 1.0, "Scroll speed multiplier (> 0)")
	flags.Float64Var(&distance, "scroll-distance", 80, "Scroll step as a percentage of the viewport (0-1000)")
	flags.BoolVar(&camera, "show-camera", true, "Show the camera preview with landmarks")
	flags.BoolVar(&indicator, "show-indicator", true, "Show on-page gesture indicators")
	return cmd
}

// applySettings sends patch to a running daemon, or persists it directly
// when none is listening.
func (c *commandContext) applySettings(ctx context.Context, patch settings.Patch) (settings.Settings, error) {
	reqCtx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()

	var s settings.Settings
	err := c.callAPI(reqCtx, http.MethodPut, "/api/settings", patch, &s)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, errDaemonUnavailable) {
		return settings.Settings{}, err
	}

	err = c.withStore(func(st *store.Store) error {
		current, err := st.Settings().Load(ctx)
		if err != nil {
			return err
		}
		s = current.Apply(patch)
		return st.Settings().Save(ctx, s)
	})
	return s, err
}

func renderSettings(s settings.Settings) string {
	rows := [][]string{
		{"Scroll speed", strconv.FormatFloat(s.ScrollSpeed, 'f', -1, 64) + "x"},
		{"Scroll distance", strconv.FormatFloat(s.ScrollDistance, 'f', -1, 64) + "%"},
		{"Show camera", yesNo(s.ShowCamera)},
		{"Show indicator", yesNo(s.ShowIndicator)},
	}
	return renderTable([]string{"Setting", "Value"}, rows, []columnAlignment{alignLeft, alignRight})
}
