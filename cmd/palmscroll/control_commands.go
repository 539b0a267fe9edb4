package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ayusman/palmscroll/internal/control"
)

func newToggleCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:       "toggle [on|off]",
		Short:     "Turn gesture control on or off in the focused tab",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var body any
			if len(args) == 1 {
				enabled, err := parseOnOff(args[0])
				if err != nil {
					return err
				}
				body = map[string]bool{"enabled": enabled}
			}

			reqCtx, cancel := context.WithTimeout(cmd.Context(), control.ToggleTimeout+apiTimeout)
			defer cancel()

			var resp struct {
				Enabled bool `json:"enabled"`
			}
			if err := ctx.callAPI(reqCtx, http.MethodPost, "/api/toggle", body, &resp); err != nil {
				return fmt.Errorf("toggle: %w", err)
			}
			state := "off"
			if resp.Enabled {
				state = "on"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Gesture control %s\n", state)
			return nil
		},
	}
}

func parseOnOff(value string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("expected on or off, got %q", value)
	}
	return b, nil
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the gesture session and recent gestures",
		RunE: func(cmd *cobra.Command, args []string) error {
			reqCtx, cancel := context.WithTimeout(cmd.Context(), apiTimeout)
			defer cancel()

			var st control.Status
			if err := ctx.callAPI(reqCtx, http.MethodGet, "/api/status", nil, &st); err != nil {
				return fmt.Errorf("status: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderStatus(st))
			return nil
		},
	}
}

func renderStatus(st control.Status) string {
	rows := [][]string{{"Enabled", yesNo(st.Enabled)}}
	if s := st.Session; s != nil {
		rows = append(rows,
			[]string{"State", string(s.State)},
			[]string{"Capture surface", orDash(s.Surface)},
			[]string{"Active tab", orDash(s.ActiveTab)},
		)
		if s.LastError != "" {
			rows = append(rows, []string{"Last error", s.LastError})
		}
	}

	var b strings.Builder
	b.WriteString(renderTable([]string{"Session", "Value"}, rows, nil))

	if len(st.Recent) > 0 {
		recent := make([][]string, 0, len(st.Recent))
		for _, e := range st.Recent {
			recent = append(recent, []string{
				e.CreatedAt.Local().Format(time.TimeOnly),
				e.Gesture,
				strconv.FormatFloat(e.Confidence, 'f', 2, 64),
				orDash(e.TabID),
			})
		}
		b.WriteString("\n")
		b.WriteString(renderTable([]string{"Time", "Gesture", "Confidence", "Tab"}, recent,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft}))
	}
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
