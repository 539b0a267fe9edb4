package page

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ayusman/palmscroll/internal/action"
	"github.com/ayusman/palmscroll/internal/plugin"
)

// FallbackViewportHeight is used when no plugin can report the window height.
const FallbackViewportHeight = 800

// PluginPage applies effects to the focused desktop window through scroll
// plugins. Indicators are skipped when no plugin supports them.
type PluginPage struct {
	manager  *plugin.Manager
	executor *plugin.Executor
}

// NewPluginPage creates a PluginPage over discovered plugins.
func NewPluginPage(m *plugin.Manager, e *plugin.Executor) *PluginPage {
	return &PluginPage{manager: m, executor: e}
}

func (p *PluginPage) run(ctx context.Context, action string, params any) (*plugin.Response, error) {
	pl, err := p.manager.Find(action)
	if err != nil {
		return nil, err
	}
	req, err := plugin.NewRequest(action, "", params)
	if err != nil {
		return nil, err
	}
	return p.executor.Execute(ctx, pl, req)
}

// ViewportHeight asks a viewport plugin for the focused window height.
func (p *PluginPage) ViewportHeight(ctx context.Context) (float64, error) {
	resp, err := p.run(ctx, plugin.ActionViewport, nil)
	if errors.Is(err, plugin.ErrPluginNotFound) {
		return FallbackViewportHeight, nil
	}
	if err != nil {
		return 0, err
	}

	var data plugin.ViewportData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return 0, fmt.Errorf("decode viewport: %w", err)
	}
	if data.Height <= 0 {
		return FallbackViewportHeight, nil
	}
	return data.Height, nil
}

// ScrollTo scrolls the focused window to the top or bottom.
func (p *PluginPage) ScrollTo(ctx context.Context, pos action.Position) error {
	_, err := p.run(ctx, plugin.ActionScrollTo, plugin.ScrollToParams{Position: string(pos)})
	return err
}

// ScrollBy scrolls the focused window by dy pixels.
func (p *PluginPage) ScrollBy(ctx context.Context, dy float64) error {
	_, err := p.run(ctx, plugin.ActionScrollBy, plugin.ScrollByParams{DY: dy})
	return err
}

// ShowIndicator shows a desktop notification.
func (p *PluginPage) ShowIndicator(ctx context.Context, text string, d time.Duration) error {
	_, err := p.run(ctx, plugin.ActionIndicator, plugin.IndicatorParams{Text: text, DurationMs: d.Milliseconds()})
	if errors.Is(err, plugin.ErrPluginNotFound) {
		return nil
	}
	return err
}

// HideIndicator is a no-op; notifications expire on their own.
func (p *PluginPage) HideIndicator(ctx context.Context) error {
	return nil
}
