package httpcall

import (
	"context"
	"fmt"

	"github.com/korelabs/asynchttp/component"
)

// Component wraps the HTTP runtime with lifecycle management for
// applications that start and stop infrastructure as components.
type Component struct {
	settings Settings
	started  bool
}

// compile-time assertions
var _ component.Component = (*Component)(nil)
var _ component.Describable = (*Component)(nil)

// NewComponent creates a runtime component. The runtime initializes in
// Start.
func NewComponent(settings Settings) *Component {
	return &Component{settings: settings}
}

// Name returns the component name.
func (c *Component) Name() string { return "httpcall" }

// Start initializes the global runtime.
func (c *Component) Start(_ context.Context) error {
	if err := GlobalInitialize(c.settings); err != nil {
		return err
	}
	c.started = true
	return nil
}

// Stop tears the global runtime down.
func (c *Component) Stop(_ context.Context) error {
	if c.started {
		GlobalCleanup()
		c.started = false
	}
	return nil
}

// Health reports whether the runtime is initialized.
func (c *Component) Health(_ context.Context) component.Health {
	status := component.StatusHealthy
	if _, err := instance(); err != nil {
		status = component.StatusUnhealthy
	}
	return component.Health{Name: c.Name(), Status: status}
}

// Describe returns component description for startup summaries.
func (c *Component) Describe() component.Description {
	return component.Description{
		Name: "HTTP Runtime",
		Type: "http",
		Details: fmt.Sprintf("window=%s retry_delay=%s http2=%t",
			c.settings.TimeoutWindow, c.settings.RetryDelay, c.settings.EnableHTTP2),
	}
}
