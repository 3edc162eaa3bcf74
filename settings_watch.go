package agentcli

import (
	"github.com/agentcli/sdk-go/internal/logging"
	"github.com/agentcli/sdk-go/internal/notify"
	"github.com/agentcli/sdk-go/internal/settingsfile"
)

// WatchSettingsFile watches path for rewrites and publishes a
// SettingsChanged notification (see OnSettingsChanged) each time it
// reloads successfully. It is a thin, opt-in convenience outside the
// connection's core state machine: the facade never re-reads
// Configuration.Settings on its own, and watching a file here has no effect
// on the already-running child.
func (c *Client) WatchSettingsFile(path string) (stop func() error, err error) {
	w, err := settingsfile.Watch(path, func(_ map[string]any, loadErr error) {
		if loadErr != nil {
			logging.Warn().Err(loadErr).Str("component", "client").Str("path", path).Msg("failed to reload watched settings file")
			return
		}
		_ = c.bus.Publish(notify.Event{Kind: notify.SettingsChanged, Data: path})
	})
	if err != nil {
		return nil, NewTransportError("watch settings file", err)
	}
	return w.Close, nil
}

// OnSettingsChanged subscribes fn to every SettingsChanged notification
// published by WatchSettingsFile. The returned func unsubscribes.
func (c *Client) OnSettingsChanged(fn func(path string)) (unsubscribe func()) {
	return c.bus.Subscribe(notify.SettingsChanged, func(e notify.Event) {
		path, ok := e.Data.(string)
		if !ok {
			return
		}
		fn(path)
	})
}
