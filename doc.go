// Package pushover implements a Pushover Open Client agent that turns
// notifications into invocations of an external command.
//
// The agent logs in as a desktop device, drains the device's pending
// notifications, then listens on the realtime WebSocket for control signals:
//
//   - '!': download, dispatch and acknowledge new notifications
//   - 'R': close the channel and start over after the restart delay
//   - 'E', 'A': close the channel and stop
//   - '#': keepalive
//
// Notifications are acknowledged only after they were dispatched, so delivery
// is at least once. Each notification whose title has a registered handler is
// dispatched in batch order; by default the configured titles run the external
// command with the body split into an action and an underscore-joined target:
//
//	"ON kitchen lamp" -> command ON kitchen_lamp
//
// Basic usage:
//
//	agent, err := pushover.NewAgent(pushover.Config{
//	    Email:       "me@example.com",
//	    Password:    "secret",
//	    DeviceID:    "abc123",
//	    CommandPath: "/usr/local/bin/heyu",
//	}, pushover.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//
//	if err := agent.Run(ctx); err != nil {
//	    log.Print(err)
//	}
package pushover
