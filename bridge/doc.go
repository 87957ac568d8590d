// Package bridge runs the control loop that turns device readings into bus
// messages while the recovery controller keeps the session alive.
//
// Each Tick publishes a heartbeat, lets the controller supervise the session,
// reads a spectrum when one is due, then reads the latest records:
//   - fresh realtime data is merged with the cached rare fields and published
//     as state, with an "ok" status at the status cadence;
//   - no realtime data publishes a waiting or stale state that keeps the cached
//     values, with a waiting summary at the status cadence;
//   - a read error publishes an "error" status and delays the next tick.
//
// Publishing is best effort. Failures are logged and counted in Metrics and
// never stop the loop.
package bridge
