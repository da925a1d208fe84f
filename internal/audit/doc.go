// Package audit relays security events from the engine to a sink without
// blocking request handling.
//
// # Components
//
//   - [Sink] is implemented by the zap, channel and no-op sinks.
//   - [Dispatcher] is a buffered relay that drops or blocks when full.
//   - [Event] is the record itself.
//
// The engine decides which events exist; this package only delivers them.
package audit
