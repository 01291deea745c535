// Package tui provides the live terminal view for poll sessions.
//
// The view is read-only. It shows the poll iteration, each experiment
// with its latest state and log line, and a short activity log. Quitting
// with q or Ctrl+C cancels the session through the onQuit callback.
//
// Usage:
//
//	program, app := tui.NewPollProgram(root, opts, cancel)
//	go func() { _, _ = program.Run() }()
//
//	// Forward poller events
//	poller.OnEvent(tui.Observer(program))
//
//	// Signal completion
//	program.Send(tui.DoneMsg{Summary: sum, Err: err})
package tui
