// Package session owns the per-connection call protocol.
//
// Ownership boundary:
// - call grammar: optional version header, optional calling context,
//   function name, argument count, arguments
// - one synchronous handler invocation per call
// - reply encoding and flush before the next call is read
//
// States per call:
// - await_header -> await_context -> await_name -> await_arg_count ->
//   await_args -> invoking -> replying -> await_header
//
// - any fault moves the session to closed; the stream is never resynchronized.
package session
