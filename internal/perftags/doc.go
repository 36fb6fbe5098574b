// Package perftags drives the perftags tag-pairing engine as a child process.
//
// The engine is started as
//
//	perftags <input-exchange> <output-exchange> <database-dir>
//
// and speaks a line protocol on its standard streams:
//
//   - The client writes a command keyword followed by a newline to stdin.
//   - Bulk arguments never travel over the pipe. They are written to the
//     input exchange file before the command line is sent.
//   - The engine answers every accepted command with the completion token
//     "OK!" plus newline on stdout, and "BAD COMMAND!" for unknown keywords.
//   - Read commands leave their result in the output exchange file, which is
//     read once the token has been observed.
//   - Stderr is free-form diagnostics; it is forwarded to listeners and never
//     parsed.
//
// # Supervision
//
// A single supervisor goroutine owns stdin, the accumulated stdout buffer
// and the process state. Client methods submit requests over a channel, so
// exactly one command is in flight at any time.
//
// # Failure classification
//
// A missing completion token within the command's timeout is reported as a
// false result, not an error; whether that is fatal is the caller's call.
// An engine exit that happens while the client is neither closing nor
// expecting an error means the engine and the relational store may have
// diverged, and the fatal handler is invoked (by default it terminates the
// host process).
package perftags
