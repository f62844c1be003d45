// Package protocol defines the line protocol spoken with the worker: one JSON
// request written to its stdin, then newline-delimited JSON messages read from
// its stdout.
//
// Every stdout line decodes into a Message. Lines that are blank, not JSON, or
// not a JSON object become KindMalformed instead of an error, so a single bad
// line never aborts a stream. A message whose "event" is "complete" is
// terminal and carries a Result; everything else is progress and is forwarded
// untouched.
package protocol
