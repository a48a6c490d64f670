// Package tools starts browser processes wired for --remote-debugging-pipe.
//
// The browser reads commands from file descriptor 3 and writes responses and
// events to file descriptor 4, each message terminated by a NUL byte.
package tools
