// Package ipc exposes the broker to front-end processes over loopback TCP.
//
// The wire protocol is newline-delimited JSON: each logical message is one
// UTF-8 JSON object terminated by '\n'. Commands carry a "command" field;
// responses are plain objects without one. Unsolicited events are pushed to
// every connected client. The bound port is published in a discovery file
// so front-ends can find the daemon without a fixed port.
package ipc
