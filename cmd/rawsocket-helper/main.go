// rawsocket-helper creates one raw socket and hands it to its parent.
//
// Usage:
//
//	rawsocket-helper <channel_fd> <address_family> <protocol>
//
// The parent passes one end of an AF_UNIX socketpair as channel_fd. The
// helper calls socket(family, SOCK_RAW, protocol), sends the descriptor over
// the channel with SCM_RIGHTS and exits. It reads no configuration, writes
// nothing to stdout or stderr, and reports only through its exit status.
//
// Install it with the raw socket capability and nothing else:
//
//	install -o root -g root -m 0755 rawsocket-helper /usr/local/bin/
//	setcap cap_net_raw+ep /usr/local/bin/rawsocket-helper
package main

import (
	"os"

	"github.com/doughall/rawsock/internal/helper"
)

func main() {
	os.Exit(helper.Main(os.Args[1:]))
}
