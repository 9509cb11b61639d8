// protocol.go defines the contract between the broker and the privileged helper.
// The broker passes three decimal arguments; the helper answers only with its
// exit status and, on success, one SCM_RIGHTS message on the inherited channel.
package helper

import "strconv"

// Name is the helper executable looked up on the search path.
const Name = "rawsocket-helper"

// ChannelFD is the descriptor number the helper's channel endpoint gets in
// the child. os/exec places ExtraFiles[0] at fd 3.
const ChannelFD = 3

// ArgCount is the exact number of arguments the helper accepts.
const ArgCount = 3

// Exit statuses. The set is closed: the helper never reports anything else,
// and every non-zero value is a failure.
const (
	// ExitOK means the descriptor was sent.
	ExitOK = 0

	// ExitUsage means the argument count was wrong or an argument did not
	// parse. No socket was created.
	ExitUsage = 1

	// ExitDenied means socket(2) failed with EPERM or EACCES, which in
	// practice means the helper was installed without CAP_NET_RAW.
	ExitDenied = 2

	// ExitSocket means socket(2) failed for any other reason, such as an
	// unsupported family or protocol.
	ExitSocket = 3

	// ExitTransfer means the socket was created but could not be sent.
	ExitTransfer = 4
)

// Args formats the helper's positional arguments.
func Args(channelFD, family, protocol int) []string {
	return []string{
		strconv.Itoa(channelFD),
		strconv.Itoa(family),
		strconv.Itoa(protocol),
	}
}
