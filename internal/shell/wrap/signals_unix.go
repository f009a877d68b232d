//go:build unix

package wrap

import (
	"os"
	"syscall"
)

// forwardedSignals are the asynchronous signals relayed to the child.
// SIGKILL and SIGSTOP cannot be caught and SIGCHLD concerns compd itself.
// SIGURG and SIGPROF belong to the Go runtime.
var forwardedSignals = []os.Signal{
	syscall.SIGABRT,
	syscall.SIGALRM,
	syscall.SIGCONT,
	syscall.SIGHUP,
	syscall.SIGINT,
	syscall.SIGIO,
	syscall.SIGPIPE,
	syscall.SIGQUIT,
	syscall.SIGSYS,
	syscall.SIGTERM,
	syscall.SIGTRAP,
	syscall.SIGTSTP,
	syscall.SIGTTIN,
	syscall.SIGTTOU,
	syscall.SIGUSR1,
	syscall.SIGUSR2,
	syscall.SIGVTALRM,
	syscall.SIGWINCH,
	syscall.SIGXCPU,
	syscall.SIGXFSZ,
}
