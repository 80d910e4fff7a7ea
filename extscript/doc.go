/*
Package extscript lets a host tool hand control to an external runner process, which then drives the host by asking it to
execute host commands and reading their output back.

A session starts the runner, connects to the socket it listens on, and then answers the runner's requests until the runner
says DONE, at which point the host sends SHUTDOWN and waits for the runner to exit:

	EXECUTECOMMAND  collect argument tokens up to ENDOFCOMMAND, run them as a host command, reply COMMANDEXECUTED
	VMLINUXPATH     reply with the host's image path
	DONE            the runner is finished
	ACK             reconnect, see package transport

The output of each delegated command is written to a capture file, which the runner reads.

A delegated command can abort with a fatal error. The session installs its own continuation in the host for the duration
of each delegated command, so that on abort it can close the socket, stop the runner and restore the host's state before the
abort reaches the host's own handler.

	h := host.New()
	c, err := extscript.New(h)
	if err != nil {
		return err
	}
	h.Register(c.Command())
	h.Exec(ctx, []string{"extscript", "-f", "perl", "-a", "perl", "-a", "./runner.pl"})
	h.Exec(ctx, []string{"extscript", "-b", "help"})
*/
package extscript
