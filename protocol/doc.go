/*
Package protocol defines the wire vocabulary shared by the host and the script runner.

Every message is a single text frame of at most 99 bytes without whitespace, written in one write and read in one
read. The host half-closes its write direction after every frame it sends. Every frame except an "ACK" is answered
by an "ACK", the runner also answers the host's "ACK", and the host drops the connection and dials a fresh one every
time it receives an "ACK", so each exchange runs on its own connection.

A delegated command looks like this on the wire (runner on the left):

	EXECUTECOMMAND  ->
	                <- ACK
	ACK             ->
	help            ->
	                <- ACK
	ACK             ->
	ENDOFCOMMAND    ->
	                <- ACK
	ACK             ->
	                <- COMMANDEXECUTED
	ACK             ->

The output of the command is left in the capture file for the runner to read.
*/
package protocol
