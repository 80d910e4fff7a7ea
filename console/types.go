package console

// ExecRequest asks the console to run one host command line.
type ExecRequest struct {
	Args []string
}

// ExecResponse is one message of a command's result stream.
// Messages carry output until the last one, which has Done set and reports how the command ended.
type ExecResponse struct {
	Output []byte

	Done bool
	// Error is the command's error text, empty on success.
	Error string
	// Aborted is set when the command failed fatally.
	Aborted bool
}
