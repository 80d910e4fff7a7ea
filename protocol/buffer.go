package protocol

import "fmt"

// Buffer collects the argument tokens of one delegated command.
type Buffer struct {
	tokens []string
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append adds a token, failing with ErrProtocolOverflow once MaxTokens tokens are held.
func (b *Buffer) Append(tok string) error {
	if len(b.tokens) >= MaxTokens {
		return fmt.Errorf("%w: more than %d tokens", ErrProtocolOverflow, MaxTokens)
	}
	if len(tok) > MaxCommandSize-1 {
		return fmt.Errorf("%w: token of %d bytes", ErrProtocolOverflow, len(tok))
	}
	b.tokens = append(b.tokens, tok)
	return nil
}

// Args returns a copy of the collected tokens, usable as an argument vector.
func (b *Buffer) Args() []string {
	args := make([]string, len(b.tokens))
	copy(args, b.tokens)
	return args
}

func (b *Buffer) Len() int { return len(b.tokens) }

// Release drops every token. It is safe to call more than once.
func (b *Buffer) Release() {
	for i := range b.tokens {
		b.tokens[i] = ""
	}
	b.tokens = nil
}
