package client

import "context"

// Credentials supplies the bearer token attached at connect time.
type Credentials interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token.
type StaticToken string

// Token returns the token itself.
func (t StaticToken) Token(context.Context) (string, error) {
	return string(t), nil
}
