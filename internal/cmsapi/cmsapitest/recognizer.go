package cmsapitest

import (
	"context"
	"strings"
	"sync/atomic"
)

// EchoRecognizer reads the text back out of images served by Server.
// When Text is set it is returned instead.
type EchoRecognizer struct {
	Text  string
	Calls atomic.Int32
}

func (r *EchoRecognizer) Recognize(ctx context.Context, image []byte) (string, error) {
	r.Calls.Add(1)
	if r.Text != "" {
		return r.Text, nil
	}
	return strings.TrimPrefix(string(image), "img:"), nil
}
