// Package cli binds stdin/stdout to the message bus for local use.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/nextlevelbuilder/nanobot/internal/bus"
	"github.com/nextlevelbuilder/nanobot/internal/channels"
)

// Channel reads lines from an input stream and prints replies.
type Channel struct {
	*channels.BaseChannel
	in   io.Reader
	out  io.Writer
	done chan struct{}
}

func New(msgBus *bus.MessageBus) *Channel {
	return &Channel{
		BaseChannel: channels.NewBaseChannel("cli", msgBus, nil, 0),
		in:          os.Stdin,
		out:         os.Stdout,
	}
}

// Start launches the line reader. EOF on stdin stops the channel
// without stopping the gateway.
func (c *Channel) Start(ctx context.Context) error {
	c.done = make(chan struct{})
	c.SetRunning(true)

	go func() {
		defer close(c.done)
		scanner := bufio.NewScanner(c.in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case <-ctx.Done():
				return
			default:
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			c.HandleMessage("local", "direct", line, nil, nil)
		}
		c.SetRunning(false)
	}()
	return nil
}

// Stop marks the channel stopped. The reader goroutine exits on the
// next context check or EOF.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	return nil
}

// Send prints the reply to stdout.
func (c *Channel) Send(_ context.Context, msg bus.OutboundMessage) error {
	_, err := fmt.Fprintf(c.out, "%s\n", msg.Content)
	return err
}
