package scraper

import (
	"context"
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"time"
)

// TorControl talks to the Tor control port. Its single job is requesting a
// fresh circuit when a worker keeps hitting dead connections.
type TorControl struct {
	addr     string
	password string
}

func NewTorControl(addr, password string) *TorControl {
	return &TorControl{addr: addr, password: password}
}

// Rotate asks the daemon for a new identity (SIGNAL NEWNYM). Tor itself
// rate-limits the signal, so calling this more often than it honors is
// harmless.
func (t *TorControl) Rotate(ctx context.Context) error {
	d := net.Dialer{Timeout: 10 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return fmt.Errorf("dialing control port %s: %w", t.addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(10 * time.Second))
	}

	proto := textproto.NewConn(conn)
	defer proto.Close()

	if err := t.command(proto, fmt.Sprintf("AUTHENTICATE %q", t.password)); err != nil {
		return fmt.Errorf("authenticating: %w", err)
	}
	if err := t.command(proto, "SIGNAL NEWNYM"); err != nil {
		return fmt.Errorf("requesting new identity: %w", err)
	}
	_ = proto.PrintfLine("QUIT")
	return nil
}

func (t *TorControl) command(proto *textproto.Conn, line string) error {
	if err := proto.PrintfLine("%s", line); err != nil {
		return err
	}
	reply, err := proto.ReadLine()
	if err != nil {
		return err
	}
	if !strings.HasPrefix(reply, "250") {
		return fmt.Errorf("control port replied %q", reply)
	}
	return nil
}
