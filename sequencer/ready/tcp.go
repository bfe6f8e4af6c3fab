package ready

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCP checks health by dialing a TCP connection.
type TCP struct{}

func (TCP) Check(ctx context.Context, host string, port int) error {
	d := net.Dialer{Timeout: 200 * time.Millisecond}
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return err
	}
	conn.Close()
	return nil
}
