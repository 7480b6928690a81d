package dispatch

import (
	"context"
	"errors"
	"log"
	"net"

	"code.hybscloud.com/iox"
)

// Accept submits a Process item to p for every connection accepted on ln
// until ctx is cancelled, which closes ln. Transient accept errors are
// retried with adaptive backoff. Accept returns nil after cancellation; the
// caller still owns the pool and must drain it.
func Accept(ctx context.Context, ln net.Listener, p *Pool) error {
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	var bo iox.Backoff
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			log.Printf("accept: %v", err)
			bo.Wait()
			continue
		}
		bo.Reset()

		if err := p.Submit(WorkItem{Action: Process, Conn: conn}); err != nil {
			conn.Close()
			return err
		}
	}
}
