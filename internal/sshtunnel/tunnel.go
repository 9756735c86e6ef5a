package sshtunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"strconv"
	"sync"
	"time"
)

// Dialer opens connections from the remote side. *ssh.Client satisfies it.
type Dialer interface {
	Dial(network, addr string) (net.Conn, error)
}

// LocalForward accepts connections on 127.0.0.1:LocalPort and carries each
// one to 127.0.0.1:RemotePort on the far side of the dialer.
type LocalForward struct {
	LocalPort  int
	RemotePort int
	StartedAt  time.Time

	dialer   Dialer
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// Listen binds the local port and starts forwarding. A localPort of 0 picks
// a free port.
func Listen(dialer Dialer, localPort, remotePort int) (*LocalForward, error) {
	if remotePort <= 0 || remotePort > 65535 {
		return nil, fmt.Errorf("listen: invalid remote port %d", remotePort)
	}
	listener, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(localPort)))
	if err != nil {
		return nil, fmt.Errorf("listen on local port %d: %w", localPort, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	f := &LocalForward{
		LocalPort:  listener.Addr().(*net.TCPAddr).Port,
		RemotePort: remotePort,
		StartedAt:  time.Now(),
		dialer:     dialer,
		listener:   listener,
		cancel:     cancel,
	}
	f.wg.Add(1)
	go f.acceptLoop(ctx)

	log.Printf("[tunnel] forward 127.0.0.1:%d -> remote 127.0.0.1:%d", f.LocalPort, remotePort)
	return f, nil
}

func (f *LocalForward) acceptLoop(ctx context.Context) {
	defer f.wg.Done()
	remoteAddr := net.JoinHostPort("127.0.0.1", strconv.Itoa(f.RemotePort))
	for {
		conn, err := f.listener.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				log.Printf("[tunnel] accept error on local:%d: %v", f.LocalPort, err)
			}
			return
		}

		remote, err := f.dialer.Dial("tcp", remoteAddr)
		if err != nil {
			log.Printf("[tunnel] dial remote %s failed: %v", remoteAddr, err)
			conn.Close()
			continue
		}
		go bidirectionalCopy(ctx, conn, remote)
	}
}

// Addr returns the local listen address.
func (f *LocalForward) Addr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(f.LocalPort))
}

// Close stops accepting and tears down forwarded connections. It is safe to
// call more than once.
func (f *LocalForward) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	f.cancel()
	err := f.listener.Close()
	f.wg.Wait()
	log.Printf("[tunnel] forward on local:%d closed", f.LocalPort)
	return err
}

// bidirectionalCopy pipes data between two connections until one side closes
// or ctx is cancelled.
func bidirectionalCopy(ctx context.Context, a, b net.Conn) {
	done := make(chan struct{}, 2)
	cp := func(dst, src net.Conn) {
		defer func() { done <- struct{}{} }()
		io.Copy(dst, src)
	}
	go cp(a, b)
	go cp(b, a)

	select {
	case <-done:
	case <-ctx.Done():
	}
	a.Close()
	b.Close()
	<-done
}
