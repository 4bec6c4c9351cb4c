package grpcnet

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"ringkv/internal/address"
	"ringkv/internal/transport"
)

const (
	// sendTimeout bounds a single Deliver call.
	sendTimeout = 2 * time.Second
	// peerQueueSize is the number of outbound messages buffered per peer
	// before Send starts dropping messages to that peer.
	peerQueueSize = 1024
)

// Transport is a transport.Transport for one local node.
type Transport struct {
	self      address.Address
	endpoints map[address.Address]string
	log       *logrus.Entry

	inboxMu sync.Mutex
	inbox   [][]byte

	connMu sync.RWMutex
	conns  map[string]*grpc.ClientConn

	// out holds one queue per peer, each drained by its own goroutine so a
	// slow peer only delays its own messages.
	out    map[address.Address]chan []byte
	server *grpc.Server
	stop   chan struct{}
	wg     sync.WaitGroup
	closed bool
	mu     sync.Mutex
}

// New creates a transport for self. endpoints maps every known node address
// (self included) to its host:port.
func New(self address.Address, endpoints map[address.Address]string, log *logrus.Entry) *Transport {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	eps := make(map[address.Address]string, len(endpoints))
	out := make(map[address.Address]chan []byte, len(endpoints))
	for a, ep := range endpoints {
		eps[a] = ep
		if a != self {
			out[a] = make(chan []byte, peerQueueSize)
		}
	}
	return &Transport{
		self:      self,
		endpoints: eps,
		log:       log.WithField("component", "transport"),
		conns:     make(map[string]*grpc.ClientConn),
		out:       out,
		stop:      make(chan struct{}),
	}
}

// Start listens on the endpoint configured for self and starts the sender.
func (t *Transport) Start() error {
	ep, ok := t.endpoints[t.self]
	if !ok {
		return fmt.Errorf("no endpoint for %s: %w", t.self, transport.ErrUnknownAddress)
	}
	lis, err := net.Listen("tcp", ep)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", ep, err)
	}
	return t.Serve(lis)
}

// Serve serves Deliver on lis and starts one sender per peer.
func (t *Transport) Serve(lis net.Listener) error {
	t.server = grpc.NewServer()
	t.server.RegisterService(&serviceDesc, t)

	t.wg.Add(1 + len(t.out))
	go func() {
		defer t.wg.Done()
		if err := t.server.Serve(lis); err != nil {
			t.log.WithError(err).Warn("gRPC server stopped")
		}
	}()
	for to, queue := range t.out {
		go func(to address.Address, queue <-chan []byte) {
			defer t.wg.Done()
			t.sendLoop(to, queue)
		}(to, queue)
	}

	t.log.WithField("listen", lis.Addr().String()).Info("Transport started")
	return nil
}

// Stop shuts the server and all client connections down.
func (t *Transport) Stop() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.stop)
	t.mu.Unlock()

	if t.server != nil {
		t.server.GracefulStop()
	}
	t.wg.Wait()

	t.connMu.Lock()
	defer t.connMu.Unlock()
	for ep, conn := range t.conns {
		_ = conn.Close()
		delete(t.conns, ep)
	}
}

// Send implements transport.Transport. Messages to self skip the network.
func (t *Transport) Send(from, to address.Address, payload []byte) error {
	if to == t.self {
		t.enqueue(payload)
		return nil
	}
	queue, ok := t.out[to]
	if !ok {
		return fmt.Errorf("send to %s: %w", to, transport.ErrUnknownAddress)
	}

	select {
	case queue <- append([]byte(nil), payload...):
	default:
		t.log.WithField("to", to.String()).Debug("Outbound queue full, dropping message")
	}
	return nil
}

// Receive implements transport.Transport. Only the local inbox exists.
func (t *Transport) Receive(addr address.Address) [][]byte {
	if addr != t.self {
		return nil
	}
	t.inboxMu.Lock()
	defer t.inboxMu.Unlock()

	out := t.inbox
	t.inbox = nil
	return out
}

// Deliver handles the Deliver RPC.
func (t *Transport) Deliver(_ context.Context, f *Frame) (*Ack, error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return nil, status.Error(codes.Unavailable, "transport stopped")
	}
	t.enqueue(f.Payload)
	return &Ack{}, nil
}

func (t *Transport) enqueue(payload []byte) {
	t.inboxMu.Lock()
	defer t.inboxMu.Unlock()
	t.inbox = append(t.inbox, payload)
}

func (t *Transport) sendLoop(to address.Address, queue <-chan []byte) {
	for {
		select {
		case <-t.stop:
			return
		case payload := <-queue:
			if err := t.deliver(to, payload); err != nil {
				t.log.WithError(err).WithField("to", to.String()).Debug("Deliver failed")
			}
		}
	}
}

func (t *Transport) deliver(to address.Address, payload []byte) error {
	conn, err := t.conn(t.endpoints[to])
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	return conn.Invoke(ctx, deliverMethod, &Frame{From: t.self, Payload: payload}, &Ack{},
		grpc.CallContentSubtype(codecName))
}

// conn returns a cached client connection to ep.
func (t *Transport) conn(ep string) (*grpc.ClientConn, error) {
	t.connMu.RLock()
	conn, exists := t.conns[ep]
	t.connMu.RUnlock()
	if exists {
		return conn, nil
	}

	t.connMu.Lock()
	defer t.connMu.Unlock()

	// Double-check after acquiring write lock
	if conn, exists := t.conns[ep]; exists {
		return conn, nil
	}

	conn, err := grpc.NewClient(ep, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", ep, err)
	}
	t.conns[ep] = conn
	return conn, nil
}

var _ transport.Transport = (*Transport)(nil)
