package bdx

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/nodeforge/fabricd/pkg/exchange"
)

// memorySource hands out fixed-size chunks of an in-memory buffer.
type memorySource struct {
	data      []byte
	offset    int
}

func (s *memorySource) NextBlock(maxSize int) ([]byte, bool, error) {
	remaining := s.data[s.offset:]
	if len(remaining) <= maxSize {
		s.offset = len(s.data)
		return remaining, true, nil
	}
	block := remaining[:maxSize]
	s.offset += maxSize
	return block, false, nil
}

// memorySink accumulates received blocks and signals completion.
type memorySink struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	done chan struct{}
}

func newMemorySink() *memorySink {
	return &memorySink{done: make(chan struct{})}
}

func (s *memorySink) WriteBlock(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.buf.Write(data)
	return err
}

func (s *memorySink) Complete() error {
	close(s.done)
	return nil
}

func (s *memorySink) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Bytes()
}

// acceptAllDelegate accepts every proposed transfer.
type acceptAllDelegate struct {
	sink   BlockSink
	source BlockSource
}

func (d *acceptAllDelegate) AcceptSend(init *TransferInit) (bool, BlockSource, uint64, error) {
	return true, d.source, 0, nil
}

func (d *acceptAllDelegate) AcceptReceive(init *TransferInit) (bool, BlockSink, error) {
	return true, d.sink, nil
}

func TestTransferSenderDriveEndToEnd(t *testing.T) {
	pair, err := exchange.NewTestManagerPair(exchange.TestManagerPairConfig{UDP: true})
	if err != nil {
		t.Fatalf("NewTestManagerPair: %v", err)
	}
	defer pair.Close()

	payload := bytes.Repeat([]byte{0x5A}, 32*1024) // 32 KiB, per spec scenario S5
	sink := newMemorySink()

	senderMgr := NewManager(ManagerConfig{})
	receiverMgr := NewManager(ManagerConfig{Delegate: &acceptAllDelegate{sink: sink}})

	pair.Manager(0).RegisterProtocol(ProtocolID, senderMgr)
	pair.Manager(1).RegisterProtocol(ProtocolID, receiverMgr)

	source := &memorySource{data: payload}
	_, err = senderMgr.InitiateSend(
		pair.Manager(0),
		pair.Session(0),
		0,
		pair.PeerAddress(1, false),
		[]byte("firmware.ota"),
		source,
		Options{
			ProposedControl: TransferControlSenderDrive,
			MaxBlockSize:    1024,
		},
	)
	if err != nil {
		t.Fatalf("InitiateSend: %v", err)
	}

	select {
	case <-sink.done:
	case <-time.After(2 * time.Second):
		t.Fatal("transfer did not complete within timeout")
	}

	if got := sink.Bytes(); !bytes.Equal(got, payload) {
		t.Fatalf("received %d bytes, want %d bytes matching original", len(got), len(payload))
	}
}

func TestTransferReceiverDriveEndToEnd(t *testing.T) {
	pair, err := exchange.NewTestManagerPair(exchange.TestManagerPairConfig{UDP: true})
	if err != nil {
		t.Fatalf("NewTestManagerPair: %v", err)
	}
	defer pair.Close()

	payload := bytes.Repeat([]byte{0x11, 0x22}, 2048) // 4 KiB
	sink := newMemorySink()

	senderMgr := NewManager(ManagerConfig{Delegate: &acceptAllDelegate{source: &memorySource{data: payload}}})
	receiverMgr := NewManager(ManagerConfig{})

	pair.Manager(0).RegisterProtocol(ProtocolID, senderMgr)
	pair.Manager(1).RegisterProtocol(ProtocolID, receiverMgr)

	_, err = receiverMgr.InitiateReceive(
		pair.Manager(1),
		pair.Session(1),
		0,
		pair.PeerAddress(0, false),
		[]byte("firmware.ota"),
		sink,
		Options{
			ProposedControl: TransferControlReceiverDrive,
			MaxBlockSize:    512,
		},
	)
	if err != nil {
		t.Fatalf("InitiateReceive: %v", err)
	}

	select {
	case <-sink.done:
	case <-time.After(2 * time.Second):
		t.Fatal("transfer did not complete within timeout")
	}

	if got := sink.Bytes(); !bytes.Equal(got, payload) {
		t.Fatalf("received %d bytes, want %d bytes matching original", len(got), len(payload))
	}
}

func TestTransferRejectsAsyncMode(t *testing.T) {
	pair, err := exchange.NewTestManagerPair(exchange.TestManagerPairConfig{UDP: true})
	if err != nil {
		t.Fatalf("NewTestManagerPair: %v", err)
	}
	defer pair.Close()

	sink := newMemorySink()
	receiverMgr := NewManager(ManagerConfig{Delegate: &acceptAllDelegate{sink: sink}})
	pair.Manager(1).RegisterProtocol(ProtocolID, receiverMgr)

	senderMgr := NewManager(ManagerConfig{})
	pair.Manager(0).RegisterProtocol(ProtocolID, senderMgr)

	_, err = senderMgr.InitiateSend(
		pair.Manager(0),
		pair.Session(0),
		0,
		pair.PeerAddress(1, false),
		[]byte("file"),
		&memorySource{data: []byte("x")},
		Options{ProposedControl: TransferControlAsync},
	)
	if err != nil {
		t.Fatalf("InitiateSend: %v", err)
	}

	select {
	case <-sink.done:
		t.Fatal("transfer unexpectedly completed with async-only proposal")
	case <-time.After(200 * time.Millisecond):
		// Expected: responder rejects async-only proposals, no data is delivered.
	}
}
