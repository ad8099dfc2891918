package throw

import (
	"bytes"
	"io"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/bassosimone/errclass"
	"github.com/bassosimone/netstub"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestTCPPair creates a connected pair of TCP connections for testing
func createTestTCPPair(t *testing.T) (*net.TCPConn, *net.TCPConn) {
	t.Helper()

	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer listener.Close()

	// Connect client in goroutine
	clientChan := make(chan *net.TCPConn, 1)
	errChan := make(chan error, 1)
	go func() {
		conn, err := net.DialTCP("tcp", nil, listener.Addr().(*net.TCPAddr))
		if err != nil {
			errChan <- err
			return
		}
		clientChan <- conn
	}()

	// Accept server side
	serverConn, err := listener.AcceptTCP()
	require.NoError(t, err)

	select {
	case clientConn := <-clientChan:
		t.Cleanup(func() {
			serverConn.Close()
			clientConn.Close()
		})
		return serverConn, clientConn
	case err := <-errChan:
		serverConn.Close()
		t.Fatalf("client dial failed: %v", err)
		return nil, nil
	case <-time.After(5 * time.Second):
		serverConn.Close()
		t.Fatal("timeout waiting for client connection")
		return nil, nil
	}
}

// newTestNodePair returns two nodes talking to each other over loopback.
func newTestNodePair(t *testing.T, opt ...Option) (server, client *Node) {
	t.Helper()
	serverConn, clientConn := createTestTCPPair(t)
	return NewNode(serverConn, opt...), NewNode(clientConn, opt...)
}

// newStubConn returns a [*netstub.FuncConn] whose deadlines and close
// succeed, with reads and writes left to the caller.
func newStubConn() *netstub.FuncConn {
	return &netstub.FuncConn{
		CloseFunc:       func() error { return nil },
		LocalAddrFunc:   func() net.Addr { return &net.TCPAddr{} },
		RemoteAddrFunc:  func() net.Addr { return &net.TCPAddr{} },
		SetDeadlineFunc: func(time.Time) error { return nil },
		SetReadDeadFunc: func(time.Time) error { return nil },
		SetWriteDeaFunc: func(time.Time) error { return nil },
	}
}

func TestNewNode(t *testing.T) {
	serverConn, _ := createTestTCPPair(t)

	node := NewNode(serverConn)

	parsed, err := uuid.Parse(node.ID())
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.Equal(t, serverConn.RemoteAddr(), node.Addr())
	assert.False(t, node.IsClosed())
	assert.Equal(t, DefaultReceiveTimeout, node.opts.receiveTimeout)
	assert.Equal(t, DefaultMaxPayloadSize, node.opts.maxPayloadSize)
}

func TestNode_SendReceiveBytes(t *testing.T) {
	server, client := newTestNodePair(t)

	require.NoError(t, client.SendBytes([]byte("hello world")))

	got, err := server.ReceiveBytes(5)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)

	got, err = server.ReceiveBytes(6)
	require.NoError(t, err)
	assert.Equal(t, []byte(" world"), got)

	got, err = server.ReceiveBytes(0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNode_HeaderRoundTrip(t *testing.T) {
	server, client := newTestNodePair(t)

	want := NewHeader("get:rgb", 1, 1, 1, 4)
	require.NoError(t, client.SendHeader(want))

	got, err := server.ReceiveHeader()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestNode_MessageRoundTrip(t *testing.T) {
	server, client := newTestNodePair(t)

	want := NewMessage("transform", 4, 4, 1, []float32{
		1, 0, 0, 0.5,
		0, 1, 0, -1.25,
		0, 0, 1, 3,
		0, 0, 0, 1,
	})
	require.NoError(t, SendMessage(client, want))

	got, err := ReceiveMessage[float32](server)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestNode_LargePayload(t *testing.T) {
	server, client := newTestNodePair(t)

	data := make([]byte, 640*480*3)
	for i := range data {
		data[i] = byte(i % 251)
	}
	want := NewMessage("image", 640, 480, 3, data)

	errCh := make(chan error, 1)
	go func() {
		errCh <- SendMessage(client, want)
	}()

	got, err := ReceiveMessage[byte](server)
	require.NoError(t, err)
	require.NoError(t, <-errCh)
	assert.Equal(t, want.Header, got.Header)
	assert.True(t, bytes.Equal(data, got.Data))
}

func TestNode_PeerClosed(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	var observed []error
	server := NewNode(serverConn, OnErrorOption(func(err error) {
		observed = append(observed, err)
	}))

	require.NoError(t, clientConn.Close())

	_, err := server.ReceiveHeader()
	assert.True(t, errors.Is(err, ErrPeerClosed), "got %v", err)
	assert.True(t, server.IsClosed())
	require.Len(t, observed, 1)
	assert.True(t, errors.Is(observed[0], ErrPeerClosed))

	_, err = server.ReceiveHeader()
	assert.True(t, errors.Is(err, ErrConnectionClosed))
	assert.True(t, errors.Is(server.SendBytes([]byte{1}), ErrConnectionClosed))
	assert.Len(t, observed, 1)
}

func TestNode_PeerClosedMidFrame(t *testing.T) {
	serverConn, clientConn := createTestTCPPair(t)
	server := NewNode(serverConn)

	buf := EncodeHeader(NewHeader("ok", 1, 1, 1, 4))
	_, err := clientConn.Write(buf[:20])
	require.NoError(t, err)
	require.NoError(t, clientConn.Close())

	_, err = server.ReceiveHeader()
	assert.True(t, errors.Is(err, ErrPeerClosed), "got %v", err)
	assert.True(t, server.IsClosed())
}

func TestNode_ReceiveTimeout(t *testing.T) {
	server, _ := newTestNodePair(t, ReceiveTimeoutOption(50*time.Millisecond))

	start := time.Now()
	_, err := server.ReceiveHeader()
	assert.True(t, errors.Is(err, ErrReceiveTimeout), "got %v", err)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, server.IsClosed())
}

func TestNode_TransportCauseKept(t *testing.T) {
	t.Run("receive timeout", func(t *testing.T) {
		server, _ := newTestNodePair(t, ReceiveTimeoutOption(20*time.Millisecond))

		_, err := server.ReceiveHeader()
		assert.True(t, errors.Is(err, ErrReceiveTimeout), "got %v", err)
		assert.True(t, errors.Is(err, os.ErrDeadlineExceeded), "got %v", err)
		assert.Equal(t, errclass.ETIMEDOUT, errclass.New(err))
	})

	t.Run("peer closed", func(t *testing.T) {
		serverConn, clientConn := createTestTCPPair(t)
		server := NewNode(serverConn)
		require.NoError(t, clientConn.Close())

		_, err := server.ReceiveHeader()
		assert.True(t, errors.Is(err, ErrPeerClosed), "got %v", err)
		assert.True(t, errors.Is(err, io.EOF), "got %v", err)
		assert.Equal(t, errclass.EEOF, errclass.New(err))
	})
}

func TestNode_ElementSizeMismatch(t *testing.T) {
	server, client := newTestNodePair(t)

	require.NoError(t, SendMessage(client, NewMessage("get:rgb", 1, 1, 1, []float32{0})))

	_, err := ReceiveMessage[byte](server)
	assert.True(t, errors.Is(err, ErrElementSizeMismatch), "got %v", err)
	assert.True(t, server.IsClosed())
}

func TestNode_ZeroElementsSkipElementSizeCheck(t *testing.T) {
	server, client := newTestNodePair(t)

	// Status replies carry no payload and a zero element size.
	status := Message[byte]{Header: NewHeader("key_not_found", 0, 0, 0, 0), Data: []byte{}}
	require.NoError(t, SendMessage(client, status))

	got, err := ReceiveMessage[float32](server)
	require.NoError(t, err)
	assert.Equal(t, "key_not_found", got.Command())
	assert.Empty(t, got.Data)
	assert.False(t, server.IsClosed())
}

func TestNode_MessageTooLarge(t *testing.T) {
	server, client := newTestNodePair(t, MaxPayloadSizeOption(1024))

	require.NoError(t, client.SendHeader(NewHeader("image", 1024, 1024, 3, 1)))

	_, err := ReceiveMessage[byte](server)
	assert.True(t, errors.Is(err, ErrMessageTooLarge), "got %v", err)
	assert.True(t, server.IsClosed())
}

func TestNode_NegativeDimensions(t *testing.T) {
	server, client := newTestNodePair(t)

	require.NoError(t, client.SendHeader(Header{Checksum: Checksum, Width: -1, Height: 1, Depth: 1, BytePerElement: 1}))

	_, err := server.ReceiveHeader()
	assert.True(t, errors.Is(err, ErrInvalidHeader), "got %v", err)
	assert.True(t, server.IsClosed())
}

func TestNode_VerifyChecksum(t *testing.T) {
	t.Run("disabled by default", func(t *testing.T) {
		server, client := newTestNodePair(t)
		require.NoError(t, client.SendHeader(Header{Command: "raw"}))
		got, err := server.ReceiveHeader()
		require.NoError(t, err)
		assert.Equal(t, int32(0), got.Checksum)
	})

	t.Run("enabled", func(t *testing.T) {
		server, client := newTestNodePair(t, VerifyChecksumOption(true))
		require.NoError(t, client.SendHeader(Header{Command: "raw"}))
		_, err := server.ReceiveHeader()
		assert.True(t, errors.Is(err, ErrChecksumMismatch), "got %v", err)
	})

	t.Run("enabled with sentinel", func(t *testing.T) {
		server, client := newTestNodePair(t, VerifyChecksumOption(true))
		require.NoError(t, client.SendHeader(NewHeader("ok", 0, 0, 0, 1)))
		_, err := server.ReceiveHeader()
		assert.NoError(t, err)
	})
}

func TestNode_ShortWrites(t *testing.T) {
	var written bytes.Buffer
	conn := newStubConn()
	conn.WriteFunc = func(b []byte) (int, error) {
		n := min(len(b), 3)
		written.Write(b[:n])
		return n, nil
	}

	node := NewNode(conn)
	h := NewHeader("chunked", 2, 2, 2, 4)
	require.NoError(t, node.SendHeader(h))

	want := EncodeHeader(h)
	assert.Equal(t, want[:], written.Bytes())
}

func TestNode_ShortReads(t *testing.T) {
	buf := EncodeHeader(NewHeader("chunked", 1, 1, 1, 4))
	reader := bytes.NewReader(buf[:])
	conn := newStubConn()
	conn.ReadFunc = func(b []byte) (int, error) {
		return reader.Read(b[:min(len(b), 5)])
	}

	node := NewNode(conn)
	got, err := node.ReceiveHeader()
	require.NoError(t, err)
	assert.Equal(t, "chunked", got.Command)
}

func TestNode_WriteError(t *testing.T) {
	wantErr := errors.New("connection reset by peer")
	closed := 0
	conn := newStubConn()
	conn.WriteFunc = func(b []byte) (int, error) {
		return 0, wantErr
	}
	conn.CloseFunc = func() error {
		closed++
		return nil
	}

	var observed []error
	node := NewNode(conn, OnErrorOption(func(err error) {
		observed = append(observed, err)
	}))

	err := node.SendBytes([]byte("payload"))
	assert.True(t, errors.Is(err, wantErr), "got %v", err)
	assert.True(t, node.IsClosed())
	assert.Equal(t, 1, closed)
	require.Len(t, observed, 1)

	assert.True(t, errors.Is(node.SendBytes([]byte("again")), ErrConnectionClosed))
	assert.Equal(t, 1, closed)
}

func TestNode_ZeroWrite(t *testing.T) {
	conn := newStubConn()
	conn.WriteFunc = func(b []byte) (int, error) {
		return 0, nil
	}

	node := NewNode(conn)
	err := node.SendBytes([]byte("payload"))
	assert.Error(t, err)
	assert.True(t, node.IsClosed())
}

func TestSendMessage_ShapeMismatchKeepsNode(t *testing.T) {
	writes := 0
	conn := newStubConn()
	conn.WriteFunc = func(b []byte) (int, error) {
		writes++
		return len(b), nil
	}

	node := NewNode(conn)
	err := SendMessage(node, NewMessage("ok", 2, 2, 1, []float32{1}))
	assert.True(t, errors.Is(err, ErrShapeMismatch), "got %v", err)
	assert.Zero(t, writes)
	assert.False(t, node.IsClosed())
}

func TestNode_CloseUnblocksReceive(t *testing.T) {
	server, _ := newTestNodePair(t, ReceiveTimeoutOption(0))

	var wg sync.WaitGroup
	wg.Add(1)
	var err error
	go func() {
		defer wg.Done()
		_, err = server.ReceiveHeader()
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, server.Close())
	wg.Wait()

	assert.True(t, errors.Is(err, ErrConnectionClosed), "got %v", err)
}

func TestNode_CloseIdempotent(t *testing.T) {
	server, _ := newTestNodePair(t)

	assert.NoError(t, server.Close())
	assert.NoError(t, server.Close())
	assert.True(t, server.IsClosed())
}
