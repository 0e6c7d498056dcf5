package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/rvlink/rvlink-core/internal/rvc"
)

func TestParseConnectionURL(t *testing.T) {
	tests := []struct {
		name        string
		url         string
		wantNetwork string
		wantAddress string
		wantErr     bool
	}{
		{"tcp", "tcp://localhost:29536", "tcp", "localhost:29536", false},
		{"unix", "unix:///run/canbusd", "unix", "/run/canbusd", false},
		{"tcp without host", "tcp://", "", "", true},
		{"unsupported scheme", "udp://localhost:1", "", "", true},
		{"garbage", "://", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			network, address, err := parseConnectionURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseConnectionURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
			if network != tt.wantNetwork || address != tt.wantAddress {
				t.Errorf("parseConnectionURL(%q) = %q/%q, want %q/%q",
					tt.url, network, address, tt.wantNetwork, tt.wantAddress)
			}
		})
	}
}

// gatewayServer is a minimal framed-stream server for tests.
type gatewayServer struct {
	ln    net.Listener
	conns chan net.Conn
}

func newGatewayServer(t *testing.T) *gatewayServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &gatewayServer{ln: ln, conns: make(chan net.Conn, 1)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			srv.conns <- conn
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return srv
}

func (g *gatewayServer) url() string {
	return "tcp://" + g.ln.Addr().String()
}

func (g *gatewayServer) accept(t *testing.T) net.Conn {
	t.Helper()
	select {
	case conn := <-g.conns:
		t.Cleanup(func() { conn.Close() })
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

// writeWireFrame sends one framed CAN message to the client.
func writeWireFrame(t *testing.T, conn net.Conn, id uint32, data []byte) {
	t.Helper()
	msg := make([]byte, 6+len(data))
	binary.BigEndian.PutUint16(msg[0:2], uint16(4+len(data)))
	binary.BigEndian.PutUint32(msg[2:6], id)
	copy(msg[6:], data)
	if _, err := conn.Write(msg); err != nil {
		t.Fatalf("writing wire frame: %v", err)
	}
}

func TestCANBusReceive(t *testing.T) {
	srv := newGatewayServer(t)

	bus := NewCANBus(CANBusConfig{ID: "can0", Connection: srv.url()})
	frames := make(chan rvc.Frame, 1)
	bus.SetOnFrame(func(f rvc.Frame) { frames <- f })

	if err := bus.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	defer bus.Shutdown(context.Background())

	conn := srv.accept(t)
	writeWireFrame(t, conn, rvc.BuildID(6, 0x1FEDA, 0x19), []byte{25, 0, 1, 0xC8, 0xFF, 0xFF, 0xFF, 0xFF})

	select {
	case f := <-frames:
		if f.DGN() != 0x1FEDA {
			t.Errorf("DGN = 0x%05X, want 0x1FEDA", f.DGN())
		}
		if f.Source() != 0x19 {
			t.Errorf("Source = 0x%02X, want 0x19", f.Source())
		}
		if f.Transport != "can0" {
			t.Errorf("Transport = %q, want can0", f.Transport)
		}
		if len(f.Data) != 8 || f.Data[0] != 25 {
			t.Errorf("Data = % X", f.Data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
	}

	if got := bus.Stats().FramesRx; got != 1 {
		t.Errorf("FramesRx = %d, want 1", got)
	}
	if devices := bus.Devices(); len(devices) != 1 || devices[0] != "0x19" {
		t.Errorf("Devices() = %v, want [0x19]", devices)
	}
}

func TestCANBusSend(t *testing.T) {
	srv := newGatewayServer(t)

	bus := NewCANBus(CANBusConfig{ID: "can0", Connection: srv.url()})
	if err := bus.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	defer bus.Shutdown(context.Background())

	conn := srv.accept(t)

	frame := rvc.NewFrame(6, 0x1FEDB, 0x81, []byte{25, 0xFF, 0x64, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF})
	if err := bus.Send(context.Background(), frame); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	header := make([]byte, 6)
	if _, err := io.ReadFull(conn, header); err != nil {
		t.Fatalf("reading sent frame: %v", err)
	}
	size := binary.BigEndian.Uint16(header[0:2])
	if size != 12 {
		t.Errorf("wire size = %d, want 12", size)
	}
	if id := binary.BigEndian.Uint32(header[2:6]); id != frame.ID {
		t.Errorf("wire id = 0x%08X, want 0x%08X", id, frame.ID)
	}
	data := make([]byte, 8)
	if _, err := io.ReadFull(conn, data); err != nil {
		t.Fatalf("reading payload: %v", err)
	}
	if data[0] != 25 || data[2] != 0x64 {
		t.Errorf("payload = % X", data)
	}

	if got := bus.Stats().FramesTx; got != 1 {
		t.Errorf("FramesTx = %d, want 1", got)
	}
}

func TestCANBusSendMultiFrameFragments(t *testing.T) {
	srv := newGatewayServer(t)

	bus := NewCANBus(CANBusConfig{ID: "can0", Connection: srv.url()})
	if err := bus.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	defer bus.Shutdown(context.Background())

	conn := srv.accept(t)

	payload := make([]byte, 16)
	frame := rvc.NewFrame(6, 0x1FEF7, 0x81, payload)
	if err := bus.Send(context.Background(), frame); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	// 16 bytes fragment into 3 wire frames.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for seq := 0; seq < 3; seq++ {
		header := make([]byte, 6)
		if _, err := io.ReadFull(conn, header); err != nil {
			t.Fatalf("reading fragment %d: %v", seq, err)
		}
		size := int(binary.BigEndian.Uint16(header[0:2]))
		body := make([]byte, size-4)
		if _, err := io.ReadFull(conn, body); err != nil {
			t.Fatalf("reading fragment %d body: %v", seq, err)
		}
		if int(body[0]) != seq {
			t.Errorf("fragment %d marker = %d", seq, body[0])
		}
	}

	if got := bus.Stats().FramesTx; got != 3 {
		t.Errorf("FramesTx = %d, want 3", got)
	}
}

func TestCANBusSendNotConnected(t *testing.T) {
	bus := NewCANBus(CANBusConfig{ID: "can0", Connection: "tcp://127.0.0.1:1"})
	err := bus.Send(context.Background(), rvc.NewFrame(6, 0x1FEDA, 0x81, []byte{0}))
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() before Initialize = %v, want ErrNotConnected", err)
	}
}

func TestCANBusInitializeFailure(t *testing.T) {
	bus := NewCANBus(CANBusConfig{ID: "can0", Connection: "bad://url"})
	if err := bus.Initialize(context.Background()); !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Initialize() error = %v, want ErrConnectionFailed", err)
	}
}

func TestCANBusShutdownIdempotent(t *testing.T) {
	srv := newGatewayServer(t)

	bus := NewCANBus(CANBusConfig{ID: "can0", Connection: srv.url()})
	if err := bus.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	if err := bus.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if err := bus.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
	if bus.Connected() {
		t.Error("Connected() = true after Shutdown")
	}
}
