package client

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strconv"
	"testing"

	"github.com/nishisan-dev/egd/internal/control"
)

func fakeDaemon(t *testing.T, respond func(control.Request) control.Response) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				line, err := bufio.NewReader(conn).ReadString('\n')
				if err != nil {
					return
				}
				var req control.Request
				json.Unmarshal([]byte(line), &req)
				resp := respond(req)
				data, _ := json.Marshal(resp)
				data = append(data, '\n')
				conn.Write(data)
			}()
		}
	}()

	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return port
}

func TestClientCallDecodesResponse(t *testing.T) {
	port := fakeDaemon(t, func(req control.Request) control.Response {
		if req.Command != "status" {
			t.Errorf("command = %q, want status", req.Command)
		}
		return control.Response{StatusCode: 200, Data: control.StatusResponse{EntropyBytes: 7}}
	})

	c := New(port)
	resp, _, err := c.Call(context.Background(), "status")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Fatalf("resp.StatusCode = %d, want 200", resp.StatusCode)
	}
}

func TestClientSurfacesConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	ln.Close()

	c := New(port)
	_, _, err = c.Call(context.Background(), "status")
	if err == nil {
		t.Fatalf("expected error dialing a closed port")
	}
}

func TestClientReportsRemainingTime(t *testing.T) {
	port := fakeDaemon(t, func(req control.Request) control.Response {
		return control.Response{StatusCode: 200}
	})

	c := New(port)
	_, remaining, err := c.Call(context.Background(), "status")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if remaining.AfterConnect <= 0 || remaining.AfterConnect > totalTimeout {
		t.Fatalf("AfterConnect = %v, want within (0, %v]", remaining.AfterConnect, totalTimeout)
	}
}
