// session/session_test.go
package session

import (
	"net"
	"testing"

	"github.com/wfunc/chessserver/network"
)

// MockConnection is a test double for the network.Connection interface.
type MockConnection struct {
	sent []uint16
}

func (m *MockConnection) Send(msgID uint16, data []byte) error {
	m.sent = append(m.sent, msgID)
	return nil
}

func (m *MockConnection) SendJSON(msgID uint16, v interface{}) error {
	m.sent = append(m.sent, msgID)
	return nil
}

func (m *MockConnection) Close() error                         { return nil }
func (m *MockConnection) RemoteAddr() net.Addr                 { return &net.TCPAddr{} }
func (m *MockConnection) ReadPacket() (*network.Packet, error) { return nil, nil }

func TestSession_BindIdentity(t *testing.T) {
	sess := NewSession("s1", &MockConnection{})

	if sess.Identity() != "" {
		t.Errorf("Expected empty identity before bind, got %q", sess.Identity())
	}

	sess.BindIdentity("alice", "Alice")
	if sess.Identity() != "alice" || sess.Name() != "Alice" {
		t.Errorf("Bind did not stick: identity=%q name=%q", sess.Identity(), sess.Name())
	}

	// Rebinding without a name keeps the old display name.
	sess.BindIdentity("alice", "")
	if sess.Name() != "Alice" {
		t.Errorf("Empty name should not clear the display name, got %q", sess.Name())
	}
}

func TestSession_SendTouchesActivity(t *testing.T) {
	conn := &MockConnection{}
	sess := NewSession("s1", conn)

	before := sess.LastActive
	if err := sess.Send(42, []byte("{}")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(conn.sent) != 1 || conn.sent[0] != 42 {
		t.Errorf("Expected msg 42 to be sent, got %v", conn.sent)
	}
	if sess.LastActive.Before(before) {
		t.Error("Send should refresh LastActive")
	}
}

func TestManager_AddGetRemove(t *testing.T) {
	manager := NewManager()

	sess := NewSession("s1", &MockConnection{})
	manager.Add(sess)

	if manager.Count() != 1 {
		t.Fatalf("Expected 1 session, got %d", manager.Count())
	}
	got, exists := manager.Get("s1")
	if !exists || got != sess {
		t.Error("Get should return the added session")
	}

	manager.Remove("s1")
	if _, exists := manager.Get("s1"); exists {
		t.Error("Removed session should not be found")
	}
	if manager.Count() != 0 {
		t.Errorf("Expected 0 sessions, got %d", manager.Count())
	}
}

func TestManager_GetByIdentity(t *testing.T) {
	manager := NewManager()

	s1 := NewSession("s1", &MockConnection{})
	s1.BindIdentity("alice", "Alice")
	s2 := NewSession("s2", &MockConnection{})
	s2.BindIdentity("bob", "Bob")
	manager.Add(s1)
	manager.Add(s2)

	matches := manager.GetByIdentity("alice")
	if len(matches) != 1 || matches[0] != s1 {
		t.Errorf("Expected exactly alice's session, got %d matches", len(matches))
	}
	if len(manager.GetByIdentity("nobody")) != 0 {
		t.Error("Unknown identity should match nothing")
	}
}
