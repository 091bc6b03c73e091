package session

import "testing"

func TestCreateSessionSucceedsOnlyOnce(t *testing.T) {
	m := New(nil, nil)
	code, err := m.CreateSession("frontend_A")
	if err != nil {
		t.Fatal(err)
	}
	if len(code) != codeLength {
		t.Fatalf("expected a %d-char code, got %q", codeLength, code)
	}

	if _, err := m.CreateSession("frontend_B"); err == nil {
		t.Fatal("expected second create to fail while a session is active")
	}
}

func TestJoinSessionRequiresMatchingCode(t *testing.T) {
	m := New(nil, nil)
	code, _ := m.CreateSession("frontend_A")

	if !m.JoinSession("frontend_B", code) {
		t.Fatal("expected join with correct code to succeed")
	}
	if m.JoinSession("frontend_C", "XXXXXX") {
		t.Fatal("expected join with wrong code to fail")
	}
	if m.ParticipantCount() != 2 {
		t.Fatalf("expected 2 participants, got %d", m.ParticipantCount())
	}
}

func TestGetActiveSessionCodeWhenNoneActive(t *testing.T) {
	m := New(nil, nil)
	if m.GetActiveSessionCode() != "" {
		t.Fatal("expected empty code when no session is active")
	}
}
