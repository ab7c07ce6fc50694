package extract

import (
	"strings"
	"testing"
	"time"

	"github.com/jpvalente/adsync/internal/page"
)

func TestBuildMessages(t *testing.T) {
	now := time.Date(2025, time.March, 14, 10, 0, 0, 0, time.Local)
	nodes := []page.MessageNode{
		{Position: 0, Incoming: true, Content: "Ainda está disponível?", RawTime: "26/12/2024 22:38"},
		{Position: 1, Incoming: false, Content: "Sim, está.", RawTime: "22:40"},
	}

	msgs := BuildMessages("c-101", nodes, now, nil)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}

	if msgs[0].Sender != SenderClient {
		t.Errorf("incoming sender = %s, want client", msgs[0].Sender)
	}
	if msgs[1].Sender != SenderAgent {
		t.Errorf("outgoing sender = %s, want agent", msgs[1].Sender)
	}
	want := time.Date(2024, time.December, 26, 22, 38, 0, 0, time.Local)
	if !msgs[0].Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", msgs[0].Timestamp, want)
	}
	if msgs[0].DegradedTime || msgs[1].DegradedTime {
		t.Error("parseable times must not be degraded")
	}
	for _, m := range msgs {
		if m.ConversationID != "c-101" {
			t.Errorf("conversation id = %q", m.ConversationID)
		}
		if !strings.HasPrefix(m.MessageID, "c-101-") {
			t.Errorf("message id = %q, want conversation prefix", m.MessageID)
		}
	}
}

func TestBuildMessagesDegradedTime(t *testing.T) {
	now := time.Now()
	msgs := BuildMessages("c-1", []page.MessageNode{
		{Position: 0, Incoming: true, Content: "olá", RawTime: "ontem"},
	}, now, nil)

	if !msgs[0].DegradedTime {
		t.Error("unparseable time should be marked degraded")
	}
	if !msgs[0].Timestamp.Equal(now) {
		t.Errorf("timestamp = %v, want extraction time", msgs[0].Timestamp)
	}
}

func TestMessageIDsUniqueAcrossPositions(t *testing.T) {
	now := time.Now()
	msgs := BuildMessages("c-1", []page.MessageNode{
		{Position: 0, Incoming: true, Content: "olá", RawTime: "22:00"},
		{Position: 1, Incoming: true, Content: "olá", RawTime: "22:00"},
	}, now, nil)

	if msgs[0].MessageID == msgs[1].MessageID {
		t.Error("identical content at different positions must not collide")
	}
}
