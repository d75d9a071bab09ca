// Copyright 2024-2026 Aiku AI

package bridge

import "testing"

func TestClassifyConversation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		id   ConversationID
		want ConversationKind
	}{
		{"status@broadcast", KindStatus},
		{"call@broadcast", KindCall},
		{"120363025246125486@g.us", KindGroup},
		{"15551234567@s.whatsapp.net", KindDirect},
		{"15551234567", KindDirect},
		{"", KindDirect},
	}
	for _, tt := range tests {
		t.Run(string(tt.id), func(t *testing.T) {
			if got := ClassifyConversation(tt.id); got != tt.want {
				t.Errorf("ClassifyConversation(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}

func TestConversationKind_Flags(t *testing.T) {
	t.Parallel()
	if !KindStatus.IsBroadcast() || !KindCall.IsBroadcast() {
		t.Error("status and call should be broadcast kinds")
	}
	if KindGroup.IsBroadcast() || KindDirect.IsBroadcast() {
		t.Error("group and direct should not be broadcast kinds")
	}
	if !KindGroup.IsMultiParticipant() || !KindStatus.IsMultiParticipant() {
		t.Error("group and status should be multi-participant")
	}
	if KindDirect.IsMultiParticipant() {
		t.Error("direct should not be multi-participant")
	}
}

func TestHandle(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"15551234567@s.whatsapp.net":    "15551234567",
		"15551234567:12@s.whatsapp.net": "15551234567",
		"15551234567":                   "15551234567",
	}
	for in, want := range tests {
		if got := Handle(in); got != want {
			t.Errorf("Handle(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDirectConversation(t *testing.T) {
	t.Parallel()
	got := DirectConversation("15551234567:3@s.whatsapp.net")
	if got != "15551234567@s.whatsapp.net" {
		t.Errorf("DirectConversation = %q", got)
	}
	if got.Kind() != KindDirect {
		t.Errorf("Kind = %v, want direct", got.Kind())
	}
}

func TestLocalPart(t *testing.T) {
	t.Parallel()
	if got := ConversationID("120363@g.us").LocalPart(); got != "120363" {
		t.Errorf("LocalPart = %q", got)
	}
}

func TestCallKey(t *testing.T) {
	t.Parallel()
	a := &CallOffer{From: "1@s.whatsapp.net", CallID: "x"}
	b := &CallOffer{From: "1@s.whatsapp.net", CallID: "y"}
	if a.CallKey() == b.CallKey() {
		t.Error("different call ids should give different keys")
	}
}
