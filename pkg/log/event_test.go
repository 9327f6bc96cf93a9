package log

import (
	"crypto/tls"
	"testing"
	"time"
)

func TestEnumStrings(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{LayerTransport.String(), "TRANSPORT"},
		{LayerTLS.String(), "TLS"},
		{LayerManager.String(), "MANAGER"},
		{LayerServer.String(), "SERVER"},
		{Layer(99).String(), "UNKNOWN"},
		{CategoryState.String(), "STATE"},
		{CategoryHandshake.String(), "HANDSHAKE"},
		{CategoryTransfer.String(), "TRANSFER"},
		{CategoryError.String(), "ERROR"},
		{Category(99).String(), "UNKNOWN"},
		{RoleServer.String(), "SERVER"},
		{RoleClient.String(), "CLIENT"},
		{StateEntityResource.String(), "RESOURCE"},
		{StateEntityConnection.String(), "CONNECTION"},
		{StateEntityManager.String(), "MANAGER"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("got %q, want %q", tt.got, tt.want)
		}
	}
}

func TestParseLayerAndCategory(t *testing.T) {
	l, err := ParseLayer("TLS")
	if err != nil || l != LayerTLS {
		t.Errorf("ParseLayer(TLS) = %v, %v", l, err)
	}
	if _, err := ParseLayer("tls"); err == nil {
		t.Error("ParseLayer should be case-sensitive")
	}

	c, err := ParseCategory("TRANSFER")
	if err != nil || c != CategoryTransfer {
		t.Errorf("ParseCategory(TRANSFER) = %v, %v", c, err)
	}
	if _, err := ParseCategory("MESSAGE"); err == nil {
		t.Error("ParseCategory should reject unknown names")
	}
}

func TestHandshakeEventNames(t *testing.T) {
	ok := &HandshakeEvent{
		Role:        RoleServer,
		Version:     tls.VersionTLS13,
		CipherSuite: tls.TLS_AES_128_GCM_SHA256,
	}
	if !ok.Succeeded() {
		t.Error("handshake without error should succeed")
	}
	if ok.VersionName() != "TLS 1.3" {
		t.Errorf("VersionName() = %q", ok.VersionName())
	}
	if ok.CipherSuiteName() != "TLS_AES_128_GCM_SHA256" {
		t.Errorf("CipherSuiteName() = %q", ok.CipherSuiteName())
	}

	failed := &HandshakeEvent{Role: RoleClient, Error: "bad certificate"}
	if failed.Succeeded() {
		t.Error("handshake with error should not succeed")
	}
	if failed.VersionName() != "" || failed.CipherSuiteName() != "" {
		t.Error("failed handshake should have no version or cipher")
	}
}

func TestEventRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 14, 15, 9, 26, 535897932, time.UTC)

	events := []Event{
		{
			Timestamp:  ts,
			ResourceID: "2f1c",
			Layer:      LayerManager,
			Category:   CategoryState,
			Label:      "rtmp",
			StateChange: &StateChangeEvent{
				Entity:   StateEntityResource,
				OldState: "ACTIVE",
				NewState: "RETIRING",
			},
		},
		{
			Timestamp:  ts,
			ResourceID: "2f1c",
			Layer:      LayerTLS,
			Category:   CategoryHandshake,
			RemoteAddr: "192.0.2.7:50122",
			Handshake: &HandshakeEvent{
				Role:               RoleServer,
				ServerName:         "live.example.com",
				Version:            tls.VersionTLS12,
				CipherSuite:        tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
				NegotiatedProtocol: "h2",
			},
		},
		{
			Timestamp:  ts,
			ResourceID: "2f1c",
			Layer:      LayerTransport,
			Category:   CategoryTransfer,
			Transfer:   &TransferEvent{RecvBytes: 1 << 20, SendBytes: 42, Duration: 3 * time.Second},
		},
		{
			Timestamp: ts,
			Layer:     LayerServer,
			Category:  CategoryError,
			Error:     &ErrorEventData{Layer: LayerServer, Message: "accept: too many open files", Context: "accept"},
		},
	}

	for _, ev := range events {
		t.Run(ev.Category.String(), func(t *testing.T) {
			data, err := EncodeEvent(ev)
			if err != nil {
				t.Fatalf("EncodeEvent: %v", err)
			}
			got, err := DecodeEvent(data)
			if err != nil {
				t.Fatalf("DecodeEvent: %v", err)
			}

			if !got.Timestamp.Equal(ev.Timestamp) {
				t.Errorf("Timestamp: got %v, want %v", got.Timestamp, ev.Timestamp)
			}
			if got.ResourceID != ev.ResourceID || got.Layer != ev.Layer || got.Category != ev.Category {
				t.Errorf("header mismatch: got %+v", got)
			}
			switch {
			case ev.StateChange != nil:
				if got.StateChange == nil || *got.StateChange != *ev.StateChange {
					t.Errorf("StateChange: got %+v, want %+v", got.StateChange, ev.StateChange)
				}
			case ev.Handshake != nil:
				if got.Handshake == nil || *got.Handshake != *ev.Handshake {
					t.Errorf("Handshake: got %+v, want %+v", got.Handshake, ev.Handshake)
				}
			case ev.Transfer != nil:
				if got.Transfer == nil || *got.Transfer != *ev.Transfer {
					t.Errorf("Transfer: got %+v, want %+v", got.Transfer, ev.Transfer)
				}
			case ev.Error != nil:
				if got.Error == nil || *got.Error != *ev.Error {
					t.Errorf("Error: got %+v, want %+v", got.Error, ev.Error)
				}
			}
		})
	}
}

func TestDecodeEventRejectsGarbage(t *testing.T) {
	if _, err := DecodeEvent([]byte{0xff, 0x00}); err == nil {
		t.Error("expected error decoding garbage")
	}
}

func TestDecodeEventAcceptsSelfDescribeTag(t *testing.T) {
	data, err := EncodeEvent(Event{ResourceID: "tagged", Layer: LayerTLS})
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}
	got, err := DecodeEvent(append(append([]byte{}, fileMagic...), data...))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if got.ResourceID != "tagged" || got.Layer != LayerTLS {
		t.Errorf("got %+v", got)
	}
}
