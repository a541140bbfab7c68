package webhooks

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"fleetsim/internal/sim"
)

func TestWorkerProcessOnce_SuccessAndSignature(t *testing.T) {
	var gotSig, gotType string
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotType = r.Header.Get(EventTypeHeader)
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	o := NewOutbox(10)
	p := NewPublisher(o, []Subscription{{URL: srv.URL, Secret: "secret"}})
	p.Publish("s1", sim.Event{Type: sim.EventStopCompleted, Data: map[string]any{"stopId": "a"}})
	if o.Len() != 1 {
		t.Fatalf("outbox len %d", o.Len())
	}

	w := &Worker{Outbox: o, HTTP: srv.Client(), Stop: make(chan struct{}), MaxAttempts: 3}
	w.processOnce()

	if gotType != sim.EventStopCompleted || !VerifyHMAC("secret", body, gotSig) {
		t.Fatalf("bad headers: sig=%q type=%q", gotSig, gotType)
	}
	if o.Len() != 0 {
		t.Fatalf("delivered item still queued")
	}
}

func TestWorkerProcessOnce_RetryThenFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) }))
	defer srv.Close()
	o := NewOutbox(10)
	o.Enqueue(Delivery{ID: "d1", URL: srv.URL, EventType: "x", Payload: []byte(`{}`)})
	w := &Worker{Outbox: o, HTTP: srv.Client(), Stop: make(chan struct{}), MaxAttempts: 2}

	w.processOnce()
	if o.Len() != 1 {
		t.Fatalf("failed delivery dropped after first attempt")
	}
	if due := o.Due(time.Now(), 10); len(due) != 0 {
		t.Fatalf("retry not backed off: %+v", due)
	}
	if due := o.Due(time.Now().Add(3*time.Second), 10); len(due) != 1 || due[0].Attempts != 1 || due[0].LastCode != 500 {
		t.Fatalf("due after backoff: %+v", due)
	}

	o.Mark("d1", false, time.Time{}, "", 500) // make it due now with attempts=2
	w.MaxAttempts = 3
	w.processOnce()
	if o.Len() != 0 {
		t.Fatalf("expected delivery dropped after max attempts")
	}
}

func TestPublisherFiltersEvents(t *testing.T) {
	o := NewOutbox(10)
	p := NewPublisher(o, []Subscription{{URL: "http://a", Events: []string{"reopt."}}, {URL: "http://b"}})
	p.Publish("s1", sim.Event{Type: sim.EventTick})
	p.Publish("s1", sim.Event{Type: sim.EventReoptApplied})
	p.Publish("s1", sim.Event{Type: sim.EventVehicleStatus})
	if o.Len() != 3 {
		t.Fatalf("outbox len %d, want 3", o.Len())
	}
}

func TestOutboxBounded(t *testing.T) {
	o := NewOutbox(1)
	if !o.Enqueue(Delivery{ID: "1"}) || o.Enqueue(Delivery{ID: "2"}) {
		t.Fatalf("bound not enforced")
	}
}

func TestNextBackoff(t *testing.T) {
	if nextBackoff(0) != time.Second || nextBackoff(3) != 8*time.Second || nextBackoff(50) != 1024*time.Second {
		t.Fatalf("backoff %v %v %v", nextBackoff(0), nextBackoff(3), nextBackoff(50))
	}
}
