package healthauth

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, AuditEvent) {
	s.count.Add(1)
}

func (s *countingSink) Count() int64 {
	return s.count.Load()
}

type gateSink struct {
	gate chan struct{}
}

func newGateSink() *gateSink {
	return &gateSink{
		gate: make(chan struct{}),
	}
}

func (s *gateSink) Emit(context.Context, AuditEvent) {
	<-s.gate
}

func auditConfig(c *Config) {
	c.Audit.Enabled = true
	c.Audit.BufferSize = 64
	c.Audit.DropIfFull = false
}

// collectEvents drains sink until n events arrive or the timeout passes.
func collectEvents(sink *ChannelSink, n int) []AuditEvent {
	events := make([]AuditEvent, 0, n)
	timeout := time.After(2 * time.Second)
	for len(events) < n {
		select {
		case ev := <-sink.Events():
			events = append(events, ev)
		case <-timeout:
			return events
		}
	}
	return events
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	sink := &countingSink{}
	env := newAuditedTestEnv(t, nil, sink)

	env.provider.addAccount("a@b.com", "correct-horse", true)
	_, _ = env.engine.SignIn(context.Background(), "a@b.com", "wrong-horse")
	time.Sleep(30 * time.Millisecond)

	if sink.Count() != 0 {
		t.Fatalf("expected no audit sink calls when disabled, got %d", sink.Count())
	}
}

func TestAuditPhoneFlowEventsMaskNumbers(t *testing.T) {
	sink := NewChannelSink(64)
	env := newAuditedTestEnv(t, auditConfig, sink)
	ctx := context.Background()

	acct, f := env.signedInUnverifiedPhone(t, "a@b.com")
	sendTo(t, f, "412345678")
	if _, err := f.SubmitCode(ctx, testCode); err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}
	env.engine.Close()

	var sent, linked *AuditEvent
	for _, ev := range collectEvents(sink, 16) {
		ev := ev
		for _, v := range ev.Metadata {
			if strings.Contains(v, "412345678") || strings.Contains(v, testCode) {
				t.Fatalf("unmasked value in audit metadata: %+v", ev)
			}
		}
		switch ev.EventType {
		case auditEventCodeSent:
			sent = &ev
		case auditEventPhoneLinked:
			linked = &ev
		}
	}
	if sent == nil || sent.Metadata["phone"] != "+61******678" || sent.AccountID != acct.ID {
		t.Fatalf("unexpected code sent event: %+v", sent)
	}
	if linked == nil || !linked.Success || linked.Intent != "standalone" || linked.Metadata["new_account"] != "false" {
		t.Fatalf("unexpected linked event: %+v", linked)
	}
	if sent.Timestamp != env.clock.Now().UTC() {
		t.Fatalf("expected engine clock timestamp, got %s", sent.Timestamp)
	}
}

func TestAuditSignUpVerificationMarksNewAccount(t *testing.T) {
	sink := NewChannelSink(64)
	env := newAuditedTestEnv(t, auditConfig, sink)
	ctx := context.Background()

	res, err := env.engine.SignUp(ctx, validSignUp())
	if err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	defer res.Flow.Close()
	if err := res.Flow.SendCode(ctx); err != nil {
		t.Fatalf("SendCode failed: %v", err)
	}
	out, err := res.Flow.SubmitCode(ctx, testCode)
	if err != nil {
		t.Fatalf("SubmitCode failed: %v", err)
	}
	if !out.NewAccount || out.AccountID != res.Account.ID {
		t.Fatalf("expected a new-account result, got %+v", out)
	}
	env.engine.Close()

	for _, ev := range collectEvents(sink, 16) {
		if ev.EventType != auditEventPhoneLinked {
			continue
		}
		if ev.Metadata["new_account"] != "true" || ev.AccountID != res.Account.ID {
			t.Fatalf("unexpected linked event: %+v", ev)
		}
		return
	}
	t.Fatal("expected phone linked event")
}

func TestAuditFailureCarriesErrorKind(t *testing.T) {
	sink := NewChannelSink(64)
	env := newAuditedTestEnv(t, auditConfig, sink)
	ctx := context.Background()

	env.signedInUnverifiedPhone(t, "a@b.com")
	if _, err := env.engine.NewPhoneFlow(ctx, PhoneFlowOptions{Intent: IntentEnroll}); err == nil {
		t.Fatal("expected enrollment rejection")
	}
	env.engine.Close()

	for _, ev := range collectEvents(sink, 16) {
		if ev.EventType != auditEventEnrollRejected {
			continue
		}
		if ev.Success || ev.ErrorKind != "phone_not_verified" || ev.Intent != "enroll" {
			t.Fatalf("unexpected rejection event: %+v", ev)
		}
		return
	}
	t.Fatal("expected enroll rejection event")
}

func TestAuditBufferFullDropIfFullTrueDoesNotBlock(t *testing.T) {
	sink := newGateSink()
	dispatcher := newAuditDispatcher(AuditConfig{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: true,
	}, sink)
	defer func() {
		close(sink.gate)
		dispatcher.Close()
	}()

	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e1"})
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e2"})

	start := time.Now()
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e3"})
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("expected non-blocking emit when DropIfFull is true")
	}
	if dispatcher.Dropped() == 0 {
		t.Fatal("expected dropped counter to increment when queue is full")
	}
}

func TestAuditBufferFullDropIfFullFalseBlocksUntilSpace(t *testing.T) {
	sink := newGateSink()
	dispatcher := newAuditDispatcher(AuditConfig{
		Enabled:    true,
		BufferSize: 1,
		DropIfFull: false,
	}, sink)
	defer func() {
		close(sink.gate)
		dispatcher.Close()
	}()

	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e1"})
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e2"})

	done := make(chan struct{})
	go func() {
		dispatcher.Emit(context.Background(), AuditEvent{EventType: "e3"})
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected emit to block while buffer is full")
	case <-time.After(150 * time.Millisecond):
	}

	sink.gate <- struct{}{}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected blocked emit to proceed after space is available")
	}
}

func TestAuditJSONWriterSinkWritesJSONLines(t *testing.T) {
	var buf syncBuffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: auditEventFactorEnrolled,
		AccountID: "acct-1",
		Intent:    "enroll",
		Success:   true,
	})

	if !buf.Contains("second_factor_enrolled") {
		t.Fatal("expected JSON log line to contain event type")
	}
	if !buf.Contains(`"account_id":"acct-1"`) {
		t.Fatal("expected JSON log line to contain account id")
	}
	if !buf.Contains("\n") {
		t.Fatal("expected newline-terminated record")
	}
}

func TestAuditDispatcherCloseIdempotentAndEmitAfterCloseSafe(t *testing.T) {
	sink := &countingSink{}
	dispatcher := newAuditDispatcher(AuditConfig{
		Enabled:    true,
		BufferSize: 4,
		DropIfFull: true,
	}, sink)

	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e1"})
	dispatcher.Close()
	dispatcher.Close()
	dispatcher.Emit(context.Background(), AuditEvent{EventType: "e2"})

	if sink.Count() != 1 {
		t.Fatalf("expected queued event flushed on close, got %d", sink.Count())
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *syncBuffer) Contains(v string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Contains(string(b.buf), v)
}
