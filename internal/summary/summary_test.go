package summary

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"clusterplane/internal/gateway"
	"clusterplane/internal/notify"
	"clusterplane/internal/scheduler"
	"clusterplane/internal/store"

	"github.com/google/uuid"
)

type fakeInstances struct{ inst *store.ClusterInstance }

func (f *fakeInstances) GetInstanceByID(ctx context.Context, id uuid.UUID) (*store.ClusterInstance, error) {
	if f.inst == nil {
		return nil, store.ErrNotFound
	}
	return f.inst, nil
}

type fakeCompleter struct {
	resp   *gateway.Response
	err    error
	asUser uuid.UUID
}

func (f *fakeCompleter) Complete(ctx context.Context, inst *store.ClusterInstance, userID uuid.UUID, req *gateway.Request) (*gateway.Response, error) {
	f.asUser = userID
	return f.resp, f.err
}

type fakeNotifier struct {
	sent []notify.Notification
	err  error
}

func (f *fakeNotifier) Dispatch(ctx context.Context, n notify.Notification) error {
	f.sent = append(f.sent, n)
	return f.err
}

func summaryJob(instanceID uuid.UUID) *store.Job {
	payload, _ := json.Marshal(Payload{Recipient: "555"})
	return &store.Job{ID: uuid.New(), InstanceID: instanceID, Type: JobType, Payload: payload}
}

func TestHandler_SendsRenderedSummary(t *testing.T) {
	owner := uuid.New()
	inst := &store.ClusterInstance{ID: uuid.New(), OwnerUserID: owner, Status: store.InstanceStatusActive}
	gw := &fakeCompleter{resp: &gateway.Response{
		Content:   "Markets <rallied> today",
		Citations: []string{"https://example.com/a"},
	}}
	notifier := &fakeNotifier{}

	handler := Handler(&fakeInstances{inst: inst}, gw, notifier)
	if err := handler(context.Background(), summaryJob(inst.ID)); err != nil {
		t.Fatalf("handler failed: %v", err)
	}

	if gw.asUser != owner {
		t.Errorf("completion ran as %s, want owner %s", gw.asUser, owner)
	}
	if len(notifier.sent) != 1 {
		t.Fatalf("sent %d notifications, want 1", len(notifier.sent))
	}
	text := notifier.sent[0].Text
	if !strings.Contains(text, "&lt;rallied&gt;") {
		t.Errorf("model output not escaped: %q", text)
	}
	if !strings.Contains(text, "https://example.com/a") {
		t.Errorf("citation missing: %q", text)
	}
	if notifier.sent[0].Recipient != "555" {
		t.Errorf("recipient = %q", notifier.sent[0].Recipient)
	}
}

func TestHandler_MissingCredentialIsPermanent(t *testing.T) {
	inst := &store.ClusterInstance{ID: uuid.New(), OwnerUserID: uuid.New()}
	gw := &fakeCompleter{err: gateway.ErrNoCredential}

	handler := Handler(&fakeInstances{inst: inst}, gw, &fakeNotifier{})
	err := handler(context.Background(), summaryJob(inst.ID))
	if !scheduler.IsPermanent(err) {
		t.Errorf("expected permanent error, got %v", err)
	}
}

func TestHandler_QuotaExceededIsTransient(t *testing.T) {
	inst := &store.ClusterInstance{ID: uuid.New(), OwnerUserID: uuid.New()}
	gw := &fakeCompleter{err: gateway.ErrQuotaExceeded}

	handler := Handler(&fakeInstances{inst: inst}, gw, &fakeNotifier{})
	err := handler(context.Background(), summaryJob(inst.ID))
	if err == nil || scheduler.IsPermanent(err) {
		t.Errorf("expected transient error, got %v", err)
	}
}

func TestHandler_DeliveryFailureIsTransient(t *testing.T) {
	inst := &store.ClusterInstance{ID: uuid.New(), OwnerUserID: uuid.New()}
	gw := &fakeCompleter{resp: &gateway.Response{Content: "x"}}
	notifier := &fakeNotifier{err: errors.New("telegram down")}

	handler := Handler(&fakeInstances{inst: inst}, gw, notifier)
	err := handler(context.Background(), summaryJob(inst.ID))
	if err == nil || scheduler.IsPermanent(err) {
		t.Errorf("expected transient error, got %v", err)
	}
}

func TestHandler_BadPayloadIsPermanent(t *testing.T) {
	handler := Handler(&fakeInstances{}, &fakeCompleter{}, &fakeNotifier{})
	err := handler(context.Background(), &store.Job{Payload: json.RawMessage(`nope`)})
	if !scheduler.IsPermanent(err) {
		t.Errorf("expected permanent error, got %v", err)
	}
}
