package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bluesky-social/warden/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAction() models.ModAction {
	hour := time.Hour
	return models.ModAction{
		ID:            3,
		CaseID:        12,
		Kind:          models.KindSuspend,
		TargetID:      "did:plc:u1",
		TargetLabel:   "u1.example.com",
		OperatorLabel: "mod-alice",
		Reason:        "spam",
		IssuedAt:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Duration:      &hour,
		Active:        true,
	}
}

func TestRenderings(t *testing.T) {
	assert := assert.New(t)

	week := 7 * 24 * time.Hour
	assert.Equal("You have received a mute (1w) for: flooding", noticeText(TargetNotice{
		Kind:     models.KindMute,
		Reason:   "flooding",
		Duration: &week,
	}))
	assert.Equal("You have received a suspend (permanent)", noticeText(TargetNotice{Kind: models.KindSuspend}))

	act := testAction()
	txt := auditText(AuditEntry{Kind: AuditIssued, Action: act, Actor: "mod-alice"})
	assert.Contains(txt, "Case 12 `suspend` issued: `did:plc:u1` (u1.example.com)")
	assert.Contains(txt, "Duration: 1h")
	assert.Contains(txt, "Reason: spam")
	assert.Contains(txt, "By: mod-alice")

	act.Active = false
	act.Removed = &models.Disposition{Reason: "appeal"}
	txt = auditText(AuditEntry{Kind: AuditRevoked, Action: act})
	assert.Contains(txt, "Reason: appeal")
	assert.NotContains(txt, "By:")

	assert.Equal("🚨 revoke failed (case 12) `suspend` / `did:plc:u1`: boom", criticalText(CriticalReport{
		Op:       "revoke",
		CaseID:   12,
		Kind:     models.KindSuspend,
		TargetID: "did:plc:u1",
		Error:    "boom",
	}))
}

func TestSlackNotifier(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	var mu sync.Mutex
	var texts []string
	ok := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body SlackWebhookBody
		json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		defer mu.Unlock()
		texts = append(texts, body.Text)
		if ok {
			w.Write([]byte("ok"))
		} else {
			w.Write([]byte("invalid_payload"))
		}
	}))
	defer srv.Close()

	n := NewSlackNotifier(srv.URL)
	n.Client = srv.Client()

	assert.NoError(n.Audit(ctx, AuditEntry{Kind: AuditExpired, Action: testAction()}))
	assert.NoError(n.Critical(ctx, CriticalReport{Op: "expire", Error: "backend down"}))

	mu.Lock()
	ok = false
	mu.Unlock()
	assert.Error(n.Audit(ctx, AuditEntry{Kind: AuditIssued, Action: testAction()}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, texts, 3)
	assert.Contains(texts[0], "expired")
	assert.Contains(texts[1], "backend down")
}

func TestWebhookNotifier(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	type received struct {
		auth string
		ev   map[string]any
	}
	var mu sync.Mutex
	var got []received
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var ev map[string]any
		json.Unmarshal(raw, &ev)
		mu.Lock()
		got = append(got, received{auth: r.Header.Get("Authorization"), ev: ev})
		mu.Unlock()
		if ev["type"] == "critical" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, "tok")
	n.Client = srv.Client()

	assert.NoError(n.NotifyTarget(ctx, TargetNotice{Kind: models.KindMute, TargetID: "u1", Reason: "flooding"}))
	assert.NoError(n.Audit(ctx, AuditEntry{Kind: AuditIssued, Action: testAction()}))
	assert.Error(n.Critical(ctx, CriticalReport{Op: "issue", Error: "x"}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 3)
	assert.Equal("Bearer tok", got[0].auth)
	assert.Equal("target_notice", got[0].ev["type"])
	payload := got[0].ev["payload"].(map[string]any)
	assert.Equal("u1", payload["targetId"])
	assert.Equal("flooding", payload["reason"])
	assert.Equal("audit", got[1].ev["type"])
}

func TestMultiAttemptsAll(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	failing := &Recorder{Err: errors.New("unreachable")}
	healthy := &Recorder{}
	m := &Multi{
		Notifiers:  []Notifier{failing, healthy},
		Auditors:   []Auditor{failing, healthy, NewLogNotifier(nil)},
		ErrorSinks: []ErrorSink{healthy},
	}

	assert.Error(m.NotifyTarget(ctx, TargetNotice{TargetID: "u1"}))
	assert.Error(m.Audit(ctx, AuditEntry{Kind: AuditIssued, Action: testAction()}))
	assert.NoError(m.Critical(ctx, CriticalReport{Op: "issue"}))

	assert.Len(healthy.Notices(), 1)
	assert.Len(failing.Notices(), 1)
	assert.Len(healthy.AuditsOf(AuditIssued), 1)
	assert.Len(healthy.AuditsOf(AuditRevoked), 0)
	assert.Len(healthy.Criticals(), 1)

	// nothing configured is fine
	assert.NoError((&Multi{}).Audit(ctx, AuditEntry{}))
}
