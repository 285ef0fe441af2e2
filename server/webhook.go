package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"

	"github.com/petercort/RunWatch-sub000/reconcile"
)

const maxWebhookBody = 1 << 20

// Webhook is the live event intake: it authenticates the delivery,
// maps the provider payload into the canonical event shape, and
// hands it to the reconciler. It runs concurrently with the crawler;
// the reconciler's per-run serialization keeps the two from
// clobbering each other.
func (s *Server) Webhook(w http.ResponseWriter, r *http.Request) {
	l := s.l.With("handler", "Webhook", "delivery", r.Header.Get("X-GitHub-Delivery"))

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if s.cfg.Server.WebhookSecret != "" && !s.cfg.Server.Dev {
		if !verifySignature(s.cfg.Server.WebhookSecret, body, r.Header.Get("X-Hub-Signature-256")) {
			l.Warn("webhook signature mismatch")
			writeError(w, http.StatusUnauthorized, "signature mismatch")
			return
		}
	}

	switch event := r.Header.Get("X-GitHub-Event"); event {
	case "workflow_run":
		ev, err := reconcile.NormalizeRunWebhook(body)
		if err != nil {
			l.Error("bad workflow_run payload", "err", err)
			writeError(w, http.StatusBadRequest, "bad payload")
			return
		}
		if _, err := s.rec.ApplyRun(ev); err != nil {
			l.Error("failed to apply run event", "run", ev.RunID, "err", err)
			writeError(w, http.StatusInternalServerError, "failed to apply event")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case "workflow_job":
		ev, err := reconcile.NormalizeJobWebhook(body)
		if err != nil {
			l.Error("bad workflow_job payload", "err", err)
			writeError(w, http.StatusBadRequest, "bad payload")
			return
		}
		if _, err := s.rec.ApplyJob(ev); err != nil {
			l.Error("failed to apply job event", "run", ev.RunID, "job", ev.Job.ID, "err", err)
			writeError(w, http.StatusInternalServerError, "failed to apply event")
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		l.Debug("ignoring event", "event", event)
		w.WriteHeader(http.StatusAccepted)
	}
}

func verifySignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
