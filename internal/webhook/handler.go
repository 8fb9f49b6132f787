// Package webhook regenerates the bundle from signed GitHub webhook events:
// pushes to the default branch and issue or pull request activity.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cexll/ctxbundle/internal/concurrency"
	"github.com/cexll/ctxbundle/internal/runstore"
)

const (
	// Trigger is recorded on runs started by a webhook.
	Trigger = "webhook"

	maxPayloadBytes = 5 << 20
	dedupeTTL       = 12 * time.Hour
)

// Regenerator starts a background bundle run.
type Regenerator interface {
	Start(ctx context.Context, trigger string) (runstore.Run, error)
}

// Handler handles GitHub webhook events
type Handler struct {
	secret     string
	repository string
	regen      Regenerator
	deliveries *deliveryDeduper
	logger     *zap.Logger
}

// NewHandler creates a webhook handler. When repository is set, events from
// other repositories are ignored.
func NewHandler(secret, repository string, regen Regenerator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		secret:     secret,
		repository: repository,
		regen:      regen,
		deliveries: newDeliveryDeduper(dedupeTTL),
		logger:     logger,
	}
}

// Handle verifies and dispatches one delivery.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		h.logger.Warn("error reading webhook payload", zap.Error(err))
		http.Error(w, "Error reading payload", http.StatusBadRequest)
		return
	}

	if err := VerifySignature(payload, r.Header.Get("X-Hub-Signature-256"), h.secret); err != nil {
		h.logger.Warn("webhook signature rejected", zap.Error(err))
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	eventType := r.Header.Get("X-GitHub-Event")
	delivery := r.Header.Get("X-GitHub-Delivery")
	logger := h.logger.With(zap.String("event", eventType), zap.String("delivery", delivery))

	if eventType == "ping" {
		writeText(w, http.StatusOK, "pong")
		return
	}

	reason, err := h.relevant(eventType, payload)
	if err != nil {
		logger.Warn("invalid webhook payload", zap.Error(err))
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}
	if reason == "" {
		logger.Debug("ignoring webhook event")
		writeText(w, http.StatusOK, "Event ignored")
		return
	}

	if !h.deliveries.markIfNew(delivery) {
		logger.Info("duplicate webhook delivery")
		writeText(w, http.StatusOK, "Duplicate delivery")
		return
	}

	run, err := h.regen.Start(context.WithoutCancel(r.Context()), Trigger)
	if err != nil {
		h.deliveries.forget(delivery)
		if errors.Is(err, concurrency.ErrBusy) {
			logger.Info("bundle busy, webhook not acted on")
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		logger.Error("failed to start regeneration", zap.Error(err))
		http.Error(w, "Failed to start regeneration", http.StatusInternalServerError)
		return
	}

	logger.Info("regeneration started from webhook", zap.String("run_id", run.ID), zap.String("reason", reason))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"run_id": run.ID, "reason": reason})
}

// relevant returns a non-empty reason when the event should regenerate the
// bundle.
func (h *Handler) relevant(eventType string, payload []byte) (string, error) {
	switch eventType {
	case "push":
		var ev PushEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return "", fmt.Errorf("decode push event: %w", err)
		}
		if !h.sameRepository(ev.Repository) {
			return "", nil
		}
		branch := strings.TrimPrefix(ev.Ref, "refs/heads/")
		if ev.Repository.DefaultBranch == "" || branch != ev.Repository.DefaultBranch {
			return "", nil
		}
		return "push to " + branch, nil

	case "issues", "pull_request":
		var ev IssuesEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return "", fmt.Errorf("decode %s event: %w", eventType, err)
		}
		if !h.sameRepository(ev.Repository) {
			return "", nil
		}
		switch ev.Action {
		case "opened", "closed", "reopened", "edited", "labeled", "unlabeled", "ready_for_review", "converted_to_draft":
			return eventType + " " + ev.Action, nil
		}
		return "", nil
	}
	return "", nil
}

func (h *Handler) sameRepository(repo Repository) bool {
	return h.repository == "" || strings.EqualFold(h.repository, repo.FullName)
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.WriteHeader(status)
	_, _ = w.Write([]byte(text))
}
