package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"netrank.org/internal/audit"
	"netrank.org/internal/auth"
	"netrank.org/internal/obs"
	"netrank.org/internal/rank"
	"netrank.org/internal/stream"
)

type setRankRequest struct {
	Rank int `json:"rank"`
}

type userStatusResponse struct {
	User     rank.User     `json:"user"`
	Snapshot rank.Snapshot `json:"snapshot"`
	AsOf     time.Time     `json:"as_of"`
}

func (a *API) handleTiers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tiers":              rank.Tiers,
		"qualifying_package": rank.QualifyingPackage,
	})
}

func (a *API) handleRecalculateAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if err := requireAdmin(r); err != nil {
		writeError(w, r, http.StatusForbidden, err.Error())
		return
	}

	start := time.Now()
	report, err := a.svc.RecalculateAll(r.Context())
	if err != nil {
		handleRankError(w, r, err)
		return
	}
	obs.RecordSweep(time.Since(start), report.Failed)

	a.audit(r.Context(), "rank.sweep", map[string]any{
		"processed":  report.Processed,
		"updated":    report.Updated,
		"bonus_paid": report.BonusPaid,
		"failed":     report.Failed,
	})
	writeJSON(w, http.StatusOK, report)
}

// handleUserResource routes /v1/rank/users/{id}[/recalculate|/rank].
func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/rank/users/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch {
	case strings.HasSuffix(path, "/recalculate"):
		id := strings.TrimSuffix(path, "/recalculate")
		if id == "" || strings.Contains(id, "/") {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.recalculateOne(w, r, id)

	case strings.HasSuffix(path, "/rank"):
		id := strings.TrimSuffix(path, "/rank")
		if id == "" || strings.Contains(id, "/") {
			writeError(w, r, http.StatusNotFound, "resource not found")
			return
		}
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		a.setRankManual(w, r, id)

	case !strings.Contains(path, "/"):
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.userStatus(w, r, path)

	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) userStatus(w http.ResponseWriter, r *http.Request, id string) {
	u, err := a.svc.GetUser(r.Context(), id)
	if err != nil {
		handleRankError(w, r, err)
		return
	}
	snap, err := a.svc.Evaluate(r.Context(), id)
	if err != nil {
		handleRankError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, userStatusResponse{
		User:     u,
		Snapshot: snap,
		AsOf:     time.Now().UTC(),
	})
}

func (a *API) recalculateOne(w http.ResponseWriter, r *http.Request, id string) {
	if err := requireAdmin(r); err != nil {
		writeError(w, r, http.StatusForbidden, err.Error())
		return
	}

	promo, err := a.svc.RecalculateOne(r.Context(), id)
	if err != nil {
		handleRankError(w, r, err)
		return
	}
	a.publishPromotion(promo, false)

	a.audit(r.Context(), "rank.recalculate", map[string]any{
		"user_id":    promo.UserID,
		"old_rank":   promo.OldRank,
		"new_rank":   promo.NewRank,
		"bonus_paid": promo.BonusPaid,
	})
	writeJSON(w, http.StatusOK, promo)
}

func (a *API) setRankManual(w http.ResponseWriter, r *http.Request, id string) {
	if err := requireAdmin(r); err != nil {
		writeError(w, r, http.StatusForbidden, err.Error())
		return
	}

	var req setRankRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	promo, err := a.svc.SetRankManual(r.Context(), id, req.Rank)
	if err != nil {
		handleRankError(w, r, err)
		return
	}
	a.publishPromotion(promo, true)

	a.audit(r.Context(), "rank.manual_set", map[string]any{
		"user_id":    promo.UserID,
		"old_rank":   promo.OldRank,
		"new_rank":   promo.NewRank,
		"bonus_paid": promo.BonusPaid,
	})
	writeJSON(w, http.StatusOK, promo)
}

func (a *API) publishPromotion(promo rank.Promotion, manual bool) {
	if promo.NewRank == promo.OldRank && !promo.BonusPaid {
		return
	}
	obs.RecordPromotion(promo.NewRank, promo.BonusPaid)
	if a.stream == nil {
		return
	}
	evt := stream.PromotionEvent{
		UserID:    promo.UserID,
		OldRank:   promo.OldRank,
		NewRank:   promo.NewRank,
		BonusPaid: promo.BonusPaid,
		Manual:    manual,
		Timestamp: time.Now().UTC(),
	}
	if tier, ok := rank.TierByRank(promo.NewRank); ok {
		evt.Title = tier.Title
	}
	a.stream.Publish(evt)
}

func (a *API) audit(ctx context.Context, event string, fields map[string]any) {
	if err := audit.LogEvent(ctx, event, fields); err != nil {
		obs.LogError("audit_failed", err, map[string]any{"event": event})
	}
}

func requireAdmin(r *http.Request) error {
	if !auth.HasRole(r.Context(), auth.RoleAdmin) {
		return errors.New("rank:admin role required")
	}
	return nil
}

func handleRankError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, rank.ErrInvalidRank):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, rank.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
