package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"bus-tracker/internal/general/contracts"
	"bus-tracker/internal/general/jwt"
)

// --- Handler: POST /rides/start ---

func (handler *TrackerHTTPHandler) handleStartRide(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	var req contracts.StartRideRequest
	if !handler.decodeJSON(ctx, w, r, &req) {
		return
	}

	// bound service call
	ctxWithTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	s, err := handler.lifecycle.StartRide(ctxWithTimeout, req.AccessCode, req.DriverIdentity)
	if err != nil {
		handler.domainError(ctx, w, err)
		return
	}
	ctx = handler.logger.WithSessionID(ctx, s.ID)

	token, claims, err := handler.auth.IssueSessionToken(s.ID, s.DriverIdentity, jwt.RoleDriver)
	if err != nil {
		handler.httpError(ctx, w, http.StatusInternalServerError, "failed to issue driver token", err)
		return
	}

	handler.jsonResponse(ctx, w, http.StatusCreated, contracts.StartRideResponse{
		SessionID:      s.ID,
		DriverIdentity: s.DriverIdentity,
		StartedAt:      s.StartedAt,
		Token:          token,
		ExpiresAt:      claims.ExpiresAt.Time.UTC(),
	})
}

// --- Handler: POST /rides/{session_id}/stop ---

func (handler *TrackerHTTPHandler) handleStopRide(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	sessionID := strings.TrimSpace(r.PathValue("session_id"))
	ctx = handler.logger.WithSessionID(ctx, sessionID)
	if err := jwt.RequireSession(r, sessionID); err != nil {
		handler.httpError(ctx, w, http.StatusForbidden, err.Error(), err)
		return
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := handler.lifecycle.StopRide(ctxWithTimeout, sessionID); err != nil {
		handler.domainError(ctx, w, err)
		return
	}

	type resp struct {
		SessionID string `json:"session_id"`
		Active    bool   `json:"active"`
	}
	handler.jsonResponse(ctx, w, http.StatusOK, resp{SessionID: sessionID, Active: false})
}

// --- Handler: POST /rides/{session_id}/location ---

func (handler *TrackerHTTPHandler) handleRecordLocation(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)

	sessionID := strings.TrimSpace(r.PathValue("session_id"))
	ctx = handler.logger.WithSessionID(ctx, sessionID)
	if err := jwt.RequireSession(r, sessionID); err != nil {
		handler.httpError(ctx, w, http.StatusForbidden, err.Error(), err)
		return
	}

	var req contracts.RecordLocationRequest
	if !handler.decodeJSON(ctx, w, r, &req) {
		return
	}
	p, err := req.Location.Position()
	if err != nil {
		handler.domainError(ctx, w, err)
		return
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	// samples too close in time and space to the last write are acknowledged but not stored
	out, recorded, err := handler.locations.Offer(ctxWithTimeout, sessionID, p)
	if err != nil {
		handler.domainError(ctx, w, err)
		return
	}

	handler.jsonResponse(ctx, w, http.StatusAccepted, contracts.RecordLocationResponse{
		SessionID: sessionID,
		Recorded:  recorded,
		Location:  contracts.LocationFrom(out),
	})
}
