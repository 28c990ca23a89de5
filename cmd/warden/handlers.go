package main

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bluesky-social/warden/duration"
	"github.com/bluesky-social/warden/lifecycle"
	"github.com/bluesky-social/warden/models"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type GenericStatus struct {
	Daemon  string `json:"daemon"`
	Status  string `json:"status"`
	Message string `json:"msg,omitempty"`
}

type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type IssueBody struct {
	Kind          models.ActionKind `json:"kind"`
	Target        string            `json:"target"`
	TargetLabel   string            `json:"targetLabel,omitempty"`
	Operator      string            `json:"operator"`
	OperatorLabel string            `json:"operatorLabel,omitempty"`
	Duration      string            `json:"duration,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	OriginRef     string            `json:"originRef,omitempty"`
}

type RevokeBody struct {
	Kind          models.ActionKind `json:"kind"`
	Target        string            `json:"target"`
	Operator      string            `json:"operator"`
	OperatorLabel string            `json:"operatorLabel,omitempty"`
	Reason        string            `json:"reason,omitempty"`
}

type ExpungeBody struct {
	Operator      string `json:"operator"`
	OperatorLabel string `json:"operatorLabel,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// CaseView is the API rendering of a case.
type CaseView struct {
	Case          int64               `json:"case"`
	Kind          models.ActionKind   `json:"kind"`
	Target        string              `json:"target"`
	TargetLabel   string              `json:"targetLabel,omitempty"`
	Operator      string              `json:"operator"`
	OperatorLabel string              `json:"operatorLabel,omitempty"`
	Reason        string              `json:"reason,omitempty"`
	IssuedAt      time.Time           `json:"issuedAt"`
	Duration      string              `json:"duration"`
	ExpiresAt     *time.Time          `json:"expiresAt,omitempty"`
	Status        models.ActionStatus `json:"status"`
	Removed       *models.Disposition `json:"removed,omitempty"`
	Expunged      *models.Disposition `json:"expunged,omitempty"`
	ExpiredAt     *time.Time          `json:"expiredAt,omitempty"`
	OriginRef     string              `json:"originRef,omitempty"`
}

func caseView(a *models.ModAction) CaseView {
	v := CaseView{
		Case:          a.CaseID,
		Kind:          a.Kind,
		Target:        a.TargetID,
		TargetLabel:   a.TargetLabel,
		Operator:      a.OperatorID,
		OperatorLabel: a.OperatorLabel,
		Reason:        a.Reason,
		IssuedAt:      a.IssuedAt,
		Duration:      duration.Format(a.Duration),
		Status:        a.Status(),
		Removed:       a.Removed,
		Expunged:      a.Expunged,
		ExpiredAt:     a.ExpiredAt,
		OriginRef:     a.OriginRef,
	}
	if at, ok := a.ExpiresAt(); ok {
		v.ExpiresAt = &at
	}
	return v
}

func (srv *Server) checkAdminToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		hdr := c.Request().Header.Get("Authorization")
		want := "Bearer " + srv.adminToken
		if srv.adminToken == "" || subtle.ConstantTimeCompare([]byte(hdr), []byte(want)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "admin token required")
		}
		return next(c)
	}
}

func (srv *Server) errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	errorMessage := "internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		errorMessage = fmt.Sprintf("%s", he.Message)
	}
	if code >= 500 {
		srv.logger.Warn("warden-http-internal-error", "err", err)
	}
	if c.Response().Committed {
		return
	}
	c.JSON(code, ErrorBody{Error: http.StatusText(code), Message: errorMessage})
}

// renders an engine error with the status for its class; internal detail never reaches the response
func (srv *Server) engineError(c echo.Context, err error) error {
	class := lifecycle.Classify(err)
	var code int
	switch class {
	case lifecycle.ClassInvalidInput:
		code = http.StatusBadRequest
	case lifecycle.ClassPrecondition:
		code = http.StatusConflict
	case lifecycle.ClassEnforcement:
		code = http.StatusBadGateway
	default:
		code = http.StatusInternalServerError
	}
	if code >= 500 {
		srv.logger.Warn("moderation request failed", "path", c.Path(), "class", class, "err", err)
	}
	return c.JSON(code, ErrorBody{Error: class.String(), Message: lifecycle.UserMessage(err)})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, ErrorBody{Error: lifecycle.ClassInvalidInput.String(), Message: msg})
}

func (srv *Server) HandleHealthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, GenericStatus{Status: "ok", Daemon: "warden"})
}

func (srv *Server) HandleIssue(c echo.Context) error {
	var body IssueBody
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.OriginRef == "" {
		body.OriginRef = "api:" + uuid.NewString()
	}
	act, err := srv.engine.Issue(c.Request().Context(), lifecycle.IssueRequest{
		Kind:          body.Kind,
		TargetID:      body.Target,
		TargetLabel:   body.TargetLabel,
		OperatorID:    body.Operator,
		OperatorLabel: body.OperatorLabel,
		Duration:      body.Duration,
		Reason:        body.Reason,
		OriginRef:     body.OriginRef,
	})
	if err != nil {
		return srv.engineError(c, err)
	}
	return c.JSON(http.StatusCreated, caseView(act))
}

func (srv *Server) HandleRevoke(c echo.Context) error {
	var body RevokeBody
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	act, err := srv.engine.Revoke(c.Request().Context(), lifecycle.RevokeRequest{
		Kind:          body.Kind,
		TargetID:      body.Target,
		OperatorID:    body.Operator,
		OperatorLabel: body.OperatorLabel,
		Reason:        body.Reason,
	})
	if err != nil {
		return srv.engineError(c, err)
	}
	return c.JSON(http.StatusOK, caseView(act))
}

func parseCaseParam(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("case"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func (srv *Server) HandleExpunge(c echo.Context) error {
	caseID, ok := parseCaseParam(c)
	if !ok {
		return badRequest(c, "case must be a positive integer")
	}
	var body ExpungeBody
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	act, err := srv.engine.Expunge(c.Request().Context(), lifecycle.ExpungeRequest{
		CaseID:        caseID,
		OperatorID:    body.Operator,
		OperatorLabel: body.OperatorLabel,
		Reason:        body.Reason,
	})
	if err != nil {
		return srv.engineError(c, err)
	}
	return c.JSON(http.StatusOK, caseView(act))
}

func (srv *Server) HandleGetCase(c echo.Context) error {
	caseID, ok := parseCaseParam(c)
	if !ok {
		return badRequest(c, "case must be a positive integer")
	}
	act, err := srv.engine.Case(c.Request().Context(), caseID)
	if err != nil {
		return srv.engineError(c, err)
	}
	return c.JSON(http.StatusOK, caseView(act))
}

func (srv *Server) HandleTargetHistory(c echo.Context) error {
	acts, err := srv.engine.History(c.Request().Context(), c.Param("target"))
	if err != nil {
		return srv.engineError(c, err)
	}
	out := make([]CaseView, 0, len(acts))
	for i := range acts {
		out = append(out, caseView(&acts[i]))
	}
	return c.JSON(http.StatusOK, map[string]any{"cases": out})
}
