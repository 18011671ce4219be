package payer

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

func newTestHandler() (*Handler, *echo.Echo) {
	svc, _ := newTestService()
	h := NewHandler(svc)
	e := echo.New()
	return h, e
}

func TestHandler_CreateRule(t *testing.T) {
	h, e := newTestHandler()
	body := `{"payer_id":"` + uuid.New().String() + `","clinician_credential":"LCSW","place_of_service":"office","service_type":"psychotherapy-45","effective_date":"2026-01-01T00:00:00Z"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CreateRule(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var out Rule
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if out.ID == uuid.Nil {
		t.Error("expected id in response")
	}
}

func TestHandler_CreateRule_MissingTuple(t *testing.T) {
	h, e := newTestHandler()
	body := `{"payer_id":"` + uuid.New().String() + `","clinician_credential":"LCSW"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.CreateRule(c); err == nil {
		t.Error("expected error for incomplete tuple")
	}
}

func TestHandler_GetRule_InvalidID(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("not-a-uuid")

	err := h.GetRule(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_GetRule_NotFound(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	err := h.GetRule(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}

func TestHandler_ListRules(t *testing.T) {
	h, e := newTestHandler()
	rule := validTestRule(uuid.New())
	if err := h.svc.Create(nil, rule); err != nil {
		t.Fatalf("seed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/?payer_id="+rule.PayerID.String(), nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListRules(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Total != 1 {
		t.Errorf("expected total 1, got %d", resp.Total)
	}
}

func TestHandler_ImportRules_DryRun(t *testing.T) {
	h, e := newTestHandler()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("payer_id", uuid.New().String())
	mw.WriteField("dry_run", "true")
	fw, err := mw.CreateFormFile("file", "rules.csv")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	fw.Write([]byte(importHeader + "\nLCSW,office,psychotherapy-45,false,false,,,true,false,false,false,false,,2026-01-01,\n"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/", &body)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ImportRules(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var report ImportReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if !report.DryRun || report.Imported != 1 {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestHandler_ImportRules_CamelCaseFields(t *testing.T) {
	h, e := newTestHandler()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("payerId", uuid.New().String())
	mw.WriteField("dryRun", "true")
	fw, err := mw.CreateFormFile("file", "rules.csv")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	fw.Write([]byte(importHeader + "\nLCSW,office,psychotherapy-45,false,false,,,true,false,false,false,false,,2026-01-01,\n"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/", &body)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ImportRules(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var report ImportReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if !report.DryRun || report.Imported != 1 {
		t.Errorf("unexpected report: %+v", report)
	}
}

func TestHandler_ImportRules_MissingFile(t *testing.T) {
	h, e := newTestHandler()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("payer_id", uuid.New().String())
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/", &body)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ImportRules(c); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestHandler_DownloadTemplate(t *testing.T) {
	h, e := newTestHandler()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.DownloadTemplate(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("expected text/csv, got %s", ct)
	}
	if !strings.HasPrefix(rec.Body.String(), "clinicianCredential,") {
		t.Error("expected CSV header in body")
	}
}

func TestHandler_CloneRule(t *testing.T) {
	h, e := newTestHandler()
	rule := validTestRule(uuid.New())
	if err := h.svc.Create(nil, rule); err != nil {
		t.Fatalf("seed: %v", err)
	}

	body := `{"target_payer_id":"` + uuid.New().String() + `","effective_date":"2026-06-01"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(rule.ID.String())

	if err := h.CloneRule(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
}

func TestHandler_CloneRule_NoBody(t *testing.T) {
	h, e := newTestHandler()
	payerID := uuid.New()
	rule := validTestRule(payerID)
	if err := h.svc.Create(nil, rule); err != nil {
		t.Fatalf("seed: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(rule.ID.String())

	if err := h.CloneRule(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var clone Rule
	if err := json.Unmarshal(rec.Body.Bytes(), &clone); err != nil {
		t.Fatalf("decode clone: %v", err)
	}
	if clone.PayerID != payerID {
		t.Errorf("expected clone to keep source payer %s, got %s", payerID, clone.PayerID)
	}
	if clone.ID == rule.ID {
		t.Error("expected a fresh id")
	}
}
