package payer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// csvColumns is the canonical column order for rule import and export files.
var csvColumns = []string{
	"clinicianCredential",
	"placeOfService",
	"serviceType",
	"supervisionRequired",
	"cosignRequired",
	"cosignTimeframeDays",
	"noteCompletionDays",
	"diagnosisRequired",
	"treatmentPlanRequired",
	"medicalNecessityRequired",
	"priorAuthRequired",
	"isProhibited",
	"prohibitionReason",
	"effectiveDate",
	"isActive",
}

const csvDateLayout = "2006-01-02"

// RowError describes a single failed row in an import file. Row numbers are
// 1-based over the data rows, so the first row after the header is row 1.
type RowError struct {
	Row     int    `json:"row"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// ImportReport is the outcome of a validate or commit import run.
type ImportReport struct {
	Success  bool       `json:"success"`
	DryRun   bool       `json:"dry_run"`
	Imported int        `json:"imported"`
	Failed   int        `json:"failed"`
	Errors   []RowError `json:"errors"`
}

type importRow struct {
	line   int
	record []string
}

func parseImportFile(r io.Reader) ([]importRow, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	// Column-count mistakes are reported per row, not as a file-level failure.
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) != len(csvColumns) {
		return nil, fmt.Errorf("expected %d columns, got %d", len(csvColumns), len(header))
	}
	for i, col := range header {
		if !strings.EqualFold(strings.TrimSpace(col), csvColumns[i]) {
			return nil, fmt.Errorf("column %d must be %q, got %q", i+1, csvColumns[i], col)
		}
	}

	var rows []importRow
	line := 0
	for {
		record, err := reader.Read()
		line++
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", line, err)
		}
		rows = append(rows, importRow{line: line, record: record})
	}
	return rows, nil
}

func parseCSVBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "false", "0", "no":
		return false, nil
	case "true", "1", "yes":
		return true, nil
	}
	return false, fmt.Errorf("must be true or false")
}

func parseCSVInt(s string) (*int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil, fmt.Errorf("must be a whole number")
	}
	return &n, nil
}

func parseCSVDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(csvDateLayout, s)
	if err != nil {
		return nil, fmt.Errorf("must be a YYYY-MM-DD date")
	}
	return &t, nil
}

// buildRule converts one CSV record into a Rule, accumulating every field
// error instead of stopping at the first.
func buildRule(payerID uuid.UUID, createdBy *uuid.UUID, row importRow) (*Rule, []RowError) {
	var errs []RowError
	fail := func(field, msg string) {
		errs = append(errs, RowError{Row: row.line, Field: field, Message: msg})
	}

	rule := &Rule{PayerID: payerID, CreatedBy: createdBy, IsActive: true}

	get := func(i int) string { return strings.TrimSpace(row.record[i]) }

	rule.ClinicianCredential = get(0)
	if rule.ClinicianCredential == "" {
		fail("clinicianCredential", "is required")
	}
	rule.PlaceOfService = get(1)
	if rule.PlaceOfService == "" {
		fail("placeOfService", "is required")
	}
	rule.ServiceType = get(2)
	if rule.ServiceType == "" {
		fail("serviceType", "is required")
	}

	boolFields := []struct {
		idx  int
		name string
		dst  *bool
	}{
		{3, "supervisionRequired", &rule.SupervisionRequired},
		{4, "cosignRequired", &rule.CosignRequired},
		{7, "diagnosisRequired", &rule.DiagnosisRequired},
		{8, "treatmentPlanRequired", &rule.TreatmentPlanRequired},
		{9, "medicalNecessityRequired", &rule.MedicalNecessityRequired},
		{10, "priorAuthRequired", &rule.PriorAuthRequired},
		{11, "isProhibited", &rule.IsProhibited},
	}
	for _, f := range boolFields {
		v, err := parseCSVBool(get(f.idx))
		if err != nil {
			fail(f.name, err.Error())
			continue
		}
		*f.dst = v
	}

	if days, err := parseCSVInt(get(5)); err != nil {
		fail("cosignTimeframeDays", err.Error())
	} else if days != nil && *days < 0 {
		fail("cosignTimeframeDays", "must not be negative")
	} else {
		rule.CosignTimeframeDays = days
	}
	if days, err := parseCSVInt(get(6)); err != nil {
		fail("noteCompletionDays", err.Error())
	} else if days != nil && *days < 0 {
		fail("noteCompletionDays", "must not be negative")
	} else {
		rule.NoteCompletionDays = days
	}

	if reason := get(12); reason != "" {
		rule.ProhibitionReason = &reason
	}
	if rule.IsProhibited && rule.ProhibitionReason == nil {
		fail("prohibitionReason", "is required when isProhibited is set")
	}

	if eff, err := parseCSVDate(get(13)); err != nil {
		fail("effectiveDate", err.Error())
	} else if eff == nil {
		fail("effectiveDate", "is required")
	} else {
		rule.EffectiveDate = *eff
	}

	// A blank isActive column imports the rule as active.
	if v := get(14); v != "" {
		active, err := parseCSVBool(v)
		if err != nil {
			fail("isActive", err.Error())
		} else {
			rule.IsActive = active
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return rule, nil
}

func (s *Service) validateImportRows(payerID uuid.UUID, createdBy *uuid.UUID, rows []importRow) ([]*Rule, *ImportReport) {
	report := &ImportReport{Errors: []RowError{}}
	var rules []*Rule
	for _, row := range rows {
		if len(row.record) != len(csvColumns) {
			report.Failed++
			report.Errors = append(report.Errors, RowError{
				Row:     row.line,
				Message: fmt.Sprintf("expected %d columns, got %d", len(csvColumns), len(row.record)),
			})
			continue
		}
		rule, errs := buildRule(payerID, createdBy, row)
		if len(errs) > 0 {
			report.Failed++
			report.Errors = append(report.Errors, errs...)
			continue
		}
		report.Imported++
		rules = append(rules, rule)
	}
	report.Success = report.Failed == 0
	return rules, report
}

// ValidateImport parses and validates an import file without persisting
// anything. Imported counts the rows that would be written by a commit.
func (s *Service) ValidateImport(ctx context.Context, payerID uuid.UUID, createdBy *uuid.UUID, r io.Reader) (*ImportReport, error) {
	if payerID == uuid.Nil {
		return nil, fmt.Errorf("payer_id is required")
	}
	rows, err := parseImportFile(r)
	if err != nil {
		return nil, err
	}
	_, report := s.validateImportRows(payerID, createdBy, rows)
	report.DryRun = true
	return report, nil
}

// CommitImport validates the whole file first and persists rules only when
// every row passes. A file with any bad row writes nothing and returns the
// full per-row error report.
func (s *Service) CommitImport(ctx context.Context, payerID uuid.UUID, createdBy *uuid.UUID, r io.Reader) (*ImportReport, error) {
	if payerID == uuid.Nil {
		return nil, fmt.Errorf("payer_id is required")
	}
	rows, err := parseImportFile(r)
	if err != nil {
		return nil, err
	}
	rules, report := s.validateImportRows(payerID, createdBy, rows)
	if report.Failed > 0 {
		report.Imported = 0
		return report, nil
	}
	// One transaction for the whole file, so a mid-file database error cannot
	// leave a partial import behind.
	err = s.tx(ctx, func(ctx context.Context) error {
		for _, rule := range rules {
			if err := s.rules.Create(ctx, rule); err != nil {
				return fmt.Errorf("persist row: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("payer_id", payerID.String()).
		Int("imported", report.Imported).
		Msg("payer rules imported")
	return report, nil
}

func formatBool(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func formatIntPtr(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}

func ruleToRecord(r *Rule) []string {
	reason := ""
	if r.ProhibitionReason != nil {
		reason = *r.ProhibitionReason
	}
	return []string{
		r.ClinicianCredential,
		r.PlaceOfService,
		r.ServiceType,
		formatBool(r.SupervisionRequired),
		formatBool(r.CosignRequired),
		formatIntPtr(r.CosignTimeframeDays),
		formatIntPtr(r.NoteCompletionDays),
		formatBool(r.DiagnosisRequired),
		formatBool(r.TreatmentPlanRequired),
		formatBool(r.MedicalNecessityRequired),
		formatBool(r.PriorAuthRequired),
		formatBool(r.IsProhibited),
		reason,
		r.EffectiveDate.Format(csvDateLayout),
		formatBool(r.IsActive),
	}
}

// ExportCSV streams every rule configured for a payer in import file format,
// so an exported file round-trips through the importer.
func (s *Service) ExportCSV(ctx context.Context, payerID uuid.UUID, w io.Writer) error {
	if payerID == uuid.Nil {
		return fmt.Errorf("payer_id is required")
	}
	writer := csv.NewWriter(w)
	if err := writer.Write(csvColumns); err != nil {
		return err
	}

	const pageSize = 500
	offset := 0
	for {
		rules, total, err := s.rules.List(ctx, Filter{PayerID: payerID}, pageSize, offset)
		if err != nil {
			return err
		}
		for _, rule := range rules {
			if err := writer.Write(ruleToRecord(rule)); err != nil {
				return err
			}
		}
		offset += len(rules)
		if offset >= total || len(rules) == 0 {
			break
		}
	}
	writer.Flush()
	return writer.Error()
}

// TemplateCSV writes the import header plus one example row.
func TemplateCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvColumns); err != nil {
		return err
	}
	example := []string{
		"LCSW", "office", "psychotherapy-45",
		"false", "true", "7", "3",
		"true", "true", "true", "false",
		"false", "",
		"2026-01-01", "true",
	}
	if err := writer.Write(example); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}
