package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"campaign-spend/models"
	"campaign-spend/utils"
)

func sampleSummaries() []Summary {
	return []Summary{
		{
			View:  "total-spend-by-state",
			Title: "Total Ad Spend by State",
			Table: models.StateSpendTable{
				{State: "goa", Spend: decimal.RequireFromString("1200.50")},
				{State: "kerala", Spend: decimal.NewFromInt(300)},
			},
		},
		{
			View:  "spend-turnout-by-phase",
			Title: "Ad Spend and Voter Turnout by Election Phase",
			Table: models.PhaseTable{
				{Phase: "1", Spend: decimal.NewFromInt(40), Turnout: sql.NullFloat64{Float64: 65.5, Valid: true}},
				{Phase: "2", Spend: decimal.Zero},
			},
		},
	}
}

func sampleMerged() *models.MergedTable {
	goa := &models.LocationRow{Name: sql.NullString{String: "goa", Valid: true}}
	return &models.MergedTable{
		SpendSource: models.DatasetResults,
		HasPolled:   true,
		Rows: []*models.MergedRow{
			{
				State:    sql.NullString{String: "goa", Valid: true},
				Spend:    decimal.NullDecimal{Decimal: decimal.RequireFromString("10.25"), Valid: true},
				Polled:   sql.NullFloat64{Float64: 70, Valid: true},
				Location: goa,
			},
			{State: sql.NullString{String: "mars", Valid: true}},
			{},
		},
	}
}

func TestWriteTableCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteTableCSV(&buf, sampleSummaries()[1].Table); err != nil {
		t.Fatalf("WriteTableCSV: %v", err)
	}

	want := "Phase,Amount spent (INR),Polled (%)\n1,40,65.5\n2,0,\n"
	if got := buf.String(); got != want {
		t.Errorf("csv output:\ngot  %q\nwant %q", got, want)
	}
}

func TestCSVWriterOneFilePerView(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	w, err := NewCSVWriter(dir)
	if err != nil {
		t.Fatalf("NewCSVWriter: %v", err)
	}
	defer w.Close()

	if err := w.Write(sampleSummaries()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(w.Paths()) != 2 {
		t.Fatalf("paths: got %v", w.Paths())
	}

	b, err := os.ReadFile(filepath.Join(dir, "total-spend-by-state.csv"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(b), "goa,1200.5") {
		t.Errorf("unexpected content: %q", b)
	}
}

func TestJSONWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summaries.json")
	w, err := NewJSONWriter(path)
	if err != nil {
		t.Fatalf("NewJSONWriter: %v", err)
	}
	if err := w.Write(sampleSummaries()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var docs []SummaryDoc
	if err := json.Unmarshal(b, &docs); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("docs: got %d, want 2", len(docs))
	}
	if docs[0].Title != "Total Ad Spend by State" || len(docs[0].Records) != 2 {
		t.Errorf("doc 0: got %+v", docs[0])
	}
}

func TestJSONEmptyTableEncodesEmptyRecords(t *testing.T) {
	var buf bytes.Buffer
	doc := NewSummaryDoc(Summary{View: "x", Table: models.PhaseTable{}})
	if err := EncodeJSON(&buf, doc); err != nil {
		t.Fatalf("EncodeJSON: %v", err)
	}
	if !strings.Contains(buf.String(), `"records": []`) {
		t.Errorf("empty records should encode as []: %s", buf.String())
	}
}

func TestXLSXWriterSheetPerView(t *testing.T) {
	path := filepath.Join(t.TempDir(), "summaries.xlsx")
	w, err := NewXLSXWriter(path)
	if err != nil {
		t.Fatalf("NewXLSXWriter: %v", err)
	}
	if err := w.Write(sampleSummaries()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) != 2 || sheets[0] != "total-spend-by-state" {
		t.Fatalf("sheets: got %v", sheets)
	}

	rows, err := f.GetRows("total-spend-by-state")
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows: got %d, want 3", len(rows))
	}
	if rows[0][1] != models.ColSpend || rows[2][0] != "kerala" || rows[2][1] != "300" {
		t.Errorf("unexpected rows: %v", rows)
	}
}

func TestSheetName(t *testing.T) {
	long := strings.Repeat("x", 40)
	if got := sheetName(long); len(got) != 31 {
		t.Errorf("sheetName length: got %d, want 31", len(got))
	}
	if got := sheetName("short"); got != "short" {
		t.Errorf("sheetName: got %q", got)
	}
}

func newSQLiteWriter(t *testing.T) *SQLWriter {
	t.Helper()
	retry := &utils.RetryConfig{MaxAttempts: 1, BaseDelay: time.Millisecond}
	w, err := NewSQLWriter(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "campaign.db"), retry)
	if err != nil {
		t.Fatalf("NewSQLWriter: %v", err)
	}
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestSQLWriterRoundTrip(t *testing.T) {
	ctx := context.Background()
	w := newSQLiteWriter(t)
	summaries := sampleSummaries()
	corr := sql.NullFloat64{Float64: 0.42, Valid: true}

	run, err := w.WriteRun(ctx, sampleMerged(), corr, summaries)
	if err != nil {
		t.Fatalf("WriteRun: %v", err)
	}
	if run.ID == "" || run.MergedRows != 3 || run.Summaries != 2 {
		t.Errorf("run: got %+v", run)
	}

	if err := w.Verify(ctx, run, summaries); err != nil {
		t.Errorf("Verify: %v", err)
	}

	stored, err := w.FetchRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("FetchRun: %v", err)
	}
	if stored.MergedRows != 3 || stored.Correlation != corr {
		t.Errorf("stored run: got %+v", stored)
	}

	records, err := w.FetchSummary(ctx, run.ID, "spend-turnout-by-phase")
	if err != nil {
		t.Fatalf("FetchSummary: %v", err)
	}
	if len(records) != 2 || records[0][2] != "65.5" || records[1][2] != "" {
		t.Errorf("records: got %v", records)
	}
}

func TestSQLWriterRunsAreIsolated(t *testing.T) {
	ctx := context.Background()
	w := newSQLiteWriter(t)

	first, err := w.WriteRun(ctx, sampleMerged(), sql.NullFloat64{}, sampleSummaries())
	if err != nil {
		t.Fatalf("first WriteRun: %v", err)
	}
	second, err := w.WriteRun(ctx, &models.MergedTable{}, sql.NullFloat64{}, nil)
	if err != nil {
		t.Fatalf("second WriteRun: %v", err)
	}
	if first.ID == second.ID {
		t.Fatal("run ids should be unique")
	}

	n, err := w.CountMerged(ctx, second.ID)
	if err != nil {
		t.Fatalf("CountMerged: %v", err)
	}
	if n != 0 {
		t.Errorf("second run merged rows: got %d, want 0", n)
	}
}

func TestSQLWriterVerifyDetectsMismatch(t *testing.T) {
	ctx := context.Background()
	w := newSQLiteWriter(t)
	summaries := sampleSummaries()

	run, err := w.WriteRun(ctx, sampleMerged(), sql.NullFloat64{}, summaries)
	if err != nil {
		t.Fatalf("WriteRun: %v", err)
	}

	changed := []Summary{{View: summaries[0].View, Table: models.StateSpendTable{{State: "goa", Spend: decimal.NewFromInt(1)}}}}
	if err := w.Verify(ctx, run, changed); err == nil {
		t.Error("Verify should fail when stored rows differ")
	}
}

func TestRebind(t *testing.T) {
	pg := &SQLWriter{driver: DriverPostgres}
	if got := pg.rebind("SELECT ? , ?"); got != "SELECT $1 , $2" {
		t.Errorf("postgres rebind: got %q", got)
	}
	lite := &SQLWriter{driver: DriverSQLite}
	if got := lite.rebind("SELECT ?"); got != "SELECT ?" {
		t.Errorf("sqlite rebind: got %q", got)
	}
}

func TestNewSQLWriterRejectsUnknownDriver(t *testing.T) {
	_, err := NewSQLWriter(context.Background(), "mysql", "", &utils.RetryConfig{MaxAttempts: 1})
	if err == nil {
		t.Fatal("expected an error for an unsupported driver")
	}
}
