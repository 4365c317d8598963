package service

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bigkaa/goartstore/ocr-module/internal/domain/model"
)

// minimalPDF собирает корректный PDF с указанным числом пустых страниц.
func minimalPDF(pages int) []byte {
	var buf bytes.Buffer
	offsets := make([]int, 0, pages+2)

	buf.WriteString("%PDF-1.4\n")

	writeObj := func(num int, body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}

	kids := ""
	for i := range pages {
		kids += fmt.Sprintf("%d 0 R ", i+3)
	}
	writeObj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, pages))
	for i := range pages {
		writeObj(i+3, "<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << >> >>")
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

func TestPDFValidator_Valid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "i_doc.pdf")
	if err := os.WriteFile(path, minimalPDF(3), 0o640); err != nil {
		t.Fatalf("Ошибка записи PDF: %v", err)
	}

	pages, err := NewPDFValidator(testLogger()).Validate(path)
	if err != nil {
		t.Fatalf("Validate() ошибка: %v", err)
	}
	if pages == nil || *pages != 3 {
		t.Errorf("pages = %v, ожидалось 3", pages)
	}
}

func TestPDFValidator_BrokenIsNotFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "i_doc.pdf")
	if err := os.WriteFile(path, []byte("not a pdf at all"), 0o640); err != nil {
		t.Fatalf("Ошибка записи файла: %v", err)
	}

	pages, err := NewPDFValidator(testLogger()).Validate(path)
	if err != nil {
		t.Errorf("Validate() ошибка: %v, битый PDF передаётся инструменту", err)
	}
	if pages != nil {
		t.Errorf("pages = %v, ожидался nil", *pages)
	}
}

func TestPDFValidator_SkipsImages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "i_doc.png")
	if err := os.WriteFile(path, []byte("\x89PNG"), 0o640); err != nil {
		t.Fatalf("Ошибка записи файла: %v", err)
	}

	pages, err := NewPDFValidator(testLogger()).Validate(path)
	if err != nil || pages != nil {
		t.Errorf("Validate(png) = %v, %v, ожидалось nil, nil", pages, err)
	}
}

// TestOrchestrator_BrokenPDFReachesTool проверяет, что битый PDF получает
// запись с кодом выхода инструмента, а не отказ в приёме.
func TestOrchestrator_BrokenPDFReachesTool(t *testing.T) {
	repo := newMemRepo()
	store := setupStore(t)
	inv := &fakeInvoker{exitCode: 2}
	o := NewOrchestrator(repo, store, inv, NewGate(1), NewCacheService(100, time.Minute),
		NewPDFValidator(testLogger()), defaultOrchestratorConfig(), testLogger())

	doc, err := o.Submit(context.Background(), SubmitRequest{
		Input:    input("not a pdf at all"),
		FileName: "scan.pdf",
	})
	if err != nil {
		t.Fatalf("Submit() ошибка: %v", err)
	}
	if inv.calls.Load() != 1 {
		t.Errorf("вызовов инструмента = %d, ожидался 1", inv.calls.Load())
	}
	if doc.Status != model.StatusError {
		t.Errorf("Status = %s, ожидался error", doc.Status)
	}
	if doc.ExitCode == nil || *doc.ExitCode != 2 {
		t.Errorf("ExitCode = %v, ожидался 2", doc.ExitCode)
	}
	if doc.PageCount != nil {
		t.Errorf("PageCount = %d, ожидался nil", *doc.PageCount)
	}
}
