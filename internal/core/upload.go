package core

import (
	"context"
	"fmt"
	"forecastica/internal/client"
	"forecastica/internal/session"
	"forecastica/pkg/api"
	"io"
	"log/slog"
	"slices"
	"sort"
	"sync"
)

type DatasetBackend interface {
	Upload(ctx context.Context, filename string, data io.Reader) (api.UploadResponse, error)
	LoadExisting(ctx context.Context, filename string) (api.UploadResponse, error)
	ListFiles(ctx context.Context) ([]string, error)
}

type NullCount struct {
	Column    string `json:"column"`
	Count     int    `json:"count"`
	Attention bool   `json:"attention"`
}

type UploadView struct {
	SelectedFile string      `json:"selected_file,omitempty"`
	Uploading    bool        `json:"uploading"`
	Success      bool        `json:"success"`
	Message      string      `json:"message,omitempty"`
	Filename     string      `json:"filename,omitempty"`
	SizeKB       string      `json:"size_kb,omitempty"`
	Info         string      `json:"info,omitempty"`
	Columns      []string    `json:"columns"`
	Rows         []api.Row   `json:"rows"`
	NullCounts   []NullCount `json:"null_counts"`
	Files        []string    `json:"files,omitempty"`
}

var uploadMessages = errorMessages{
	transport:   "An error occurred while uploading the file.",
	application: "Failed to upload file.",
	parse:       "The file was uploaded but the server response could not be read.",
}

// FileTransfer is the upload page: it sends a csv to the server and keeps the
// preview and column metadata from the latest response.
type FileTransfer struct {
	Lifetime

	backend DatasetBackend
	session *session.Session
	rowCap  int

	mu   sync.Mutex
	view UploadView
}

func NewFileTransfer(backend DatasetBackend, sess *session.Session, rowCap int) *FileTransfer {
	return &FileTransfer{backend: backend, session: sess, rowCap: rowCap}
}

func (f *FileTransfer) View() UploadView {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := f.view
	v.Columns = slices.Clone(v.Columns)
	v.Rows = slices.Clone(v.Rows)
	v.NullCounts = slices.Clone(v.NullCounts)
	v.Files = slices.Clone(v.Files)
	return v
}

// Upload sends data as filename. size is the byte length of data when known
// (0 otherwise) and is only used for display.
func (f *FileTransfer) Upload(ctx context.Context, filename string, size int64, data io.Reader) error {
	if err := client.ValidateCSVFilename(filename); err != nil {
		f.mu.Lock()
		f.view = UploadView{SelectedFile: filename, Message: userMessage(err, uploadMessages), Files: f.view.Files}
		f.mu.Unlock()
		return err
	}

	return f.run(ctx, filename, size, func(ctx context.Context) (api.UploadResponse, error) {
		return f.backend.Upload(ctx, filename, data)
	})
}

// SelectExisting reloads a file the server already has as the active dataset.
func (f *FileTransfer) SelectExisting(ctx context.Context, filename string) error {
	if err := client.ValidateCSVFilename(filename); err != nil {
		f.mu.Lock()
		f.view = UploadView{SelectedFile: filename, Message: userMessage(err, uploadMessages), Files: f.view.Files}
		f.mu.Unlock()
		return err
	}

	return f.run(ctx, filename, 0, func(ctx context.Context) (api.UploadResponse, error) {
		return f.backend.LoadExisting(ctx, filename)
	})
}

func (f *FileTransfer) ListFiles(ctx context.Context) error {
	tok, ctx, cancel := f.Begin(ctx)
	defer cancel()

	files, err := f.backend.ListFiles(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.Current(tok) {
		return ErrStale
	}
	if err != nil {
		f.view.Message = userMessage(err, errorMessages{
			transport:   "An error occurred while listing uploaded files.",
			application: "Failed to list uploaded files.",
			parse:       "The list of uploaded files could not be read.",
		})
		return err
	}
	f.view.Files = files
	return nil
}

func (f *FileTransfer) run(ctx context.Context, filename string, size int64, send func(context.Context) (api.UploadResponse, error)) error {
	f.mu.Lock()
	if f.view.Uploading {
		f.mu.Unlock()
		return ErrBusy
	}
	tok, ctx, cancel := f.Begin(ctx)
	defer cancel()
	files := f.view.Files
	f.view = UploadView{SelectedFile: filename, Uploading: true, Files: files}
	f.mu.Unlock()

	res, err := send(ctx)

	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.Current(tok) {
		slog.Info("discarding upload result for page no longer displayed", "file", filename)
		return ErrStale
	}

	if err != nil {
		f.view = UploadView{SelectedFile: filename, Message: userMessage(err, uploadMessages), Files: files}
		return err
	}

	view := UploadView{
		SelectedFile: filename,
		Success:      true,
		Message:      res.Message,
		Filename:     res.Filename,
		Files:        files,
	}
	if view.Message == "" {
		view.Message = "Upload successful"
	}
	if view.Filename == "" {
		view.Filename = filename
	}
	if res.Size > 0 {
		size = res.Size
	}
	if size > 0 {
		view.SizeKB = fmt.Sprintf("%.2f", float64(size)/1024)
	}

	var preview []api.Row
	if res.Analysis != nil {
		preview = res.Analysis.Preview
		view.Info = res.Analysis.Info
	}
	if len(preview) > f.rowCap {
		preview = preview[:f.rowCap]
	}
	view.Rows = preview
	if len(preview) > 0 {
		view.Columns = preview[0].Columns()
	}
	if res.Analysis != nil {
		view.NullCounts = orderNullCounts(view.Columns, res.Analysis.NullCounts)
	}

	f.view = view
	f.session.SetSourceFile(context.WithoutCancel(ctx), view.Filename)
	slog.Info("uploaded dataset", "session_id", f.session.ID, "file", view.Filename, "preview_rows", len(preview))
	return nil
}

// orderNullCounts lists counts in table header order, followed by any columns
// the preview did not include.
func orderNullCounts(columns []string, counts map[string]int) []NullCount {
	out := make([]NullCount, 0, len(counts))
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		if n, ok := counts[c]; ok {
			out = append(out, NullCount{Column: c, Count: n, Attention: n > 0})
			seen[c] = true
		}
	}

	var rest []string
	for c := range counts {
		if !seen[c] {
			rest = append(rest, c)
		}
	}
	sort.Strings(rest)
	for _, c := range rest {
		out = append(out, NullCount{Column: c, Count: counts[c], Attention: counts[c] > 0})
	}
	return out
}
