package internal

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"shm-chat/domain"
)

//go:embed inspect.html
var templatesFS embed.FS

type InspectRow struct {
	Slot      string
	Kind      string
	Timestamp string
	Author    string
	Detail    string
}

// RowSource lists the rows for one view of the shared region.
type RowSource func() ([]InspectRow, error)
type StatsProvider func() map[string]any

type PageData struct {
	View  string
	Views []string
	Items []InspectRow
	Stats map[string]any
	Error string
}

// NewDebugHandler serves an HTML page listing the rows of the view picked
// with ?view=. The first registered view is the default.
func NewDebugHandler(endpoint string, sources map[string]RowSource, order []string, statsProvider StatsProvider) http.Handler {
	mux := http.NewServeMux()
	tmpl := template.Must(template.ParseFS(templatesFS, "inspect.html"))

	mux.HandleFunc(endpoint, func(w http.ResponseWriter, r *http.Request) {
		view := r.URL.Query().Get("view")
		if view == "" && len(order) > 0 {
			view = order[0]
		}
		source, ok := sources[view]
		if !ok {
			http.Error(w, fmt.Sprintf("unknown view %q", view), http.StatusNotFound)
			return
		}

		data := PageData{
			View:  view,
			Views: order,
			Stats: make(map[string]any),
		}
		if statsProvider != nil {
			data.Stats = statsProvider()
		}
		items, err := source()
		if err != nil {
			data.Error = err.Error()
		}
		data.Items = items

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = tmpl.Execute(w, data)
	})
	return mux
}

// StartDebugServer serves handler on port until ctx is done.
func StartDebugServer(ctx context.Context, port int, handler http.Handler, log *slog.Logger) {
	srv := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		log.Info("Debug server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Debug server failed", "error", err)
		}
	}()
}

// MessageRows renders messages oldest first, numbered from first.
func MessageRows(messages []domain.Message, first uint64) []InspectRow {
	rows := make([]InspectRow, 0, len(messages))
	for i, m := range messages {
		rows = append(rows, InspectRow{
			Slot:      strconv.FormatUint(first+uint64(i), 10),
			Kind:      m.Origin.String(),
			Timestamp: m.CreatedAt.Format("15:04:05"),
			Author:    m.Author,
			Detail:    m.Body,
		})
	}
	return rows
}

// ClientRows renders the roster with the idle time of each entry at now.
func ClientRows(records []domain.ClientRecord, now time.Time) []InspectRow {
	rows := make([]InspectRow, 0, len(records))
	for i, rec := range records {
		rows = append(rows, InspectRow{
			Slot:      strconv.Itoa(i),
			Kind:      "CLIENT",
			Timestamp: rec.LastActivity.Format("15:04:05"),
			Author:    rec.Name,
			Detail:    "idle " + now.Sub(rec.LastActivity).Truncate(time.Second).String(),
		})
	}
	return rows
}
