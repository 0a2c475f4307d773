package api

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/dgnsrekt/tv_datafeed/internal/hostpage"
)

func registerPageHandlers(router chi.Router, opts hostpage.Options, staticDir string) {
	router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := hostpage.Render(&buf, opts); err != nil {
			slog.Error("host page render failed", "error", err)
			http.Error(w, "host page unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if _, err := w.Write(buf.Bytes()); err != nil {
			slog.Debug("host page write failed", "error", err)
		}
	})

	if staticDir == "" {
		return
	}
	if _, err := os.Stat(staticDir); err != nil {
		slog.Warn("static directory unavailable; widget assets will 404", "dir", staticDir, "error", err)
	}
	router.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
}

func registerHealthHandlers(api huma.API) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/healthz", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})
}
