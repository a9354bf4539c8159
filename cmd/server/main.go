package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/SYED-TAHER/mobile-dev/internal/blip"
	"github.com/SYED-TAHER/mobile-dev/internal/config"
	"github.com/SYED-TAHER/mobile-dev/internal/handler"
	"github.com/SYED-TAHER/mobile-dev/internal/logger"
	"github.com/SYED-TAHER/mobile-dev/internal/modelhost"
	"github.com/SYED-TAHER/mobile-dev/internal/service"

	_ "github.com/SYED-TAHER/mobile-dev/docs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	l := logger.FromConfig(os.Stderr, cfg.Log.Format, cfg.Log.Level)

	loader := &blip.Loader{
		Root:           cfg.Model.Dir,
		RuntimeLibrary: cfg.Model.RuntimeLibrary,
		IntraOpThreads: cfg.Model.IntraOpThreads,
		MaxLength:      cfg.Model.MaxLength,
	}
	host := modelhost.New(blip.ArtifactID, modelhost.LoaderFunc(func(ctx context.Context, id string) (modelhost.Captioner, error) {
		c, err := loader.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		return c, nil
	}), l)
	defer func() {
		if err := host.Close(); err != nil {
			l.Error("failed to release model", "error", err)
		}
	}()

	if cfg.Model.Preload {
		go func() {
			if err := host.EnsureLoaded(ctx); err != nil {
				l.Warn("model preload failed, will retry on first request", "error", err)
			}
		}()
	}

	captionService := service.NewCaptionService(l, host, cfg.Model.MaxImagePixels)
	upload := handler.NewUploadHandler(captionService, cfg.Server.MaxUploadBytes)

	srv := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: handler.NewRouter(upload, cfg.Server.Timeout),
	}
	servers := []*http.Server{srv}

	if cfg.Admin.Enabled {
		servers = append(servers, &http.Server{
			Addr:    ":" + cfg.Admin.Port,
			Handler: handler.NewAdminRouter(),
		})
	}

	for _, s := range servers {
		go func(s *http.Server) {
			l.Info("server started", "addr", s.Addr)
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatalf("listen error: %v", err)
			}
		}(s)
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	for _, s := range servers {
		if err := s.Shutdown(shutdownCtx); err != nil {
			l.Error("server forced to shutdown", "addr", s.Addr, "error", err)
		}
	}
	l.Info("server stopped")
}
