package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Tutortoise/image-scan-service/classify"
	"github.com/Tutortoise/image-scan-service/loader"
	"github.com/Tutortoise/image-scan-service/scan"
)

const shutdownGrace = 5 * time.Second

// newClassifierFactory opens the runtime, resolves the model artifact and
// builds a session pool around it.
func newClassifierFactory(cfg Config, tmpDir string) loader.Factory {
	client := &http.Client{}

	return func(ctx context.Context) (*classify.Classifier, error) {
		if err := classify.InitRuntime(cfg.ORTLibraryPath); err != nil {
			return nil, err
		}

		modelPath, err := resolveModel(ctx, client, cfg.ModelPath, tmpDir)
		if err != nil {
			return nil, err
		}
		log.Printf("Loading model from: %s", modelPath)

		factory, io, err := classify.NewORTRunnerFactory(classify.ORTConfig{
			ModelPath:      modelPath,
			InputName:      cfg.InputName,
			OutputName:     cfg.OutputName,
			Input:          cfg.InputSpec(),
			IntraOpThreads: cfg.IntraOpThreads,
		})
		if err != nil {
			return nil, err
		}
		if n := io.OutputSize(); n != len(cfg.Labels) {
			log.Printf("Warning: model outputs %d classes but %d labels are configured", n, len(cfg.Labels))
		}

		pool, err := classify.NewSessionPool(factory, cfg.PoolSize, classify.DefaultAcquireTimeout)
		if err != nil {
			return nil, fmt.Errorf("failed to create model session pool: %w", err)
		}

		return classify.NewClassifier(pool, cfg.Labels, cfg.InputSpec()), nil
	}
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	tmpDir, err := os.MkdirTemp("", "image-scan")
	if err != nil {
		log.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	modelLoader := loader.New(newClassifierFactory(cfg, tmpDir), cfg.LoadTimeout())
	defer classify.DestroyRuntime()
	defer modelLoader.Close()
	modelLoader.Start(ctx)

	store := scan.NewStore(cfg.SessionTTL())
	go store.Run(ctx, scan.SweepPeriod)

	state := &AppState{
		Config: cfg,
		Loader: modelLoader,
		Store:  store,
	}

	srv := &http.Server{
		Handler:      state.Router(),
		Addr:         cfg.ListenAddr,
		WriteTimeout: 60 * time.Second,
		ReadTimeout:  60 * time.Second,
	}

	log.Printf("Starting server on %s", srv.Addr)
	log.Printf("Labels: %v", cfg.Labels)
	log.Printf("CPU features: %v", classify.CPUFeatures())
	log.Println("Endpoints:")
	log.Println("  GET  /                         - Scan page")
	log.Println("  GET  /admin                    - Admin page")
	log.Println("  GET  /api/model                - Model status")
	log.Println("  POST /api/sessions             - Start a scan session")
	log.Println("  POST /api/sessions/{id}/image  - Upload an image")
	log.Println("  POST /api/sessions/{id}/predict - Run analysis")
	log.Println("  POST /predict/image            - One-shot upload and predict")

	go logWarmup(ctx, modelLoader)

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		log.Printf("Server failed: %v", err)
		return
	}
	// The loader and runtime are torn down by the defers above, which only
	// run once serve has drained every in-flight request.
	if err := serve(ctx, srv, ln, cfg.InferenceTimeout()+shutdownGrace); err != nil {
		log.Printf("Server failed: %v", err)
	}
}

// serve runs srv on ln until ctx is done, then waits for in-flight requests
// to finish (or for drainTimeout) before returning.
func serve(ctx context.Context, srv *http.Server, ln net.Listener, drainTimeout time.Duration) error {
	shutdownDone := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		shutdownDone <- srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	if err := <-shutdownDone; err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// logWarmup reports how the startup model load ended.
func logWarmup(ctx context.Context, l *loader.Loader) {
	status := l.Wait(ctx)
	switch status.State {
	case loader.StateReady:
		log.Printf("Model ready after %d attempt(s)", status.Attempts)
	case loader.StateFailed:
		log.Printf("Model failed to load: %s (POST /api/model/reload to retry)", status.Error)
	default:
		log.Printf("Model still %s", status.State)
	}
}
