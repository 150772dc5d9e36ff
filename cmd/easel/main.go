package main

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/prismworks/easel/internal/api"
	"github.com/prismworks/easel/internal/config"
	"github.com/prismworks/easel/internal/imagegen"
	"github.com/prismworks/easel/internal/llm"
	"github.com/prismworks/easel/internal/store"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	st, err := store.New(cfg.DBPath, logger)
	if err != nil {
		logger.Fatal("failed to open session store",
			zap.Error(err),
			zap.String("dbPath", cfg.DBPath))
	}
	defer st.Close()

	images, err := imagegen.New(context.Background(), cfg.GeminiAPIKey, cfg.ImageModel)
	if err != nil {
		logger.Fatal("failed to initialize image service", zap.Error(err))
	}

	refiner, err := llm.New(cfg.RefineBaseURL, cfg.RefineAPIKey, cfg.RefineModel)
	if err != nil {
		logger.Fatal("failed to initialize refinement service", zap.Error(err))
	}

	handler := api.NewHandler(st, images, refiner, logger)

	http.HandleFunc("/api/state", handler.GetState)
	http.HandleFunc("/api/sessions", handler.CreateSession)
	http.HandleFunc("/api/sessions/select", handler.SelectSession)
	http.HandleFunc("/api/sessions/delete", handler.DeleteSession)
	http.HandleFunc("/api/sessions/settings", handler.UpdateSettings)
	http.HandleFunc("/api/reference/clear", handler.ClearReference)
	http.HandleFunc("/api/message", handler.HandleMessage)
	http.HandleFunc("/api/reuse", handler.ReuseImage)
	http.HandleFunc("/api/prompt/refine", handler.RefinePrompt)

	// Serve the single-page UI
	fs := http.FileServer(http.Dir(cfg.WebDir))
	http.Handle("/", fs)

	logger.Info("starting server", zap.String("addr", cfg.ListenAddr))
	if err := http.ListenAndServe(cfg.ListenAddr, nil); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}
}
