package main

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"papertrade/internal/config"
	"papertrade/internal/engine"
	"papertrade/internal/feed"
	"papertrade/internal/models"
	"papertrade/internal/repository"
	sig "papertrade/internal/signal"
	"papertrade/internal/websocket"
	"papertrade/pkg/utils"

	_ "github.com/lib/pq"
)

func main() {
	// Загрузка конфигурации
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := utils.InitLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer logger.Sync()

	// Персистентность опциональна: без БД движок работает в памяти
	var tradeSink engine.TradeSink
	var snapSink engine.SnapshotSink
	if cfg.Database.Enabled {
		db, err := initDatabase(cfg)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer db.Close()
		logger.Info("connected to database")

		tradeSink = repository.NewTradeRepository(db)
		snapSink = repository.NewSnapshotRepository(db)
	}

	// Источник тиков: CSV реплей (timestamp,symbol,price)
	ticksFile := envOr("TICKS_FILE", "ticks.csv")
	ticks, err := loadTicks(ticksFile)
	if err != nil {
		logger.Fatal("failed to load ticks", zap.String("file", ticksFile), zap.Error(err))
	}
	logger.Info("ticks loaded", zap.String("file", ticksFile), zap.Int("count", len(ticks)))

	// Источники сигналов стратегий: CSV (timestamp,strategy,symbol,side,quantity).
	// Файл опционален: без него стратегии торгуют только ручными сигналами.
	sources := map[string]sig.Source{}
	if sigFile := os.Getenv("SIGNALS_FILE"); sigFile != "" {
		sources, err = loadSignals(sigFile)
		if err != nil {
			logger.Fatal("failed to load signals", zap.String("file", sigFile), zap.Error(err))
		}
		logger.Info("signals loaded", zap.String("file", sigFile), zap.Int("strategies", len(sources)))
	}

	// WebSocket hub для real-time потока событий
	hub := websocket.NewHub()
	go hub.Run()
	defer hub.Stop()

	eng, err := engine.New(cfg, engine.Options{
		Ticks:        feed.NewReplaySource(ticks),
		Sources:      sources,
		TradeSink:    fanoutTradeSink{repo: tradeSink, hub: hub},
		SnapshotSink: fanoutSnapshotSink{repo: snapSink, hub: hub},
		Logger:       logger,
	})
	if err != nil {
		logger.Fatal("failed to build engine", zap.Error(err))
	}

	// Уведомления движка идут подписчикам hub
	go func() {
		for notif := range eng.Notifications() {
			hub.BroadcastNotification(notif)
		}
	}()

	// HTTP сервер: только WebSocket endpoint и liveness
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/stream", func(w http.ResponseWriter, r *http.Request) {
		websocket.ServeWS(hub, w, r)
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{
		Addr:         envOr("LISTEN_ADDR", ":8080"),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		logger.Fatal("failed to start engine", zap.Error(err))
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	summary := eng.Stop()
	logger.Info("run summary",
		zap.Float64("total_return", summary.TotalReturn),
		zap.Int("trade_count", summary.TradeCount),
		zap.Float64("max_drawdown", summary.MaxDrawdown),
		zap.Int("halted_strategies", len(summary.HaltedStrategies)),
		zap.Int("forced_closes", len(summary.ForcedCloses)))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("exited")
}

// fanoutTradeSink дублирует сделки в репозиторий (если есть) и в hub
type fanoutTradeSink struct {
	repo engine.TradeSink
	hub  *websocket.Hub
}

func (s fanoutTradeSink) Record(trade models.Trade) error {
	s.hub.BroadcastTrade(trade)
	if s.repo == nil {
		return nil
	}
	return s.repo.Record(trade)
}

// fanoutSnapshotSink дублирует снимки в репозиторий (если есть) и в hub
type fanoutSnapshotSink struct {
	repo engine.SnapshotSink
	hub  *websocket.Hub
}

func (s fanoutSnapshotSink) Record(snap models.PortfolioSnapshot) error {
	s.hub.BroadcastSnapshot(snap)
	if s.repo == nil {
		return nil
	}
	return s.repo.Record(snap)
}

// initDatabase создает подключение к базе данных
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// loadTicks читает тики из CSV файла: timestamp(RFC3339),symbol,price
func loadTicks(path string) ([]feed.Tick, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 3

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	ticks := make([]feed.Tick, 0, len(records))
	for i, rec := range records {
		at, err := time.Parse(time.RFC3339, rec[0])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: bad timestamp: %w", path, i+1, err)
		}
		price, err := decimal.NewFromString(rec[2])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: bad price: %w", path, i+1, err)
		}
		ticks = append(ticks, feed.Tick{At: at, Symbol: rec[1], Price: price})
	}
	return ticks, nil
}

// loadSignals читает сигналы из CSV файла:
// timestamp(RFC3339),strategy,symbol,side,quantity
// и группирует их в SliceSource по стратегиям
func loadSignals(path string) (map[string]sig.Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 5

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	byStrategy := make(map[string][]models.Signal)
	for i, rec := range records {
		at, err := time.Parse(time.RFC3339, rec[0])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: bad timestamp: %w", path, i+1, err)
		}
		side := rec[3]
		if side != models.SideBuy && side != models.SideSell {
			return nil, fmt.Errorf("%s line %d: bad side %q", path, i+1, side)
		}
		qty, err := strconv.ParseInt(rec[4], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: bad quantity: %w", path, i+1, err)
		}
		byStrategy[rec[1]] = append(byStrategy[rec[1]], models.Signal{
			At:         at,
			StrategyID: rec[1],
			Symbol:     rec[2],
			Side:       side,
			Quantity:   qty,
		})
	}

	sources := make(map[string]sig.Source, len(byStrategy))
	for name, signals := range byStrategy {
		sources[name] = sig.NewSliceSource(signals)
	}
	return sources, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
