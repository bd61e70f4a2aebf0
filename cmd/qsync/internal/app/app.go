// Package app wires the qsync components from a config.Config.
package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.trai.ch/zerr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/querysync"
	"github.com/unkn0wn-root/querysync/cmd/qsync/internal/config"
	"github.com/unkn0wn-root/querysync/genstore"
	asynchook "github.com/unkn0wn-root/querysync/hooks/async"
	qlogrus "github.com/unkn0wn-root/querysync/log/logrus"
	qslog "github.com/unkn0wn-root/querysync/log/slog"
	qzap "github.com/unkn0wn-root/querysync/log/zap"
	pr "github.com/unkn0wn-root/querysync/provider"
	"github.com/unkn0wn-root/querysync/provider/bigcache"
	qredis "github.com/unkn0wn-root/querysync/provider/redis"
	"github.com/unkn0wn-root/querysync/provider/ristretto"
	"github.com/unkn0wn-root/querysync/remote"
	"github.com/unkn0wn-root/querysync/resources"
	"github.com/unkn0wn-root/querysync/sloghooks"
)

// App holds the wired components of one qsync invocation.
type App struct {
	Config    config.Config
	Client    *querysync.Client
	Resources *resources.Resources
	Logger    querysync.Logger

	closers []func(context.Context) error
}

// New builds the app. Diagnostics go to logw.
func New(cfg config.Config, logw io.Writer) (*App, error) {
	a := &App{Config: cfg}
	level := parseLevel(cfg.Log.Level)
	a.Logger = a.newLogger(cfg.Log.Backend, level, logw)

	hooks := asynchook.New(sloghooks.New(slog.New(slog.NewTextHandler(logw, &slog.HandlerOptions{Level: level})), sloghooks.Options{
		RetryEvery:  1,
		RejectEvery: 1,
		EvictEvery:  10,
	}), 1, 256)
	a.closers = append(a.closers, func(context.Context) error { hooks.Close(); return nil })

	api, err := remote.New(remote.Options{BaseURL: cfg.BaseURL, Timeout: cfg.Timeout, Logger: a.Logger})
	if err != nil {
		_ = a.Close(context.Background())
		return nil, zerr.With(err, "base_url", cfg.BaseURL)
	}

	opts := querysync.Options{
		StaleTime: cfg.StaleTime,
		GCTime:    cfg.GCTime,
		Retry:     querysync.RetryPolicy{Max: retries(cfg.Retries)},
		Logger:    a.Logger,
		Hooks:     hooks,
		SpillTTL:  cfg.Spill.TTL,
		Namespace: "qsync",
	}
	codec := resources.CodecNone
	if cfg.Spill.Backend != "none" {
		spill, gens, err := newSpill(cfg.Spill)
		if err != nil {
			_ = a.Close(context.Background())
			return nil, zerr.With(err, "spill.backend", cfg.Spill.Backend)
		}
		opts.Spill, opts.GenStore = spill, gens
		codec = cfg.Spill.Codec
	}

	a.Client = querysync.New(opts)
	// the client closes the spill provider; hooks must outlive it
	a.closers = append([]func(context.Context) error{a.Client.Close}, a.closers...)
	if opts.GenStore != nil {
		a.closers = append(a.closers, opts.GenStore.Close)
	}
	a.Resources = resources.New(api, resources.Options{Codec: codec})
	return a, nil
}

// Close releases everything New created, in dependency order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c(ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}

func retries(n int) int {
	if n == 0 {
		return -1
	}
	return n
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

func (a *App) newLogger(backend string, level slog.Level, w io.Writer) querysync.Logger {
	switch backend {
	case "logrus":
		l := logrus.New()
		l.SetOutput(w)
		l.SetLevel(map[slog.Level]logrus.Level{
			slog.LevelDebug: logrus.DebugLevel,
			slog.LevelInfo:  logrus.InfoLevel,
			slog.LevelWarn:  logrus.WarnLevel,
			slog.LevelError: logrus.ErrorLevel,
		}[level])
		return qlogrus.New(l)
	case "slog":
		return qslog.New(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
	default:
		enc := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		core := zapcore.NewCore(enc, zapcore.AddSync(w), map[slog.Level]zapcore.Level{
			slog.LevelDebug: zapcore.DebugLevel,
			slog.LevelInfo:  zapcore.InfoLevel,
			slog.LevelWarn:  zapcore.WarnLevel,
			slog.LevelError: zapcore.ErrorLevel,
		}[level])
		z := zap.New(core)
		a.closers = append(a.closers, func(context.Context) error {
			_ = z.Sync()
			return nil
		})
		return qzap.New(z)
	}
}

// newSpill returns the spill provider and, for redis, a GenStore kept next
// to it. Redis frames are deleted when the client closes.
func newSpill(cfg config.Spill) (pr.Provider, genstore.GenStore, error) {
	switch cfg.Backend {
	case "ristretto":
		p, err := ristretto.New(ristretto.DefaultConfig(cfg.MaxBytes))
		return p, nil, err
	case "bigcache":
		p, err := bigcache.New(bigcache.Config{
			LifeWindow:         coalesce(cfg.TTL, 10*time.Minute),
			HardMaxCacheSizeMB: int(max(cfg.MaxBytes>>20, 1)),
		})
		return p, nil, err
	case "redis":
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		p, err := qredis.New(qredis.Config{Client: rdb, Namespace: cfg.Redis.Namespace, CloseClient: true})
		if err != nil {
			return nil, nil, err
		}
		gens, err := genstore.NewRedis(genstore.RedisConfig{
			Client:    rdb,
			Namespace: cfg.Redis.Namespace,
			TTL:       24 * time.Hour,
		})
		if err != nil {
			_ = p.Close(context.Background())
			return nil, nil, err
		}
		return p, gens, nil
	default:
		return nil, nil, config.ErrInvalidConfig
	}
}

func coalesce(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
