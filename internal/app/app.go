// Package app builds the long-lived components of a workspace from its config.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"taskline/internal/blob"
	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/engine"
	"taskline/internal/events"
	"taskline/internal/migrate"
	"taskline/internal/notify"
	"taskline/internal/repo"
	"taskline/internal/repo/mongorepo"
	"taskline/internal/server"
)

type App struct {
	Workspace string
	Config    *config.Config
	Log       logrus.FieldLogger
	Store     repo.Store
	Blobs     blob.Store
	Engine    engine.Engine
	Hub       *events.Hub
	Mailer    *notify.Mailer
	Webhooks  *server.WebhookDispatcher

	mongo   *mongorepo.Store
	closers []func() error
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Open connects storage and assembles the engine with its notifiers.
func Open(ctx context.Context, workspace string, cfg *config.Config, log logrus.FieldLogger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	a := &App{Workspace: workspace, Config: cfg, Log: log}
	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.openBlobs(); err != nil {
		a.Close()
		return nil, err
	}
	a.Hub = events.NewHub()
	notifiers := notify.Fanout{events.Writer{Store: a.Store, Sink: a.Hub}}
	if smtp := cfg.Notifications.SMTP; smtp.Enabled {
		a.Mailer = notify.NewMailer(notify.SMTPSender{
			Host:     smtp.Host,
			Port:     smtp.Port,
			Username: smtp.Username,
			Password: smtp.Password,
			From:     smtp.From,
		}, notify.MailerConfig{
			QueueSize:       cfg.Notifications.QueueSize,
			BreakerFailures: smtp.BreakerFailures,
			BreakerTimeout:  time.Duration(smtp.BreakerTimeoutSeconds) * time.Second,
		}, log.WithField("component", "mailer"))
		notifiers = append(notifiers, a.Mailer)
	}
	if len(cfg.Notifications.Webhooks) > 0 {
		a.Webhooks = server.NewWebhookDispatcher(a.Store, cfg.Notifications.Webhooks, log.WithField("component", "webhooks"))
	}

	e := engine.New(a.Store, cfg, log)
	e.Notifier = notifiers
	e.Blobs = a.Blobs
	a.Engine = e
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	switch a.Config.Storage.Driver {
	case "mongo":
		mc := a.Config.Storage.Mongo
		timeout := time.Duration(mc.TimeoutSeconds) * time.Second
		client, err := mongorepo.Connect(ctx, mc.URI, timeout)
		if err != nil {
			return fmt.Errorf("connect mongo: %w", err)
		}
		a.closers = append(a.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return client.Disconnect(ctx)
		})
		store := mongorepo.New(client.Database(mc.Database))
		if err := store.EnsureIndexes(ctx); err != nil {
			return fmt.Errorf("ensure indexes: %w", err)
		}
		a.Store = store
		a.mongo = store
	default:
		conn, err := db.Open(db.Config{Workspace: a.Workspace})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, conn.Close)
		applied, err := migrate.Migrate(ctx, conn)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		if len(applied) > 0 {
			a.Log.WithField("migrations", applied).Info("applied migrations")
		}
		a.Store = repo.Repo{DB: conn}
	}
	return nil
}

func (a *App) openBlobs() error {
	bc := a.Config.Blob
	if bc.Driver == "gridfs" {
		if a.mongo == nil {
			return errors.New("blob driver gridfs requires mongo storage")
		}
		g, err := blob.NewGridFS(a.mongo.Database(), bc.Bucket, bc.BaseURL, bc.MaxBytes)
		if err != nil {
			return fmt.Errorf("gridfs bucket: %w", err)
		}
		a.Blobs = g
		return nil
	}
	dir := bc.Dir
	if !filepath.IsAbs(dir) {
		ws := a.Workspace
		if ws == "" {
			ws = "."
		}
		dir = filepath.Join(ws, dir)
	}
	a.Blobs = blob.Dir{Root: dir, BaseURL: bc.BaseURL, MaxBytes: bc.MaxBytes}
	return nil
}

// Start launches background work: back-reference repair, mail delivery and webhooks.
func (a *App) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.Engine.Consistency.Run(ctx, a.Config.RepairInterval(), a.Config.FullSweepInterval())
	}()
	if a.Mailer != nil {
		a.Mailer.Start(ctx)
	}
	if a.Webhooks != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.Webhooks.Run(ctx, 0)
		}()
	}
}

// Close stops background work and releases storage. It is safe to call more than once.
func (a *App) Close() error {
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.wg.Wait()
	if a.Mailer != nil {
		a.Mailer.Close()
	}
	if a.Hub != nil {
		a.Hub.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
