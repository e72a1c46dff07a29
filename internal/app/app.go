// Package app wires the library components together from a Config.
package app

import (
	"context"
	"fmt"

	"github.com/llehouerou/shelf/internal/config"
	"github.com/llehouerou/shelf/internal/db"
	"github.com/llehouerou/shelf/internal/library"
	"github.com/llehouerou/shelf/internal/logger"
	"github.com/llehouerou/shelf/internal/migrate"
	"github.com/llehouerou/shelf/internal/playlists"
	"github.com/llehouerou/shelf/internal/scanner"
)

var log = logger.WithName("app")

// App holds the opened library and the services built on it.
type App struct {
	Config    *config.Config
	DB        *db.Guard
	Library   *library.Index
	Playlists *playlists.Playlists
	Scanner   *scanner.Scanner
	Scans     *scanner.Service
	Migration migrate.Report
}

// Open connects to the library database, brings its schema up to date and
// builds the services. The settings database is never opened here.
func Open(ctx context.Context, cfg *config.Config, opts ...db.Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	g, err := db.Open(ctx, cfg.Database.Library, opts...)
	if err != nil {
		return nil, err
	}

	report, err := migrate.Run(ctx, g)
	if err != nil {
		g.Close()
		return nil, fmt.Errorf("migrate %s: %w", cfg.Database.Library, err)
	}
	if len(report.Applied) > 0 {
		log.WithField("applied", report.Applied).Info("library schema updated")
	}

	sc := scanner.New(g, scanner.WithWorkers(cfg.Scan.Workers))
	return &App{
		Config:    cfg,
		DB:        g,
		Library:   library.New(g),
		Playlists: playlists.New(g),
		Scanner:   sc,
		Scans:     scanner.NewService(sc, cfg.Scan.Checkpoint),
		Migration: report,
	}, nil
}

// Close releases the database.
func (a *App) Close() error {
	return a.DB.Close()
}
