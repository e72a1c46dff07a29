package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/llehouerou/shelf/internal/errmsg"
	"github.com/llehouerou/shelf/internal/library"
	"github.com/llehouerou/shelf/internal/metrics"
	"github.com/llehouerou/shelf/internal/migrate"
	"github.com/llehouerou/shelf/internal/scanner"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the library schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			r := a.Migration
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "applied: %d, already recorded: %d\n", len(r.Applied), len(r.AlreadyRecorded))
			for _, id := range r.Applied {
				fmt.Fprintf(out, "  + %s\n", id)
			}
			for _, id := range r.Skipped {
				fmt.Fprintf(out, "  ~ %s (objects already present)\n", id)
			}
			return nil
		},
	}
}

func newLedgerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ledger",
		Short: "List applied migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := migrate.Ledger(cmd.Context(), a.DB)
			if err != nil {
				return fail(errmsg.OpLedgerLoad, err)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\n", e.Identifier, e.AppliedAt.Local().Format(time.DateTime))
			}
			return w.Flush()
		},
	}
}

func newScanCmd() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "scan [roots...]",
		Short: "Scan music directories into the library",
		Long:  "Scan the given directories, or the configured library_sources when none are given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			roots := args
			if len(roots) == 0 {
				roots = a.Config.LibrarySources
			}
			if len(roots) == 0 {
				return errors.New("no directories to scan: pass them as arguments or set library_sources")
			}

			progress := make(chan scanner.Progress, 16)
			done := make(chan struct{})
			go func() {
				defer close(done)
				printProgress(cmd, progress)
			}()

			sum, err := a.Scans.Scan(cmd.Context(), roots, scanner.RunOptions{Full: full, Progress: progress})
			close(progress)
			<-done
			if err != nil {
				return failWith(errmsg.OpLibraryScan, strings.Join(roots, ", "), err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), sum.String())
			return nil
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "Re-read every file, ignoring the scan record")
	return cmd
}

func printProgress(cmd *cobra.Command, ch <-chan scanner.Progress) {
	out := cmd.ErrOrStderr()
	last := time.Time{}
	for p := range ch {
		if p.Phase != scanner.PhaseDone && time.Since(last) < 200*time.Millisecond {
			continue
		}
		last = time.Now()
		switch p.Phase {
		case scanner.PhaseDiscovering:
			fmt.Fprintf(out, "\rdiscovering... %s files", humanize.Comma(int64(p.Current)))
		case scanner.PhaseCleaning:
			fmt.Fprintf(out, "\rremoving %d/%d", p.Current, p.Total)
		case scanner.PhaseProcessing:
			fmt.Fprintf(out, "\rreading %s/%s", humanize.Comma(int64(p.Current)), humanize.Comma(int64(p.Total)))
		case scanner.PhaseDone:
			fmt.Fprintln(out)
		}
	}
}

func newWatchCmd() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "watch [roots...]",
		Short: "Keep the library in sync with the filesystem",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			roots := args
			if len(roots) == 0 {
				roots = a.Config.LibrarySources
			}
			if metricsAddr == "" {
				metricsAddr = a.Config.Metrics.Addr
			}
			if metricsAddr != "" {
				srv := &http.Server{Addr: metricsAddr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.WithError(err).Error("metrics server stopped")
					}
				}()
				defer srv.Shutdown(context.WithoutCancel(ctx)) //nolint:errcheck // best effort on exit
				log.WithField("addr", metricsAddr).Info("serving metrics")
			}
			if spec := a.Config.Scan.Schedule; spec != "" {
				stop, err := a.Scans.Schedule(ctx, spec, roots)
				if err != nil {
					return fail(errmsg.OpLibraryWatch, err)
				}
				defer stop()
			}

			// Catch up with changes made while nothing was watching.
			if _, err := a.Scans.Scan(ctx, roots, scanner.RunOptions{}); err != nil && ctx.Err() == nil {
				log.WithError(err).Warn("initial scan failed")
			}

			err = a.Scans.Watch(ctx, roots, a.Config.WatchDebounce())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fail(errmsg.OpLibraryWatch, err)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	return cmd
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func newAlbumsCmd() *cobra.Command {
	var order string
	cmd := &cobra.Command{
		Use:   "albums",
		Short: "List albums",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sort, err := library.ParseAlbumSort(order)
			if err != nil {
				return err
			}
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			albums, err := a.Library.Albums(cmd.Context(), sort)
			if err != nil {
				return fail(errmsg.OpAlbumLoad, err)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, al := range albums {
				fmt.Fprintf(w, "%d\t%s\n", al.ID, al.TitleSortable)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&order, "sort", "title-asc",
		"Sort by title, artist, release, label or catalog, with an optional -asc or -desc suffix")
	return cmd
}

func newAlbumCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "album <id>",
		Short: "Show an album and its tracks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			al, err := a.Library.Album(ctx, id, library.Thumbnail)
			if err != nil {
				return failWith(errmsg.OpAlbumLoad, args[0], err)
			}
			artist := ""
			if al.ArtistID != nil {
				if artist, err = a.Library.ArtistName(ctx, *al.ArtistID); err != nil {
					return failWith(errmsg.OpAlbumLoad, args[0], err)
				}
			}
			tracks, err := a.Library.TracksInAlbum(ctx, id)
			if err != nil {
				return failWith(errmsg.OpAlbumLoad, args[0], err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s - %s", artist, al.Title)
			if y := al.Year(); y > 0 {
				fmt.Fprintf(out, " (%d)", y)
			}
			fmt.Fprintln(out)
			if al.Label != "" || al.CatalogNumber != "" {
				fmt.Fprintf(out, "%s %s\n", al.Label, al.CatalogNumber)
			}
			if len(al.Thumb) > 0 {
				fmt.Fprintf(out, "cover: %s\n", al.ImageMIME)
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			for _, t := range tracks {
				fmt.Fprintf(w, "%s\t%s\t%s\n", trackNumber(t), t.Title, t.Length())
			}
			return w.Flush()
		},
	}
}

func trackNumber(t library.Track) string {
	switch {
	case t.TrackNumber == nil:
		return "-"
	case t.DiscNumber != nil:
		return fmt.Sprintf("%d.%02d", *t.DiscNumber, *t.TrackNumber)
	default:
		return fmt.Sprintf("%02d", *t.TrackNumber)
	}
}

func newSearchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search artists, albums and tracks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			query := strings.Join(args, " ")
			results, err := a.Library.Search(cmd.Context(), query, limit)
			if err != nil {
				return failWith(errmsg.OpLibrarySearch, query, err)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, r := range results {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", r.Kind, r.ID, r.Title, r.Detail)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of results")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show library totals and the last scan",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			s, err := a.Library.Stats(cmd.Context())
			if err != nil {
				return fail(errmsg.OpLibraryLoad, err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "tracks:   %s\n", humanize.Comma(s.TrackCount))
			fmt.Fprintf(out, "duration: %s\n", s.Total())

			st := a.Scans.Status()
			if st.LastScanAt.IsZero() {
				fmt.Fprintln(out, "last scan: never")
				return nil
			}
			fmt.Fprintf(out, "last scan: %s\n", humanize.Time(st.LastScanAt))
			if st.LastSummary != nil {
				fmt.Fprintf(out, "  %s\n", st.LastSummary)
			}
			return nil
		},
	}
}
