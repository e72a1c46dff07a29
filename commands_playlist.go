package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/llehouerou/shelf/internal/errmsg"
)

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, len(args))
	for i, a := range args {
		id, err := parseID(a)
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func newPlaylistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "playlist",
		Aliases: []string{"pl"},
		Short:   "Manage playlists",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List playlists",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				a, err := openApp(cmd.Context())
				if err != nil {
					return err
				}
				defer a.Close()

				all, err := a.Playlists.All(cmd.Context())
				if err != nil {
					return fail(errmsg.OpPlaylistLoad, err)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				for _, p := range all {
					fmt.Fprintf(w, "%d\t%s\t%d tracks\n", p.ID, p.Name, p.TrackCount)
				}
				return w.Flush()
			},
		},
		&cobra.Command{
			Use:   "create <name>",
			Short: "Create an empty playlist",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := openApp(cmd.Context())
				if err != nil {
					return err
				}
				defer a.Close()

				id, err := a.Playlists.Create(cmd.Context(), args[0])
				if err != nil {
					return failWith(errmsg.OpPlaylistCreate, args[0], err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
				return nil
			},
		},
		&cobra.Command{
			Use:   "rename <id> <name>",
			Short: "Rename a playlist",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				a, err := openApp(cmd.Context())
				if err != nil {
					return err
				}
				defer a.Close()
				return failWith(errmsg.OpPlaylistRename, args[0], a.Playlists.Rename(cmd.Context(), id, args[1]))
			},
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Delete a playlist and its items",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				a, err := openApp(cmd.Context())
				if err != nil {
					return err
				}
				defer a.Close()
				return failWith(errmsg.OpPlaylistDelete, args[0], a.Playlists.Delete(cmd.Context(), id))
			},
		},
		&cobra.Command{
			Use:   "show <id>",
			Short: "List the files of a playlist in order",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				a, err := openApp(cmd.Context())
				if err != nil {
					return err
				}
				defer a.Close()

				p, err := a.Playlists.Get(cmd.Context(), id)
				if err != nil {
					return failWith(errmsg.OpPlaylistLoad, args[0], err)
				}
				items, err := a.Playlists.Items(cmd.Context(), id)
				if err != nil {
					return failWith(errmsg.OpPlaylistLoad, p.Name, err)
				}
				files, err := a.Playlists.TrackFiles(cmd.Context(), id)
				if err != nil {
					return failWith(errmsg.OpPlaylistLoad, p.Name, err)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintln(out, p.Name)
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				for i, it := range items {
					file := ""
					if i < len(files) {
						file = files[i]
					}
					fmt.Fprintf(w, "%d\titem %d\ttrack %d\t%s\n", it.Position, it.ID, it.TrackID, file)
				}
				return w.Flush()
			},
		},
		&cobra.Command{
			Use:   "add <playlist-id> <track-id>...",
			Short: "Append tracks to a playlist",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				ids, err := parseIDs(args)
				if err != nil {
					return err
				}
				a, err := openApp(cmd.Context())
				if err != nil {
					return err
				}
				defer a.Close()

				for _, trackID := range ids[1:] {
					if _, err := a.Playlists.AddTrack(cmd.Context(), ids[0], trackID); err != nil {
						return failWith(errmsg.OpPlaylistAddTrack, args[0], err)
					}
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "remove <item-id>",
			Short: "Remove an item from its playlist",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				a, err := openApp(cmd.Context())
				if err != nil {
					return err
				}
				defer a.Close()
				return fail(errmsg.OpPlaylistRemove, a.Playlists.Remove(cmd.Context(), id))
			},
		},
		&cobra.Command{
			Use:   "move <item-id> <position>",
			Short: "Move an item to a 1-based position",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				ids, err := parseIDs(args)
				if err != nil {
					return err
				}
				a, err := openApp(cmd.Context())
				if err != nil {
					return err
				}
				defer a.Close()
				return fail(errmsg.OpPlaylistMove, a.Playlists.Move(cmd.Context(), ids[0], ids[1]))
			},
		},
	)
	return cmd
}
