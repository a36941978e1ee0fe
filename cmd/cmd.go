// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to configuration file",
			Value:   "config.toml",
			Sources: cli.EnvVars("MIXTAPE_CONFIG"),
		},
		&cli.StringFlag{
			Name:  "env-file",
			Usage: "Path to a .env file with secrets",
			Value: ".env",
		},
		&cli.StringFlag{
			Name:    "owner",
			Aliases: []string{"u"},
			Usage:   "User who owns drafts, playlists and credentials",
			Value:   "default",
			Sources: cli.EnvVars("MIXTAPE_OWNER"),
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Override the configured log level (debug, info, warn, error)",
		},
	}
}

func jsonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Output raw JSON",
		},
		&cli.BoolFlag{
			Name:  "pretty",
			Usage: "Pretty-print output",
			Value: true,
		},
	}
}

// setupCommand handles setup operations for configuration and the database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "database",
				Usage:  "Create the config file if missing, initialize the database and run migrations",
				Action: r.SetupDatabase,
			},
			{
				Name:   "status",
				Usage:  "Show applied and pending migrations",
				Action: r.SetupStatus,
			},
			{
				Name:   "rollback",
				Usage:  "Roll back the most recent migration",
				Action: r.SetupRollback,
			},
		},
	}
}

// tokensCommand manages platform credentials.
func tokensCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "tokens",
		Usage: "Manage platform credentials",
		Commands: []*cli.Command{
			{
				Name:  "set",
				Usage: "Store a credential obtained elsewhere (e.g. a MusicKit user token)",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "platform",
						Aliases:  []string{"p"},
						Usage:    "spotify or apple_music",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "access-token",
						Usage:    "Access token (Spotify) or Music-User-Token (Apple Music)",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "refresh-token",
						Usage: "Refresh token (Spotify only)",
					},
					&cli.DurationFlag{
						Name:  "expires-in",
						Usage: "Lifetime of the access token; zero means unknown",
					},
					&cli.StringFlag{
						Name:  "account-id",
						Usage: "Platform account id",
					},
				},
				Action: r.TokensSet,
			},
			{
				Name:  "authorize",
				Usage: "Authorize Spotify through the browser and store the credential",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "How long to wait for the callback",
						Value: defaultAuthTimeout,
					},
				},
				Action: r.TokensAuthorize,
			},
			{
				Name:   "list",
				Usage:  "List stored credentials",
				Flags:  jsonFlags(),
				Action: r.TokensList,
			},
		},
	}
}

// draftCommand handles draft generation and curation.
func draftCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "draft",
		Usage: "Generate and curate playlist drafts",
		Commands: []*cli.Command{
			{
				Name:      "generate",
				Aliases:   []string{"new"},
				Usage:     "Generate a draft from a prompt",
				Arguments: []cli.Argument{&cli.StringArg{Name: "prompt"}},
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:    "platform",
						Aliases: []string{"p"},
						Usage:   "spotify or apple_music",
						Value:   "spotify",
					},
					&cli.IntFlag{
						Name:    "count",
						Aliases: []string{"n"},
						Usage:   "Number of songs",
						Value:   20,
					},
					&cli.BoolFlag{
						Name:  "explicit",
						Usage: "Allow explicit tracks",
					},
					&cli.BoolFlag{
						Name:  "new-artists",
						Usage: "Only artists not heard before",
					},
				}, jsonFlags()...),
				Action: r.DraftGenerate,
			},
			{
				Name:      "refine",
				Usage:     "Add an instruction and regenerate the draft",
				Arguments: []cli.Argument{&cli.StringArg{Name: "id"}, &cli.StringArg{Name: "instruction"}},
				Flags:     jsonFlags(),
				Action:    r.DraftRefine,
			},
			{
				Name:      "remove",
				Usage:     "Remove a track from the draft and never suggest it again",
				Arguments: []cli.Argument{&cli.StringArg{Name: "id"}, &cli.StringArg{Name: "key"}},
				Action:    r.DraftRemove,
			},
			{
				Name:      "show",
				Usage:     "Show a draft",
				Arguments: []cli.Argument{&cli.StringArg{Name: "id"}},
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:  "format",
						Usage: "txt, markdown, csv or json",
						Value: "txt",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Write the draft to this directory instead of stdout",
					},
				}, jsonFlags()...),
				Action: r.DraftShow,
			},
			{
				Name:      "commit",
				Usage:     "Create the playlist on the platform",
				Arguments: []cli.Argument{&cli.StringArg{Name: "id"}},
				Flags: append([]cli.Flag{
					&cli.StringFlag{
						Name:     "name",
						Usage:    "Playlist name",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "description",
						Usage: "Playlist description",
					},
					&cli.StringFlag{
						Name:  "target",
						Usage: "Materialize on another platform (spotify or apple_music)",
					},
					&cli.BoolFlag{
						Name:  "public",
						Usage: "Make the playlist public",
					},
				}, scheduleFlags()...),
				Action: r.DraftCommit,
			},
			{
				Name:      "discard",
				Usage:     "Delete a draft",
				Arguments: []cli.Argument{&cli.StringArg{Name: "id"}},
				Action:    r.DraftDiscard,
			},
			{
				Name:   "list",
				Usage:  "List drafts",
				Flags:  jsonFlags(),
				Action: r.DraftList,
			},
		},
	}
}

func scheduleFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "frequency",
			Usage: "none, daily, weekly or monthly",
			Value: "none",
		},
		&cli.StringFlag{
			Name:  "mode",
			Usage: "append or replace",
			Value: "append",
		},
		&cli.StringFlag{
			Name:  "at",
			Usage: "Time of day (HH:MM)",
			Value: "09:00",
		},
		&cli.StringFlag{
			Name:    "timezone",
			Aliases: []string{"tz"},
			Usage:   "IANA timezone",
			Value:   "UTC",
		},
	}
}

// playlistCommand handles committed playlists.
func playlistCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "playlist",
		Aliases: []string{"pl"},
		Usage:   "Refresh, schedule and inspect committed playlists",
		Commands: []*cli.Command{
			{
				Name:      "refresh",
				Usage:     "Regenerate a playlist now",
				Arguments: []cli.Argument{&cli.StringArg{Name: "id"}},
				Flags: append([]cli.Flag{
					&cli.IntFlag{
						Name:    "count",
						Aliases: []string{"n"},
						Usage:   "Override the number of songs",
					},
					&cli.StringFlag{
						Name:  "mode",
						Usage: "Override the refresh mode (append or replace)",
					},
					&cli.BoolFlag{
						Name:  "new-artists",
						Usage: "Only artists not heard before (default: the playlist's setting, --new-artists=false to turn off)",
					},
				}, jsonFlags()...),
				Action: r.PlaylistRefresh,
			},
			{
				Name:      "schedule",
				Usage:     "Change how a playlist auto-updates",
				Arguments: []cli.Argument{&cli.StringArg{Name: "id"}},
				Flags: append([]cli.Flag{
					&cli.BoolFlag{
						Name:  "public",
						Usage: "Mark the playlist public",
					},
				}, scheduleFlags()...),
				Action: r.PlaylistSchedule,
			},
			{
				Name:      "refine",
				Usage:     "Add an instruction applied to every future refresh",
				Arguments: []cli.Argument{&cli.StringArg{Name: "id"}, &cli.StringArg{Name: "instruction"}},
				Action:    r.PlaylistRefine,
			},
			{
				Name:      "show",
				Usage:     "Show a playlist and its live tracks",
				Arguments: []cli.Argument{&cli.StringArg{Name: "id"}},
				Flags:     jsonFlags(),
				Action:    r.PlaylistShow,
			},
			{
				Name:      "delete",
				Usage:     "Stop managing a playlist (the platform playlist is kept)",
				Arguments: []cli.Argument{&cli.StringArg{Name: "id"}},
				Action:    r.PlaylistDelete,
			},
			{
				Name:   "list",
				Usage:  "List committed playlists",
				Flags:  jsonFlags(),
				Action: r.PlaylistList,
			},
			{
				Name:  "export",
				Usage: "Export playlists with their live tracks",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:  "id",
						Usage: "Playlist id (repeatable); all playlists when omitted",
					},
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "json, csv, markdown or txt",
						Value:   "json",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output directory",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Concurrent writers",
						Value: 5,
					},
					&cli.FloatFlag{
						Name:  "rate",
						Usage: "Platform reads per second",
						Value: 5,
					},
				},
				Action: r.PlaylistExport,
			},
		},
	}
}

// historyCommand edits song history for one playlist or the owner's global scope.
func historyCommand(r *Runner) *cli.Command {
	scope := func() cli.Flag {
		return &cli.StringFlag{
			Name:  "playlist",
			Usage: "Playlist id; the owner's global history when omitted",
		}
	}
	keyArg := func() []cli.Argument {
		return []cli.Argument{&cli.StringArg{Name: "key"}}
	}

	return &cli.Command{
		Name:  "history",
		Usage: "Exclusions and reactions",
		Commands: []*cli.Command{
			{
				Name:      "exclude",
				Usage:     "Never suggest a track again",
				Arguments: keyArg(),
				Flags:     []cli.Flag{scope()},
				Action:    r.HistoryExclude,
			},
			{
				Name:      "unexclude",
				Usage:     "Allow an excluded track again",
				Arguments: keyArg(),
				Flags:     []cli.Flag{scope()},
				Action:    r.HistoryUnexclude,
			},
			{
				Name:      "react",
				Usage:     "Like or dislike a track (biases generation, never filters)",
				Arguments: []cli.Argument{&cli.StringArg{Name: "key"}, &cli.StringArg{Name: "reaction"}},
				Flags:     []cli.Flag{scope()},
				Action:    r.HistoryReact,
			},
			{
				Name:      "clear",
				Usage:     "Remove a reaction",
				Arguments: keyArg(),
				Flags:     []cli.Flag{scope()},
				Action:    r.HistoryClear,
			},
			{
				Name:   "show",
				Usage:  "Show exclusions and reactions",
				Flags:  append([]cli.Flag{scope()}, jsonFlags()...),
				Action: r.HistoryShow,
			},
		},
	}
}

// serveCommand runs the scheduler and the HTTP surface.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the auto-update scheduler and the HTTP API",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "no-scheduler",
				Usage: "Serve the API without running auto-updates",
			},
			&cli.DurationFlag{
				Name:  "grace",
				Usage: "Shutdown grace period",
				Value: defaultGrace,
			},
		},
		Action: r.Serve,
	}
}
