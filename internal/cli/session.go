package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/shufflesync/internal/domain"
)

// SessionOptions holds flags shared by session subcommands.
type SessionOptions struct {
	*RootOptions
	As string // acting user id
}

// NewSessionCommand creates the session command group. Subcommands operate
// on the configured store directly, without a running server.
func NewSessionCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SessionOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "session",
		Short: "Create, join, and play shuffle sessions",
		Long: `Operate on shuffle sessions in the configured store.

Example:
  shufflesync session create --as alice
  shufflesync session join K7QX2M --as bob
  shufflesync session start <session-id> --as alice --candidates candidates.yaml
  shufflesync session eliminate <session-id> c2 --as bob`,
	}
	cmd.PersistentFlags().StringVar(&opts.As, "as", "", "acting user id")

	cmd.AddCommand(
		sessionCreateCommand(opts),
		sessionJoinCommand(opts),
		sessionLeaveCommand(opts),
		sessionDeleteCommand(opts),
		sessionFiltersCommand(opts),
		sessionReadyCommand(opts),
		sessionStartCommand(opts),
		sessionEliminateCommand(opts),
		sessionWinnerCommand(opts),
		sessionShowCommand(opts),
		sessionLookupCommand(opts),
		sessionActionsCommand(opts),
		sessionReplayCommand(opts),
	)
	return cmd
}

// withApp loads config, opens the app, and runs fn. Errors from fn are
// reported through the formatter.
func withApp(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, a *app, out *OutputFormatter) error) error {
	out := newFormatter(opts, cmd.OutOrStdout())

	cfg, err := opts.loadConfig()
	if err != nil {
		return out.Fail(err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx, cfg, opts.logger(cmd, cfg), "cli")
	if err != nil {
		return out.Fail(err)
	}
	defer a.Close()

	if err := fn(ctx, a, out); err != nil {
		return out.Fail(err)
	}
	return nil
}

func (o *SessionOptions) actor() (string, error) {
	if o.As == "" {
		return "", NewExitError(ExitCommandError, "--as is required")
	}
	return o.As, nil
}

// act builds a subcommand that runs as the --as user.
func (o *SessionOptions) act(use, short string, args cobra.PositionalArgs,
	fn func(ctx context.Context, a *app, out *OutputFormatter, actor string, args []string) error,
) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(o.RootOptions, cmd, func(ctx context.Context, a *app, out *OutputFormatter) error {
				actor, err := o.actor()
				if err != nil {
					return err
				}
				return fn(ctx, a, out, actor, args)
			})
		},
	}
}

func sessionCreateCommand(o *SessionOptions) *cobra.Command {
	return o.act("create", "Create a session hosted by --as", cobra.NoArgs,
		func(ctx context.Context, a *app, out *OutputFormatter, actor string, _ []string) error {
			s, err := a.sessions.Create(ctx, actor)
			if err != nil {
				return err
			}
			return out.Success(s, func(w io.Writer) {
				fmt.Fprintf(w, "Created session %s\n", s.ID)
				fmt.Fprintf(w, "  Join code: %s\n", s.Code)
			})
		})
}

func sessionJoinCommand(o *SessionOptions) *cobra.Command {
	return o.act("join <code>", "Join a session by code", cobra.ExactArgs(1),
		func(ctx context.Context, a *app, out *OutputFormatter, actor string, args []string) error {
			res, err := a.sessions.Join(ctx, args[0], actor)
			if err != nil {
				return err
			}
			return out.Success(res, func(w io.Writer) {
				verb := "Joined"
				if res.Rejoined {
					verb = "Already in"
				}
				fmt.Fprintf(w, "%s session %s as %s\n", verb, res.Session.ID, res.Participant.Role)
			})
		})
}

func sessionLeaveCommand(o *SessionOptions) *cobra.Command {
	return o.act("leave <session-id>", "Leave a session", cobra.ExactArgs(1),
		func(ctx context.Context, a *app, out *OutputFormatter, actor string, args []string) error {
			if err := a.sessions.Leave(ctx, args[0], actor); err != nil {
				return err
			}
			return out.Success(map[string]string{"session_id": args[0]}, func(w io.Writer) {
				fmt.Fprintf(w, "Left session %s\n", args[0])
			})
		})
}

func sessionDeleteCommand(o *SessionOptions) *cobra.Command {
	return o.act("delete <session-id>", "Delete a session (host only)", cobra.ExactArgs(1),
		func(ctx context.Context, a *app, out *OutputFormatter, actor string, args []string) error {
			if err := a.sessions.Delete(ctx, args[0], actor); err != nil {
				return err
			}
			return out.Success(map[string]string{"session_id": args[0]}, func(w io.Writer) {
				fmt.Fprintf(w, "Deleted session %s\n", args[0])
			})
		})
}

func sessionFiltersCommand(o *SessionOptions) *cobra.Command {
	var f domain.Filters
	var source string
	cmd := o.act("filters <session-id>", "Replace the session filters", cobra.ExactArgs(1),
		func(ctx context.Context, a *app, out *OutputFormatter, actor string, args []string) error {
			f.Source = domain.CandidateSource(source)
			s, err := a.sessions.UpdateFilters(ctx, args[0], actor, f)
			if err != nil {
				return err
			}
			return out.Success(s, func(w io.Writer) {
				fmt.Fprintf(w, "Session %s is %s\n", s.ID, s.Status)
				printFilters(w, s.Filters)
			})
		})
	cmd.Flags().StringSliceVar(&f.Categories, "category", nil, "category filter (repeatable)")
	cmd.Flags().Float64Var(&f.MinRating, "min-rating", 0, "minimum rating")
	cmd.Flags().IntVar(&f.MaxDistanceMeters, "max-distance", 0, "maximum distance in meters")
	cmd.Flags().StringVar(&source, "source", "", "candidate source (nearby|favorites|list)")
	cmd.Flags().StringVar(&f.SourceListID, "source-list", "", "list id when --source=list")
	return cmd
}

func sessionReadyCommand(o *SessionOptions) *cobra.Command {
	var ready bool
	cmd := o.act("ready <session-id>", "Mark --as ready (or not, with --ready=false)", cobra.ExactArgs(1),
		func(ctx context.Context, a *app, out *OutputFormatter, actor string, args []string) error {
			p, err := a.sessions.SetReady(ctx, args[0], actor, ready)
			if err != nil {
				return err
			}
			return out.Success(p, func(w io.Writer) {
				fmt.Fprintf(w, "%s ready: %t\n", p.UserID, p.IsReady)
			})
		})
	cmd.Flags().BoolVar(&ready, "ready", true, "readiness value")
	return cmd
}

func sessionStartCommand(o *SessionOptions) *cobra.Command {
	var (
		file string
		ids  []string
	)
	cmd := o.act("start <session-id>", "Freeze candidates and start play (host only)", cobra.ExactArgs(1),
		func(ctx context.Context, a *app, out *OutputFormatter, actor string, args []string) error {
			candidates, err := loadCandidates(file, ids)
			if err != nil {
				return err
			}
			s, err := a.sessions.Start(ctx, args[0], actor, candidates)
			if err != nil {
				return err
			}
			return out.Success(s, func(w io.Writer) {
				fmt.Fprintf(w, "Started session %s with %d candidates\n", s.ID, len(s.Candidates))
			})
		})
	cmd.Flags().StringVar(&file, "candidates", "", "YAML file with a list of candidates")
	cmd.Flags().StringSliceVar(&ids, "candidate", nil, "candidate id (repeatable; name defaults to id)")
	return cmd
}

// loadCandidates reads a YAML candidate list and appends ids given on the
// command line.
func loadCandidates(file string, ids []string) ([]domain.Candidate, error) {
	var out []domain.Candidate
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to read candidates", err)
		}
		if err := yaml.Unmarshal(data, &out); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to parse candidates", err)
		}
	}
	for _, id := range ids {
		out = append(out, domain.Candidate{ID: id, Name: id})
	}
	if len(out) == 0 {
		return nil, NewExitError(ExitCommandError, "one of --candidates or --candidate is required")
	}
	return out, nil
}

func sessionEliminateCommand(o *SessionOptions) *cobra.Command {
	return o.act("eliminate <session-id> <candidate-id>", "Eliminate a candidate", cobra.ExactArgs(2),
		func(ctx context.Context, a *app, out *OutputFormatter, actor string, args []string) error {
			res, err := a.sessions.Eliminate(ctx, args[0], actor, args[1])
			if err != nil {
				return err
			}
			return out.Success(res, func(w io.Writer) {
				if res.Duplicate {
					fmt.Fprintf(w, "%s was already eliminated\n", args[1])
				} else {
					fmt.Fprintf(w, "Eliminated %s, %d remaining\n", args[1], res.Remaining)
				}
				if res.LastStanding != nil {
					fmt.Fprintf(w, "Last standing: %s\n", res.LastStanding.ID)
				}
			})
		})
}

func sessionWinnerCommand(o *SessionOptions) *cobra.Command {
	return o.act("winner <session-id> <candidate-id>", "Declare the winner", cobra.ExactArgs(2),
		func(ctx context.Context, a *app, out *OutputFormatter, actor string, args []string) error {
			s, err := a.sessions.DeclareWinner(ctx, args[0], actor, args[1])
			if err != nil {
				return err
			}
			return out.Success(s, func(w io.Writer) {
				fmt.Fprintf(w, "Session %s completed, winner %s (%s)\n", s.ID, s.Winner.ID, s.Winner.Name)
			})
		})
}

func sessionShowCommand(o *SessionOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session and its participants",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(o.RootOptions, cmd, func(ctx context.Context, a *app, out *OutputFormatter) error {
				snap, err := a.sessions.Snapshot(ctx, args[0])
				if err != nil {
					return err
				}
				return out.Success(snap, func(w io.Writer) { printSession(w, snap) })
			})
		},
	}
}

func sessionLookupCommand(o *SessionOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <code>",
		Short: "Find the joinable session for a code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(o.RootOptions, cmd, func(ctx context.Context, a *app, out *OutputFormatter) error {
				s, err := a.sessions.Lookup(ctx, args[0])
				if err != nil {
					return err
				}
				return out.Success(s, func(w io.Writer) {
					fmt.Fprintf(w, "%s  %s  %s\n", s.Code, s.ID, s.Status)
				})
			})
		},
	}
}

func sessionActionsCommand(o *SessionOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "actions <session-id>",
		Short: "Print the session's action log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(o.RootOptions, cmd, func(ctx context.Context, a *app, out *OutputFormatter) error {
				actions, err := a.sessions.Actions(ctx, args[0])
				if err != nil {
					return err
				}
				return out.Success(actions, func(w io.Writer) {
					for _, act := range actions {
						line := fmt.Sprintf("[%d] %s %s", act.Seq, act.At.Format("15:04:05"), act.Kind)
						if act.CandidateID != "" {
							line += " " + act.CandidateID
						}
						if act.Ready != nil {
							line += fmt.Sprintf(" ready=%t", *act.Ready)
						}
						fmt.Fprintf(w, "%s by %s\n", line, act.ActorID)
					}
				})
			})
		},
	}
}

// ReplayResult compares the eliminated set rebuilt from the action log with
// the stored one.
type ReplayResult struct {
	SessionID  string   `json:"session_id"`
	Stored     []string `json:"stored"`
	Replayed   []string `json:"replayed"`
	Consistent bool     `json:"consistent"`
}

func sessionReplayCommand(o *SessionOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <session-id>",
		Short: "Rebuild eliminations from the action log and compare",
		Long: `Rebuild the eliminated set from the session's action log and compare
it with the stored session. Exits 1 if they differ.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(o.RootOptions, cmd, func(ctx context.Context, a *app, out *OutputFormatter) error {
				s, err := a.sessions.Get(ctx, args[0])
				if err != nil {
					return err
				}
				replayed, err := a.sessions.ReplayEliminations(ctx, args[0])
				if err != nil {
					return err
				}
				res := ReplayResult{
					SessionID: s.ID,
					Stored:    sortedCopy(s.EliminatedIDs),
					Replayed:  sortedCopy(replayed),
				}
				res.Consistent = slices.Equal(res.Stored, res.Replayed)

				if err := out.Success(res, func(w io.Writer) {
					fmt.Fprintf(w, "stored:   [%s]\n", strings.Join(res.Stored, ", "))
					fmt.Fprintf(w, "replayed: [%s]\n", strings.Join(res.Replayed, ", "))
				}); err != nil {
					return err
				}
				if !res.Consistent {
					return NewExitError(ExitFailure, "action log does not reproduce the stored eliminations")
				}
				return nil
			})
		},
	}
}

func sortedCopy(s []string) []string {
	out := append([]string{}, s...)
	slices.Sort(out)
	return out
}

func printSession(w io.Writer, snap *domain.SessionSnapshot) {
	s := snap.Session
	fmt.Fprintf(w, "Session %s (%s)\n", s.ID, s.Status)
	fmt.Fprintf(w, "  Code: %s\n", s.Code)
	printFilters(w, s.Filters)
	if len(s.Candidates) > 0 {
		fmt.Fprintln(w, "  Candidates:")
		for _, c := range s.Candidates {
			mark := " "
			if s.IsEliminated(c.ID) {
				mark = "x"
			}
			fmt.Fprintf(w, "    [%s] %s %s\n", mark, c.ID, c.Name)
		}
	}
	if s.Winner != nil {
		fmt.Fprintf(w, "  Winner: %s\n", s.Winner.ID)
	}
	fmt.Fprintln(w, "  Participants:")
	for _, p := range snap.Participants {
		ready := ""
		if p.IsReady {
			ready = " (ready)"
		}
		fmt.Fprintf(w, "    %s %s%s\n", p.UserID, p.Role, ready)
	}
}

func printFilters(w io.Writer, f domain.Filters) {
	if len(f.Categories) > 0 {
		fmt.Fprintf(w, "  Categories: %s\n", strings.Join(f.Categories, ", "))
	}
	if f.MinRating > 0 {
		fmt.Fprintf(w, "  Min rating: %.1f\n", f.MinRating)
	}
	if f.MaxDistanceMeters > 0 {
		fmt.Fprintf(w, "  Max distance: %dm\n", f.MaxDistanceMeters)
	}
	if f.Source != "" {
		fmt.Fprintf(w, "  Source: %s\n", f.Source)
	}
}
