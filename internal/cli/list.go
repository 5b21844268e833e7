package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/shufflesync/internal/domain"
	"github.com/roach88/shufflesync/internal/lists"
)

// NewListCommand creates the list command group. Like session, it reuses
// --as for the acting user.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SessionOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Manage shared restaurant lists",
		Long: `Operate on shared lists in the configured store.

Example:
  shufflesync list create "Date night" --as alice
  shufflesync list share <list-id> --as alice
  shufflesync list join <link> --as bob
  shufflesync list add <list-id> r42 --name "Thai Palace" --as bob`,
	}
	cmd.PersistentFlags().StringVar(&opts.As, "as", "", "acting user id")

	cmd.AddCommand(
		listCreateCommand(opts),
		listUpdateCommand(opts),
		listMineCommand(opts),
		listShowCommand(opts),
		listShareCommand(opts),
		listUnshareCommand(opts),
		listJoinCommand(opts),
		listAddCommand(opts),
		listRemoveCommand(opts),
		listDeleteCommand(opts),
		listInviteCommand(opts),
		listRoleCommand(opts),
		listKickCommand(opts),
		listNoteCommand(opts),
	)
	return cmd
}

func listCreateCommand(o *SessionOptions) *cobra.Command {
	var description string
	cmd := o.act("create <title>", "Create a list owned by --as", cobra.ExactArgs(1),
		func(ctx context.Context, a *app, out *OutputFormatter, actor string, args []string) error {
			l, err := a.lists.CreateList(ctx, actor, args[0], description)
			if err != nil {
				return err
			}
			return out.Success(l, func(w io.Writer) {
				fmt.Fprintf(w, "Created list %s %q\n", l.ID, l.Title)
			})
		})
	cmd.Flags().StringVar(&description, "description", "", "list description")
	return cmd
}

func listUpdateCommand(o *SessionOptions) *cobra.Command {
	var title, description string
	cmd := &cobra.Command{
		Use:   "update <list-id>",
		Short: "Edit title or description (owner only)",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return withApp(o.RootOptions, cmd, func(ctx context.Context, a *app, out *OutputFormatter) error {
			actor, err := o.actor()
			if err != nil {
				return err
			}
			var patch lists.Patch
			if cmd.Flags().Changed("title") {
				patch.Title = &title
			}
			if cmd.Flags().Changed("description") {
				patch.Description = &description
			}
			l, err := a.lists.UpdateList(ctx, args[0], actor, patch)
			if err != nil {
				return err
			}
			return out.Success(l, func(w io.Writer) {
				fmt.Fprintf(w, "List %s is now %q\n", l.ID, l.Title)
			})
		})
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	return cmd
}

func listMineCommand(o *SessionOptions) *cobra.Command {
	return o.act("mine", "Lists --as owns or collaborates on", cobra.NoArgs,
		func(ctx context.Context, a *app, out *OutputFormatter, actor string, _ []string) error {
			ls, err := a.lists.ListsFor(ctx, actor)
			if err != nil {
				return err
			}
			return out.Success(ls, func(w io.Writer) {
				if len(ls) == 0 {
					fmt.Fprintln(w, "No lists.")
				}
				for _, l := range ls {
					shared := ""
					if l.IsShareable {
						shared = " (shared)"
					}
					fmt.Fprintf(w, "%s  %s%s\n", l.ID, l.Title, shared)
				}
			})
		})
}

func listShowCommand(o *SessionOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <list-id>",
		Short: "Show a list with its items and collaborators",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(o.RootOptions, cmd, func(ctx context.Context, a *app, out *OutputFormatter) error {
				snap, err := a.lists.Snapshot(ctx, args[0])
				if err != nil {
					return err
				}
				return out.Success(snap, func(w io.Writer) { printList(w, snap) })
			})
		},
	}
}

func listShareCommand(o *SessionOptions) *cobra.Command {
	return o.act("share <list-id>", "Generate a share link (owner only)", cobra.ExactArgs(1),
		func(ctx context.Context, a *app, out *OutputFormatter, actor string, args []string) error {
			l, err := a.lists.GenerateShareLink(ctx, args[0], actor)
			if err != nil {
				return err
			}
			return out.Success(l, func(w io.Writer) {
				fmt.Fprintf(w, "Share link: %s\n", l.ShareLinkID)
			})
		})
}

func listUnshareCommand(o *SessionOptions) *cobra.Command {
	return o.act("unshare <list-id>", "Revoke the share link (owner only)", cobra.ExactArgs(1),
		func(ctx context.Context, a *app, out *OutputFormatter, actor string, args []string) error {
			l, err := a.lists.RevokeShareLink(ctx, args[0], actor)
			if err != nil {
				return err
			}
			return out.Success(l, func(w io.Writer) {
				fmt.Fprintf(w, "List %s is no longer shared\n", l.ID)
			})
		})
}

func listJoinCommand(o *SessionOptions) *cobra.Command {
	return o.act("join <link>", "Join a list through its share link", cobra.ExactArgs(1),
		func(ctx context.Context, a *app, out *OutputFormatter, actor string, args []string) error {
			res, err := a.lists.JoinViaShareLink(ctx, args[0], actor)
			if err != nil {
				return err
			}
			return out.Success(res, func(w io.Writer) {
				verb := "Joined"
				if res.AlreadyMember {
					verb = "Already a member of"
				}
				fmt.Fprintf(w, "%s %q as %s\n", verb, res.List.Title, res.Collaborator.Role)
			})
		})
}

func listAddCommand(o *SessionOptions) *cobra.Command {
	var p domain.Pointer
	cmd := o.act("add <list-id> <restaurant-id>", "Add a restaurant to a list", cobra.ExactArgs(2),
		func(ctx context.Context, a *app, out *OutputFormatter, actor string, args []string) error {
			p.RestaurantID = args[1]
			res, err := a.lists.AddItem(ctx, args[0], actor, p)
			if err != nil {
				return err
			}
			return out.Success(res, func(w io.Writer) {
				if res.Created {
					fmt.Fprintf(w, "Added %s as item %s\n", res.Item.RestaurantID, res.Item.ID)
				} else {
					fmt.Fprintf(w, "%s is already on the list\n", res.Item.RestaurantID)
				}
			})
		})
	cmd.Flags().StringVar(&p.Name, "name", "", "restaurant name")
	cmd.Flags().StringVar(&p.Address, "address", "", "restaurant address")
	cmd.Flags().StringVar(&p.RestaurantSource, "source", "", "restaurant source")
	return cmd
}

func listRemoveCommand(o *SessionOptions) *cobra.Command {
	return o.act("remove <item-id>", "Remove an item", cobra.ExactArgs(1),
		func(ctx context.Context, a *app, out *OutputFormatter, actor string, args []string) error {
			if err := a.lists.RemoveItem(ctx, args[0], actor); err != nil {
				return err
			}
			return out.Success(map[string]string{"item_id": args[0]}, func(w io.Writer) {
				fmt.Fprintf(w, "Removed item %s\n", args[0])
			})
		})
}

func listDeleteCommand(o *SessionOptions) *cobra.Command {
	return o.act("delete <list-id>", "Delete a list and everything in it (owner only)", cobra.ExactArgs(1),
		func(ctx context.Context, a *app, out *OutputFormatter, actor string, args []string) error {
			if err := a.lists.DeleteList(ctx, args[0], actor); err != nil {
				return err
			}
			return out.Success(map[string]string{"list_id": args[0]}, func(w io.Writer) {
				fmt.Fprintf(w, "Deleted list %s\n", args[0])
			})
		})
}

func listInviteCommand(o *SessionOptions) *cobra.Command {
	var role string
	cmd := o.act("invite <list-id> <user-id>", "Add a collaborator (owner only)", cobra.ExactArgs(2),
		func(ctx context.Context, a *app, out *OutputFormatter, actor string, args []string) error {
			c, err := a.lists.AddCollaborator(ctx, args[0], actor, args[1], domain.ListRole(role))
			if err != nil {
				return err
			}
			return out.Success(c, func(w io.Writer) {
				fmt.Fprintf(w, "%s is %s\n", c.UserID, c.Role)
			})
		})
	cmd.Flags().StringVar(&role, "role", string(domain.ListEditor), "editor or viewer")
	return cmd
}

func listRoleCommand(o *SessionOptions) *cobra.Command {
	return o.act("role <list-id> <user-id> <role>", "Change a collaborator's role (owner only)", cobra.ExactArgs(3),
		func(ctx context.Context, a *app, out *OutputFormatter, actor string, args []string) error {
			c, err := a.lists.ChangeRole(ctx, args[0], actor, args[1], domain.ListRole(args[2]))
			if err != nil {
				return err
			}
			return out.Success(c, func(w io.Writer) {
				fmt.Fprintf(w, "%s is %s\n", c.UserID, c.Role)
			})
		})
}

func listKickCommand(o *SessionOptions) *cobra.Command {
	return o.act("kick <list-id> <user-id>", "Remove a collaborator, or leave when user-id is --as", cobra.ExactArgs(2),
		func(ctx context.Context, a *app, out *OutputFormatter, actor string, args []string) error {
			if err := a.lists.RemoveCollaborator(ctx, args[0], args[1], actor); err != nil {
				return err
			}
			return out.Success(map[string]string{"list_id": args[0], "user_id": args[1]}, func(w io.Writer) {
				fmt.Fprintf(w, "Removed %s from %s\n", args[1], args[0])
			})
		})
}

func listNoteCommand(o *SessionOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "note",
		Short: "Add, list, and delete restaurant notes",
	}

	cmd.AddCommand(
		o.act("add <restaurant-id> <context> <text>",
			"Add a note; context is a list id, favorites, or winners", cobra.ExactArgs(3),
			func(ctx context.Context, a *app, out *OutputFormatter, actor string, args []string) error {
				n, err := a.lists.AddNote(ctx, args[0], args[1], actor, args[2])
				if err != nil {
					return err
				}
				return out.Success(n, func(w io.Writer) {
					fmt.Fprintf(w, "Added note %s\n", n.ID)
				})
			}),
		o.act("ls <restaurant-id> <context>", "List notes for a restaurant in a context", cobra.ExactArgs(2),
			func(ctx context.Context, a *app, out *OutputFormatter, actor string, args []string) error {
				notes, err := a.lists.Notes(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if !domain.IsListContext(args[1]) {
					mine := notes[:0]
					for _, n := range notes {
						if n.AuthorID == actor {
							mine = append(mine, n)
						}
					}
					notes = mine
				}
				return out.Success(notes, func(w io.Writer) {
					for _, n := range notes {
						fmt.Fprintf(w, "%s  %s: %s\n", n.ID, n.AuthorID, n.Text)
					}
				})
			}),
		o.act("rm <note-id>", "Delete a note (author only)", cobra.ExactArgs(1),
			func(ctx context.Context, a *app, out *OutputFormatter, actor string, args []string) error {
				if err := a.lists.DeleteNote(ctx, args[0], actor); err != nil {
					return err
				}
				return out.Success(map[string]string{"note_id": args[0]}, func(w io.Writer) {
					fmt.Fprintf(w, "Deleted note %s\n", args[0])
				})
			}),
	)
	return cmd
}

func printList(w io.Writer, snap *domain.ListSnapshot) {
	l := snap.List
	fmt.Fprintf(w, "List %s %q\n", l.ID, l.Title)
	if l.Description != "" {
		fmt.Fprintf(w, "  %s\n", l.Description)
	}
	if l.IsShareable {
		fmt.Fprintf(w, "  Share link: %s\n", l.ShareLinkID)
	}
	fmt.Fprintln(w, "  Collaborators:")
	for _, c := range snap.Collaborators {
		fmt.Fprintf(w, "    %s %s\n", c.UserID, c.Role)
	}
	fmt.Fprintln(w, "  Items:")
	for _, it := range snap.Items {
		name := it.Name
		if name == "" {
			name = it.RestaurantID
		}
		fmt.Fprintf(w, "    %s %s\n", it.ID, name)
	}
}
