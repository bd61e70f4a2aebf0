package commands

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/unkn0wn-root/querysync"
	"github.com/unkn0wn-root/querysync/cmd/qsync/internal/app"
	"github.com/unkn0wn-root/querysync/remote"
	"github.com/unkn0wn-root/querysync/resources"
)

func (c *CLI) newUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			skip, _ := cmd.Flags().GetInt("skip")
			all, _ := cmd.Flags().GetBool("all")
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if all {
					return listAllUsers(ctx, a, c.out, limit)
				}
				p, err := querysync.Fetch(ctx, a.Client, a.Resources.UsersPage(limit, skip))
				if err != nil {
					return err
				}
				printUsers(c.out, p.Items)
				fmt.Fprintf(c.out, "showing %d-%d of %d\n", p.Skip+1, p.Skip+len(p.Items), p.Total)
				return nil
			})
		},
	}
	cmd.Flags().Int("limit", 10, "Users per page")
	cmd.Flags().Int("skip", 0, "Users to skip")
	cmd.Flags().Bool("all", false, "Load every page")
	return cmd
}

// listAllUsers walks the infinite list one page at a time.
func listAllUsers(ctx context.Context, a *app.App, out io.Writer, limit int) error {
	obs := querysync.ObserveInfinite(a.Client, a.Resources.InfiniteUsers(limit))
	defer obs.Close()
	if _, err := obs.Refetch(ctx); err != nil {
		return err
	}
	for obs.HasNext() {
		if err := obs.FetchNext(ctx); err != nil {
			return err
		}
	}
	d := obs.State().Data
	var users []remote.User
	for _, p := range d.Pages {
		users = append(users, p.Items...)
	}
	printUsers(out, users)
	fmt.Fprintf(out, "%d users in %d pages\n", len(users), d.Len())
	return nil
}

func (c *CLI) newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user <id>",
		Short: "Show one user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			withPosts, _ := cmd.Flags().GetBool("with-posts")
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				if withPosts {
					uwp, err := a.Resources.UserWithPosts(ctx, a.Client, id)
					if err != nil {
						return err
					}
					printUser(c.out, uwp.User)
					printPosts(c.out, uwp.Posts)
					return nil
				}
				u, err := querysync.Fetch(ctx, a.Client, a.Resources.User(id))
				if err != nil {
					return err
				}
				printUser(c.out, u)
				return nil
			})
		},
	}
	cmd.Flags().Bool("with-posts", false, "Also list the user's posts")
	return cmd
}

func (c *CLI) newAddUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add-user",
		Short: "Create a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var in remote.NewUser
			in.FirstName, _ = cmd.Flags().GetString("first-name")
			in.LastName, _ = cmd.Flags().GetString("last-name")
			in.Email, _ = cmd.Flags().GetString("email")
			in.Age, _ = cmd.Flags().GetInt("age")
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				res := a.Resources.AddUser(ctx, a.Client, in)
				if res.Err != nil {
					return res.Err
				}
				printUser(c.out, res.Data)
				return nil
			})
		},
	}
	cmd.Flags().String("first-name", "", "First name")
	cmd.Flags().String("last-name", "", "Last name")
	cmd.Flags().String("email", "", "Email")
	cmd.Flags().Int("age", 0, "Age")
	_ = cmd.MarkFlagRequired("first-name")
	_ = cmd.MarkFlagRequired("last-name")
	return cmd
}

func (c *CLI) newUpdateUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update-user <id>",
		Short: "Update a user, showing the change before the server confirms it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			patch := patchFromFlags(cmd)
			if patch.Empty() {
				return fmt.Errorf("nothing to update: set at least one field flag")
			}
			optimistic, _ := cmd.Flags().GetBool("optimistic")
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				return updateUser(ctx, a, c.out, resources.UserUpdate{ID: id, Patch: patch}, optimistic)
			})
		},
	}
	cmd.Flags().String("first-name", "", "First name")
	cmd.Flags().String("last-name", "", "Last name")
	cmd.Flags().String("email", "", "Email")
	cmd.Flags().Int("age", 0, "Age")
	cmd.Flags().Bool("optimistic", true, "Apply the change locally before the server answers")
	return cmd
}

func patchFromFlags(cmd *cobra.Command) remote.UserPatch {
	var p remote.UserPatch
	str := func(name string) *string {
		if !cmd.Flags().Changed(name) {
			return nil
		}
		v, _ := cmd.Flags().GetString(name)
		return &v
	}
	p.FirstName, p.LastName, p.Email = str("first-name"), str("last-name"), str("email")
	if cmd.Flags().Changed("age") {
		v, _ := cmd.Flags().GetInt("age")
		p.Age = &v
	}
	return p
}

// updateUser prints the user as the cache shows it before and during the
// mutation, then the settled result.
func updateUser(ctx context.Context, a *app.App, out io.Writer, in resources.UserUpdate, optimistic bool) error {
	obs := querysync.Observe(a.Client, a.Resources.User(in.ID))
	defer obs.Close()
	before, err := obs.Refetch(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "before:  %s\n", before.Name())

	if !optimistic {
		res := a.Resources.UpdateUser(ctx, a.Client, in)
		if res.Err != nil {
			return res.Err
		}
		fmt.Fprintf(out, "updated: %s\n", res.Data.Name())
		return nil
	}

	var (
		mu    sync.Mutex
		shown *remote.User
	)
	cancel := obs.Subscribe(func(st querysync.QueryState[remote.User]) {
		mu.Lock()
		defer mu.Unlock()
		if shown == nil && st.HasData && st.Data != before {
			d := st.Data
			shown = &d
		}
	})
	res := a.Resources.UpdateUserOptimistic(ctx, a.Client, in)
	cancel()
	mu.Lock()
	if shown != nil {
		fmt.Fprintf(out, "shown:   %s\n", shown.Name())
	}
	mu.Unlock()
	if res.Err != nil {
		st := obs.State()
		fmt.Fprintf(out, "rolled back to: %s\n", st.Data.Name())
		return res.Err
	}
	fmt.Fprintf(out, "updated: %s\n", res.Data.Name())
	return nil
}

func (c *CLI) newDeleteUserCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-user <id>",
		Short: "Delete a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				res := a.Resources.DeleteUser(ctx, a.Client, id)
				if res.Err != nil {
					return res.Err
				}
				fmt.Fprintf(c.out, "user %d deleted: %t\n", res.Data.ID, res.Data.IsDeleted)
				return nil
			})
		},
	}
}

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q: must be a positive integer", s)
	}
	return id, nil
}

func printUsers(out io.Writer, users []remote.User) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tEMAIL")
	for _, u := range users {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", u.ID, u.Name(), u.Email)
	}
	_ = tw.Flush()
}

func printUser(out io.Writer, u remote.User) {
	fmt.Fprintf(out, "#%d %s <%s>\n", u.ID, u.Name(), u.Email)
	if u.Address != nil {
		fmt.Fprintf(out, "   %s, %s\n", u.Address.Address, u.Address.City)
	}
}
