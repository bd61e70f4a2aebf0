package commands

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/unkn0wn-root/querysync"
	"github.com/unkn0wn-root/querysync/cmd/qsync/internal/app"
	"github.com/unkn0wn-root/querysync/remote"
)

func (c *CLI) newPostsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "posts",
		Short: "List posts, or the posts of one user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, _ := cmd.Flags().GetInt("user")
			limit, _ := cmd.Flags().GetInt("limit")
			skip, _ := cmd.Flags().GetInt("skip")
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				cfg := a.Resources.Posts(limit, skip)
				if userID > 0 {
					cfg = a.Resources.UserPosts(userID)
				}
				p, err := querysync.Fetch(ctx, a.Client, cfg)
				if err != nil {
					return err
				}
				printPosts(c.out, p.Items)
				return nil
			})
		},
	}
	cmd.Flags().Int("user", 0, "Only posts by this user id")
	cmd.Flags().Int("limit", 10, "Posts per page")
	cmd.Flags().Int("skip", 0, "Posts to skip")
	return cmd
}

func (c *CLI) newCommentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "comments <post-id>",
		Short: "List the comments of a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				p, err := querysync.Fetch(ctx, a.Client, a.Resources.Comments(id))
				if err != nil {
					return err
				}
				for _, cm := range p.Items {
					fmt.Fprintf(c.out, "@%s: %s\n", cm.User.Username, cm.Body)
				}
				return nil
			})
		},
	}
}

func (c *CLI) newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "search users|posts <query>",
		Short:     "Search users or posts (queries need at least 3 characters)",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"users", "posts"},
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, q := args[0], args[1]
			return c.withApp(cmd, func(ctx context.Context, a *app.App) error {
				switch kind {
				case "users":
					p, err := querysync.Fetch(ctx, a.Client, a.Resources.SearchUsers(q))
					if err != nil {
						return err
					}
					printUsers(c.out, p.Items)
				case "posts":
					p, err := querysync.Fetch(ctx, a.Client, a.Resources.SearchPosts(q))
					if err != nil {
						return err
					}
					printPosts(c.out, p.Items)
				default:
					return fmt.Errorf("unknown search target %q: want users or posts", kind)
				}
				return nil
			})
		},
	}
	return cmd
}

func printPosts(out io.Writer, posts []remote.Post) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tUSER\tLIKES\tTITLE\tTAGS")
	for _, p := range posts {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\t%s\n", p.ID, p.UserID, p.Reactions.Likes, p.Title, strings.Join(p.Tags, ","))
	}
	_ = tw.Flush()
}
