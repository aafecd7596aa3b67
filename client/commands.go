package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/mahaj/travelchat/pkg/apiclient"
	"github.com/mahaj/travelchat/pkg/channel"
	"github.com/mahaj/travelchat/pkg/chaterr"
	"github.com/mahaj/travelchat/pkg/model"
	"github.com/spf13/cobra"
)

// newRootCmd builds the CLI. in feeds the chat prompt; dialer replaces the
// websocket transport when non-nil.
func newRootCmd(in io.Reader, dialer channel.Dialer) *cobra.Command {
	var (
		configPath string
		a          *app
	)

	root := &cobra.Command{
		Use:   "travelchat",
		Short: "Find fellow travellers, follow them and chat",
		Long: `travelchat is the command line client of the travel social network.

Quick Start:
  travelchat login alice            # sign in
  travelchat search hiker           # find people
  travelchat follow bob             # follow someone
  travelchat chat bob               # open a direct chat`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			a, err = newApp(configPath, dialer, cmd.OutOrStdout())
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.logger.Sync()
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ~/.travelchat/config.yaml)")

	login := &cobra.Command{
		Use:   "login <user-id>",
		Short: "Sign in and store the session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			handle, _ := cmd.Flags().GetString("handle")
			resp, err := a.api.Login(cmd.Context(), apiclient.LoginRequest{UserID: args[0], DisplayName: name, Handle: handle})
			if err != nil {
				return err
			}
			a.session.Set(resp.Token, resp.User)
			if err := a.session.Save(a.cfg.SessionFile); err != nil {
				return fmt.Errorf("save session: %w", err)
			}
			a.gate.State()
			a.out.Println("Logged in as " + renderUser(resp.User))
			return nil
		},
	}
	login.Flags().String("name", "", "Display name")
	login.Flags().String("handle", "", "Public handle")

	logout := &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.session.Invalidate()
			if err := a.session.Save(a.cfg.SessionFile); err != nil {
				return err
			}
			a.out.Println("Logged out")
			return nil
		},
	}

	whoami := &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			self, err := a.gate.Require()
			if err != nil {
				return err
			}
			a.out.Println(renderUser(self))
			return nil
		},
	}

	following := &cobra.Command{
		Use:   "following",
		Short: "List the users you follow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			self, err := a.gate.Require()
			if err != nil {
				return err
			}
			users, err := a.follows.LoadFollowing(cmd.Context(), self.ID)
			if err != nil {
				return err
			}
			printUsers(a, users, "You are not following anyone yet.")
			return nil
		},
	}

	followers := &cobra.Command{
		Use:   "followers",
		Short: "List the users who follow you",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			self, err := a.gate.Require()
			if err != nil {
				return err
			}
			users, err := a.follows.LoadFollowers(cmd.Context(), self.ID)
			if err != nil {
				return err
			}
			printUsers(a, users, "Nobody follows you yet.")
			return nil
		},
	}

	followCmd := &cobra.Command{
		Use:   "follow <user-id>",
		Short: "Follow a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return changeFollow(cmd.Context(), a, args[0], true)
		},
	}

	unfollowCmd := &cobra.Command{
		Use:   "unfollow <user-id>",
		Short: "Stop following a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return changeFollow(cmd.Context(), a, args[0], false)
		},
	}

	search := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the user directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			page, _ := cmd.Flags().GetInt("page")
			limit, _ := cmd.Flags().GetInt("limit")
			query := ""
			if len(args) == 1 {
				query = args[0]
			}
			res, err := a.dir.Search(cmd.Context(), query, page, limit)
			if err != nil {
				return err
			}
			printUsers(a, res.Users, "No users found.")
			if res.HasMore {
				a.out.Println(idStyle.Render(fmt.Sprintf("page %d of %d results; more with --page %d", res.Page, res.Total, res.Page+1)))
			}
			return nil
		},
	}
	search.Flags().Int("page", 1, "Page number, starting at 1")
	search.Flags().Int("limit", 20, "Results per page (max 100)")

	unread := &cobra.Command{
		Use:   "unread",
		Short: "Show conversations with unread messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			self, err := a.gate.Require()
			if err != nil {
				return err
			}
			var resp struct {
				Unread []struct {
					PeerID string `json:"peer_id"`
					Count  int64  `json:"count"`
				} `json:"unread"`
			}
			if err := a.api.Do(cmd.Context(), http.MethodGet, "/users/"+url.PathEscape(self.ID)+"/unread", nil, &resp); err != nil {
				return err
			}
			if len(resp.Unread) == 0 {
				a.out.Println("No unread messages.")
			}
			for _, u := range resp.Unread {
				a.out.Println(fmt.Sprintf("%s %s", peerStyle.Render("@"+u.PeerID), idStyle.Render(fmt.Sprintf("%d unread", u.Count))))
			}
			return nil
		},
	}

	chat := &cobra.Command{
		Use:   "chat <user-id>",
		Short: "Open a direct chat; type /quit to leave",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), a, args[0], in)
		},
	}

	root.AddCommand(login, logout, whoami, following, followers, followCmd, unfollowCmd, search, unread, chat)
	return root
}

func printUsers(a *app, users []model.UserIdentity, empty string) {
	if len(users) == 0 {
		a.out.Println(empty)
		return
	}
	for _, u := range users {
		a.out.Println(renderUser(u))
	}
}

// changeFollow syncs the follow set first so that following someone twice
// is a no-op.
func changeFollow(ctx context.Context, a *app, target string, follow bool) error {
	self, err := a.gate.Require()
	if err != nil {
		return err
	}
	if _, err := a.follows.LoadFollowing(ctx, self.ID); err != nil {
		return err
	}

	verb := "Following"
	if follow {
		err = a.follows.Follow(ctx, self.ID, target)
	} else {
		verb = "Unfollowed"
		err = a.follows.Unfollow(ctx, self.ID, target)
	}
	switch {
	case errors.Is(err, chaterr.ErrSelfFollow):
		return errors.New("you cannot follow yourself")
	case errors.Is(err, chaterr.ErrNotFound):
		return fmt.Errorf("no user %q", target)
	case err != nil:
		return err
	}
	a.out.Println(verb + " @" + target)
	return nil
}
