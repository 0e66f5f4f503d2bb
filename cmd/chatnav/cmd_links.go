package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"chatnav/internal/browser"
	"chatnav/internal/chatid"
	"chatnav/internal/handoff"
)

var (
	linkGroup   string
	linkAvatar  string
	linkChat    string
	linkMessage int
)

func addIdentityFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&linkAvatar, "avatar", "", "character avatar file (\".png\" optional)")
	cmd.Flags().StringVar(&linkGroup, "group", "", "group id")
	cmd.Flags().StringVar(&linkChat, "chat", "", "chat file name (\".jsonl\" optional)")
	cmd.Flags().IntVar(&linkMessage, "msg", -1, "message index to scroll to")
	_ = cmd.MarkFlagRequired("chat")
	cmd.MarkFlagsMutuallyExclusive("avatar", "group")
	cmd.MarkFlagsOneRequired("avatar", "group")
}

func identityFromFlags() (chatid.Identity, error) {
	var id chatid.Identity
	if linkGroup != "" {
		id = chatid.Group(linkGroup, linkChat)
	} else {
		id = chatid.Character(linkAvatar, linkChat)
	}
	if linkMessage >= 0 {
		id = id.WithMessage(linkMessage)
	}
	return id, id.Validate()
}

func appLocation() (browser.Location, error) {
	u, err := url.Parse(cfg.AppURL)
	if err != nil {
		return browser.Location{}, fmt.Errorf("parse app url: %w", err)
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return browser.Location{Origin: u.Scheme + "://" + u.Host, Pathname: path}, nil
}

var encodeCmd = &cobra.Command{
	Use:   "encode",
	Short: "Print the canonical URL of a chat",
	Example: `  chatnav encode --avatar alice.png --chat "alice - chat1"
  chatnav encode --group g1 --chat session1 --msg 12`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := identityFromFlags()
		if err != nil {
			return err
		}
		loc, err := appLocation()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), loc.WithQuery(chatid.Encode(id)))
		return nil
	},
}

var decodeCmd = &cobra.Command{
	Use:   "decode <url>",
	Short: "Print the chat a URL points at",
	Long: `Decode a chat URL in any supported form: the canonical query, a legacy
fragment, or a short link. Short links are looked up in Redis.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		u, err := url.Parse(args[0])
		if err != nil {
			return fmt.Errorf("parse url: %w", err)
		}
		search := ""
		if u.RawQuery != "" {
			search = "?" + u.RawQuery
		}
		fragment := ""
		if u.RawFragment != "" || u.Fragment != "" {
			fragment = "#" + u.EscapedFragment()
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		var links chatid.ShortLinks
		if u.Query().Has(chatid.ParamShortURL) {
			store, err := handoff.NewRedisStore(cfg.RedisURL, handoff.Options{ShortLinkTTL: cfg.ShortLinkTTL})
			if err != nil {
				return err
			}
			defer store.Close()
			links = store
		}

		id, source, err := chatid.DecodeLocation(ctx, search, fragment, links)
		if source == chatid.SourceNone {
			if err != nil {
				return err
			}
			return errors.New("url does not name a chat")
		}
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning:", err)
		}

		out := json.NewEncoder(cmd.OutOrStdout())
		out.SetIndent("", "  ")
		return out.Encode(map[string]any{
			"source": source,
			"chat":   id,
			"query":  chatid.Encode(id),
		})
	},
}

var shareCmd = &cobra.Command{
	Use:   "share",
	Short: "Create a short link for a chat",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := identityFromFlags()
		if err != nil {
			return err
		}
		loc, err := appLocation()
		if err != nil {
			return err
		}
		store, err := handoff.NewRedisStore(cfg.RedisURL, handoff.Options{ShortLinkTTL: cfg.ShortLinkTTL})
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		token, err := store.CreateShortLink(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), loc.WithQuery(chatid.ShortLinkQuery(token)))
		return nil
	},
}

func init() {
	addIdentityFlags(encodeCmd)
	addIdentityFlags(shareCmd)
}
