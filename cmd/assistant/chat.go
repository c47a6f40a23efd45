package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/ruyacapital/ruya-assistant/internal/models"
	"github.com/spf13/cobra"
)

var chatUser string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the assistant from the terminal",
	Long: `Starts an interactive session on stdin.

Commands:
  /clear  forget the conversation context
  /exit   end the session`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return chat(ctx, os.Stdin, cmd.OutOrStdout())
	},
}

func init() {
	chatCmd.Flags().StringVarP(&chatUser, "user", "u", "cli", "User id recorded with the session")
}

func chat(ctx context.Context, in io.Reader, out io.Writer) error {
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	token, err := a.storage.StartSession(ctx, chatUser)
	if err != nil {
		return err
	}
	orch := a.registry.GetOrCreate(token, chatUser)
	defer func() {
		a.registry.Remove(token)
		if err := a.storage.EndSession(context.Background(), token, nil); err != nil {
			log.WithError(err).Warn("Failed to end session")
		}
	}()

	fmt.Fprintf(out, "Session %s started. Type /exit to quit.\n", token)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		text := strings.TrimSpace(scanner.Text())

		switch text {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/clear":
			orch.ClearContext()
			fmt.Fprintln(out, "Context cleared.")
			continue
		}

		resp, err := orch.Respond(ctx, text)
		if err != nil {
			return err
		}
		printResponse(out, resp)

		if ctx.Err() != nil {
			return nil
		}
	}
}

func printResponse(out io.Writer, resp *models.AIResponse) {
	fmt.Fprintln(out, resp.Content)
	fmt.Fprintf(out, "  [%s] confidence=%.2f context=%.2f sources=%s time=%dms",
		resp.Language, resp.Confidence, resp.ContextUnderstanding,
		strings.Join(resp.Sources, ","), resp.ResponseTimeMs)
	if resp.RequiresHumanFollowup {
		fmt.Fprint(out, " followup")
	}
	fmt.Fprintln(out)
}
