package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"duochat/internal/client"
)

var (
	flagServerURL string
	flagUsername  string
	flagPassword  string
)

var rootCmd = &cobra.Command{
	Use:   "duochat-cli",
	Short: "Terminal chat client",
	RunE:  runClient,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagServerURL, "server-url", "http://localhost:8080", "relay base URL")
	flags.StringVar(&flagUsername, "user", "", "username")
	flags.StringVar(&flagPassword, "password", "", "password (or env CHAT_PASSWORD)")
}

func main() {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute client command")
	}
}

func runClient(cmd *cobra.Command, args []string) error {
	if flagPassword == "" {
		flagPassword = os.Getenv("CHAT_PASSWORD")
	}
	if flagUsername == "" || flagPassword == "" {
		return fmt.Errorf("--user and --password (or CHAT_PASSWORD) are required")
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var session *client.Session
	session, err := client.Dial(ctx, client.SessionConfig{
		ServerURL: flagServerURL,
		Username:  flagUsername,
		Password:  flagPassword,
		OnUpdate: func() {
			render(session)
		},
		OnState: func(s client.State) {
			fmt.Printf("-- connection: %s\n", s)
		},
	})
	if err != nil {
		return err
	}
	defer session.Close()

	fmt.Println("connected. type a message and press enter; /quit to exit.")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "/quit":
			return nil
		case line == "":
			continue
		default:
			session.Keystroke()
			if err := session.Send(line); err != nil {
				fmt.Printf("-- send failed: %v\n", err)
			}
		}
	}
	return scanner.Err()
}

func render(session *client.Session) {
	if session == nil {
		return
	}
	msgs := session.Messages()
	if len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		fmt.Printf("[%s] %s: %s\n", last.Timestamp.Format("15:04:05"), last.Sender, last.Content)
	}
	if typing := session.TypingUsers(); len(typing) > 0 {
		fmt.Printf("-- %s typing...\n", strings.Join(typing, ", "))
	}
}
