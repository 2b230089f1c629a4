package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gookit/color"
	"github.com/gregriff/duet/configs"
	"github.com/gregriff/duet/internal/client"
	"github.com/gregriff/duet/internal/schemas"
	"github.com/mama165/sdk-go/logs"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var connectCmd = &cobra.Command{
	Use:   "connect <identity>",
	Short: "Chat from the terminal as one of the two identities",
	Long: `Join the conversation and print its events. Every line read from stdin is sent as a message.

Commands:
  /delete <id>   delete one of your messages
  /avatar <ref>  set your avatar to a URL or data: URL
  /quit          disconnect`,
	Args: cobra.ExactArgs(1),
	RunE: runConnect,
}

func init() {
	rootCmd.AddCommand(connectCmd)
	connectCmd.Flags().String("url", "", "relay base url (defaults to the configured port on localhost)")
	connectCmd.Flags().String("password", "", "password when the relay requires basic auth")
}

var (
	selfStyle  = color.New(color.FgGreen, color.OpBold)
	peerStyle  = color.New(color.FgCyan, color.OpBold)
	infoStyle  = color.New(color.FgDarkGray)
	errorStyle = color.New(color.FgRed)
	callStyle  = color.New(color.FgMagenta)
)

func runConnect(cmd *cobra.Command, args []string) error {
	s, err := configs.Load()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(s.LogLevel)

	self := schemas.Identity(args[0])
	if !lo.Contains(s.Identities, self) {
		return fmt.Errorf("%q is not one of the configured identities %v", self, s.Identities)
	}

	baseURL, _ := cmd.Flags().GetString("url")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://localhost:%d", s.Port)
	}
	password, _ := cmd.Flags().GetString("password")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	c, err := client.Dial(ctx, client.Credentials{BaseURL: baseURL, Password: password}, log)
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.Join(self); err != nil {
		return err
	}

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	out := cmd.OutOrStdout()
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-c.Events():
			if !ok {
				return fmt.Errorf("relay closed the connection: %w", c.Err())
			}
			printEvent(out, self, evt)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := sendLine(c, line)
			if err != nil {
				return err
			}
			if quit {
				return nil
			}
		}
	}
}

// sendLine turns a line of input into an event. It reports true on /quit.
func sendLine(c *client.Client, line string) (bool, error) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false, nil
	case line == "/quit":
		return true, nil
	case strings.HasPrefix(line, "/delete "):
		id, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "/delete ")), 10, 64)
		if err != nil {
			fmt.Println(errorStyle.Render("usage: /delete <id>"))
			return false, nil
		}
		return false, c.Send(schemas.DeleteMessage{Id: id})
	case strings.HasPrefix(line, "/avatar "):
		return false, c.Send(schemas.UploadProfile{AvatarRef: strings.TrimSpace(strings.TrimPrefix(line, "/avatar "))})
	default:
		return false, c.Send(schemas.SendMessage{Text: line})
	}
}

func printEvent(out io.Writer, self schemas.Identity, evt schemas.Outbound) {
	switch e := evt.(type) {
	case schemas.LoadMessages:
		for _, m := range schemas.Visible(e) {
			printMessage(out, self, m)
		}
		fmt.Fprintln(out, infoStyle.Render(fmt.Sprintf("-- %d messages --", len(e))))
	case schemas.LoadProfiles:
		for _, p := range e {
			if p.AvatarRef != nil {
				fmt.Fprintln(out, infoStyle.Render(fmt.Sprintf("%s has an avatar", p.Identity)))
			}
		}
	case schemas.NewMessage:
		printMessage(out, self, e.Message)
	case schemas.MessageDeleted:
		fmt.Fprintln(out, infoStyle.Render(fmt.Sprintf("message %d was deleted", e.Id)))
	case schemas.ProfileUpdated:
		fmt.Fprintln(out, infoStyle.Render(fmt.Sprintf("%s changed their avatar", e.Identity)))
	case schemas.UserOnline:
		fmt.Fprintln(out, infoStyle.Render(fmt.Sprintf("%s is online", e.Identity)))
	case schemas.UserOffline:
		fmt.Fprintln(out, infoStyle.Render(fmt.Sprintf("%s went offline", e.Identity)))
	case schemas.IncomingCall:
		fmt.Fprintln(out, callStyle.Render(fmt.Sprintf("%s is calling (%s), answer from the web client", e.From, e.MediaType)))
	case schemas.CallAnswered:
		fmt.Fprintln(out, callStyle.Render("call answered"))
	case schemas.NewIceCandidate:
	case schemas.CallEnded:
		fmt.Fprintln(out, callStyle.Render("call ended"))
	case schemas.Error:
		fmt.Fprintln(out, errorStyle.Render(fmt.Sprintf("error (%s): %s", e.Code, e.Message)))
	}
}

func printMessage(out io.Writer, self schemas.Identity, m schemas.Message) {
	style := peerStyle
	if m.From == self {
		style = selfStyle
	}
	fmt.Fprintf(out, "%s %s %s\n",
		infoStyle.Render(fmt.Sprintf("[%d %s]", m.Id, m.Timestamp.Local().Format(time.Kitchen))),
		style.Render(string(m.From)+":"),
		m.Text,
	)
}
