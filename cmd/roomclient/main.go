package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/LiquidCake/instantchat/internal/client"
	"github.com/LiquidCake/instantchat/internal/config"
	clog "github.com/LiquidCake/instantchat/internal/log"
	"github.com/LiquidCake/instantchat/internal/protocol"
)

func main() {
	// main 负责加载配置、初始化日志并启动房间会话与终端交互。
	room := flag.String("room", "", "room name to create or join")
	password := flag.String("password", "", "optional room password")
	name := flag.String("name", "", "user name inside the room")
	metricsAddr := flag.String("metrics-addr", "", "expose prometheus metrics on this address")
	flag.Parse()

	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config validate")
	}
	if *room == "" || *name == "" {
		fmt.Fprintln(os.Stderr, "usage: roomclient -room <name> -name <user> [-password <pwd>]")
		os.Exit(2)
	}

	if *metricsAddr != "" {
		go func() {
			if err := http.ListenAndServe(*metricsAddr, promhttp.Handler()); err != nil {
				log.Error().Err(err).Msg("metrics endpoint")
			}
		}()
	}

	c := client.New(cfg, protocol.RoomRef{Name: *room, Password: *password}, *name)
	if err := c.Join(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("join room")
	}
	defer c.Close()

	go printEvents(c)
	repl(c)
}

func printEvents(c *client.RoomClient) {
	for {
		select {
		case <-c.Done():
			return
		case ev := <-c.Events():
			switch ev.Kind {
			case client.EventStateChanged:
				fmt.Printf("* session: %s\n", ev.State)
			case client.EventRoomUpdated:
				r := c.Room()
				fmt.Printf("* room %q: %s\n", r.Name, r.Description)
			case client.EventRosterUpdated:
				names := make([]string, 0)
				for _, u := range c.Users() {
					names = append(names, u.Name)
				}
				fmt.Printf("* members: %s\n", strings.Join(names, ", "))
			case client.EventMessagesUpdated:
				if m, ok := c.Message(ev.MessageID); ok {
					fmt.Printf("[#%d %s] %s: %s\n", m.ID, m.TimeText(), m.AuthorName, m.Text)
				}
			case client.EventActionRejected:
				fmt.Printf("* rejected: %s\n", ev.Business.Text)
			case client.EventLimitApproaching:
				fmt.Println("* room is close to its message limit")
			case client.EventLimitReached:
				fmt.Println("* room message limit reached")
			case client.EventFatal:
				fmt.Printf("* session failed: %v\n", ev.Err)
			}
		}
	}
}

func repl(c *client.RoomClient) {
	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return
		}
		if err := execute(c, line); err != nil {
			fmt.Printf("! %v\n", err)
		}
		select {
		case <-c.Done():
			return
		default:
		}
	}
}

func execute(c *client.RoomClient, line string) error {
	if !strings.HasPrefix(line, "/") {
		return c.SendMessage(line)
	}
	cmd, rest, _ := strings.Cut(line, " ")
	switch cmd {
	case "/reply":
		id, text, err := idAndText(rest)
		if err != nil {
			return err
		}
		return c.ReplyToMessage(id, text)
	case "/edit":
		id, text, err := idAndText(rest)
		if err != nil {
			return err
		}
		return c.EditMessage(id, text)
	case "/del":
		id, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
		if err != nil {
			return err
		}
		return c.DeleteMessage(id)
	case "/up", "/down":
		id, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
		if err != nil {
			return err
		}
		return c.VoteMessage(id, cmd == "/up")
	case "/desc":
		return c.ChangeDescription(rest)
	case "/nick":
		return c.ChangeUserName(strings.TrimSpace(rest))
	case "/find", "/findprev":
		query := strings.TrimSpace(rest)
		if cmd == "/find" {
			if hit, ok := c.SearchNext(query); ok {
				fmt.Printf("* hit: message #%d, %s at %d\n", hit.MessageID, hit.Field, hit.Offset)
			} else {
				fmt.Println("* no matches")
			}
			return nil
		}
		if hit, ok := c.SearchPrev(query); ok {
			fmt.Printf("* hit: message #%d, %s at %d\n", hit.MessageID, hit.Field, hit.Offset)
		} else {
			fmt.Println("* no matches")
		}
		return nil
	case "/picks":
		for _, m := range c.FolkPicks() {
			verdict := "rejected"
			if m.IsSupported() {
				verdict = "supported"
			}
			fmt.Printf("[#%d] %s: %s (+%d/-%d, %s)\n", m.ID, m.AuthorName, m.Text, m.SupportCount, m.RejectCount, verdict)
		}
		return nil
	case "/who":
		for _, u := range c.Users() {
			marker := " "
			if u.IsOnline {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, u.Name)
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func idAndText(rest string) (int64, string, error) {
	idStr, text, ok := strings.Cut(strings.TrimSpace(rest), " ")
	if !ok {
		return 0, "", fmt.Errorf("expected: <message-id> <text>")
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return 0, "", err
	}
	return id, text, nil
}
