package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/cbodonnell/harbor/client/session"
	gametypes "github.com/cbodonnell/harbor/pkg/game/types"
	"github.com/cbodonnell/harbor/pkg/log"
	"github.com/cbodonnell/harbor/pkg/messages"
)

var errQuit = errors.New("quit")

const helpText = `commands:
  <text>                 send to the global channel
  /to <channel> <text>   send to a channel
  /name <name>           change display name
  /color <r> <g> <b>     change color, channels in [0, 1]
  /who                   list online participants
  /history [limit]       reload chat history
  /fish|/kill|/money <n> record a catch, kill or earnings
  /stats                 fetch stats
  /inventory             fetch inventory
  /leaderboard           fetch leaderboard
  /ping                  show round trip time
  /quit                  exit`

// Commands turns terminal input into session operations.
type Commands struct {
	session *session.Session
	logger  *log.Logger
	ping    func() time.Duration
}

// ReadLoop executes one command per line until r is exhausted, /quit is
// entered or ctx is done. It returns errQuit only for /quit.
func (c *Commands) ReadLoop(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		if err := c.Execute(scanner.Text()); err != nil {
			if errors.Is(err, errQuit) {
				return err
			}
			c.logger.Warn("%v", err)
		}
	}
	return scanner.Err()
}

// Execute runs a single line of input.
func (c *Commands) Execute(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return c.session.SendChat(line, "")
	}

	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]
	switch name {
	case "/quit", "/exit":
		return errQuit
	case "/help":
		c.logger.Info("%s", helpText)
		return nil
	case "/to":
		if len(args) < 2 {
			return fmt.Errorf("usage: /to <channel> <text>")
		}
		return c.session.SendChat(strings.Join(args[1:], " "), args[0])
	case "/name":
		newName := strings.Join(args, " ")
		return c.session.UpdateLocalIdentity(session.IdentityUpdate{Name: &newName})
	case "/color":
		color, err := parseColor(args)
		if err != nil {
			return err
		}
		return c.session.UpdateLocalIdentity(session.IdentityUpdate{Color: &color})
	case "/who":
		c.who()
		return nil
	case "/history":
		limit := 0
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid limit %q", args[0])
			}
			limit = n
		}
		return c.session.RequestChatHistory("", limit)
	case "/fish", "/kill", "/money":
		n, err := parseCount(args)
		if err != nil {
			return err
		}
		switch name {
		case "/fish":
			return c.session.RecordFishCaught(n)
		case "/kill":
			return c.session.RecordMonsterKilled(n)
		default:
			return c.session.RecordMoneyEarned(n)
		}
	case "/stats":
		return c.session.RequestStats(func(stats *gametypes.Stats) {
			if stats == nil {
				c.logger.Warn("No stats received")
				return
			}
			c.logger.Info("Fish %d, monsters %d, money %d", stats.FishCount, stats.MonsterKills, stats.Money)
		})
	case "/inventory":
		return c.session.RequestInventory(func(inventory messages.Inventory) {
			if inventory == nil {
				c.logger.Warn("No inventory received")
				return
			}
			for itemType, items := range inventory {
				c.logger.Info("%s: %d items", itemType, len(items))
			}
		})
	case "/leaderboard":
		return c.session.RequestLeaderboard(func(leaderboard messages.Leaderboard) {
			if leaderboard == nil {
				c.logger.Warn("No leaderboard received")
				return
			}
			for category, entries := range leaderboard {
				for i, entry := range entries {
					c.logger.Info("%s #%d %s (%d)", category, i+1, entry.Name, entry.Value)
				}
			}
		})
	case "/ping":
		if c.ping != nil {
			c.logger.Info("Ping %s", c.ping())
		}
		return nil
	default:
		return fmt.Errorf("unknown command %s, try /help", name)
	}
}

func (c *Commands) who() {
	c.logger.Info("%d online", c.session.OnlineCount())
	for _, p := range c.session.Presence().Snapshot() {
		c.logger.Info("  %s (%s) %s", p.Name, p.ID, p.Mode)
	}
}

func parseColor(args []string) (gametypes.RGB, error) {
	if len(args) != 3 {
		return gametypes.RGB{}, fmt.Errorf("usage: /color <r> <g> <b>")
	}
	var channels [3]float64
	for i, arg := range args {
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil || v < 0 || v > 1 {
			return gametypes.RGB{}, fmt.Errorf("color channel %q must be a number in [0, 1]", arg)
		}
		channels[i] = v
	}
	return gametypes.RGB{R: channels[0], G: channels[1], B: channels[2]}, nil
}

func parseCount(args []string) (int, error) {
	if len(args) == 0 {
		return 1, nil
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("count %q must be a positive number", args[0])
	}
	return n, nil
}
