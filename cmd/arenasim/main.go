package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/park285/mill-arena/internal/arena"
	"github.com/park285/mill-arena/internal/events"
	"github.com/park285/mill-arena/internal/millclient"
	"github.com/park285/mill-arena/internal/obslog"
	"github.com/park285/mill-arena/pkg/milldto"
)

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()

	app := &cli.App{
		Name:  "arenasim",
		Usage: "fill an arena with random-move bots and print the final standings",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Value: "http://localhost:8080", EnvVars: []string{"MILL_SERVER"}, Usage: "server base URL"},
			&cli.StringFlag{Name: "arena", Usage: "join an existing arena instead of creating one"},
			&cli.StringFlag{Name: "name", Value: "Bot Arena", Usage: "name of the created arena"},
			&cli.StringFlag{Name: "category", Value: "bullet", Usage: "time category of the created arena"},
			&cli.IntFlag{Name: "duration", Value: 5, Usage: "duration of the created arena in minutes"},
			&cli.BoolFlag{Name: "rated", Value: true, Usage: "create a rated arena"},
			&cli.IntFlag{Name: "bots", Aliases: []string{"n"}, Value: 8, Usage: "number of bots"},
			&cli.StringFlag{Name: "prefix", Value: "bot", Usage: "bot player id prefix"},
			&cli.Float64Flag{Name: "berserk", Value: 0.2, Usage: "chance a bot goes berserk at game start"},
			&cli.DurationFlag{Name: "move-delay", Value: 300 * time.Millisecond, Usage: "pause before each bot move"},
			&cli.Uint64Flag{Name: "seed", Usage: "random seed; 0 picks one"},
		},
		Action: run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	ctx := c.Context
	n := c.Int("bots")
	if n < 2 {
		return errors.New("need at least two bots")
	}
	server := c.String("server")
	prefix := c.String("prefix")
	seed := c.Uint64("seed")
	if seed == 0 {
		seed = rand.Uint64()
	}

	admin := millclient.New(server, prefix+"-host")
	arenaID := c.String("arena")
	if arenaID == "" {
		snap, err := admin.CreateArena(ctx, milldto.CreateArenaRequest{
			Name:            c.String("name"),
			Category:        c.String("category"),
			DurationMinutes: c.Int("duration"),
			Rated:           c.Bool("rated"),
		})
		if err != nil {
			return fmt.Errorf("create arena: %w", err)
		}
		arenaID = snap.ArenaID
		fmt.Printf("created arena %s (%s, ends %s)\n", arenaID, snap.Category, snap.EndsAt.Format(time.RFC3339))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var once sync.Once
	done := make(chan struct{})

	grp, gctx := errgroup.WithContext(ctx)
	for i := range n {
		player := fmt.Sprintf("%s-%02d", prefix, i+1)
		client := millclient.New(server, player)
		stream, err := client.Dial(gctx)
		if err != nil {
			return fmt.Errorf("dial %s: %w", player, err)
		}
		defer stream.Close()
		if err := stream.Send(gctx, milldto.ClientMessage{Type: milldto.ActionSubscribe, ArenaID: arenaID}); err != nil {
			return fmt.Errorf("subscribe %s: %w", player, err)
		}
		if err := client.JoinArena(gctx, arenaID); err != nil {
			return fmt.Errorf("join %s: %w", player, err)
		}
		bot := &millclient.Bot{
			Player:        player,
			Rand:          rand.New(rand.NewPCG(seed, uint64(i))),
			BerserkChance: c.Float64("berserk"),
			MoveDelay:     c.Duration("move-delay"),
			OnFinished: func(ev events.GameFinished) {
				obslog.L().Debug("sim_game_finished",
					zap.String("player_id", player),
					zap.String("game_id", ev.SessionID),
					zap.String("outcome", string(ev.Outcome)),
				)
			},
			OnArenaPhase: func(ev events.ArenaPhaseChanged) {
				if ev.ArenaID == arenaID && ev.To == string(arena.PhaseFinished) {
					once.Do(func() { close(done) })
				}
			},
		}
		grp.Go(func() error { return bot.Run(gctx, stream) })
	}
	fmt.Printf("%d bots joined %s\n", n, arenaID)

	select {
	case <-done:
	case <-gctx.Done():
		cancel()
		if err := grp.Wait(); err != nil {
			return err
		}
		return ctx.Err()
	}

	snap, err := waitFinal(ctx, admin, arenaID)
	cancel()
	_ = grp.Wait()
	if err != nil {
		return err
	}
	printStandings(snap)
	return nil
}

// waitFinal polls until the arena has settled its last games.
func waitFinal(ctx context.Context, c *millclient.Client, arenaID string) (*arena.Snapshot, error) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		snap, err := c.Standings(ctx, arenaID)
		if err != nil {
			return nil, fmt.Errorf("standings: %w", err)
		}
		if snap.Final {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-t.C:
		}
	}
}

func printStandings(snap *arena.Snapshot) {
	fmt.Printf("\n%s (%s)\n", snap.Name, snap.ArenaID)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tPLAYER\tSCORE\tGAMES\tSHEET")
	for _, row := range snap.Standings {
		fire := ""
		if row.OnFire {
			fire = " *"
		}
		fmt.Fprintf(w, "%d\t%s%s\t%d\t%d\t%v\n", row.Rank, row.PlayerID, fire, row.Score, row.Games, row.Sheet)
	}
	_ = w.Flush()
}
