// Command flashprog is the console test surface for detecting, reading,
// programming, and verifying SPI/I2C/MicroWire memory chips over a CH341A
// or FTDI MPSSE USB programmer, per distilled spec §6.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/flashprog/flashprog/adapter"
	"github.com/flashprog/flashprog/adapter/ch341"
	"github.com/flashprog/flashprog/adapter/ftdi"
	"github.com/flashprog/flashprog/chipdb"
	"github.com/flashprog/flashprog/orchestrator"
	"github.com/flashprog/flashprog/progctl"
)

type config struct {
	adapterKind string
	device      string
	chipDBPath  string
	speed       string
	op          string
	addr        uint64
	length      uint64
	eraseKind   string
	inFile      string
	outFile     string
	verbose     bool
}

// parseFlags builds a config from args, falling back to the FLASHPROG_*
// environment variables the way guiperry-HASHER's ParseFlags/LoadEnv pair
// does, flags taking priority over env when both are set.
func parseFlags(f *flag.FlagSet, args []string) (*config, error) {
	c := &config{}
	f.StringVar(&c.adapterKind, "adapter", envOr("FLASHPROG_ADAPTER", "ftdi"), "adapter backend: ch341 or ftdi")
	f.StringVar(&c.device, "device", envOr("FLASHPROG_DEVICE", ""), "device path or index (empty selects the first one found)")
	f.StringVar(&c.chipDBPath, "chipdb", envOr("FLASHPROG_CHIPDB", ""), "chip database XML path (empty runs with an empty database)")
	f.StringVar(&c.speed, "speed", envOr("FLASHPROG_SPEED", "normal"), "SPI clock tier: slow, normal, fast")
	f.StringVar(&c.op, "op", "detect", "operation: detect, read, program, verify, erase")
	f.Uint64Var(&c.addr, "addr", 0, "start address")
	f.Uint64Var(&c.length, "length", 0, "length in bytes (read/verify/erase range)")
	f.StringVar(&c.eraseKind, "erase-kind", "sector", "erase granularity: chip, block, sector, range")
	f.StringVar(&c.inFile, "in", "", "input image file for -op program")
	f.StringVar(&c.outFile, "out", "", "output image file for -op read")
	f.BoolVar(&c.verbose, "v", false, "enable debug logging")
	if err := f.Parse(args); err != nil {
		return nil, err
	}
	return c, nil
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func speedTier(s string) adapter.SpeedTier {
	switch s {
	case "slow":
		return adapter.SpeedSlow
	case "fast":
		return adapter.SpeedFast
	default:
		return adapter.SpeedNormal
	}
}

func newAdapter(kind string) (adapter.Adapter, error) {
	switch kind {
	case "ch341":
		return ch341.New(), nil
	case "ftdi":
		return ftdi.New(), nil
	default:
		return nil, fmt.Errorf("unknown -adapter %q, want ch341 or ftdi", kind)
	}
}

// stage prints one numbered line, then runs fn and prints its one-line
// outcome, per distilled spec §6's "stages printed numbered, each with a
// one-line outcome".
func stage(n int, name string, fn func() error) error {
	fmt.Printf("[%d] %s... ", n, name)
	if err := fn(); err != nil {
		fmt.Printf("FAILED: %v\n", err)
		return err
	}
	fmt.Println("ok")
	return nil
}

func eraseKindFromString(s string) (orchestrator.EraseKind, error) {
	switch s {
	case "chip":
		return orchestrator.EraseChip, nil
	case "block":
		return orchestrator.EraseBlock, nil
	case "sector":
		return orchestrator.EraseSector, nil
	case "range":
		return orchestrator.EraseRange, nil
	default:
		return 0, fmt.Errorf("unknown -erase-kind %q", s)
	}
}

func run(ctx context.Context, log *slog.Logger, c *config) error {
	stageNum := 0
	db := chipdb.New()
	if c.chipDBPath != "" {
		stageNum++
		if err := stage(stageNum, "load chip database "+c.chipDBPath, func() error {
			f, err := os.Open(c.chipDBPath)
			if err != nil {
				return err
			}
			defer f.Close()
			return chipdb.Load(f, db)
		}); err != nil {
			return err
		}
	}

	a, err := newAdapter(c.adapterKind)
	if err != nil {
		return err
	}
	sess := orchestrator.NewSession(db)
	sess.Status.OnStatus(func(s progctl.Status) { log.Debug("session status", "status", s.String()) })

	stageNum++
	if err := stage(stageNum, fmt.Sprintf("open %s adapter", c.adapterKind), func() error {
		return sess.Connect(ctx, a, c.device)
	}); err != nil {
		return err
	}
	defer sess.Disconnect()

	if err := a.SetSpeed(speedTier(c.speed)); err != nil {
		log.Warn("SetSpeed failed", "err", err)
	}

	stageNum++
	var desc chipdb.Descriptor
	if err := stage(stageNum, "detect chip", func() error {
		var derr error
		desc, derr = sess.Detect(ctx, chipdb.ProtocolSPI, chipdb.Descriptor{})
		if derr != nil {
			return derr
		}
		fmt.Printf("     found %s\n", desc.Label())
		return nil
	}); err != nil {
		return err
	}
	stageNum++

	switch c.op {
	case "detect":
		return nil
	case "read":
		var data []byte
		if err := stage(stageNum, "read memory", func() error {
			var rerr error
			data, rerr = sess.ReadMemory(ctx, c.addr, uint32(c.length))
			return rerr
		}); err != nil {
			return err
		}
		if c.outFile != "" {
			return os.WriteFile(c.outFile, data, 0o644)
		}
		hexDump(os.Stdout, uint32(c.addr), data)
		return nil
	case "program":
		if c.inFile == "" {
			return fmt.Errorf("-op program requires -in")
		}
		data, err := os.ReadFile(c.inFile)
		if err != nil {
			return err
		}
		return stage(stageNum, "program and verify", func() error {
			return sess.ProgramAndVerify(ctx, c.addr, data)
		})
	case "verify":
		if c.inFile == "" {
			return fmt.Errorf("-op verify requires -in")
		}
		data, err := os.ReadFile(c.inFile)
		if err != nil {
			return err
		}
		return stage(stageNum, "verify memory", func() error {
			ok, verr := sess.VerifyMemory(ctx, c.addr, data)
			if verr != nil {
				return verr
			}
			if !ok {
				return fmt.Errorf("verify mismatch")
			}
			return nil
		})
	case "erase":
		kind, err := eraseKindFromString(c.eraseKind)
		if err != nil {
			return err
		}
		return stage(stageNum, "erase ("+c.eraseKind+")", func() error {
			_, _, eerr := sess.Erase(ctx, kind, c.addr, c.length)
			return eerr
		})
	default:
		return fmt.Errorf("unknown -op %q", c.op)
	}
}

func main() {
	c, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		os.Exit(1)
	}
	level := slog.LevelInfo
	if c.verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := run(context.Background(), log, c); err != nil {
		log.Error("flashprog failed", "err", err)
		os.Exit(1)
	}
}
