package main

import (
	"flag"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/born-ml/bdl/internal/checkpoint"
)

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	path := fs.String("checkpoint", "", "Checkpoint written by bdl train (required)")
	out := fs.String("out", "", "SafeTensors file to write (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *path == "" || *out == "" {
		return errors.New("export: -checkpoint and -out are required")
	}

	state, err := checkpoint.LoadFile(*path)
	if err != nil {
		return err
	}
	if err := state.WriteSafeTensorsFile(*out); err != nil {
		return err
	}
	ev := log.Info().Str("run_id", state.RunID).Str("path", *out).Int("tensors", len(state.Tensors))
	if info, err := os.Stat(*out); err == nil {
		ev = ev.Str("size", humanize.Bytes(uint64(info.Size())))
	}
	ev.Msg("exported")
	return nil
}
