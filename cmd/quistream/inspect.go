// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/autobrr/quistream/internal/descriptor"
)

type inspectOutput struct {
	Torrent  *descriptor.Descriptor `json:"torrent" yaml:"torrent"`
	Release  descriptor.Release     `json:"release" yaml:"release"`
	Playable *descriptor.File       `json:"playable,omitempty" yaml:"playable,omitempty"`
	// Pieces is the inclusive piece span of the playable file.
	Pieces []int `json:"pieces,omitempty" yaml:"pieces,omitempty,flow"`
}

func RunInspectCommand() *cobra.Command {
	var (
		format     string
		extensions []string
	)

	cmd := &cobra.Command{
		Use:   "inspect <file.torrent>",
		Short: "Show the files of a .torrent and which one would be streamed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := inspectTorrent(args[0], extensions)
			if err != nil {
				return err
			}
			return writeInspect(cmd.OutOrStdout(), format, out)
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", "text", "Output format: text, json or yaml")
	cmd.Flags().StringSliceVar(&extensions, "ext", nil, "Playable extensions (default .mkv,.mp4)")

	return cmd
}

func inspectTorrent(path string, extensions []string) (*inspectOutput, error) {
	mi, err := metainfo.LoadFromFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read %s", path)
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return nil, errors.Wrapf(err, "could not decode info dictionary of %s", path)
	}

	desc, err := descriptor.FromInfo(mi.HashInfoBytes().HexString(), &info)
	if err != nil {
		return nil, err
	}

	out := &inspectOutput{
		Torrent: desc,
		Release: descriptor.ParseRelease(desc.Name),
	}
	if file, err := desc.PlayableFile("", extensions); err == nil {
		first, last := desc.Pieces(file)
		out.Playable = &file
		out.Pieces = []int{first, last}
	}
	return out, nil
}

func writeInspect(w io.Writer, format string, out *inspectOutput) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(out); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
		return writeInspectText(w, out)
	default:
		return errors.Errorf("unknown output format %q", format)
	}
}

func writeInspectText(w io.Writer, out *inspectOutput) error {
	d := out.Torrent
	if _, err := fmt.Fprintf(w, "Name:       %s\nInfo hash:  %s\nSize:       %s\nPieces:     %d x %s\n",
		d.Name, d.InfoHash, humanize.IBytes(uint64(d.TotalLength)), d.PieceCount, humanize.IBytes(uint64(d.PieceLength))); err != nil {
		return err
	}

	fmt.Fprintf(w, "Files:      %d\n", len(d.Files))
	for _, f := range d.Files {
		marker := " "
		if out.Playable != nil && out.Playable.Index == f.Index {
			marker = "*"
		}
		fmt.Fprintf(w, "  %s [%d] %s (%s)\n", marker, f.Index, f.Path, humanize.IBytes(uint64(f.Length)))
	}

	if out.Playable == nil {
		_, err := fmt.Fprintln(w, "Playable:   none")
		return err
	}
	_, err := fmt.Fprintf(w, "Playable:   %s, pieces %d-%d\n", out.Playable.Path, out.Pieces[0], out.Pieces[1])
	return err
}
