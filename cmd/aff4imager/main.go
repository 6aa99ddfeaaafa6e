// Command aff4imager is a thin peripheral CLI over the aff4 facade
// (out of core scope per spec §1; kept only as an external-collaborator
// example per spec §6). It wires pflag the same way the teacher's cmd
// tree does, with none of cobra's command-tree machinery since this
// tool only ever needs three flat subcommands.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"

	"github.com/CarbonWolf/aff4/aff4"
	"github.com/CarbonWolf/aff4/internal/aff4rdf"
	"github.com/CarbonWolf/aff4/internal/image"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: aff4imager <create|extract|ls> [flags]")
	pflag.PrintDefaults()
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd := os.Args[1]

	var err error
	switch cmd {
	case "create":
		err = runCreate()
	case "extract":
		err = runExtract()
	case "ls":
		err = runLs()
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "aff4imager: %v\n", err)
		os.Exit(1)
	}
}

func runCreate() error {
	fs := pflag.NewFlagSet("create", pflag.ExitOnError)
	volumePath := fs.StringP("volume", "v", "", "path to the AFF4 volume to create or append to")
	inputPath := fs.StringP("input", "i", "", "path of the raw image file to ingest as an image stream")
	streamURN := fs.StringP("urn", "u", "", "URN to give the new stream (default: a fresh one)")
	chunkSize := fs.Int("chunk-size", image.DefaultChunkSize, "chunk size in bytes")
	chunksInSegment := fs.Int("chunks-in-segment", image.DefaultChunksInSegment, "chunks per bevy")
	fs.Parse(os.Args[2:])

	if *volumePath == "" || *inputPath == "" {
		return fmt.Errorf("create requires --volume and --input")
	}
	vol, err := aff4.Create(*volumePath, aff4rdf.NewURN(""), aff4.Options{})
	if err != nil {
		return err
	}

	urn := aff4rdf.NewURN(*streamURN)
	stream := vol.NewImageStream(urn, image.Options{ChunkSize: *chunkSize, ChunksInSegment: *chunksInSegment})

	in, err := os.Open(*inputPath)
	if err != nil {
		return err
	}
	defer in.Close()
	if _, err := io.Copy(stream, in); err != nil {
		return err
	}
	if err := stream.Close(); err != nil {
		return err
	}
	return vol.Close()
}

func runExtract() error {
	fs := pflag.NewFlagSet("extract", pflag.ExitOnError)
	volumePath := fs.StringP("volume", "v", "", "path to the AFF4 volume to read")
	streamURN := fs.StringP("urn", "u", "", "URN of the stream to extract")
	outputPath := fs.StringP("output", "o", "", "destination path (default: stdout)")
	fs.Parse(os.Args[2:])

	if *volumePath == "" || *streamURN == "" {
		return fmt.Errorf("extract requires --volume and --urn")
	}
	vol, err := aff4.Open(*volumePath, aff4.Options{})
	if err != nil {
		return err
	}
	defer vol.Close()

	urn := aff4rdf.NewURN(*streamURN)
	stream, err := vol.OpenStream(urn)
	if err != nil {
		return err
	}
	defer vol.Resolver().CacheReturn(urn)

	out := io.Writer(os.Stdout)
	if *outputPath != "" {
		f, err := os.Create(*outputPath)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}

	buf := make([]byte, 1<<20)
	var off int64
	for {
		n, err := stream.ReadAt(buf, off)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return werr
			}
			off += int64(n)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func runLs() error {
	fs := pflag.NewFlagSet("ls", pflag.ExitOnError)
	volumePath := fs.StringP("volume", "v", "", "path to the AFF4 volume to inspect")
	fs.Parse(os.Args[2:])

	if *volumePath == "" {
		return fmt.Errorf("ls requires --volume")
	}
	vol, err := aff4.Open(*volumePath, aff4.Options{})
	if err != nil {
		return err
	}
	defer vol.Close()

	for _, subject := range vol.Resolver().Store.Subjects() {
		fmt.Println(subject)
		os.Stdout.Write(vol.Statements(subject))
	}
	return nil
}
