// Command fat32cli inspects and writes into a FAT32 image file from the
// command line.
package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/urfave/cli/v2"

	"github.com/patchbay/fat32vol"
)

// listRow is the CSV projection of a directory entry for `ls --format=csv`.
type listRow struct {
	Name        string `csv:"name"`
	IsDirectory bool   `csv:"is_directory"`
	SizeBytes   int64  `csv:"size_bytes"`
}

func main() {
	app := &cli.App{
		Name:  "fat32cli",
		Usage: "inspect and write into a FAT32 image file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "image",
				Aliases:  []string{"i"},
				Usage:    "path to the FAT32 image file",
				Required: true,
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "ls",
				Usage:     "list a directory's contents",
				ArgsUsage: "[PATH]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "format",
						Usage: "output format: table or csv",
						Value: "table",
					},
				},
				Action: runLs,
			},
			{
				Name:      "cat",
				Usage:     "print a file's contents to stdout",
				ArgsUsage: "PATH",
				Action:    runCat,
			},
			{
				Name:      "put",
				Usage:     "copy a local file into the image, creating or overwriting it",
				ArgsUsage: "LOCAL_PATH IMAGE_PATH",
				Action:    runPut,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

func readImage(context *cli.Context) ([]byte, string, error) {
	imagePath := context.String("image")
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, "", fmt.Errorf("reading image %q: %w", imagePath, err)
	}
	return data, imagePath, nil
}

func runLs(context *cli.Context) error {
	data, _, err := readImage(context)
	if err != nil {
		return err
	}

	volume, err := fat32vol.Open(data)
	if err != nil {
		return err
	}

	path := context.Args().First()
	if path == "" {
		path = "/"
	}

	entries, err := volume.ListDirPath(path)
	if err != nil {
		return err
	}

	if context.String("format") == "csv" {
		rows := make([]listRow, len(entries))
		for i, e := range entries {
			rows[i] = listRow{Name: e.Name(), IsDirectory: e.IsDir(), SizeBytes: e.Size()}
		}
		out, err := gocsv.MarshalString(&rows)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	}

	for _, e := range entries {
		kind := "F"
		if e.IsDir() {
			kind = "D"
		}
		fmt.Printf("%s  %10d  %s\n", kind, e.Size(), e.Name())
	}
	return nil
}

func runCat(context *cli.Context) error {
	data, _, err := readImage(context)
	if err != nil {
		return err
	}

	path := context.Args().First()
	if path == "" {
		return cli.Exit("cat requires a path argument", 1)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	volume, err := fat32vol.Open(data)
	if err != nil {
		return err
	}

	contents, err := volume.ReadFileByPath(path)
	if err != nil {
		return err
	}

	_, err = os.Stdout.Write(contents)
	return err
}

func runPut(context *cli.Context) error {
	data, imagePath, err := readImage(context)
	if err != nil {
		return err
	}

	if context.Args().Len() != 2 {
		return cli.Exit("put requires LOCAL_PATH and IMAGE_PATH arguments", 1)
	}
	localPath := context.Args().Get(0)
	destPath := context.Args().Get(1)
	if !strings.HasPrefix(destPath, "/") {
		destPath = "/" + destPath
	}

	payload, err := os.ReadFile(localPath)
	if err != nil {
		return fmt.Errorf("reading local file %q: %w", localPath, err)
	}

	mutable, err := fat32vol.OpenMutable(data)
	if err != nil {
		return err
	}

	if err := mutable.WriteFileByPath(destPath, payload); err != nil {
		return err
	}

	return os.WriteFile(imagePath, data, 0o644)
}
