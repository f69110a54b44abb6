// Command zipdump inspects a ZIP archive through the zip package, without
// extracting it to disk first.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/archivefs/zipback/internal/zip"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: zipdump <ls|cat|stat> <archive.zip> [path]")
		os.Exit(2)
	}
	cmd, archivePath := os.Args[1], os.Args[2]

	a, err := zip.Mount(archivePath)
	if err != nil {
		slog.Error("mount failed", "archive", archivePath, "err", err)
		os.Exit(1)
	}

	var path string
	if len(os.Args) > 3 {
		path = os.Args[3]
	}

	var runErr error
	switch cmd {
	case "ls":
		runErr = runLs(a, path)
	case "cat":
		runErr = runCat(a, path)
	case "stat":
		runErr = runStat(a, path)
	default:
		fmt.Fprintln(os.Stderr, "unknown subcommand:", cmd)
		os.Exit(2)
	}
	if runErr != nil {
		slog.Error(cmd+" failed", "archive", archivePath, "path", path, "err", runErr)
		os.Exit(1)
	}
}

func runLs(a *zip.Archive, dir string) error {
	var names zip.SliceCollector
	if err := a.EnumerateFiles(dir, false, &names); err != nil {
		return err
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

func runCat(a *zip.Archive, path string) error {
	f, err := a.OpenRead(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(os.Stdout, f)
	return err
}

func runStat(a *zip.Archive, path string) error {
	isDir, err := a.IsDirectory(path)
	if err != nil {
		return err
	}
	isLink, err := a.IsSymLink(path)
	if err != nil {
		return err
	}
	modTime, err := a.GetLastModTime(path)
	if err != nil {
		return err
	}
	fmt.Printf("path:       %s\n", path)
	fmt.Printf("directory:  %v\n", isDir)
	fmt.Printf("symlink:    %v\n", isLink)
	fmt.Printf("lastmodtime: %d\n", modTime)

	if !isDir {
		f, err := a.OpenRead(path)
		if err != nil {
			return err
		}
		defer f.Close()
		fmt.Printf("size:       %d\n", f.Size())
	}
	return nil
}
