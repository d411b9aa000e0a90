// Command delta-cache inspects and maintains the on-device delta source
// cache. It mirrors the operations the update agent performs so operators
// can seed, audit, and repair a device's cache by hand.
//
// Usage:
//
//	delta-cache [-root dir] [-v] <command> [args]
//
//	store <file> <provider> <version>   cache an image file
//	lookup <provider> <version>         list entries matching a version
//	list [provider]                     enumerate cached entries
//	info                                summarize the cache
//	verify <provider> [sha256-hash]     re-hash one entry or a whole provider
//	apply <source> <diff> <target>      apply a diff (bspatch, zstd-aware)
//	plan <manifest.json>                pick a reconstruction path
//	delete <provider> <sha256-hash>     remove an entry
//
// Exit code 0 on success, 1 on any failure; diagnostics go to stderr.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/opencontainers/go-digest"

	"github.com/Azure/adu-delta-cache/manifest"
	"github.com/Azure/adu-delta-cache/patch"
	"github.com/Azure/adu-delta-cache/plan"
	"github.com/Azure/adu-delta-cache/store"
)

const defaultRoot = "/var/lib/adu/sdc"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("delta-cache", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	root := fs.String("root", envOr("DELTA_CACHE_ROOT", defaultRoot), "cache root directory")
	verbose := fs.Bool("v", false, "enable debug logging")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: delta-cache [-root dir] [-v] <command> [args]")
		fmt.Fprintln(os.Stderr, "commands: store, lookup, list, info, verify, apply, plan, delete")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 1
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cmd, rest := fs.Arg(0), fs.Args()[1:]
	if err := dispatch(cmd, rest, *root, logger); err != nil {
		fmt.Fprintf(os.Stderr, "delta-cache: %v\n", err)
		return 1
	}
	return 0
}

func dispatch(cmd string, args []string, root string, logger *slog.Logger) error {
	openStore := func() (*store.Store, error) {
		return store.New(root, store.WithLogger(logger))
	}

	switch cmd {
	case "store":
		if len(args) != 3 {
			return errors.New("usage: store <file> <provider> <version>")
		}
		s, err := openStore()
		if err != nil {
			return err
		}
		entry, err := s.PutFile(args[1], args[2], args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s  %s/%s  %d bytes\n", entry.Digest, entry.Provider, entry.Version, entry.Size)
		return nil

	case "lookup":
		if len(args) != 2 {
			return errors.New("usage: lookup <provider> <version>")
		}
		s, err := openStore()
		if err != nil {
			return err
		}
		entries, err := s.Lookup(args[0], args[1])
		if err != nil {
			return err
		}
		printEntries(entries)
		return nil

	case "list":
		if len(args) > 1 {
			return errors.New("usage: list [provider]")
		}
		provider := ""
		if len(args) == 1 {
			provider = args[0]
		}
		s, err := openStore()
		if err != nil {
			return err
		}
		entries, err := s.List(provider)
		if err != nil {
			return err
		}
		printEntries(entries)
		return nil

	case "info":
		if len(args) != 0 {
			return errors.New("usage: info")
		}
		s, err := openStore()
		if err != nil {
			return err
		}
		return printInfo(s)

	case "verify":
		if len(args) < 1 || len(args) > 2 {
			return errors.New("usage: verify <provider> [sha256-hash]")
		}
		s, err := openStore()
		if err != nil {
			return err
		}
		if len(args) == 1 {
			if err := s.VerifyAll(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("all entries under %s verified\n", args[0])
			return nil
		}
		dgst, err := parseHashArg(args[1])
		if err != nil {
			return err
		}
		if err := s.Verify(args[0], dgst); err != nil {
			return err
		}
		fmt.Printf("%s/%s verified\n", args[0], dgst)
		return nil

	case "apply":
		if len(args) != 3 {
			return errors.New("usage: apply <source> <diff> <target>")
		}
		workDir, err := os.MkdirTemp("", "delta-cache-*")
		if err != nil {
			return err
		}
		defer os.RemoveAll(workDir)
		rawDiff, err := patch.NormalizeDiff(args[1], workDir)
		if err != nil {
			return err
		}
		return patch.Bspatch{}.Apply(context.Background(), args[0], rawDiff, args[2])

	case "plan":
		if len(args) != 1 {
			return errors.New("usage: plan <manifest.json>")
		}
		s, err := openStore()
		if err != nil {
			return err
		}
		return printPlan(s, args[0], logger)

	case "delete":
		if len(args) != 2 {
			return errors.New("usage: delete <provider> <sha256-hash>")
		}
		s, err := openStore()
		if err != nil {
			return err
		}
		dgst, err := parseHashArg(args[1])
		if err != nil {
			return err
		}
		return s.Delete(args[0], dgst)

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func printEntries(entries []store.Entry) {
	for _, e := range entries {
		fmt.Printf("%s  %s  %s  %d bytes  %s\n",
			e.Provider, e.Version, e.Digest, e.Size, e.CachedAt.Format("2006-01-02T15:04:05Z"))
	}
}

func printInfo(s *store.Store) error {
	entries, err := s.List("")
	if err != nil {
		return err
	}
	fmt.Printf("cache root: %s\n", s.Root())

	type stats struct {
		count int
		bytes int64
	}
	perProvider := map[string]*stats{}
	var total stats
	for _, e := range entries {
		st := perProvider[e.Provider]
		if st == nil {
			st = &stats{}
			perProvider[e.Provider] = st
		}
		st.count++
		st.bytes += e.Size
		total.count++
		total.bytes += e.Size
	}
	for _, e := range entries {
		if st, ok := perProvider[e.Provider]; ok {
			fmt.Printf("  %s: %d entries, %d bytes\n", e.Provider, st.count, st.bytes)
			delete(perProvider, e.Provider)
		}
	}
	fmt.Printf("total: %d entries, %d bytes\n", total.count, total.bytes)
	return nil
}

func printPlan(s *store.Store, manifestPath string, logger *slog.Logger) error {
	m, err := manifest.ParseFile(manifestPath)
	if err != nil {
		return err
	}
	candidates, err := m.DeltaCandidates()
	if err != nil {
		return err
	}
	p, err := plan.New(s, plan.WithLogger(logger)).Select(m.UpdateID.Provider, candidates)
	if err != nil {
		if errors.Is(err, plan.ErrNoViablePlan) {
			// A normal outcome: the caller downloads the full image.
			fmt.Println("full image required (no cached source matches)")
			return nil
		}
		return err
	}
	fmt.Printf("diff %s applies to cached %s (%s), yields %s %s\n",
		p.Candidate.Diff.Name, p.Source.Digest, p.Source.Version,
		m.UpdateID.Version, p.Candidate.TargetDigest)
	return nil
}

// parseHashArg accepts "sha256:<hex>", "sha256-<hex>" (the on-disk file
// name form), or a bare hex digest.
func parseHashArg(arg string) (digest.Digest, error) {
	arg = strings.TrimSpace(arg)
	var dgst digest.Digest
	switch {
	case strings.Contains(arg, ":"):
		dgst = digest.Digest(arg)
	case strings.HasPrefix(arg, "sha256-"):
		dgst = digest.NewDigestFromEncoded(digest.SHA256, strings.TrimPrefix(arg, "sha256-"))
	default:
		dgst = digest.NewDigestFromEncoded(digest.SHA256, arg)
	}
	if err := dgst.Validate(); err != nil {
		return "", fmt.Errorf("invalid hash %q: %w", arg, err)
	}
	return dgst, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
