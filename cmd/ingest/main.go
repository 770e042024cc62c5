// ingest сверяет файлы краулера без HTTP-сервера. Один файл - один прогон сайта;
// сайт берётся из имени файла <site>_<timestamp>.<ext> или из -site.
//
//	ingest -dir ./results
//	ingest -site shop-a dump-liquids.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"vape-recon/internal/config"
	"vape-recon/internal/fileio"
	"vape-recon/internal/reconcile/model"
	"vape-recon/internal/reconcile/service"
	"vape-recon/internal/storage"
)

func main() { os.Exit(run()) }

func run() int {
	dir := flag.String("dir", "", "directory with crawler result files")
	site := flag.String("site", "", "seller site name (default: from file name)")
	envFile := flag.String("env", "", "optional .env file")
	flag.Parse()

	files, err := collectFiles(*dir, flag.Args())
	if err != nil {
		fmt.Fprintln(os.Stderr, "ingest:", err)
		return 2
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "usage: ingest [-site NAME] [-dir DIR] [FILE...]")
		return 2
	}

	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Error().Err(err).Msg("config")
		return 2
	}
	logger := config.SetupLogger(cfg)

	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		logger.Error().Err(err).Msg("policy")
		return 2
	}
	norm, err := service.NewNormalizer(policy)
	if err != nil {
		logger.Error().Err(err).Msg("normalizer")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.StoreOptions(), logger)
	if err != nil {
		logger.Error().Err(err).Msg("store")
		return 1
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		logger.Error().Err(err).Msg("migrate")
		return 1
	}

	reconciler := service.NewReconciler(store, norm, cfg.Match, cfg.DefaultCompany, logger)
	enc := json.NewEncoder(os.Stdout)
	code := 0
	for _, path := range files {
		if ctx.Err() != nil {
			logger.Warn().Msg("interrupted")
			return 1
		}
		s := *site
		if s == "" {
			s = siteFromName(path)
		}
		listings, err := readFile(path, s)
		if err != nil {
			logger.Error().Err(err).Str("file", path).Msg("read")
			code = 1
			continue
		}
		rep := reconciler.ReconcileBatch(ctx, s, listings)
		_ = enc.Encode(rep)
		if rep.Failed > 0 {
			code = 1
		}
	}
	return code
}

func readFile(path, site string) (map[string][]model.RawListing, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return fileio.ReadListings(f, filepath.Base(path), site)
}

var supported = map[string]bool{".json": true, ".csv": true, ".xlsx": true, ".xls": true}

// collectFiles: файлы каталога по имени (timestamp в имени даёт хронологию), затем аргументы.
func collectFiles(dir string, args []string) ([]string, error) {
	var out []string
	if dir != "" {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !e.IsDir() && supported[strings.ToLower(filepath.Ext(e.Name()))] {
				out = append(out, filepath.Join(dir, e.Name()))
			}
		}
		sort.Strings(out)
	}
	return append(out, args...), nil
}

// siteFromName: "shop-a_20260301T1200.json" → "shop-a".
func siteFromName(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if i := strings.LastIndex(base, "_"); i > 0 {
		return base[:i]
	}
	return base
}
