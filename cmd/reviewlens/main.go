package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"reviewlens/internal/config"
	"reviewlens/internal/domain"
	"reviewlens/internal/embedding"
	"reviewlens/internal/embedding/hash"
	openaiemb "reviewlens/internal/embedding/openai"
	"reviewlens/internal/export"
	"reviewlens/internal/llm"
	"reviewlens/internal/logging"
	"reviewlens/internal/scraper"
	"reviewlens/internal/service"
	"reviewlens/internal/tui"
	"reviewlens/internal/vectorstore"
	"reviewlens/internal/vectorstore/local"
	"reviewlens/internal/vectorstore/memory"
	"reviewlens/internal/vectorstore/qdrant"
)

// errUsage makes a command exit with code 2 after the usage text.
var errUsage = errors.New("usage")

func main() {
	_ = godotenv.Load()

	globals := flag.NewFlagSet("reviewlens", flag.ExitOnError)
	cfgPath := globals.String("config", "", "path to YAML config (default: ./config.yaml, then ~/.config/reviewlens/config.yaml)")
	logLevel := globals.String("log-level", "", "override log level (debug, info, warn, error)")
	logJSON := globals.Bool("log-json", false, "JSON logs instead of console format")
	globals.Usage = usage
	_ = globals.Parse(os.Args[1:])

	args := globals.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	cfg, origin, err := loadConfig(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: load config: %v\n", err)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logJSON {
		cfg.Log.JSON = true
	}
	log := logging.New(cfg.Log.Level, cfg.Log.JSON)
	log.Debug().Str("config", origin).Msg("configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{cfg: cfg, log: log}
	if err := dispatch(ctx, a, args[0], args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		printErr(err)
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, a *app, name string, args []string) error {
	switch name {
	case "scrape":
		return runScrape(ctx, a, args)
	case "ask":
		return runAsk(ctx, a, args)
	case "search":
		return runSearch(ctx, a, args)
	case "analyze":
		return runAnalyze(ctx, a, args)
	case "summary":
		return runSummary(ctx, a, args)
	case "stats":
		return runStats(ctx, a, args)
	case "list-businesses", "list":
		return runList(ctx, a, args)
	case "info":
		return runInfo(ctx, a, args)
	case "delete":
		return runDelete(ctx, a, args)
	case "export":
		return runExport(ctx, a, args)
	case "import":
		return runImport(ctx, a, args)
	case "interactive", "chat":
		return runInteractive(ctx, a, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		usage()
		return errUsage
	}
}

// app carries the loaded config and logger into the command runners, which
// assemble only the collaborators their command needs.
type app struct {
	cfg *config.AppConfig
	log zerolog.Logger
}

func (a *app) embedder() (embedding.Embedder, error) {
	var emb embedding.Embedder
	switch a.cfg.Embedding.Backend {
	case "hash":
		emb = hash.New(a.cfg.Embedding.HashDimension)
	case "openai":
		client, err := openaiemb.NewClient(openaiemb.Config{
			BaseURL:      a.cfg.Embedding.BaseURL,
			APIKeyEnv:    a.cfg.Embedding.APIKeyEnv,
			Model:        a.cfg.Embedding.Model,
			Timeout:      time.Duration(a.cfg.Embedding.TimeoutSecs) * time.Second,
			RateLimitRPS: a.cfg.Embedding.RateLimitRPS,
		}, a.log)
		if err != nil {
			return nil, err
		}
		emb = client
	default:
		return nil, domain.Ef(domain.KindValidation, "unknown embedding backend %q", a.cfg.Embedding.Backend)
	}
	return embedding.Cached(emb, a.cfg.Embedding.CacheSize)
}

func (a *app) storage() (vectorstore.Storage, error) {
	switch a.cfg.Storage.Backend {
	case "local":
		return local.New(a.cfg.Storage.Path, a.cfg.Storage.Collection, a.log)
	case "memory":
		return memory.NewStorage(), nil
	case "qdrant":
		q := a.cfg.Storage.Qdrant
		return qdrant.NewStorage(qdrant.Config{
			URL:        q.URL,
			APIKeyEnv:  q.APIKeyEnv,
			Collection: a.cfg.Storage.Collection,
			Timeout:    time.Duration(q.TimeoutSecs) * time.Second,
		}, a.log), nil
	default:
		return nil, domain.Ef(domain.KindValidation, "unknown storage backend %q", a.cfg.Storage.Backend)
	}
}

func (a *app) generator() (*llm.Generator, error) {
	return llm.New(llm.Config{
		Model:              a.cfg.LLM.Model,
		BaseURL:            a.cfg.LLM.BaseURL,
		APIKeyEnv:          a.cfg.LLM.APIKeyEnv,
		Temperature:        a.cfg.LLM.TemperatureValue(),
		MaxTokens:          a.cfg.LLM.MaxTokens,
		Timeout:            time.Duration(a.cfg.LLM.TimeoutSecs) * time.Second,
		ContextTokenBudget: a.cfg.LLM.ContextTokenBudget,
	}, a.log)
}

// service assembles the pipeline. Commands that never generate run without
// an LLM client, so they work with no API key configured.
func (a *app) service(withLLM bool) (*service.Service, vectorstore.Storage, error) {
	emb, err := a.embedder()
	if err != nil {
		return nil, nil, err
	}
	store, err := a.storage()
	if err != nil {
		return nil, nil, err
	}
	var gen service.Generator
	if withLLM {
		g, err := a.generator()
		if err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		gen = g
	}
	svc := service.New(emb, store, gen, service.Config{
		Dedupe:  a.cfg.Retrieval.Dedupe,
		Workers: a.cfg.Embedding.Workers,
	}, a.log)
	return svc, store, nil
}

// metaService is for list, info and delete: pure store operations that
// never embed and never generate.
func (a *app) metaService() (*service.Service, vectorstore.Storage, error) {
	store, err := a.storage()
	if err != nil {
		return nil, nil, err
	}
	svc := service.New(nil, store, nil, service.Config{}, a.log)
	return svc, store, nil
}

func runScrape(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("scrape", flag.ExitOnError)
	url := fs.String("url", "", "Google Maps place URL (required)")
	business := fs.String("business", "", "override the business name used for indexing")
	maxReviews := fs.Int("max", a.cfg.Scraper.MaxReviews, "maximum reviews to collect")
	years := fs.Int("years", a.cfg.Scraper.YearLimit, "keep reviews newer than this many years (0 = no cutoff)")
	csvOut := fs.String("csv", "", "also write the scraped reviews to this CSV file")
	jsonOut := fs.String("json", "", "also write the scraped reviews to this JSON file")
	noIndex := fs.Bool("no-index", false, "scrape and export only, skip indexing")
	headful := fs.Bool("headful", false, "run the browser with a visible window")
	_ = fs.Parse(args)
	if strings.TrimSpace(*url) == "" {
		fmt.Fprintln(os.Stderr, "scrape: -url is required")
		return errUsage
	}

	sc := scraper.New(scraper.Config{
		Headless:   a.cfg.Scraper.HeadlessOn() && !*headful,
		Timeout:    time.Duration(a.cfg.Scraper.TimeoutSecs) * time.Second,
		NavTimeout: time.Duration(a.cfg.Scraper.NavTimeoutSecs) * time.Second,
		MaxReviews: *maxReviews,
		YearLimit:  *years,
	}, a.log)

	info, reviews, err := sc.Scrape(ctx, *url)
	if err != nil {
		return err
	}
	name := strings.TrimSpace(*business)
	if name == "" {
		name = info.Name
	}
	if name == "" {
		return domain.Ef(domain.KindScrape, "could not determine the business name; pass -business")
	}
	fmt.Printf("Scraped %d reviews from %q\n", len(reviews), name)

	if *csvOut != "" {
		if err := export.SaveCSV(*csvOut, reviews); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", *csvOut)
	}
	if *jsonOut != "" {
		if err := export.SaveJSON(*jsonOut, reviews); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", *jsonOut)
	}
	if *noIndex {
		return nil
	}

	svc, store, err := a.service(false)
	if err != nil {
		return err
	}
	defer store.Close()
	n, err := svc.Index(ctx, name, reviews)
	if err != nil {
		return err
	}
	fmt.Printf("Indexed %d reviews under %q\n", n, name)
	return nil
}

func runAsk(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	business := fs.String("business", "", "restrict retrieval to one business")
	topK := fs.Int("k", a.cfg.Retrieval.TopK, "number of reviews to ground the answer on")
	_ = fs.Parse(args)
	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		fmt.Fprintln(os.Stderr, `ask: the question goes after the flags, e.g.
  reviewlens ask -business "Cafe X" how is the coffee?`)
		return errUsage
	}

	svc, store, err := a.service(true)
	if err != nil {
		return err
	}
	defer store.Close()
	ans, err := svc.Ask(ctx, query, *business, *topK)
	if err != nil {
		return err
	}
	printAnswer(ans)
	return nil
}

func runSearch(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	business := fs.String("business", "", "restrict the search to one business")
	topK := fs.Int("k", a.cfg.Retrieval.TopK, "number of reviews to return")
	_ = fs.Parse(args)
	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		fmt.Fprintln(os.Stderr, "search: the query goes after the flags")
		return errUsage
	}

	svc, store, err := a.service(false)
	if err != nil {
		return err
	}
	defer store.Close()
	res, err := svc.Search(ctx, query, *business, *topK)
	if err != nil {
		return err
	}
	if len(res) == 0 {
		fmt.Println("No matching reviews.")
		return nil
	}
	for i, sr := range res {
		fmt.Printf("%d. %s\n", i+1, reviewLine(sr))
		text := strings.TrimSpace(sr.Review.Content)
		if text == "" {
			text = "(no written review)"
		}
		fmt.Printf("   %s\n", text)
	}
	return nil
}

func runAnalyze(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	business := fs.String("business", "", "business to analyze (required)")
	_ = fs.Parse(args)
	if strings.TrimSpace(*business) == "" {
		fmt.Fprintln(os.Stderr, "analyze: -business is required")
		return errUsage
	}

	svc, store, err := a.service(true)
	if err != nil {
		return err
	}
	defer store.Close()
	ans, err := svc.Analyze(ctx, *business)
	if err != nil {
		return err
	}
	printAnswer(ans)
	return nil
}

func runSummary(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	business := fs.String("business", "", "business to summarize (required)")
	_ = fs.Parse(args)
	if strings.TrimSpace(*business) == "" {
		fmt.Fprintln(os.Stderr, "summary: -business is required")
		return errUsage
	}

	svc, store, err := a.service(true)
	if err != nil {
		return err
	}
	defer store.Close()
	ans, err := svc.Summary(ctx, *business)
	if err != nil {
		return err
	}
	printAnswer(ans)
	return nil
}

func runStats(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	business := fs.String("business", "", "business to aggregate (required)")
	_ = fs.Parse(args)
	if strings.TrimSpace(*business) == "" {
		fmt.Fprintln(os.Stderr, "stats: -business is required")
		return errUsage
	}

	svc, store, err := a.service(false)
	if err != nil {
		return err
	}
	defer store.Close()
	st, err := svc.Stats(ctx, *business)
	if err != nil {
		return err
	}
	printStats(st)
	return nil
}

func runList(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("list-businesses", flag.ExitOnError)
	_ = fs.Parse(args)

	svc, store, err := a.metaService()
	if err != nil {
		return err
	}
	defer store.Close()
	names, err := svc.ListBusinesses(ctx)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("The store is empty.")
		return nil
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}

func runInfo(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	_ = fs.Parse(args)

	svc, store, err := a.metaService()
	if err != nil {
		return err
	}
	defer store.Close()
	info, err := svc.Info(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Records: %d\n", info.TotalRecords)
	if info.SizeBytes > 0 {
		fmt.Printf("Vectors: %.1f KiB\n", float64(info.SizeBytes)/1024)
	}
	if len(info.PerBusiness) > 0 {
		fmt.Println("Per business:")
		names := make([]string, 0, len(info.PerBusiness))
		for n := range info.PerBusiness {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			fmt.Printf("  %s: %d\n", n, info.PerBusiness[n])
		}
	}
	return nil
}

func runDelete(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	business := fs.String("business", "", "business to remove (required)")
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	_ = fs.Parse(args)
	if strings.TrimSpace(*business) == "" {
		fmt.Fprintln(os.Stderr, "delete: -business is required")
		return errUsage
	}
	if !*yes {
		fmt.Printf("Delete all indexed reviews for %q? [y/N] ", *business)
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
		default:
			fmt.Println("Aborted.")
			return nil
		}
	}

	svc, store, err := a.metaService()
	if err != nil {
		return err
	}
	defer store.Close()
	removed, err := svc.Delete(ctx, *business)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d reviews for %q\n", removed, *business)
	return nil
}

func runExport(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	business := fs.String("business", "", "business to export (required)")
	out := fs.String("out", "", "output file (required)")
	format := fs.String("format", "", "csv or json (default: from the file extension)")
	_ = fs.Parse(args)
	if strings.TrimSpace(*business) == "" || strings.TrimSpace(*out) == "" {
		fmt.Fprintln(os.Stderr, "export: -business and -out are required")
		return errUsage
	}

	svc, store, err := a.service(false)
	if err != nil {
		return err
	}
	defer store.Close()
	reviews, err := svc.BusinessReviews(ctx, *business)
	if err != nil {
		return err
	}
	if len(reviews) == 0 {
		fmt.Printf("No indexed reviews for %q.\n", *business)
		return nil
	}

	f := strings.ToLower(*format)
	if f == "" {
		switch {
		case strings.HasSuffix(strings.ToLower(*out), ".csv"):
			f = "csv"
		case strings.HasSuffix(strings.ToLower(*out), ".json"):
			f = "json"
		}
	}
	switch f {
	case "csv":
		err = export.SaveCSV(*out, reviews)
	case "json":
		err = export.SaveJSON(*out, reviews)
	default:
		fmt.Fprintf(os.Stderr, "export: cannot tell the format of %q; pass -format csv|json\n", *out)
		return errUsage
	}
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %d reviews to %s\n", len(reviews), *out)
	return nil
}

func runImport(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	file := fs.String("file", "", "JSON export to read (required)")
	business := fs.String("business", "", "business name to index under (required)")
	_ = fs.Parse(args)
	if strings.TrimSpace(*file) == "" || strings.TrimSpace(*business) == "" {
		fmt.Fprintln(os.Stderr, "import: -file and -business are required")
		return errUsage
	}

	reviews, err := export.LoadJSON(*file)
	if err != nil {
		return err
	}
	if len(reviews) == 0 {
		return domain.Ef(domain.KindValidation, "no reviews in %s", *file)
	}

	svc, store, err := a.service(false)
	if err != nil {
		return err
	}
	defer store.Close()
	n, err := svc.Index(ctx, *business, reviews)
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d reviews under %q\n", n, *business)
	return nil
}

func runInteractive(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("interactive", flag.ExitOnError)
	business := fs.String("business", "", "start focused on one business")
	topK := fs.Int("k", a.cfg.Retrieval.TopK, "number of reviews to ground answers on")
	_ = fs.Parse(args)

	svc, store, err := a.service(true)
	if err != nil {
		return err
	}
	defer store.Close()

	m := tui.New(ctx, svc, strings.TrimSpace(*business), *topK)
	_, err = tea.NewProgram(m).Run()
	return err
}

func loadConfig(path string) (*config.AppConfig, string, error) {
	if path != "" {
		cfg, err := config.Load(path)
		return cfg, path, err
	}
	return config.LoadDefault()
}

func printAnswer(ans domain.Answer) {
	line := strings.Repeat("=", 60)
	fmt.Println(line)
	fmt.Println(strings.TrimSpace(ans.Text))
	fmt.Println(line)
	if len(ans.Sources) > 0 {
		fmt.Println("Sources:")
		for i, sr := range ans.Sources {
			fmt.Printf("  %d. %s\n", i+1, reviewLine(sr))
		}
	}
	if ans.Success && ans.Usage.Total > 0 {
		fmt.Printf("[%s, %d tokens]\n", ans.Model, ans.Usage.Total)
	}
}

func reviewLine(sr domain.ScoredReview) string {
	r := sr.Review
	name := r.ReviewerName
	if name == "" {
		name = "Anonymous"
	}
	date := r.DateText
	if date == "" && r.Dated() {
		date = r.Date.Format(time.DateOnly)
	}
	if date == "" {
		date = "unknown date"
	}
	return fmt.Sprintf("%s, %d/5, %s (relevance %.2f)", name, r.Rating, date, sr.Score)
}

func printStats(st domain.BusinessStats) {
	if st.Total == 0 {
		fmt.Printf("No indexed reviews for %q.\n", st.Business)
		return
	}
	fmt.Printf("%s\n", st.Business)
	fmt.Printf("Reviews:        %d\n", st.Total)
	fmt.Printf("Average rating: %.1f/5\n", st.AverageRating)
	for stars := 5; stars >= 1; stars-- {
		count := st.RatingCounts[stars-1]
		fmt.Printf("  %d-star: %-4d %s\n", stars, count, strings.Repeat("#", min(count, 40)))
	}
	if !st.Newest.IsZero() {
		fmt.Printf("Newest: %s\n", st.Newest.Format(time.DateOnly))
		fmt.Printf("Oldest: %s\n", st.Oldest.Format(time.DateOnly))
	}
	if st.Undated > 0 {
		fmt.Printf("Undated: %d\n", st.Undated)
	}
	if len(st.FrequentTerms) > 0 {
		fmt.Printf("Frequent terms: %s\n", strings.Join(st.FrequentTerms, ", "))
	}
}

func printErr(err error) {
	if kind := domain.KindOf(err); kind != "" {
		fmt.Fprintf(os.Stderr, "error (%s): %v\n", kind, err)
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
}

func usage() {
	fmt.Fprint(os.Stderr, `reviewlens: ask questions about Google Maps reviews

Usage:
  reviewlens [global flags] <command> [command flags]

Commands:
  scrape           collect reviews from a Google Maps place page and index them
  ask              answer a question grounded in indexed reviews
  search           show the most similar reviews without generating an answer
  analyze          LLM report over all reviews of a business
  summary          short LLM summary of a business
  stats            local rating statistics, no LLM call
  list-businesses  businesses present in the store
  info             store totals
  delete           remove a business from the store
  export           write a business's reviews to CSV or JSON
  import           index reviews from a JSON export
  interactive      question session in the terminal

Global flags:
  -config PATH     YAML config (default ./config.yaml, then ~/.config/reviewlens/config.yaml)
  -log-level LVL   debug, info, warn or error
  -log-json        JSON logs instead of console format

Run "reviewlens <command> -h" for command flags.
`)
}
