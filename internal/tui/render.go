package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"reviewlens/internal/domain"
)

type cmdKind int

const (
	cmdAsk cmdKind = iota
	cmdSearch
	cmdAnalyze
	cmdSummary
	cmdStats
	cmdList
	cmdInfo
	cmdBusiness
	cmdHelp
	cmdQuit
	cmdUnknown
)

type command struct {
	kind cmdKind
	arg  string
}

// parseCommand maps one input line to a session command. Anything that does
// not start with "/" is a question.
func parseCommand(line string) command {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return command{kind: cmdAsk, arg: line}
	}
	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToLower(name) {
	case "business", "b":
		return command{kind: cmdBusiness, arg: arg}
	case "search", "s":
		return command{kind: cmdSearch, arg: arg}
	case "analyze", "analysis":
		return command{kind: cmdAnalyze}
	case "summary", "summarize":
		return command{kind: cmdSummary}
	case "stats":
		return command{kind: cmdStats}
	case "list":
		return command{kind: cmdList}
	case "info":
		return command{kind: cmdInfo}
	case "help", "h":
		return command{kind: cmdHelp}
	case "quit", "exit", "q":
		return command{kind: cmdQuit}
	default:
		return command{kind: cmdUnknown, arg: name}
	}
}

const helpText = `Commands:

  /business <name>   focus on one business (empty to clear)
  /search <text>     show matching reviews without generating an answer
  /analyze           analytical report for the current business
  /summary           short summary of the current business
  /stats             local rating statistics, no LLM call
  /list              businesses present in the store
  /info              store totals
  /help              this text
  /quit              leave (also ctrl+c, ctrl+d)

Anything else is treated as a question about the reviews.`

func answerStatus(ans domain.Answer) string {
	if !ans.Success {
		return "Generation failed."
	}
	if ans.Usage.Total > 0 {
		return fmt.Sprintf("Answered by %s (%d tokens).", ans.Model, ans.Usage.Total)
	}
	return "Answered."
}

func renderAnswer(ans domain.Answer) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(ans.Text))
	if len(ans.Sources) > 0 {
		b.WriteString("\n\nSources:\n")
		for i, sr := range ans.Sources {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, sourceLine(sr))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func sourceLine(sr domain.ScoredReview) string {
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

func renderResults(res []domain.ScoredReview) string {
	if len(res) == 0 {
		return "No matching reviews."
	}
	var b strings.Builder
	for i, sr := range res {
		fmt.Fprintf(&b, "%d. %s\n", i+1, sourceLine(sr))
		text := strings.TrimSpace(sr.Review.Content)
		if text == "" {
			text = "(no written review)"
		}
		fmt.Fprintf(&b, "   %s\n\n", text)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderStats(st domain.BusinessStats) string {
	if st.Total == 0 {
		return fmt.Sprintf("No indexed reviews for %s.", st.Business)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", st.Business)
	fmt.Fprintf(&b, "Reviews:        %d\n", st.Total)
	fmt.Fprintf(&b, "Average rating: %.1f/5\n\n", st.AverageRating)
	for stars := 5; stars >= 1; stars-- {
		fmt.Fprintf(&b, "%d-star: %d\n", stars, st.RatingCounts[stars-1])
	}
	if !st.Newest.IsZero() {
		fmt.Fprintf(&b, "\nNewest: %s\nOldest: %s\n",
			st.Newest.Format(time.DateOnly), st.Oldest.Format(time.DateOnly))
	}
	if st.Undated > 0 {
		fmt.Fprintf(&b, "Undated: %d\n", st.Undated)
	}
	if len(st.FrequentTerms) > 0 {
		fmt.Fprintf(&b, "\nFrequent terms: %s\n", strings.Join(st.FrequentTerms, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderBusinesses(names []string) string {
	if len(names) == 0 {
		return "The store is empty."
	}
	var b strings.Builder
	b.WriteString("Indexed businesses:\n\n")
	for _, n := range names {
		fmt.Fprintf(&b, "  %s\n", n)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderInfo(info domain.StoreInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Records: %d\n", info.TotalRecords)
	if info.SizeBytes > 0 {
		fmt.Fprintf(&b, "Vectors: %.1f KiB\n", float64(info.SizeBytes)/1024)
	}
	if len(info.PerBusiness) > 0 {
		b.WriteString("\nPer business:\n")
		names := make([]string, 0, len(info.PerBusiness))
		for n := range info.PerBusiness {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			fmt.Fprintf(&b, "  %s: %d\n", n, info.PerBusiness[n])
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
