package llm

import (
	"fmt"
	"strings"

	"reviewlens/internal/domain"
)

// Prompt templates. The system prompts pin the model to the grounding
// context; the user prompts carry the context itself plus the task. All
// review text reaches the model through the budgeted builders in context.go.

const answerSystem = `You are an assistant that answers questions about a business using its customer reviews.
Ground every statement in the reviews provided below. Cite concrete details from the reviews when they help.
If the reviews do not contain enough information to answer, say so plainly instead of guessing.
Consider both positive and negative feedback and stay objective.`

const analysisSystem = `You are a business analyst producing insights from customer review data.
Work only from the reviews and statistics provided. Be balanced, concrete and objective.`

const summarySystem = `You summarize customer reviews.
Capture the overall sentiment, the positives and negatives mentioned most often, and recurring themes.
Be concise and balanced.`

func buildAnswerPrompt(query, context, business string) string {
	var b strings.Builder
	if business != "" {
		fmt.Fprintf(&b, "Business: %s\n\n", business)
	}
	b.WriteString("CUSTOMER REVIEWS:\n")
	b.WriteString(context)
	fmt.Fprintf(&b, "\nQUESTION: %s\n", query)
	b.WriteString("\nAnswer the question using only the reviews above.")
	return b.String()
}

func buildAnalysisPrompt(business, context string, stats domain.BusinessStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze the customer reviews of %s.\n\n", business)
	b.WriteString("REVIEW STATISTICS:\n")
	fmt.Fprintf(&b, "Total reviews: %d\n", stats.Total)
	fmt.Fprintf(&b, "Average rating: %.1f/5\n", stats.AverageRating)
	b.WriteString("Rating distribution: ")
	for stars := 5; stars >= 1; stars-- {
		fmt.Fprintf(&b, "%d-star: %d", stars, stats.RatingCounts[stars-1])
		if stars > 1 {
			b.WriteString(", ")
		}
	}
	b.WriteString("\n")
	if len(stats.FrequentTerms) > 0 {
		fmt.Fprintf(&b, "Frequent terms: %s\n", strings.Join(stats.FrequentTerms, ", "))
	}
	b.WriteString("\nCUSTOMER REVIEWS:\n")
	b.WriteString(context)
	b.WriteString(`
Provide:
1. Overall assessment and customer sentiment
2. Common themes in the feedback
3. Key strengths
4. Recurring complaints and areas for improvement
5. Recommendations for the business`)
	return b.String()
}

func buildSummaryPrompt(business, context string, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Summarize the following customer reviews of %s (%d reviews shown).\n\n", business, total)
	b.WriteString(context)
	b.WriteString("\nKeep the summary short: overall sentiment, the main positives and the main complaints.")
	return b.String()
}

func noReviewsText(business string) string {
	if business != "" {
		return fmt.Sprintf("No relevant reviews found for %s. Try scraping the business first or rephrasing the question.", business)
	}
	return "No relevant reviews found for this question. Try scraping a business first or rephrasing the question."
}

func failureText(err error) string {
	return fmt.Sprintf("Could not generate an answer: %v. The retrieved reviews are unaffected; try again in a moment.", err)
}
