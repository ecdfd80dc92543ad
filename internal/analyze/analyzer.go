// Package analyze produces a topic-organized summary of a transcript by
// sending overlapping windows of it to a hosted LLM endpoint.
package analyze

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pemistahl/lingua-go"
	openai "github.com/sashabaranov/go-openai"

	"mediadigest/internal/config"
	"mediadigest/internal/progress"
)

const separator = "================================================================================"

// Analyzer summarizes transcripts window by window, then combines the
// window summaries into one final summary.
type Analyzer struct {
	client     *openai.Client
	model      string
	maxTokens  int
	windowSize int
	tidy       bool

	reporter *progress.Reporter

	// detect returns the transcript language name, or "" when unsure.
	// Swappable in tests; the default builds a lingua detector lazily.
	detect func(text string) string
}

// NewAnalyzer builds an analyzer talking to cfg.Endpoint (or the library
// default endpoint when empty) with the given API key.
func NewAnalyzer(apiKey string, cfg config.AnalyzeConfig) *Analyzer {
	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.Endpoint != "" {
		clientCfg.BaseURL = cfg.Endpoint
	}
	return &Analyzer{
		client:     openai.NewClientWithConfig(clientCfg),
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		windowSize: cfg.WindowSize,
		tidy:       cfg.Tidy,
		detect:     detectLanguage,
	}
}

// SetReporter attaches a progress message reporter.
func (a *Analyzer) SetReporter(r *progress.Reporter) { a.reporter = r }

// Analyze summarizes the transcript file and writes
// <transcriptbase>_analysis.txt into outputDir, returning its path.
func (a *Analyzer) Analyze(ctx context.Context, transcriptPath, outputDir string) (string, error) {
	b, err := os.ReadFile(transcriptPath)
	if err != nil {
		return "", fmt.Errorf("read transcript: %w", err)
	}
	transcript := strings.TrimSpace(string(b))
	if transcript == "" {
		return "", fmt.Errorf("transcript %s is empty", transcriptPath)
	}

	language := a.detect(transcript)
	if language != "" {
		a.reporter.Log("info", "transcript language: "+language)
	}

	windows := SplitWindows(transcript, a.windowSize)
	a.reporter.Log("info", fmt.Sprintf("analyzing %d windows", len(windows)))

	summaries := make([]string, 0, len(windows))
	for i, window := range windows {
		label := fmt.Sprintf("Window %d/%d", i+1, len(windows))
		a.reporter.Update("analyze", int64(i+1), int64(len(windows)), label)

		text := window
		if a.tidy {
			text, err = a.tidyWindow(ctx, window, language)
			if err != nil {
				return "", fmt.Errorf("%s tidy: %w", label, err)
			}
		}
		summary, err := a.summarizeWindow(ctx, text, label, language)
		if err != nil {
			return "", fmt.Errorf("%s summary: %w", label, err)
		}
		summaries = append(summaries, fmt.Sprintf("%s: %s", label, summary))
	}

	a.reporter.Log("info", "generating final summary")
	final, err := a.finalSummary(ctx, summaries, language)
	if err != nil {
		return "", fmt.Errorf("final summary: %w", err)
	}

	base := strings.TrimSuffix(filepath.Base(transcriptPath), filepath.Ext(transcriptPath))
	outPath := filepath.Join(outputDir, base+"_analysis.txt")
	if err := writeAnalysis(outPath, final, summaries); err != nil {
		return "", err
	}
	a.reporter.Complete(true, outPath)
	return outPath, nil
}

func (a *Analyzer) tidyWindow(ctx context.Context, window, language string) (string, error) {
	prompt := "Clean up this transcript: fix typos, add punctuation, and create proper sentences. " +
		"Keep it concise - don't expand or elaborate, just clean the existing text." +
		languageHint(language) +
		"\n\n" + window
	return a.complete(ctx, prompt, 1024)
}

func (a *Analyzer) summarizeWindow(ctx context.Context, window, label, language string) (string, error) {
	prompt := "Summarize the key points from this transcript section. " +
		"Be concise - extract only the main ideas and important details. " +
		"Use bullet points or brief paragraphs." +
		languageHint(language) +
		fmt.Sprintf("\n\n[%s]\n\nTranscript:\n%s", label, window)
	return a.complete(ctx, prompt, a.maxTokens)
}

func (a *Analyzer) finalSummary(ctx context.Context, summaries []string, language string) (string, error) {
	prompt := "Combine these summaries into one concise final summary. " +
		"Remove redundancy, keep only key points, and organize by topic. " +
		"Aim for a summary that's shorter than the original transcript." +
		languageHint(language) +
		"\n\nSection Summaries:\n\n" + strings.Join(summaries, "\n\n")
	return a.complete(ctx, prompt, 2*a.maxTokens)
}

func (a *Analyzer) complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     a.model,
		MaxTokens: maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func languageHint(language string) string {
	if language == "" {
		return ""
	}
	return " Respond in " + language + "."
}

func writeAnalysis(path, final string, summaries []string) error {
	var sb strings.Builder
	sb.WriteString(separator + "\n")
	sb.WriteString("FINAL SUMMARY\n")
	sb.WriteString(separator + "\n\n")
	sb.WriteString(final)
	sb.WriteString("\n\n" + separator + "\n")
	sb.WriteString("WINDOW-BY-WINDOW SUMMARIES\n")
	sb.WriteString(separator + "\n\n")
	for _, s := range summaries {
		sb.WriteString(s)
		sb.WriteString("\n\n")
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0o644); err != nil {
		return fmt.Errorf("write analysis: %w", err)
	}
	return nil
}

var (
	detectorOnce sync.Once
	detector     lingua.LanguageDetector
)

// detectLanguage names the dominant language of the text. The detector
// is built once; construction is expensive.
func detectLanguage(text string) string {
	detectorOnce.Do(func() {
		detector = lingua.NewLanguageDetectorBuilder().FromAllLanguages().Build()
	})
	lang, ok := detector.DetectLanguageOf(text)
	if !ok {
		return ""
	}
	return lang.String()
}
