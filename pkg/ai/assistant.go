package ai

import (
	"context"
	"fmt"
	"strings"
)

// DefaultQuizQuestions is used when the caller does not ask for a count.
const DefaultQuizQuestions = 5

const (
	summarizePrompt = "Summarize the following academic text concisely:\n\n"
	explainPrompt   = "Explain the following academic content in simple terms:\n\n"
	quizPrompt      = "Generate %d multiple-choice questions (MCQs) from the following academic text. " +
		"For each question, provide 4 options (A, B, C, D) and indicate the correct answer.\n\n"
	answerPrompt = "Answer the question using only the following academic text. " +
		"If the text does not contain the answer, say so.\n\nText:\n%s\n\nQuestion: %s"
)

// StudyAssistant runs the study operations on extracted document text.
type StudyAssistant struct {
	generator TextGenerator
	speech    SpeechSynthesizer
}

// NewStudyAssistant wires a text generator and a speech synthesizer.
func NewStudyAssistant(generator TextGenerator, speech SpeechSynthesizer) *StudyAssistant {
	return &StudyAssistant{generator: generator, speech: speech}
}

// Summarize returns a concise summary of text.
func (s *StudyAssistant) Summarize(ctx context.Context, text string) (string, error) {
	return s.generate(ctx, "summarize", summarizePrompt+text)
}

// Explain restates text in simple terms.
func (s *StudyAssistant) Explain(ctx context.Context, text string) (string, error) {
	return s.generate(ctx, "explain", explainPrompt+text)
}

// GenerateQuiz asks for n multiple-choice questions and splits the reply on
// blank lines. The segments are not validated as questions.
func (s *StudyAssistant) GenerateQuiz(ctx context.Context, text string, n int) ([]string, error) {
	if n <= 0 {
		n = DefaultQuizQuestions
	}
	raw, err := s.generate(ctx, "quiz", fmt.Sprintf(quizPrompt, n)+text)
	if err != nil {
		return nil, err
	}
	return SplitQuiz(raw), nil
}

// Answer responds to a question about text.
func (s *StudyAssistant) Answer(ctx context.Context, text, question string) (string, error) {
	return s.generate(ctx, "answer", fmt.Sprintf(answerPrompt, text, question))
}

// SynthesizeSpeech returns MP3 audio for text.
func (s *StudyAssistant) SynthesizeSpeech(ctx context.Context, text string) ([]byte, error) {
	if s.speech == nil {
		return nil, fmt.Errorf("speech synthesis not configured")
	}
	audio, err := s.speech.Synthesize(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("synthesize speech: %w", err)
	}
	return audio, nil
}

// SplitQuiz splits generated quiz text on every blank-line separator.
func SplitQuiz(raw string) []string {
	return strings.Split(raw, "\n\n")
}

func (s *StudyAssistant) generate(ctx context.Context, op, prompt string) (string, error) {
	if s.generator == nil {
		return "", fmt.Errorf("text generation not configured")
	}
	out, err := s.generator.GenerateText(ctx, "", prompt)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}
