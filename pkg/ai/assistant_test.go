package ai

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

type recordingGenerator struct {
	prompts []string
	reply   string
	err     error
}

func (g *recordingGenerator) GenerateText(_ context.Context, _, userPrompt string) (string, error) {
	g.prompts = append(g.prompts, userPrompt)
	return g.reply, g.err
}

type recordingSpeech struct {
	calls int
	texts []string
}

func (s *recordingSpeech) Synthesize(_ context.Context, text string) ([]byte, error) {
	s.calls++
	s.texts = append(s.texts, text)
	return []byte("mp3"), nil
}

func TestStudyAssistantPrompts(t *testing.T) {
	gen := &recordingGenerator{reply: "ok"}
	assistant := NewStudyAssistant(gen, nil)
	ctx := context.Background()

	if _, err := assistant.Summarize(ctx, "cells"); err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if _, err := assistant.Explain(ctx, "cells"); err != nil {
		t.Fatalf("explain: %v", err)
	}
	if _, err := assistant.GenerateQuiz(ctx, "cells", 0); err != nil {
		t.Fatalf("quiz: %v", err)
	}
	if _, err := assistant.Answer(ctx, "cells", "what is a cell?"); err != nil {
		t.Fatalf("answer: %v", err)
	}

	want := []string{
		"Summarize the following academic text concisely:\n\ncells",
		"Explain the following academic content in simple terms:\n\ncells",
	}
	if !reflect.DeepEqual(gen.prompts[:2], want) {
		t.Fatalf("unexpected prompts %q", gen.prompts[:2])
	}
	if !strings.HasPrefix(gen.prompts[2], "Generate 5 multiple-choice questions") {
		t.Fatalf("expected default of 5 questions, got %q", gen.prompts[2])
	}
	if !strings.Contains(gen.prompts[3], "what is a cell?") {
		t.Fatalf("expected question in prompt, got %q", gen.prompts[3])
	}
}

func TestGenerateQuizSplitsOnBlankLines(t *testing.T) {
	gen := &recordingGenerator{reply: "Q1\nA) x\n\nQ2\nA) y"}
	quiz, err := NewStudyAssistant(gen, nil).GenerateQuiz(context.Background(), "t", 2)
	if err != nil {
		t.Fatalf("quiz: %v", err)
	}
	if !reflect.DeepEqual(quiz, []string{"Q1\nA) x", "Q2\nA) y"}) {
		t.Fatalf("unexpected split %q", quiz)
	}
	if !strings.HasPrefix(gen.prompts[0], "Generate 2 multiple-choice") {
		t.Fatalf("unexpected prompt %q", gen.prompts[0])
	}
}

func TestSplitQuizKeepsEmptySegments(t *testing.T) {
	got := SplitQuiz("Q1\n\n\n\nQ2")
	if !reflect.DeepEqual(got, []string{"Q1", "", "Q2"}) {
		t.Fatalf("unexpected split %q", got)
	}
}

func TestStudyAssistantWrapsGeneratorError(t *testing.T) {
	upstream := errors.New("model overloaded")
	_, err := NewStudyAssistant(&recordingGenerator{err: upstream}, nil).Summarize(context.Background(), "t")
	if !errors.Is(err, upstream) {
		t.Fatalf("expected wrapped upstream error, got %v", err)
	}
}

func TestSynthesizeSpeechForwardsEmptyText(t *testing.T) {
	speech := &recordingSpeech{}
	audio, err := NewStudyAssistant(nil, speech).SynthesizeSpeech(context.Background(), "")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if speech.calls != 1 || speech.texts[0] != "" || string(audio) != "mp3" {
		t.Fatalf("unexpected synthesis calls=%d texts=%q audio=%q", speech.calls, speech.texts, audio)
	}
}
