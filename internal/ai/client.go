// Package ai wraps the speech-to-text, text-generation and text-to-speech
// provider used by the narration and caption stages.
package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"brandclip-worker-service/internal/subtitles"
)

type Config struct {
	APIKey    string
	BaseURL   string
	ASRModel  string
	ChatModel string
	TTSModel  string
}

type Client struct {
	api       *openai.Client
	asrModel  string
	chatModel string
	ttsModel  string
}

func NewClient(cfg Config) *Client {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	c := &Client{
		api:       openai.NewClientWithConfig(oc),
		asrModel:  cfg.ASRModel,
		chatModel: cfg.ChatModel,
		ttsModel:  cfg.TTSModel,
	}
	if c.asrModel == "" {
		c.asrModel = openai.Whisper1
	}
	if c.chatModel == "" {
		c.chatModel = openai.GPT4oMini
	}
	if c.ttsModel == "" {
		c.ttsModel = string(openai.TTSModel1)
	}
	return c
}

// Transcribe returns timestamped segments for an audio or video file.
func (c *Client) Transcribe(ctx context.Context, path, language string) ([]subtitles.Segment, error) {
	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.asrModel,
		FilePath: path,
		Language: language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}

	segs := make([]subtitles.Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		segs = append(segs, subtitles.FromSeconds(s.Start, s.End, s.Text))
	}
	return segs, nil
}

// ScriptOptions steer the narration rewrite.
type ScriptOptions struct {
	Language string
	Style    string
	Title    string
}

// RewriteScript turns a raw transcript into a narration script.
func (c *Client) RewriteScript(ctx context.Context, transcript string, opts ScriptOptions) (string, error) {
	system := fmt.Sprintf(
		"You write voice-over scripts for short vertical videos. Rewrite the transcript as a %s narration in language %q. "+
			"Keep roughly the same length and meaning. Return only the narration text, no stage directions.",
		opts.Style, opts.Language)
	user := transcript
	if opts.Title != "" {
		user = "Title: " + opts.Title + "\n\nTranscript:\n" + transcript
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("rewrite script: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("rewrite script: empty completion")
	}
	script := strings.TrimSpace(resp.Choices[0].Message.Content)
	if script == "" {
		return "", errors.New("rewrite script: empty completion")
	}
	return script, nil
}

// Synthesize writes speech for text to outPath as mp3.
func (c *Client) Synthesize(ctx context.Context, text, voiceID, outPath string) error {
	resp, err := c.api.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(c.ttsModel),
		Input:          text,
		Voice:          openai.SpeechVoice(voiceID),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}
	defer resp.Close()

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create speech file: %w", err)
	}
	if _, err := io.Copy(f, resp); err != nil {
		f.Close()
		return fmt.Errorf("write speech file: %w", err)
	}
	return f.Close()
}
