package client

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/kozaktomas/cue/internal/database"
	"github.com/kozaktomas/cue/internal/embedding"
	"github.com/kozaktomas/cue/internal/recognition"
)

// Resolve submits a capture batch for recognition.
func (c *Client) Resolve(ctx context.Context, frames [][]byte) (*recognition.Result, error) {
	req := RecognizeRequest{ImagesBase64: make([]string, 0, len(frames))}
	for _, f := range frames {
		if len(f) > 0 {
			req.ImagesBase64 = append(req.ImagesBase64, base64.StdEncoding.EncodeToString(f))
		}
	}
	if len(req.ImagesBase64) == 0 {
		return nil, recognition.ErrNoFrames
	}
	return doPostJSON[recognition.Result](ctx, c, "recognize-face", req)
}

// HUD fetches the overlay payload for a recognized person.
func (c *Client) HUD(ctx context.Context, personID string, status database.PersonStatus, lang string) (*HUD, error) {
	endpoint := "hud-context"
	if lang != "" {
		endpoint += "?lang=" + url.QueryEscape(lang)
	}
	return doPostJSON[HUD](ctx, c, endpoint, HUDRequest{PersonID: personID, Status: string(status)})
}

// Whisper fetches the cue response for a person.
func (c *Client) Whisper(ctx context.Context, personID string) (*Whisper, error) {
	if err := validID(personID); err != nil {
		return nil, err
	}
	return doGetJSON[Whisper](ctx, c, "whisper/"+personID)
}

// Cue returns the spoken cue audio, or nil when the server has none.
func (c *Client) Cue(ctx context.Context, personID string) ([]byte, error) {
	w, err := c.Whisper(ctx, personID)
	if err != nil {
		return nil, err
	}
	if w.AudioURL == "" {
		return nil, nil
	}
	audio, err := embedding.DecodeImagePayload(w.AudioURL)
	if err != nil {
		return nil, fmt.Errorf("invalid cue audio: %w", err)
	}
	return audio, nil
}

// SaveMemory uploads a visit recording for a person.
func (c *Client) SaveMemory(ctx context.Context, personID string, audio []byte) error {
	_, err := c.SaveMemoryDetailed(ctx, personID, audio)
	return err
}

// SaveMemoryDetailed uploads a visit recording and returns the stored summary.
func (c *Client) SaveMemoryDetailed(ctx context.Context, personID string, audio []byte) (*MemorySaveResponse, error) {
	if len(audio) == 0 {
		return nil, errors.New("no audio to save")
	}
	return doPostJSON[MemorySaveResponse](ctx, c, "memory/save", MemorySaveRequest{
		PersonID:    personID,
		AudioBase64: base64.StdEncoding.EncodeToString(audio),
	})
}

// Health reports server and store health.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	return doRequestJSON[Health](ctx, c, http.MethodGet, "health", nil, http.StatusOK, http.StatusServiceUnavailable)
}
