package client

import (
	"context"
	"encoding/base64"
	"net/http"
)

type pendingResponse struct {
	PendingPeople []PendingPerson `json:"pending_people"`
}

type confirmedResponse struct {
	ConfirmedPeople []ConfirmedPerson `json:"confirmed_people"`
}

// Pending lists temporary persons awaiting review.
func (c *Client) Pending(ctx context.Context) ([]PendingPerson, error) {
	resp, err := doGetJSON[pendingResponse](ctx, c, "caregiver/pending")
	if err != nil {
		return nil, err
	}
	return resp.PendingPeople, nil
}

// Confirmed lists confirmed persons.
func (c *Client) Confirmed(ctx context.Context) ([]ConfirmedPerson, error) {
	resp, err := doGetJSON[confirmedResponse](ctx, c, "caregiver/confirmed")
	if err != nil {
		return nil, err
	}
	return resp.ConfirmedPeople, nil
}

// Confirm attaches an identity to a temporary person.
func (c *Client) Confirm(ctx context.Context, req ConfirmRequest) (*PersonResponse, error) {
	if err := validID(req.PersonID); err != nil {
		return nil, err
	}
	return doPostJSON[PersonResponse](ctx, c, "caregiver/confirm", req)
}

// Enroll creates a confirmed person from a photo.
func (c *Client) Enroll(ctx context.Context, name, relation, note string, image []byte) (*PersonResponse, error) {
	return doPostJSON[PersonResponse](ctx, c, "caregiver/enroll", EnrollRequest{
		Name:           name,
		Relation:       relation,
		ContextualNote: note,
		ImageBase64:    base64.StdEncoding.EncodeToString(image),
	})
}

// Update changes a confirmed person.
func (c *Client) Update(ctx context.Context, personID string, req UpdateRequest) (*PersonResponse, error) {
	if err := validID(personID); err != nil {
		return nil, err
	}
	return doRequestJSON[PersonResponse](ctx, c, http.MethodPut, "caregiver/person/"+personID, req, http.StatusOK)
}

// Delete removes a person and everything attached to it.
func (c *Client) Delete(ctx context.Context, personID string) (*PersonResponse, error) {
	if err := validID(personID); err != nil {
		return nil, err
	}
	return doRequestJSON[PersonResponse](ctx, c, http.MethodDelete, "caregiver/person/"+personID, nil, http.StatusOK)
}

// FaceImage downloads a person's thumbnail, or the placeholder when none exists.
func (c *Client) FaceImage(ctx context.Context, personID string) ([]byte, string, error) {
	if err := validID(personID); err != nil {
		return nil, "", err
	}
	return c.doGetRaw(ctx, "caregiver/face-image/"+personID)
}

// RebuildIndex asks the server to rebuild its in-memory face index.
func (c *Client) RebuildIndex(ctx context.Context) (*RebuildResponse, error) {
	return doPostJSON[RebuildResponse](ctx, c, "caregiver/rebuild-index", nil)
}
