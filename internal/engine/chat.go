package engine

import (
	"context"

	"gotodo/internal/chat"
	"gotodo/internal/domain"
	"gotodo/internal/lifecycle"
)

// ChatParties resolves who viewerID talks to on a request. The conversation
// exists only between the requester and the assigned provider; bidders who
// were not accepted have no access to it.
func (e Engine) ChatParties(ctx context.Context, requestID, viewerID string) (chat.Participant, chat.Participant, error) {
	_, viewer, other, err := e.chatParties(ctx, requestID, viewerID)
	return viewer, other, err
}

func (e Engine) chatParties(ctx context.Context, requestID, viewerID string) (domain.Request, chat.Participant, chat.Participant, error) {
	req, err := e.Repo.GetRequest(ctx, nil, requestID)
	if err != nil {
		return req, chat.Participant{}, chat.Participant{}, err
	}
	if viewerID != req.RequesterID && !isAssigned(req, viewerID) {
		return req, chat.Participant{}, chat.Participant{}, forbidden("%s is not a party to request %s", viewerID, req.ID)
	}
	if req.ProviderID == nil {
		return req, chat.Participant{}, chat.Participant{}, conflict("no provider is assigned to request %s yet", req.ID)
	}
	viewer, err := e.participant(ctx, viewerID)
	if err != nil {
		return req, chat.Participant{}, chat.Participant{}, err
	}
	otherID := req.RequesterID
	if viewerID == req.RequesterID {
		otherID = *req.ProviderID
	}
	other, err := e.participant(ctx, otherID)
	return req, viewer, other, err
}

func isAssigned(req domain.Request, userID string) bool {
	return req.ProviderID != nil && *req.ProviderID == userID
}

func (e Engine) participant(ctx context.Context, userID string) (chat.Participant, error) {
	u, err := e.Repo.GetUser(ctx, nil, userID)
	if err != nil {
		return chat.Participant{}, err
	}
	name := u.Name
	if p, err := e.Repo.GetProviderByUser(ctx, nil, userID); err == nil {
		name = p.DisplayName
	}
	return chat.Participant{ID: u.ID, Name: name}, nil
}

// OpenChat starts (or rejoins) the viewer's simulated chat on a request.
// Finished requests keep their history but take no new sessions.
func (e Engine) OpenChat(ctx context.Context, requestID, viewerID string) (*chat.Session, []domain.ChatMessage, error) {
	req, viewer, other, err := e.chatParties(ctx, requestID, viewerID)
	if err != nil {
		return nil, nil, err
	}
	if lifecycle.IsTerminal(req.Status) {
		return nil, nil, conflict("request %s is %s; its chat is closed", req.ID, lifecycle.Label(req.Status))
	}
	return e.Chat.Open(ctx, requestID, viewer, other)
}

// SendChat appends a message from viewerID.
func (e Engine) SendChat(ctx context.Context, requestID, viewerID, text string) (domain.ChatMessage, error) {
	req, viewer, _, err := e.chatParties(ctx, requestID, viewerID)
	if err != nil {
		return domain.ChatMessage{}, err
	}
	if lifecycle.IsTerminal(req.Status) {
		return domain.ChatMessage{}, conflict("request %s is %s; its chat is closed", req.ID, lifecycle.Label(req.Status))
	}
	return e.Chat.Send(ctx, requestID, viewer, text)
}
