package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"gotodo/internal/domain"
	"gotodo/internal/engine"
	"gotodo/internal/lifecycle"
	"gotodo/internal/repo"
)

func registerRequests(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-request",
		Method:        http.MethodPost,
		Path:          "/requests",
		Summary:       "Create service request",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		Body CreateRequestRequest `json:"body"`
	}) (*struct {
		Body domain.Request `json:"body"`
	}, error) {
		actorID, err := actorIDFromContext(ctx)
		if err != nil {
			return nil, err
		}
		req, cerr := e.CreateRequest(ctx, engine.CreateRequestOptions{
			RequesterID:    actorID,
			Type:           input.Body.Type,
			Title:          input.Body.Title,
			Description:    input.Body.Description,
			Summary:        input.Body.Summary,
			SuggestedPrice: input.Body.SuggestedPrice,
			Location:       input.Body.Location,
		})
		if cerr != nil {
			return nil, handleError(cerr)
		}
		return &struct {
			Body domain.Request `json:"body"`
		}{Body: req}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-requests",
		Method:      http.MethodGet,
		Path:        "/requests",
		Summary:     "List service requests",
	}, func(ctx context.Context, input *struct {
		RequesterID string `query:"requester_id"`
		ProviderID  string `query:"provider_id"`
		Status      string `query:"status" doc:"Comma separated statuses"`
		Type        string `query:"type"`
		Mine        bool   `query:"mine" doc:"Only requests created by the caller"`
		Limit       int    `query:"limit"`
	}) (*struct {
		Body []domain.Request `json:"body"`
	}, error) {
		f := repo.RequestFilters{
			RequesterID: input.RequesterID,
			ProviderID:  input.ProviderID,
			Type:        input.Type,
			Limit:       normalizeLimit(input.Limit),
		}
		if input.Mine {
			actorID, err := actorIDFromContext(ctx)
			if err != nil {
				return nil, err
			}
			f.RequesterID = actorID
		}
		for _, s := range strings.Split(input.Status, ",") {
			if s = strings.TrimSpace(s); s != "" {
				f.Status = append(f.Status, domain.RequestStatus(strings.ToUpper(s)))
			}
		}
		items, err := e.ListRequests(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Request `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-request",
		Method:      http.MethodGet,
		Path:        "/requests/{id}",
		Summary:     "Get service request with its bids",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Request `json:"body"`
	}, error) {
		req, err := e.GetRequest(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		req.Bids = nonNilSlice(req.Bids)
		return &struct {
			Body domain.Request `json:"body"`
		}{Body: req}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-request-status",
		Method:      http.MethodPatch,
		Path:        "/requests/{id}/status",
		Summary:     "Move a request through its lifecycle",
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body StatusUpdateRequest `json:"body"`
	}) (*struct {
		Body domain.Request `json:"body"`
	}, error) {
		actorID, err := actorIDFromContext(ctx)
		if err != nil {
			return nil, err
		}
		req, uerr := e.UpdateRequestStatus(ctx, engine.StatusUpdateOptions{
			ID:      input.ID,
			Status:  domain.RequestStatus(input.Body.Status),
			Reason:  input.Body.Reason,
			ActorID: actorID,
		})
		if uerr != nil {
			return nil, handleError(uerr)
		}
		return &struct {
			Body domain.Request `json:"body"`
		}{Body: req}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-request-timeline",
		Method:      http.MethodGet,
		Path:        "/requests/{id}/timeline",
		Summary:     "Status timeline of a request",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body lifecycle.TimelineView `json:"body"`
	}, error) {
		view, err := e.RequestTimeline(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		view.Steps = nonNilSlice(view.Steps)
		return &struct {
			Body lifecycle.TimelineView `json:"body"`
		}{Body: view}, nil
	})
}

func registerBids(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-bid",
		Method:        http.MethodPost,
		Path:          "/requests/{id}/bids",
		Summary:       "Bid on a request",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body SubmitBidRequest `json:"body"`
	}) (*struct {
		Body domain.Bid `json:"body"`
	}, error) {
		actorID, err := actorIDFromContext(ctx)
		if err != nil {
			return nil, err
		}
		bid, berr := e.SubmitBid(ctx, engine.SubmitBidOptions{
			RequestID:  input.ID,
			ProviderID: actorID,
			Amount:     input.Body.Amount,
			Message:    input.Body.Message,
		})
		if berr != nil {
			return nil, handleError(berr)
		}
		return &struct {
			Body domain.Bid `json:"body"`
		}{Body: bid}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-bids",
		Method:      http.MethodGet,
		Path:        "/requests/{id}/bids",
		Summary:     "List bids on a request",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.Bid `json:"body"`
	}, error) {
		bids, err := e.ListBids(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Bid `json:"body"`
		}{Body: nonNilSlice(bids)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "accept-bid",
		Method:      http.MethodPost,
		Path:        "/requests/{id}/bids/{bid_id}/accept",
		Summary:     "Accept a bid and assign its provider",
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		BidID string `path:"bid_id"`
	}) (*struct {
		Body domain.Request `json:"body"`
	}, error) {
		actorID, err := actorIDFromContext(ctx)
		if err != nil {
			return nil, err
		}
		req, aerr := e.AcceptBid(ctx, engine.AcceptBidOptions{RequestID: input.ID, BidID: input.BidID, ActorID: actorID})
		if aerr != nil {
			return nil, handleError(aerr)
		}
		return &struct {
			Body domain.Request `json:"body"`
		}{Body: req}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "withdraw-bid",
		Method:      http.MethodPost,
		Path:        "/requests/{id}/bids/{bid_id}/withdraw",
		Summary:     "Withdraw an open bid",
	}, func(ctx context.Context, input *struct {
		ID    string `path:"id"`
		BidID string `path:"bid_id"`
	}) (*struct {
		Body domain.Bid `json:"body"`
	}, error) {
		actorID, err := actorIDFromContext(ctx)
		if err != nil {
			return nil, err
		}
		bid, werr := e.WithdrawBid(ctx, input.ID, input.BidID, actorID)
		if werr != nil {
			return nil, handleError(werr)
		}
		return &struct {
			Body domain.Bid `json:"body"`
		}{Body: bid}, nil
	})
}

func registerChat(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "open-chat",
		Method:      http.MethodPost,
		Path:        "/requests/{id}/chat/open",
		Summary:     "Open the chat window for a request",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ChatSessionResponse `json:"body"`
	}, error) {
		actorID, err := actorIDFromContext(ctx)
		if err != nil {
			return nil, err
		}
		s, history, oerr := e.OpenChat(ctx, input.ID, actorID)
		if oerr != nil {
			return nil, handleError(oerr)
		}
		return &struct {
			Body ChatSessionResponse `json:"body"`
		}{Body: ChatSessionResponse{
			RequestID:   s.RequestID,
			Viewer:      ChatParticipant{ID: s.Viewer.ID, Name: s.Viewer.Name},
			Counterpart: ChatParticipant{ID: s.Counterpart.ID, Name: s.Counterpart.Name},
			Messages:    nonNilSlice(history),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "focus-chat",
		Method:      http.MethodPost,
		Path:        "/requests/{id}/chat/focus",
		Summary:     "Mark the conversation as seen",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		actorID, err := actorIDFromContext(ctx)
		if err != nil {
			return nil, err
		}
		if ferr := e.Chat.Focus(ctx, input.ID, actorID); ferr != nil {
			return nil, handleError(ferr)
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: StatusResponse{Status: "ok"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "close-chat",
		Method:      http.MethodPost,
		Path:        "/requests/{id}/chat/close",
		Summary:     "Close the chat window",
		Description: "Raises a message notification when the counterpart wrote since the caller last looked.",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ChatCloseResponse `json:"body"`
	}, error) {
		actorID, err := actorIDFromContext(ctx)
		if err != nil {
			return nil, err
		}
		n, cerr := e.Chat.Close(ctx, input.ID, actorID)
		if cerr != nil {
			return nil, handleError(cerr)
		}
		return &struct {
			Body ChatCloseResponse `json:"body"`
		}{Body: ChatCloseResponse{Notified: n != nil, Notification: n}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-chat-messages",
		Method:      http.MethodGet,
		Path:        "/requests/{id}/chat/messages",
		Summary:     "Chat history of a request",
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body []domain.ChatMessage `json:"body"`
	}, error) {
		actorID, err := actorIDFromContext(ctx)
		if err != nil {
			return nil, err
		}
		if _, _, perr := e.ChatParties(ctx, input.ID, actorID); perr != nil {
			return nil, handleError(perr)
		}
		msgs, herr := e.Chat.History(ctx, input.ID, actorID)
		if herr != nil {
			return nil, handleError(herr)
		}
		return &struct {
			Body []domain.ChatMessage `json:"body"`
		}{Body: nonNilSlice(msgs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "send-chat-message",
		Method:        http.MethodPost,
		Path:          "/requests/{id}/chat/messages",
		Summary:       "Send a chat message",
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body ChatMessageRequest `json:"body"`
	}) (*struct {
		Body domain.ChatMessage `json:"body"`
	}, error) {
		actorID, err := actorIDFromContext(ctx)
		if err != nil {
			return nil, err
		}
		msg, serr := e.SendChat(ctx, input.ID, actorID, input.Body.Text)
		if serr != nil {
			return nil, handleError(serr)
		}
		return &struct {
			Body domain.ChatMessage `json:"body"`
		}{Body: msg}, nil
	})
}
