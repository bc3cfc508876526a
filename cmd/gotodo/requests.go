package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gotodo/internal/domain"
	"gotodo/internal/engine"
	"gotodo/internal/lifecycle"
	"gotodo/internal/repo"
)

func requestCmd() *cobra.Command {
	r := &cobra.Command{
		Use:   "request",
		Short: "Service request commands",
	}
	r.AddCommand(requestCreateCmd())
	r.AddCommand(requestListCmd())
	r.AddCommand(requestShowCmd())
	r.AddCommand(requestStatusCmd())
	r.AddCommand(requestTimelineCmd())
	return r
}

func requestCreateCmd() *cobra.Command {
	var serviceType, title, description string
	var price, lat, lng float64
	var address string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Post a new service request",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID, err := actor(ctx, e)
				if err != nil {
					return err
				}
				hasLoc := cmd.Flags().Changed("lat") || cmd.Flags().Changed("lng")
				req, err := e.CreateRequest(ctx, engine.CreateRequestOptions{
					RequesterID:    actorID,
					Type:           serviceType,
					Title:          title,
					Description:    description,
					SuggestedPrice: price,
					Location:       parseLocation(lat, lng, address, hasLoc),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(req)
				}
				fmt.Printf("Created request %s (%s)\n", req.ID, req.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&serviceType, "type", "", "service type from the catalog")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().Float64Var(&price, "price", 0, "suggested price")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "longitude")
	cmd.Flags().StringVar(&address, "address", "", "address")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func requestListCmd() *cobra.Command {
	var statuses []string
	var serviceType string
	var mine bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f := repo.RequestFilters{Type: serviceType, Limit: limit}
				for _, s := range statuses {
					f.Status = append(f.Status, domain.RequestStatus(strings.ToUpper(strings.TrimSpace(s))))
				}
				if mine {
					actorID, err := actor(ctx, e)
					if err != nil {
						return err
					}
					f.RequesterID = actorID
				}
				reqs, err := e.ListRequests(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(reqs)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Type", "Title", "Status", "Price", "Requester", "Created"})
				for _, r := range reqs {
					tw.AppendRow(table.Row{r.ID, r.Type, r.Title, r.Status, money(r.SuggestedPrice), r.RequesterID, ago(r.CreatedAt)})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "status filter (repeatable or comma separated)")
	cmd.Flags().StringVar(&serviceType, "type", "", "service type filter")
	cmd.Flags().BoolVar(&mine, "mine", false, "only requests posted by the acting user")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func requestShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <request-id>",
		Short: "Show a request with its bids",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				req, err := e.GetRequest(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(req)
				}
				fmt.Printf("%s  %s\n", req.ID, req.Title)
				fmt.Printf("type=%s status=%s suggested=%s\n", req.Type, req.Status, money(req.SuggestedPrice))
				if req.ProviderID != nil {
					fmt.Printf("provider=%s agreed=%s fee=%s\n", *req.ProviderID, moneyPtr(req.AgreedPrice), moneyPtr(req.PlatformFee))
				}
				if req.StatusReason != "" {
					fmt.Printf("reason: %s\n", req.StatusReason)
				}
				if req.Description != "" {
					fmt.Println(req.Description)
				}
				if len(req.Bids) > 0 {
					fmt.Println(bidTable(req.Bids))
				}
				return nil
			})
		},
	}
}

func requestStatusCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "status <request-id> <status>",
		Short: "Move a request to its next status, or cancel or dispute it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID, err := actor(ctx, e)
				if err != nil {
					return err
				}
				req, err := e.UpdateRequestStatus(ctx, engine.StatusUpdateOptions{
					ID:      args[0],
					Status:  domain.RequestStatus(strings.ToUpper(args[1])),
					Reason:  reason,
					ActorID: actorID,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(req)
				}
				fmt.Printf("%s is now %s\n", req.ID, req.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason (cancel and dispute)")
	return cmd
}

func requestTimelineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "timeline <request-id>",
		Short: "Show the status stepper of a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				view, err := e.RequestTimeline(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(view)
				}
				if view.Badge != "" {
					fmt.Printf("[%s]\n", view.Badge)
					return nil
				}
				for _, step := range view.Steps {
					mark := " "
					switch step.State {
					case lifecycle.StepCompleted:
						mark = "x"
					case lifecycle.StepActive:
						mark = ">"
					}
					fmt.Printf("[%s] %s\n", mark, step.Label)
				}
				return nil
			})
		},
	}
}

func bidCmd() *cobra.Command {
	b := &cobra.Command{
		Use:   "bid",
		Short: "Bid commands",
	}
	b.AddCommand(bidSubmitCmd())
	b.AddCommand(bidListCmd())
	b.AddCommand(bidAcceptCmd())
	b.AddCommand(bidWithdrawCmd())
	return b
}

func bidSubmitCmd() *cobra.Command {
	var amount float64
	var message string
	cmd := &cobra.Command{
		Use:   "submit <request-id>",
		Short: "Offer a price on a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID, err := actor(ctx, e)
				if err != nil {
					return err
				}
				bid, err := e.SubmitBid(ctx, engine.SubmitBidOptions{
					RequestID:  args[0],
					ProviderID: actorID,
					Amount:     amount,
					Message:    message,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(bid)
				}
				fmt.Printf("Bid %s of %s submitted\n", bid.ID, money(bid.Amount))
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&amount, "amount", 0, "bid amount")
	cmd.Flags().StringVar(&message, "message", "", "message to the requester")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func bidListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <request-id>",
		Short: "List bids on a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				bids, err := e.ListBids(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(bids)
				}
				fmt.Println(bidTable(bids))
				return nil
			})
		},
	}
}

func bidAcceptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accept <request-id> <bid-id>",
		Short: "Accept a bid and assign its provider",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID, err := actor(ctx, e)
				if err != nil {
					return err
				}
				req, err := e.AcceptBid(ctx, engine.AcceptBidOptions{RequestID: args[0], BidID: args[1], ActorID: actorID})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(req)
				}
				fmt.Printf("Accepted: %s assigned at %s (platform fee %s)\n", *req.ProviderID, moneyPtr(req.AgreedPrice), moneyPtr(req.PlatformFee))
				return nil
			})
		},
	}
}

func bidWithdrawCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw <request-id> <bid-id>",
		Short: "Withdraw your open bid",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID, err := actor(ctx, e)
				if err != nil {
					return err
				}
				bid, err := e.WithdrawBid(ctx, args[0], args[1], actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(bid)
				}
				fmt.Printf("Bid %s withdrawn\n", bid.ID)
				return nil
			})
		},
	}
}

func bidTable(bids []domain.Bid) string {
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Provider", "Amount", "Status", "Message", "When"})
	for _, b := range bids {
		tw.AppendRow(table.Row{b.ID, b.ProviderName, money(b.Amount), b.Status, b.Message, ago(b.Timestamp)})
	}
	return tw.Render()
}

func money(v float64) string {
	return "$" + humanize.CommafWithDigits(v, 2)
}

func moneyPtr(v *float64) string {
	if v == nil {
		return "-"
	}
	return money(*v)
}

// ago renders an RFC3339 timestamp relative to now; unparsable values are
// printed as is.
func ago(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return humanize.Time(t)
}
