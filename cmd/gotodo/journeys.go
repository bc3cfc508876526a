package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gotodo/internal/domain"
	"gotodo/internal/engine"
)

func journeyCmd() *cobra.Command {
	j := &cobra.Command{
		Use:   "journey",
		Short: "Plan multi-stop journeys",
	}
	j.AddCommand(journeyCreateCmd())
	j.AddCommand(journeyListCmd())
	j.AddCommand(journeyShowCmd())
	j.AddCommand(journeyTitleCmd())
	j.AddCommand(journeyAddStopCmd())
	j.AddCommand(journeyMoveStopCmd())
	j.AddCommand(journeyRemoveStopCmd())
	j.AddCommand(journeyActionCmd())
	j.AddCommand(journeyRemoveActionCmd())
	j.AddCommand(journeyReadinessCmd())
	j.AddCommand(journeyFinalizeCmd())
	j.AddCommand(journeyExitCmd())
	return j
}

func journeyCreateCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Start a draft journey",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID, err := actor(ctx, e)
				if err != nil {
					return err
				}
				plan, err := e.CreateJourney(ctx, engine.CreateJourneyOptions{OwnerID: actorID, Title: args[0], Notes: notes})
				if err != nil {
					return err
				}
				return printJourney(plan)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	return cmd
}

func journeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List your journeys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID, err := actor(ctx, e)
				if err != nil {
					return err
				}
				plans, err := e.ListJourneys(ctx, actorID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(plans)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Stops", "Updated"})
				for _, p := range plans {
					tw.AppendRow(table.Row{p.ID, p.Title, p.Status, len(p.Stops), ago(p.UpdatedAt)})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
}

func journeyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <journey-id>",
		Short: "Show a journey with its stops and actions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				plan, err := e.GetJourney(ctx, args[0])
				if err != nil {
					return err
				}
				return printJourney(plan)
			})
		},
	}
}

func journeyTitleCmd() *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   "title <journey-id> <title>",
		Short: "Rename a draft journey",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID, err := actor(ctx, e)
				if err != nil {
					return err
				}
				upd := engine.JourneyPlanUpdate{ID: args[0], ActorID: actorID, Title: &args[1]}
				if cmd.Flags().Changed("notes") {
					upd.Notes = &notes
				}
				plan, err := e.UpdateJourneyPlan(ctx, upd)
				if err != nil {
					return err
				}
				return printJourney(plan)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "replace notes")
	return cmd
}

func journeyAddStopCmd() *cobra.Command {
	var lat, lng float64
	var address string
	var position int
	cmd := &cobra.Command{
		Use:   "add-stop <journey-id> <name>",
		Short: "Add a stop to a draft journey",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID, err := actor(ctx, e)
				if err != nil {
					return err
				}
				opts := engine.AddStopOptions{
					JourneyID: args[0],
					ActorID:   actorID,
					Name:      args[1],
					Location:  parseLocation(lat, lng, address, cmd.Flags().Changed("lat") || cmd.Flags().Changed("lng")),
				}
				if cmd.Flags().Changed("position") {
					opts.Position = &position
				}
				plan, err := e.AddStop(ctx, opts)
				if err != nil {
					return err
				}
				return printJourney(plan)
			})
		},
	}
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "longitude")
	cmd.Flags().StringVar(&address, "address", "", "address")
	cmd.Flags().IntVar(&position, "position", 0, "insert at index (default: append)")
	return cmd
}

func journeyMoveStopCmd() *cobra.Command {
	var name, address string
	var lat, lng float64
	var position int
	var clearLoc bool
	cmd := &cobra.Command{
		Use:   "edit-stop <journey-id> <stop-id>",
		Short: "Rename, relocate or reorder a stop",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID, err := actor(ctx, e)
				if err != nil {
					return err
				}
				opts := engine.UpdateStopOptions{
					JourneyID:     args[0],
					StopID:        args[1],
					ActorID:       actorID,
					Name:          optionalString(name),
					Location:      parseLocation(lat, lng, address, cmd.Flags().Changed("lat") || cmd.Flags().Changed("lng")),
					ClearLocation: clearLoc,
				}
				if cmd.Flags().Changed("position") {
					opts.Position = &position
				}
				plan, err := e.UpdateStop(ctx, opts)
				if err != nil {
					return err
				}
				return printJourney(plan)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new name")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "longitude")
	cmd.Flags().StringVar(&address, "address", "", "address")
	cmd.Flags().BoolVar(&clearLoc, "clear-location", false, "remove the stop location")
	cmd.Flags().IntVar(&position, "position", 0, "move to index")
	return cmd
}

func journeyRemoveStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-stop <journey-id> <stop-id>",
		Short: "Remove a stop and its actions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID, err := actor(ctx, e)
				if err != nil {
					return err
				}
				plan, err := e.RemoveStop(ctx, args[0], args[1], actorID)
				if err != nil {
					return err
				}
				return printJourney(plan)
			})
		},
	}
}

func journeyActionCmd() *cobra.Command {
	var actionType, description, requestID, actionID string
	cmd := &cobra.Command{
		Use:   "action <journey-id> <stop-id>",
		Short: "Add or replace an action on a stop",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID, err := actor(ctx, e)
				if err != nil {
					return err
				}
				plan, err := e.ConfigureAction(ctx, engine.ConfigureActionOptions{
					JourneyID:   args[0],
					StopID:      args[1],
					ActorID:     actorID,
					ActionID:    actionID,
					Type:        actionType,
					RequestID:   optionalString(requestID),
					Description: description,
				})
				if err != nil {
					return err
				}
				return printJourney(plan)
			})
		},
	}
	cmd.Flags().StringVar(&actionType, "type", "", "pickup, dropoff, service, purchase, errand or note")
	cmd.Flags().StringVar(&description, "description", "", "what to do at the stop")
	cmd.Flags().StringVar(&requestID, "request", "", "link a service request")
	cmd.Flags().StringVar(&actionID, "replace", "", "replace this action id")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func journeyRemoveActionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove-action <journey-id> <action-id>",
		Short: "Remove an action",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID, err := actor(ctx, e)
				if err != nil {
					return err
				}
				plan, err := e.DeleteAction(ctx, args[0], args[1], actorID)
				if err != nil {
					return err
				}
				return printJourney(plan)
			})
		},
	}
}

func journeyReadinessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "readiness <journey-id>",
		Short: "Check whether a journey can be finalized",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.JourneyReadiness(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(r)
				}
				if r.Ready {
					fmt.Println("ready to finalize")
					return nil
				}
				fmt.Printf("not ready: %s\n", r.Reason)
				return nil
			})
		},
	}
}

func journeyFinalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "finalize <journey-id>",
		Short: "Finalize a ready journey",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID, err := actor(ctx, e)
				if err != nil {
					return err
				}
				plan, err := e.FinalizeJourney(ctx, args[0], actorID)
				if err != nil {
					return err
				}
				return printJourney(plan)
			})
		},
	}
}

func journeyExitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "exit <journey-id>",
		Short: "Abandon a draft journey",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID, err := actor(ctx, e)
				if err != nil {
					return err
				}
				plan, err := e.ExitJourney(ctx, args[0], actorID)
				if err != nil {
					return err
				}
				return printJourney(plan)
			})
		},
	}
}

func printJourney(plan domain.JourneyPlan) error {
	if viper.GetBool("json") {
		return printJSON(plan)
	}
	fmt.Printf("%s  %s [%s]\n", plan.ID, plan.Title, plan.Status)
	if plan.Notes != "" {
		fmt.Println(plan.Notes)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"#", "Stop", "Name", "Location", "Actions"})
	for _, s := range plan.Stops {
		loc := "-"
		if s.Location != nil {
			loc = fmt.Sprintf("%.4f,%.4f", s.Location.Latitude, s.Location.Longitude)
			if s.Location.Address != "" {
				loc = s.Location.Address
			}
		}
		var actions []string
		for _, a := range s.Actions {
			label := a.Type
			if a.Description != "" {
				label += ": " + a.Description
			}
			actions = append(actions, label)
		}
		tw.AppendRow(table.Row{s.Position, s.ID, s.Name, loc, strings.Join(actions, "\n")})
	}
	fmt.Println(tw.Render())
	return nil
}
