package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gotodo/internal/config"
	gotodosdk "gotodo/sdk/go"
)

// apiClient talks to a running server; GOTODO_API_KEY is used when no
// token is given.
func apiClient() *gotodosdk.Client {
	c := gotodosdk.New(viper.GetString("api-url"))
	c.BearerToken = viper.GetString("token")
	c.APIKey = viper.GetString("api-key")
	c.ActorID = viper.GetString("actor-id")
	return c
}

func providerCmd() *cobra.Command {
	p := &cobra.Command{
		Use:   "provider",
		Short: "Provider profiles and Hunter Mode (remote)",
	}
	p.AddCommand(providerListCmd())
	p.AddCommand(providerRegisterCmd())
	p.AddCommand(providerNearbyCmd())
	return p
}

func providerListCmd() *cobra.Command {
	var serviceType string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			providers, err := apiClient().ListProviders(cmd.Context(), serviceType)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(providers)
			}
			tw := newTable()
			tw.AppendHeader(table.Row{"ID", "User", "Name", "Services", "Rating", "Hunter"})
			for _, p := range providers {
				tw.AppendRow(table.Row{p.ID, p.UserID, p.DisplayName, strings.Join(p.ServiceTypes, ", "), p.Rating, p.HunterMode})
			}
			fmt.Println(tw.Render())
			return nil
		},
	}
	cmd.Flags().StringVar(&serviceType, "service-type", "", "only providers offering this service")
	return cmd
}

func providerRegisterCmd() *cobra.Command {
	var in gotodosdk.RegisterProviderInput
	var lat, lng float64
	var address string
	cmd := &cobra.Command{
		Use:   "register <display-name>",
		Short: "Create a provider profile for the caller",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.DisplayName = args[0]
			if cmd.Flags().Changed("lat") || cmd.Flags().Changed("lng") {
				in.Location = &gotodosdk.Location{Latitude: lat, Longitude: lng, Address: address}
			}
			p, err := apiClient().RegisterProvider(cmd.Context(), in)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(p)
			}
			fmt.Printf("Registered provider %s for %s\n", p.ID, p.UserID)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&in.ServiceTypes, "service", nil, "service types offered (repeatable)")
	cmd.Flags().StringVar(&in.UserID, "user", "", "register another user (admin)")
	cmd.Flags().BoolVar(&in.HunterMode, "hunter", false, "enable Hunter Mode")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "longitude")
	cmd.Flags().StringVar(&address, "address", "", "address")
	_ = cmd.MarkFlagRequired("service")
	return cmd
}

func providerNearbyCmd() *cobra.Command {
	var q gotodosdk.NearbyQuery
	var lat, lng float64
	cmd := &cobra.Command{
		Use:   "nearby",
		Short: "Find open requests near a provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("lat") {
				q.Latitude = &lat
			}
			if cmd.Flags().Changed("lng") {
				q.Longitude = &lng
			}
			found, err := apiClient().NearbyRequests(cmd.Context(), q)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(found)
			}
			tw := newTable()
			tw.AppendHeader(table.Row{"Distance", "ID", "Type", "Title", "Status", "Price"})
			for _, n := range found {
				tw.AppendRow(table.Row{fmt.Sprintf("%.1f km", n.DistanceKm), n.Request.ID, n.Request.Type, n.Request.Title, n.Request.Status, money(n.Request.SuggestedPrice)})
			}
			fmt.Println(tw.Render())
			return nil
		},
	}
	cmd.Flags().StringVar(&q.ProviderID, "provider", "", "provider profile to search for")
	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "longitude")
	cmd.Flags().Float64Var(&q.RadiusKm, "radius", 0, "radius in km (default from configuration)")
	cmd.Flags().StringSliceVar(&q.ServiceTypes, "service", nil, "service types")
	cmd.Flags().IntVar(&q.Limit, "limit", 0, "max results")
	return cmd
}

func adminCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "admin",
		Short: "Administration (remote, admin role)",
	}
	a.AddCommand(adminConfigGetCmd())
	a.AddCommand(adminConfigSetCmd())
	a.AddCommand(adminBroadcastCmd())
	a.AddCommand(adminEventsCmd())
	return a
}

func adminConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config-get",
		Short: "Print the server configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := apiClient().GetConfiguration(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func adminConfigSetCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "config-set",
		Short: "Replace the server configuration from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			// Validate locally before sending.
			local, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			out, err := json.Marshal(local)
			if err != nil {
				return err
			}
			var cfg gotodosdk.Configuration
			if err := json.Unmarshal(out, &cfg); err != nil {
				return err
			}
			saved, err := apiClient().UpdateConfiguration(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			fmt.Printf("Configuration updated (%s, %d service types)\n", saved.Platform.Name, len(saved.Services.Catalog))
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "gotodo.yml", "configuration file")
	return cmd
}

func adminBroadcastCmd() *cobra.Command {
	var notificationType, role string
	cmd := &cobra.Command{
		Use:   "broadcast <message>",
		Short: "Notify every user, or every user with a role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := apiClient().Broadcast(cmd.Context(), args[0], notificationType, role)
			if err != nil {
				return err
			}
			fmt.Printf("Sent to %d users\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&notificationType, "type", "info", "info, success, warning or error")
	cmd.Flags().StringVar(&role, "role", "", "only users with this role")
	return cmd
}

func adminEventsCmd() *cobra.Command {
	var limit int
	var cursor string
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Page through the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := apiClient().EventsPage(cmd.Context(), limit, cursor)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(page)
			}
			tw := newTable()
			tw.AppendHeader(table.Row{"ID", "When", "Type", "Entity", "Actor"})
			for _, evt := range page.Items {
				tw.AppendRow(table.Row{evt.ID, ago(evt.TS), evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID})
			}
			fmt.Println(tw.Render())
			if page.NextCursor != "" {
				fmt.Printf("next: --cursor %s\n", page.NextCursor)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "page size")
	cmd.Flags().StringVar(&cursor, "cursor", "", "cursor from the previous page")
	return cmd
}
